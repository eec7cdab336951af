package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"comicforge/internal/cache"
	"comicforge/internal/domain"
	"comicforge/internal/providers/imagen"
	"comicforge/internal/providers/reasoning"
)

// Port names a stage can require.
const (
	PortReasoning = "reasoning"
	PortImage     = "image"
	PortLookup    = "lookup"
)

// Stage is one fixed pipeline step: which ports it needs, how long a single
// attempt may take, how failures are retried, and how its output is
// validated before it is persisted.
type Stage struct {
	Name     string
	Ports    []string
	Timeout  time.Duration
	Retry    RetryPolicy
	Run      func(ctx context.Context, deps *Deps, job *domain.Job) (any, error)
	Validate func(out any) error
}

// StageConfig carries the tunables for the default stage list.
type StageConfig struct {
	StageTimeout  time.Duration
	RenderTimeout time.Duration
	Retry         RetryPolicy
}

// DefaultStages returns the fixed, ordered stage list. Immutable for the
// process lifetime.
func DefaultStages(cfg StageConfig) []Stage {
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = 60 * time.Second
	}
	if cfg.RenderTimeout <= 0 {
		cfg.RenderTimeout = 2 * cfg.StageTimeout
	}

	return []Stage{
		{
			Name:     "content",
			Ports:    []string{PortReasoning, PortLookup},
			Timeout:  cfg.StageTimeout,
			Retry:    cfg.Retry,
			Run:      runContent,
			Validate: validateContent,
		},
		{
			Name:     "planning",
			Ports:    []string{PortReasoning, PortLookup},
			Timeout:  cfg.StageTimeout,
			Retry:    cfg.Retry,
			Run:      runPlanning,
			Validate: validatePlanning,
		},
		{
			Name:     "visual",
			Ports:    []string{PortReasoning, PortLookup},
			Timeout:  cfg.StageTimeout,
			Retry:    cfg.Retry,
			Run:      runVisual,
			Validate: validateVisual,
		},
		{
			Name:     "review",
			Ports:    []string{PortReasoning},
			Timeout:  cfg.StageTimeout,
			Retry:    cfg.Retry,
			Run:      runReview,
			Validate: validateReview,
		},
		{
			Name:     "render",
			Ports:    []string{PortImage},
			Timeout:  cfg.RenderTimeout,
			Retry:    cfg.Retry,
			Run:      runRender,
			Validate: validateRender,
		},
	}
}

func runContent(ctx context.Context, deps *Deps, job *domain.Job) (any, error) {
	params := job.Params

	similar, err := cachedSearch(ctx, deps, params.Topic, domain.SearchModeSimilarity, 3)
	if err != nil {
		return nil, fmt.Errorf("similar content lookup: %w", err)
	}
	patterns, err := deps.Content.SuccessfulPatterns(ctx, 5)
	if err != nil {
		return nil, fmt.Errorf("pattern lookup: %w", err)
	}

	script, err := deps.Reasoner.Generate(ctx, buildScriptPrompt(params, similar, patterns),
		reasoning.Constraints{Temperature: 0.7, MaxOutputTokens: 2048})
	if err != nil {
		return nil, err
	}

	characters, scenes, summary := parseScript(script)

	// Feed the generated lesson back into the content store so future jobs
	// on similar topics find it.
	if err := deps.Content.StoreLesson(ctx, params.Topic, script, "comic", params.AgeGroup); err != nil {
		deps.Logger.Warn().Err(err).Str("job_id", job.ID).Msg("pipeline: store lesson failed")
	}

	return &ScriptOutput{
		Script:         script,
		Characters:     characters,
		Scenes:         scenes,
		Summary:        summary,
		SimilarContent: len(similar),
		PatternsFound:  len(patterns),
	}, nil
}

func validateContent(out any) error {
	script, ok := out.(*ScriptOutput)
	if !ok {
		return fmt.Errorf("unexpected output type %T", out)
	}
	if strings.TrimSpace(script.Script) == "" {
		return fmt.Errorf("empty script")
	}
	if len(script.Characters) == 0 {
		return fmt.Errorf("no characters in script")
	}
	if len(script.Scenes) == 0 {
		return fmt.Errorf("no scenes in script")
	}
	for _, scene := range script.Scenes {
		if len(scene.Dialogues) == 0 {
			return fmt.Errorf("scene %d has no dialogue", scene.Number)
		}
	}
	return nil
}

func runPlanning(ctx context.Context, deps *Deps, job *domain.Job) (any, error) {
	params := job.Params

	query := fmt.Sprintf("%s curriculum %s", params.Topic, params.AgeGroup)
	curriculum, err := cachedSearch(ctx, deps, query, domain.SearchModeKeyword, 3)
	if err != nil {
		return nil, fmt.Errorf("curriculum lookup: %w", err)
	}

	text, err := deps.Reasoner.Generate(ctx, buildObjectivesPrompt(params, curriculum),
		reasoning.Constraints{Temperature: 0.5, MaxOutputTokens: 1024})
	if err != nil {
		return nil, err
	}

	objectives := append(append([]string(nil), params.Objectives...), parseObjectives(text)...)

	score := 6.5 + 0.5*float64(len(curriculum))
	if score > 9.5 {
		score = 9.5
	}

	return &PlanOutput{
		Objectives:     objectives,
		CurriculumRefs: len(curriculum),
		AlignmentScore: score,
		CoverageAreas:  []string{"comprehension", "critical thinking", "knowledge application"},
	}, nil
}

func validatePlanning(out any) error {
	plan, ok := out.(*PlanOutput)
	if !ok {
		return fmt.Errorf("unexpected output type %T", out)
	}
	if len(plan.Objectives) == 0 {
		return fmt.Errorf("no learning objectives")
	}
	return nil
}

func runVisual(ctx context.Context, deps *Deps, job *domain.Job) (any, error) {
	script, err := priorScript(job)
	if err != nil {
		return nil, err
	}
	params := job.Params

	names := make([]string, 0, len(script.Characters))
	for _, c := range script.Characters {
		names = append(names, c.Name)
	}
	if len(names) == 0 {
		names = []string{"protagonist", "supporting character"}
	}

	poster, err := deps.Reasoner.Generate(ctx, buildPosterPrompt(params.Topic, params.Style, names),
		reasoning.Constraints{Temperature: 0.7, MaxOutputTokens: 256})
	if err != nil {
		return nil, err
	}

	var panels []PanelPrompt
	for _, scene := range script.Scenes {
		sceneContext := fmt.Sprintf("Scene %d of educational comic about %s", scene.Number, params.Topic)
		for _, d := range scene.Dialogues {
			templates, err := cachedSearch(ctx, deps, d.Character+" "+d.Line, domain.SearchModeSimilarity, 2)
			if err != nil {
				return nil, fmt.Errorf("character template lookup: %w", err)
			}

			prompt, err := deps.Reasoner.Generate(ctx, buildPanelPrompt(d.Character, d.Line, sceneContext, params.Style),
				reasoning.Constraints{Temperature: 0.7, MaxOutputTokens: 256})
			if err != nil {
				return nil, err
			}
			panels = append(panels, PanelPrompt{
				Scene:        scene.Number,
				Character:    d.Character,
				Dialogue:     d.Line,
				Prompt:       prompt,
				TemplateHits: len(templates),
			})
		}
	}

	return &VisualOutput{PosterPrompt: poster, Panels: panels}, nil
}

func validateVisual(out any) error {
	visual, ok := out.(*VisualOutput)
	if !ok {
		return fmt.Errorf("unexpected output type %T", out)
	}
	if strings.TrimSpace(visual.PosterPrompt) == "" {
		return fmt.Errorf("empty poster prompt")
	}
	if len(visual.Panels) == 0 {
		return fmt.Errorf("no panel prompts")
	}
	for i, p := range visual.Panels {
		if strings.TrimSpace(p.Prompt) == "" {
			return fmt.Errorf("panel %d has empty prompt", i)
		}
	}
	return nil
}

func runReview(ctx context.Context, deps *Deps, job *domain.Job) (any, error) {
	script, err := priorScript(job)
	if err != nil {
		return nil, err
	}
	params := job.Params

	analysis, err := deps.Reasoner.Generate(ctx, buildReviewPrompt(script.Script, params.Topic, params.AgeGroup),
		reasoning.Constraints{Temperature: 0.2, MaxOutputTokens: 1024})
	if err != nil {
		return nil, err
	}

	approved := parseApproval(analysis)
	out := &ReviewOutput{Approved: approved, Analysis: analysis}
	if !approved {
		out.Improvements = parseImprovements(analysis)
	}
	return out, nil
}

func validateReview(out any) error {
	review, ok := out.(*ReviewOutput)
	if !ok {
		return fmt.Errorf("unexpected output type %T", out)
	}
	if strings.TrimSpace(review.Analysis) == "" {
		return fmt.Errorf("empty review analysis")
	}
	return nil
}

func runRender(ctx context.Context, deps *Deps, job *domain.Job) (any, error) {
	visual, err := priorVisual(job)
	if err != nil {
		return nil, err
	}
	style := imagen.StyleParams{VisualStyle: job.Params.Style}

	pages := make([]Page, 0, len(visual.Panels)+1)

	cover, err := deps.Renderer.Render(ctx, visual.PosterPrompt, style)
	if err != nil {
		return nil, err
	}
	coverKey, err := deps.Pages.Write(ctx, pageKey(job.ID, 0, cover.MIME), cover.Data)
	if err != nil {
		return nil, fmt.Errorf("store cover: %w", err)
	}
	pages = append(pages, Page{Index: 0, Kind: "poster", StorageKey: coverKey, MIME: cover.MIME})

	for i, panel := range visual.Panels {
		img, err := deps.Renderer.Render(ctx, panel.Prompt, style)
		if err != nil {
			return nil, err
		}
		key, err := deps.Pages.Write(ctx, pageKey(job.ID, i+1, img.MIME), img.Data)
		if err != nil {
			return nil, fmt.Errorf("store page %d: %w", i+1, err)
		}
		pages = append(pages, Page{Index: i + 1, Kind: "panel", StorageKey: key, MIME: img.MIME})
	}

	if len(pages) != len(visual.Panels)+1 {
		return nil, fmt.Errorf("rendered %d pages, want %d", len(pages), len(visual.Panels)+1)
	}
	return &RenderOutput{Pages: pages}, nil
}

func validateRender(out any) error {
	render, ok := out.(*RenderOutput)
	if !ok {
		return fmt.Errorf("unexpected output type %T", out)
	}
	if len(render.Pages) == 0 {
		return fmt.Errorf("no rendered pages")
	}
	for _, p := range render.Pages {
		if p.StorageKey == "" {
			return fmt.Errorf("page %d missing storage key", p.Index)
		}
	}
	return nil
}

func pageKey(jobID string, index int, mime string) string {
	ext := ".png"
	if mime == "image/jpeg" || mime == "image/jpg" {
		ext = ".jpg"
	}
	if index == 0 {
		return fmt.Sprintf("comics/%s/cover%s", jobID, ext)
	}
	return fmt.Sprintf("comics/%s/page-%02d%s", jobID, index, ext)
}

// cachedSearch wraps content lookups in the shared result cache so repeated
// queries across jobs hit one computation.
func cachedSearch(ctx context.Context, deps *Deps, query string, mode domain.SearchMode, topK int) ([]domain.ContentMatch, error) {
	fp := cache.Fingerprint("search", string(mode), strconv.Itoa(topK), query)
	raw, err := deps.Cache.GetOrCompute(ctx, fp, func(ctx context.Context) ([]byte, error) {
		matches, err := deps.Content.Search(ctx, query, mode, topK)
		if err != nil {
			return nil, err
		}
		return json.Marshal(matches)
	})
	if err != nil {
		return nil, err
	}
	var matches []domain.ContentMatch
	if err := json.Unmarshal(raw, &matches); err != nil {
		return nil, fmt.Errorf("decode cached matches: %w", err)
	}
	return matches, nil
}

func priorScript(job *domain.Job) (*ScriptOutput, error) {
	if len(job.StageOutputs) < 1 {
		return nil, domain.NewPortError(domain.ErrKindPermanent, "content output missing", nil)
	}
	var script ScriptOutput
	if err := json.Unmarshal(job.StageOutputs[0], &script); err != nil {
		return nil, domain.NewPortError(domain.ErrKindPermanent, "content output corrupt", err)
	}
	return &script, nil
}

func priorVisual(job *domain.Job) (*VisualOutput, error) {
	if len(job.StageOutputs) < 3 {
		return nil, domain.NewPortError(domain.ErrKindPermanent, "visual output missing", nil)
	}
	var visual VisualOutput
	if err := json.Unmarshal(job.StageOutputs[2], &visual); err != nil {
		return nil, domain.NewPortError(domain.ErrKindPermanent, "visual output corrupt", err)
	}
	return &visual, nil
}
