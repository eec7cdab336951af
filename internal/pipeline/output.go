package pipeline

// Stage output shapes. One of these is marshalled into the job's stage
// output slot as each stage completes; validators in stages.go reject
// structurally invalid service responses before anything is persisted.

// Character is one recurring figure in the comic script.
type Character struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Dialogue is a single character line within a scene.
type Dialogue struct {
	Character string `json:"character"`
	Line      string `json:"line"`
}

// Scene is one ordered scene of the script.
type Scene struct {
	Number    int        `json:"number"`
	Dialogues []Dialogue `json:"dialogues"`
}

// ScriptOutput is the content stage result: the full generated script plus
// its structured breakdown and lookup context.
type ScriptOutput struct {
	Script          string      `json:"script"`
	Characters      []Character `json:"characters"`
	Scenes          []Scene     `json:"scenes"`
	Summary         string      `json:"summary,omitempty"`
	SimilarContent  int         `json:"similar_content_found"`
	PatternsFound   int         `json:"patterns_found"`
}

// PlanOutput is the planning stage result.
type PlanOutput struct {
	Objectives     []string `json:"objectives"`
	CurriculumRefs int      `json:"curriculum_refs"`
	AlignmentScore float64  `json:"alignment_score"`
	CoverageAreas  []string `json:"coverage_areas,omitempty"`
}

// PanelPrompt is one visual prompt destined for the render stage.
type PanelPrompt struct {
	Scene        int    `json:"scene"`
	Character    string `json:"character,omitempty"`
	Dialogue     string `json:"dialogue,omitempty"`
	Prompt       string `json:"prompt"`
	TemplateHits int    `json:"template_hits,omitempty"`
}

// VisualOutput is the visual stage result: a poster prompt plus one prompt
// per scene dialogue.
type VisualOutput struct {
	PosterPrompt string        `json:"poster_prompt"`
	Panels       []PanelPrompt `json:"panels"`
}

// ReviewOutput is the quality review stage result.
type ReviewOutput struct {
	Approved     bool     `json:"approved"`
	Analysis     string   `json:"analysis"`
	Improvements []string `json:"improvements,omitempty"`
}

// Page is one rendered output page.
type Page struct {
	Index      int    `json:"index"`
	Kind       string `json:"kind"` // poster or panel
	StorageKey string `json:"storage_key"`
	MIME       string `json:"mime"`
}

// RenderOutput is the render stage result, in page order.
type RenderOutput struct {
	Pages []Page `json:"pages"`
}
