package pipeline

import (
	"context"
	"encoding/json"
	"testing"

	"comicforge/internal/domain"
)

func TestValidateContent(t *testing.T) {
	valid := &ScriptOutput{
		Script:     "some script",
		Characters: []Character{{Name: "Leafy"}},
		Scenes:     []Scene{{Number: 1, Dialogues: []Dialogue{{Character: "Leafy", Line: "hi"}}}},
	}
	if err := validateContent(valid); err != nil {
		t.Errorf("validateContent(valid) = %v", err)
	}

	cases := []struct {
		name string
		out  *ScriptOutput
	}{
		{"empty script", &ScriptOutput{Characters: valid.Characters, Scenes: valid.Scenes}},
		{"no characters", &ScriptOutput{Script: "s", Scenes: valid.Scenes}},
		{"no scenes", &ScriptOutput{Script: "s", Characters: valid.Characters}},
		{"silent scene", &ScriptOutput{Script: "s", Characters: valid.Characters, Scenes: []Scene{{Number: 1}}}},
	}
	for _, tc := range cases {
		if err := validateContent(tc.out); err == nil {
			t.Errorf("validateContent(%s) = nil, want error", tc.name)
		}
	}
}

func TestValidateRender(t *testing.T) {
	if err := validateRender(&RenderOutput{Pages: []Page{{Index: 0, StorageKey: "comics/x/cover.png"}}}); err != nil {
		t.Errorf("validateRender(valid) = %v", err)
	}
	if err := validateRender(&RenderOutput{}); err == nil {
		t.Error("validateRender(no pages) = nil, want error")
	}
	if err := validateRender(&RenderOutput{Pages: []Page{{Index: 1}}}); err == nil {
		t.Error("validateRender(missing key) = nil, want error")
	}
}

func TestPageKey(t *testing.T) {
	if got := pageKey("abc", 0, "image/png"); got != "comics/abc/cover.png" {
		t.Errorf("pageKey cover = %q", got)
	}
	if got := pageKey("abc", 3, "image/jpeg"); got != "comics/abc/page-03.jpg" {
		t.Errorf("pageKey page = %q", got)
	}
}

func TestRunVisualCountsTemplateHits(t *testing.T) {
	deps := testDeps(&fakeReasoner{}, &fakeRenderer{})
	deps.Content.(*memContent).matches = []domain.ContentMatch{
		{Topic: "leaves"}, {Topic: "sunlight"},
	}

	job := newTestJob("job-visual")
	characters, scenes, summary := parseScript(sampleScript)
	raw, err := json.Marshal(&ScriptOutput{
		Script: sampleScript, Characters: characters, Scenes: scenes, Summary: summary,
	})
	if err != nil {
		t.Fatal(err)
	}
	job.StageOutputs = []json.RawMessage{raw}
	job.StageIndex = 1

	out, err := runVisual(context.Background(), deps, job)
	if err != nil {
		t.Fatalf("runVisual() error = %v", err)
	}
	visual := out.(*VisualOutput)
	if len(visual.Panels) != 3 {
		t.Fatalf("produced %d panels, want 3", len(visual.Panels))
	}
	for i, p := range visual.Panels {
		if p.TemplateHits != 2 {
			t.Errorf("panel %d template hits = %d, want 2", i, p.TemplateHits)
		}
		if p.Prompt == "" {
			t.Errorf("panel %d has empty prompt", i)
		}
	}
	if err := validateVisual(visual); err != nil {
		t.Errorf("validateVisual() = %v", err)
	}
}

func TestRunRenderRequiresVisualOutput(t *testing.T) {
	deps := testDeps(&fakeReasoner{}, &fakeRenderer{})
	job := newTestJob("job-norender")

	_, err := runRender(context.Background(), deps, job)
	if err == nil {
		t.Fatal("runRender() succeeded without visual output")
	}
	if kind := domain.KindOf(err); kind != domain.ErrKindPermanent {
		t.Errorf("error kind = %s, want permanent", kind)
	}
}
