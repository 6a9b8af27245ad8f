package recommend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/reeldraft/reeldraft/internal/scoring"
	"github.com/reeldraft/reeldraft/internal/script"
	"github.com/reeldraft/reeldraft/internal/storage"
)

type fakeSuggester struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
}

func (f *fakeSuggester) SuggestEdit(_ context.Context, sceneText, _ string) (*scoring.EditSuggestion, error) {
	f.mu.Lock()
	f.calls = append(f.calls, sceneText)
	f.mu.Unlock()

	if f.fail[sceneText] {
		return nil, errors.New("suggestion unavailable")
	}
	return &scoring.EditSuggestion{
		SuggestedText:  sceneText + " (improved)",
		Reasoning:      "tighter phrasing",
		Priority:       storage.PriorityHigh,
		Area:           storage.AreaHook,
		ExpectedImpact: "+10 points",
	}, nil
}

func fastGenerator(s Suggester) *Generator {
	g := NewGenerator(s)
	g.batchDelay = time.Millisecond
	return g
}

func scoredScenes(scores ...float64) []script.Scene {
	scenes := make([]script.Scene, len(scores))
	for i, score := range scores {
		scenes[i] = script.Scene{
			SceneNumber: i + 1,
			Text:        fmt.Sprintf("scene %d", i+1),
			Score:       score,
		}
	}
	return scenes
}

func TestGenerateSkipsStrongScenes(t *testing.T) {
	fake := &fakeSuggester{}
	g := fastGenerator(fake)

	recs, err := g.Generate(context.Background(), "v1", scoredScenes(90, 40, 80), "short_form")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("have %d recommendations, want 1", len(recs))
	}
	rec := recs[0]
	if rec.SceneID != 2 {
		t.Errorf("scene id = %d, want 2", rec.SceneID)
	}
	if rec.SuggestedText != "scene 2 (improved)" {
		t.Errorf("suggested text = %q", rec.SuggestedText)
	}
	if rec.Confidence != 0.8 {
		t.Errorf("confidence = %v, want 0.8 for high priority", rec.Confidence)
	}
	if rec.ScoreDelta == nil || *rec.ScoreDelta != 10 {
		t.Errorf("score delta = %v, want 10", rec.ScoreDelta)
	}
	if rec.ScriptVersionID != "v1" {
		t.Errorf("version id = %q, want v1", rec.ScriptVersionID)
	}
}

func TestGenerateAllScenesStrong(t *testing.T) {
	fake := &fakeSuggester{}
	g := fastGenerator(fake)

	recs, err := g.Generate(context.Background(), "v1", scoredScenes(90, 85), "")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if recs != nil {
		t.Errorf("have %d recommendations, want none", len(recs))
	}
	if len(fake.calls) != 0 {
		t.Errorf("suggester called %d times, want 0", len(fake.calls))
	}
}

func TestGenerateToleratesSceneFailure(t *testing.T) {
	fake := &fakeSuggester{fail: map[string]bool{"scene 2": true}}
	g := fastGenerator(fake)

	recs, err := g.Generate(context.Background(), "v1", scoredScenes(10, 20, 30), "")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("have %d recommendations, want 2", len(recs))
	}
	for _, rec := range recs {
		if rec.SceneID == 2 {
			t.Error("failed scene should produce no recommendation")
		}
	}
}

func TestGenerateOrderedBySceneNumber(t *testing.T) {
	fake := &fakeSuggester{}
	g := fastGenerator(fake)

	recs, err := g.Generate(context.Background(), "v1", scoredScenes(10, 20, 30, 40, 50), "")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(recs) != 5 {
		t.Fatalf("have %d recommendations, want 5", len(recs))
	}
	for i, rec := range recs {
		if rec.SceneID != i+1 {
			t.Errorf("recs[%d].SceneID = %d, want %d", i, rec.SceneID, i+1)
		}
	}
}

func TestGenerateContextCancelled(t *testing.T) {
	fake := &fakeSuggester{}
	g := NewGenerator(fake)
	g.batchDelay = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var err error
	go func() {
		defer close(done)
		_, err = g.Generate(ctx, "v1", scoredScenes(10, 20, 30), "")
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Generate did not return after cancellation")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}
