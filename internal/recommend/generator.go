package recommend

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/reeldraft/reeldraft/internal/scoring"
	"github.com/reeldraft/reeldraft/internal/script"
	"github.com/reeldraft/reeldraft/internal/storage"
)

// Suggestion batches respect the upstream rate limit: two scenes per batch
// with a fixed pause between batches.
const (
	suggestBatchSize  = 2
	suggestBatchDelay = 500 * time.Millisecond
)

// sceneScoreThreshold is the per-scene score at or above which a scene needs
// no rewrite suggestion.
const sceneScoreThreshold = 75

// Suggester produces a rewrite proposal for one scene's text.
type Suggester interface {
	SuggestEdit(ctx context.Context, sceneText, formatHint string) (*scoring.EditSuggestion, error)
}

// Generator asks the scoring service for rewrites of low-scoring scenes and
// shapes them into recommendations. A scene whose suggestion call fails is
// skipped; the rest of the batch proceeds.
type Generator struct {
	suggester Suggester
	logger    *slog.Logger

	batchDelay time.Duration
}

// NewGenerator creates a Generator over the given suggester.
func NewGenerator(suggester Suggester) *Generator {
	return &Generator{
		suggester:  suggester,
		logger:     slog.Default(),
		batchDelay: suggestBatchDelay,
	}
}

// Generate builds recommendations for every scene of the version scoring
// below the threshold. Returned recommendations are not persisted; the
// caller stores them against versionID.
func (g *Generator) Generate(ctx context.Context, versionID string, scenes []script.Scene, formatHint string) ([]storage.SceneRecommendation, error) {
	var candidates []script.Scene
	for _, s := range scenes {
		if s.Score < sceneScoreThreshold {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	results := make([]*storage.SceneRecommendation, len(candidates))
	for start := 0; start < len(candidates); start += suggestBatchSize {
		if start > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(g.batchDelay):
			}
		}

		end := start + suggestBatchSize
		if end > len(candidates) {
			end = len(candidates)
		}

		eg, batchCtx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			eg.Go(func() error {
				rec, err := g.suggestScene(batchCtx, versionID, candidates[i], formatHint)
				if err != nil {
					g.logger.Warn("scene suggestion failed",
						"scene_id", candidates[i].SceneNumber, "error", err)
					return nil
				}
				results[i] = rec
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	var recs []storage.SceneRecommendation
	for _, rec := range results {
		if rec != nil {
			recs = append(recs, *rec)
		}
	}
	return recs, nil
}

func (g *Generator) suggestScene(ctx context.Context, versionID string, scene script.Scene, formatHint string) (*storage.SceneRecommendation, error) {
	suggestion, err := g.suggester.SuggestEdit(ctx, scene.Text, formatHint)
	if err != nil {
		return nil, err
	}

	priority := suggestion.Priority
	if priority == "" {
		priority = storage.PriorityMedium
	}
	area := suggestion.Area
	if area == "" {
		area = storage.AreaGeneral
	}
	agent := suggestion.Agent
	if agent == "" {
		agent = "scene_editor"
	}

	return &storage.SceneRecommendation{
		ScriptVersionID: versionID,
		SceneID:         scene.SceneNumber,
		Priority:        priority,
		Area:            area,
		CurrentText:     scene.Text,
		SuggestedText:   suggestion.SuggestedText,
		Reasoning:       suggestion.Reasoning,
		ExpectedImpact:  suggestion.ExpectedImpact,
		ScoreDelta:      ParseScoreDelta(suggestion.ExpectedImpact),
		Confidence:      ConfidenceForPriority(priority),
		SourceAgent:     agent,
	}, nil
}
