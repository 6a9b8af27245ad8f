// Package recommend folds AI-sourced scene recommendations into new script
// versions under a deterministic ordering policy.
package recommend

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/reeldraft/reeldraft/internal/script"
	"github.com/reeldraft/reeldraft/internal/storage"
)

// ErrAlreadyApplied is returned when a single-apply targets a recommendation
// that was already folded into a version.
var ErrAlreadyApplied = errors.New("recommendation already applied")

// ErrSceneNotFound is returned when a single-apply targets a scene that no
// longer exists in the version.
var ErrSceneNotFound = errors.New("scene not found in version")

// noRecommendationsMessage is the no-op result message for an empty bulk apply.
const noRecommendationsMessage = "No recommendations to apply"

// sceneChange describes the edit recorded on a version produced by applying
// one recommendation.
type sceneChange struct {
	Type    string `json:"type"`
	SceneID int    `json:"scene_id"`
	Before  string `json:"before"`
	After   string `json:"after"`
	Reason  string `json:"reason,omitempty"`
}

// bulkChange describes the edit recorded on a version produced by a bulk apply.
type bulkChange struct {
	Type            string `json:"type"`
	SceneIDs        []int  `json:"scene_ids"`
	Recommendations int    `json:"recommendations"`
}

// ApplyResult is the outcome of applying a single recommendation.
type ApplyResult struct {
	Version       *storage.ScriptVersion `json:"version"`
	AffectedScene script.SceneDiff       `json:"affected_scene"`
	// NeedsReanalysis is always true: scores on the new version still
	// describe the pre-edit text until the project is re-scored.
	NeedsReanalysis bool `json:"needs_reanalysis"`
}

// BulkResult is the outcome of a bulk apply.
type BulkResult struct {
	AppliedCount   int                    `json:"applied_count"`
	AffectedScenes []int                  `json:"affected_scenes"`
	Version        *storage.ScriptVersion `json:"version"`
	Message        string                 `json:"message,omitempty"`
}

// Applicator folds recommendations into new versions through the store.
type Applicator struct {
	store  *storage.Store
	logger *slog.Logger
}

// NewApplicator creates an Applicator over the given store.
func NewApplicator(store *storage.Store) *Applicator {
	return &Applicator{store: store, logger: slog.Default()}
}

// ApplyOne folds a single recommendation into a new version. Every other
// unapplied recommendation on the source version is copied forward so it
// stays actionable.
func (a *Applicator) ApplyOne(versionID, recommendationID string) (*ApplyResult, error) {
	rec, err := a.store.GetRecommendation(recommendationID)
	if err != nil {
		return nil, fmt.Errorf("loading recommendation: %w", err)
	}
	if rec.ScriptVersionID != versionID {
		return nil, storage.ErrNotFound
	}
	if rec.Applied {
		return nil, ErrAlreadyApplied
	}

	version, err := a.store.GetVersion(versionID)
	if err != nil {
		return nil, fmt.Errorf("loading version: %w", err)
	}

	scenes := script.Clone(version.Scenes)
	idx := findScene(scenes, rec.SceneID)
	if idx < 0 {
		return nil, ErrSceneNotFound
	}

	before := scenes[idx].Text
	applyToScene(&scenes[idx], rec.SuggestedText)

	newVersion, err := a.store.CreateVersion(storage.CreateVersionParams{
		ProjectID: version.ProjectID,
		Scenes:    scenes,
		CreatedBy: storage.CreatedByAI,
		Changes: sceneChange{
			Type:    "scene_recommendation",
			SceneID: rec.SceneID,
			Before:  before,
			After:   rec.SuggestedText,
			Reason:  rec.Reasoning,
		},
		ParentVersionID:   version.ID,
		Provenance:        storage.Provenance{Source: "ai_recommendation"},
		MarkApplied:       []string{rec.ID},
		CopyUnappliedFrom: version.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("creating version: %w", err)
	}

	a.logger.Info("applied recommendation",
		"project_id", version.ProjectID,
		"recommendation_id", rec.ID,
		"scene_id", rec.SceneID,
		"new_version", newVersion.VersionNumber)

	return &ApplyResult{
		Version:         newVersion,
		AffectedScene:   script.SceneDiff{SceneID: rec.SceneID, Before: before, After: rec.SuggestedText},
		NeedsReanalysis: true,
	}, nil
}

// ApplyAll folds a set of unapplied recommendations on the project's current
// version into exactly one new version. When ids is empty, every unapplied
// recommendation is selected. Selection order is deterministic: priority
// rank, then score delta, then confidence, then scene id; later
// recommendations for the same scene overwrite earlier ones.
func (a *Applicator) ApplyAll(projectID string, ids []string) (*BulkResult, error) {
	current, err := a.store.CurrentVersion(projectID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, storage.ErrNoCurrentVersion
	}
	if err != nil {
		return nil, fmt.Errorf("loading current version: %w", err)
	}

	unapplied, err := a.store.ListUnappliedRecommendations(current.ID)
	if err != nil {
		return nil, fmt.Errorf("listing recommendations: %w", err)
	}

	selected := selectRecommendations(unapplied, ids)
	if len(selected) == 0 {
		return &BulkResult{Version: current, Message: noRecommendationsMessage}, nil
	}

	sortForApplication(selected)

	scenes := script.Clone(current.Scenes)
	affected := make(map[int]bool)
	markIDs := make([]string, 0, len(selected))
	for _, rec := range selected {
		markIDs = append(markIDs, rec.ID)
		idx := findScene(scenes, rec.SceneID)
		if idx < 0 {
			// The scene may have been removed by an intervening edit;
			// the recommendation is superseded, not an error.
			a.logger.Debug("skipping recommendation for missing scene",
				"recommendation_id", rec.ID, "scene_id", rec.SceneID)
			continue
		}
		applyToScene(&scenes[idx], rec.SuggestedText)
		affected[rec.SceneID] = true
	}

	affectedScenes := make([]int, 0, len(affected))
	for id := range affected {
		affectedScenes = append(affectedScenes, id)
	}
	sort.Ints(affectedScenes)

	newVersion, err := a.store.CreateVersion(storage.CreateVersionParams{
		ProjectID: projectID,
		Scenes:    scenes,
		CreatedBy: storage.CreatedByAI,
		Changes: bulkChange{
			Type:            "bulk_recommendations",
			SceneIDs:        affectedScenes,
			Recommendations: len(selected),
		},
		ParentVersionID:   current.ID,
		Provenance:        storage.Provenance{Source: "ai_recommendation"},
		MarkApplied:       markIDs,
		CopyUnappliedFrom: current.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("creating version: %w", err)
	}

	a.logger.Info("applied recommendations in bulk",
		"project_id", projectID,
		"applied", len(selected),
		"affected_scenes", len(affectedScenes),
		"new_version", newVersion.VersionNumber)

	return &BulkResult{
		AppliedCount:   len(selected),
		AffectedScenes: affectedScenes,
		Version:        newVersion,
	}, nil
}

// selectRecommendations filters unapplied down to the requested subset.
// Ids that are unknown (or already applied) are ignored rather than failing
// the whole batch.
func selectRecommendations(unapplied []storage.SceneRecommendation, ids []string) []storage.SceneRecommendation {
	if len(ids) == 0 {
		return append([]storage.SceneRecommendation(nil), unapplied...)
	}

	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	var selected []storage.SceneRecommendation
	for _, rec := range unapplied {
		if wanted[rec.ID] {
			selected = append(selected, rec)
		}
	}
	return selected
}

// sortForApplication orders recommendations so the most impactful apply
// last-writer-wins per scene: priority rank, then score delta (missing = 0),
// then confidence (missing = 0.5), then scene id as the deterministic final
// tie-break.
func sortForApplication(recs []storage.SceneRecommendation) {
	sort.SliceStable(recs, func(i, j int) bool {
		ri, rj := priorityRank(recs[i].Priority), priorityRank(recs[j].Priority)
		if ri != rj {
			return ri > rj
		}

		di, dj := deltaOrZero(recs[i].ScoreDelta), deltaOrZero(recs[j].ScoreDelta)
		if di != dj {
			return di > dj
		}

		ci, cj := confidenceOrDefault(recs[i].Confidence), confidenceOrDefault(recs[j].Confidence)
		if ci != cj {
			return ci > cj
		}

		return recs[i].SceneID < recs[j].SceneID
	})
}

func deltaOrZero(d *int) int {
	if d == nil {
		return 0
	}
	return *d
}

func confidenceOrDefault(c float64) float64 {
	if c == 0 {
		return 0.5
	}
	return c
}

func findScene(scenes []script.Scene, sceneNumber int) int {
	for i := range scenes {
		if scenes[i].SceneNumber == sceneNumber {
			return i
		}
	}
	return -1
}

func applyToScene(s *script.Scene, suggestedText string) {
	s.Text = suggestedText
	s.ManuallyEdited = false
	s.RecommendationApplied = true
	s.LastModified = time.Now().UTC()
}
