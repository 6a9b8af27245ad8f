package storage

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/reeldraft/reeldraft/internal/script"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrNoCurrentVersion is returned when an operation requires a current
// version and the project has none.
var ErrNoCurrentVersion = errors.New("project has no current version")

// ErrNoCandidate is returned when an operation requires a pending candidate
// version and the project has none.
var ErrNoCandidate = errors.New("project has no candidate version")

// Creator values recorded on a version.
const (
	CreatedByUser   = "user"
	CreatedByAI     = "ai"
	CreatedBySystem = "system"
)

// Provenance records who or what produced a version and why.
type Provenance struct {
	Source    string            `json:"source"`
	UserID    string            `json:"user_id,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// ScriptVersion is an immutable, numbered snapshot of a project's scene list
// plus analysis metadata. Only the IsCurrent/IsCandidate flags ever change
// after creation, and only through store operations.
type ScriptVersion struct {
	ID              string             `json:"id"`
	ProjectID       string             `json:"project_id"`
	VersionNumber   int                `json:"version_number"`
	Scenes          []script.Scene     `json:"scenes"`
	FullScript      string             `json:"full_script"`
	CreatedBy       string             `json:"created_by"`
	IsCurrent       bool               `json:"is_current"`
	IsCandidate     bool               `json:"is_candidate"`
	BaseVersionID   string             `json:"base_version_id,omitempty"`
	ParentVersionID string             `json:"parent_version_id,omitempty"`
	AnalysisResult  json.RawMessage    `json:"analysis_result,omitempty"`
	AnalysisScore   float64            `json:"analysis_score"`
	Metrics         json.RawMessage    `json:"metrics,omitempty"`
	Review          string             `json:"review,omitempty"`
	Provenance      Provenance         `json:"provenance"`
	Changes         json.RawMessage    `json:"changes,omitempty"`
	Diff            []script.SceneDiff `json:"diff,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
}

// CreateVersionParams carries everything needed to append a version.
type CreateVersionParams struct {
	ProjectID       string
	Scenes          []script.Scene
	CreatedBy       string
	Changes         any // marshaled to JSON, describes the edit that produced this version
	ParentVersionID string
	BaseVersionID   string
	AnalysisResult  json.RawMessage
	AnalysisScore   float64
	Metrics         json.RawMessage
	Review          string
	Provenance      Provenance
	// Candidate inserts the version as a pending candidate instead of
	// flipping it to current. Any previous candidate (and its
	// recommendations) is deleted in the same transaction.
	Candidate bool
	// MarkApplied flags these recommendation ids as applied inside the same
	// transaction that creates the version, so a failed creation leaves no
	// recommendation marked.
	MarkApplied []string
	// CopyUnappliedFrom copies the unapplied recommendations of the named
	// version (minus MarkApplied) onto the new version, same transaction.
	CopyUnappliedFrom string
}

// Recommendation priorities, highest first.
const (
	PriorityCritical = "critical"
	PriorityHigh     = "high"
	PriorityMedium   = "medium"
	PriorityLow      = "low"
)

// Recommendation areas.
const (
	AreaHook      = "hook"
	AreaStructure = "structure"
	AreaEmotional = "emotional"
	AreaCTA       = "cta"
	AreaPacing    = "pacing"
	AreaGeneral   = "general"
)

// SceneRecommendation is an AI-suggested replacement for one scene's text,
// tied to the version it was generated against. Unapplied recommendations are
// copied forward onto each new version until applied or superseded.
type SceneRecommendation struct {
	ID              string     `json:"id"`
	ScriptVersionID string     `json:"script_version_id"`
	SceneID         int        `json:"scene_id"`
	Priority        string     `json:"priority"`
	Area            string     `json:"area"`
	CurrentText     string     `json:"current_text"`
	SuggestedText   string     `json:"suggested_text"`
	Reasoning       string     `json:"reasoning"`
	ExpectedImpact  string     `json:"expected_impact"`
	ScoreDelta      *int       `json:"score_delta,omitempty"`
	Confidence      float64    `json:"confidence"`
	SourceAgent     string     `json:"source_agent,omitempty"`
	Applied         bool       `json:"applied"`
	AppliedAt       *time.Time `json:"applied_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}
