package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/reeldraft/reeldraft/internal/script"
)

const versionColumns = `id, project_id, version_number, scenes_json, full_script, created_by,
	is_current, is_candidate, base_version_id, parent_version_id, analysis_json, analysis_score,
	metrics_json, review, provenance_json, changes_json, diff_json, created_at`

// CreateVersion appends a new version for a project. Version numbering, the
// current-flag flip and candidate replacement all happen in one transaction;
// this transaction is the sole concurrency boundary protecting the "exactly
// one current" invariant.
func (s *Store) CreateVersion(params CreateVersionParams) (*ScriptVersion, error) {
	if params.ProjectID == "" {
		return nil, errors.New("project id is required")
	}
	if params.CreatedBy == "" {
		params.CreatedBy = CreatedBySystem
	}

	now := time.Now().UTC()

	scenesJSON, err := json.Marshal(params.Scenes)
	if err != nil {
		return nil, fmt.Errorf("marshaling scenes: %w", err)
	}

	changesJSON := ""
	if params.Changes != nil {
		b, err := json.Marshal(params.Changes)
		if err != nil {
			return nil, fmt.Errorf("marshaling changes: %w", err)
		}
		changesJSON = string(b)
	}

	prov := params.Provenance
	if prov.Timestamp.IsZero() {
		prov.Timestamp = now
	}
	provJSON, err := json.Marshal(prov)
	if err != nil {
		return nil, fmt.Errorf("marshaling provenance: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning version transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := currentVersionTx(tx, params.ProjectID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("loading current version: %w", err)
	}

	var maxNumber int
	if err := tx.QueryRow(`SELECT COALESCE(MAX(version_number), 0) FROM script_versions WHERE project_id = ?`,
		params.ProjectID).Scan(&maxNumber); err != nil {
		return nil, fmt.Errorf("computing next version number: %w", err)
	}

	var diffs []script.SceneDiff
	if current != nil {
		diffs = script.Diff(current.Scenes, params.Scenes)
	}
	diffJSON, err := json.Marshal(diffs)
	if err != nil {
		return nil, fmt.Errorf("marshaling diff: %w", err)
	}

	parentID := params.ParentVersionID
	if parentID == "" && current != nil {
		parentID = current.ID
	}

	v := &ScriptVersion{
		ID:              uuid.New().String(),
		ProjectID:       params.ProjectID,
		VersionNumber:   maxNumber + 1,
		Scenes:          params.Scenes,
		FullScript:      script.Render(params.Scenes),
		CreatedBy:       params.CreatedBy,
		IsCurrent:       !params.Candidate,
		IsCandidate:     params.Candidate,
		BaseVersionID:   params.BaseVersionID,
		ParentVersionID: parentID,
		AnalysisResult:  params.AnalysisResult,
		AnalysisScore:   params.AnalysisScore,
		Metrics:         params.Metrics,
		Review:          params.Review,
		Provenance:      prov,
		Changes:         json.RawMessage(changesJSON),
		Diff:            diffs,
		CreatedAt:       now,
	}

	if params.Candidate {
		// At most one candidate per project: replace any previous one,
		// recommendations included.
		if _, err := tx.Exec(`DELETE FROM scene_recommendations WHERE script_version_id IN
			(SELECT id FROM script_versions WHERE project_id = ? AND is_candidate = 1)`,
			params.ProjectID); err != nil {
			return nil, fmt.Errorf("deleting stale candidate recommendations: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM script_versions WHERE project_id = ? AND is_candidate = 1`,
			params.ProjectID); err != nil {
			return nil, fmt.Errorf("deleting stale candidate: %w", err)
		}
	} else {
		if _, err := tx.Exec(`UPDATE script_versions SET is_current = 0 WHERE project_id = ?`,
			params.ProjectID); err != nil {
			return nil, fmt.Errorf("clearing current flag: %w", err)
		}
	}

	if _, err := tx.Exec(`INSERT INTO script_versions (`+versionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.ProjectID, v.VersionNumber, string(scenesJSON), v.FullScript, v.CreatedBy,
		boolToInt(v.IsCurrent), boolToInt(v.IsCandidate), v.BaseVersionID, v.ParentVersionID,
		string(v.AnalysisResult), v.AnalysisScore, string(v.Metrics), v.Review,
		string(provJSON), changesJSON, string(diffJSON), now.Format(time.RFC3339),
	); err != nil {
		return nil, fmt.Errorf("inserting version: %w", err)
	}

	// Recommendation bookkeeping rides the same transaction, so a failure
	// here rolls back the version too: callers never observe a version whose
	// recommendations were only partially marked or copied.
	if len(params.MarkApplied) > 0 {
		if err := markAppliedTx(tx, params.MarkApplied, now); err != nil {
			return nil, err
		}
	}
	if params.CopyUnappliedFrom != "" {
		if _, err := copyUnappliedTx(tx, params.CopyUnappliedFrom, v.ID, params.MarkApplied, now); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing version: %w", err)
	}
	return v, nil
}

// GetVersion returns a version by id.
func (s *Store) GetVersion(id string) (*ScriptVersion, error) {
	return scanVersion(s.db.QueryRow(`SELECT `+versionColumns+` FROM script_versions WHERE id = ?`, id))
}

// CurrentVersion returns the project's single current version, or ErrNotFound
// if the project has no versions yet.
func (s *Store) CurrentVersion(projectID string) (*ScriptVersion, error) {
	return scanVersion(s.db.QueryRow(
		`SELECT `+versionColumns+` FROM script_versions WHERE project_id = ? AND is_current = 1`, projectID))
}

// CandidateVersion returns the project's pending candidate, or ErrNotFound.
func (s *Store) CandidateVersion(projectID string) (*ScriptVersion, error) {
	return scanVersion(s.db.QueryRow(
		`SELECT `+versionColumns+` FROM script_versions WHERE project_id = ? AND is_candidate = 1`, projectID))
}

// ListVersions returns all versions for a project, newest first.
func (s *Store) ListVersions(projectID string) ([]ScriptVersion, error) {
	rows, err := s.db.Query(
		`SELECT `+versionColumns+` FROM script_versions WHERE project_id = ? ORDER BY version_number DESC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []ScriptVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, *v)
	}
	return versions, rows.Err()
}

// RevertToVersion creates a new current version whose scenes are an exact
// copy of an earlier version's. The revert itself is a new version; history
// stays untouched.
func (s *Store) RevertToVersion(projectID, versionID string) (*ScriptVersion, error) {
	target, err := s.GetVersion(versionID)
	if err != nil {
		return nil, err
	}
	// Target versions are immutable, so reading outside the creation
	// transaction is safe.
	if target.ProjectID != projectID {
		return nil, ErrNotFound
	}

	return s.CreateVersion(CreateVersionParams{
		ProjectID:     projectID,
		Scenes:        script.Clone(target.Scenes),
		CreatedBy:     CreatedByUser,
		Changes:       map[string]any{"type": "revert", "reverted_to_version": target.VersionNumber},
		BaseVersionID: target.ID,
		Provenance: Provenance{
			Source: "revert",
			Extra:  map[string]string{"reverted_to": target.ID},
		},
	})
}

// PromoteCandidate makes the project's candidate the current version. The old
// current stays in history with its flag cleared; the whole flip is one
// transaction.
func (s *Store) PromoteCandidate(projectID string) (*ScriptVersion, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning promote transaction: %w", err)
	}
	defer tx.Rollback()

	candidate, err := scanVersion(tx.QueryRow(
		`SELECT `+versionColumns+` FROM script_versions WHERE project_id = ? AND is_candidate = 1`, projectID))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNoCandidate
	}
	if err != nil {
		return nil, fmt.Errorf("loading candidate: %w", err)
	}

	if _, err := tx.Exec(`UPDATE script_versions SET is_current = 0 WHERE project_id = ?`, projectID); err != nil {
		return nil, fmt.Errorf("clearing current flag: %w", err)
	}
	if _, err := tx.Exec(`UPDATE script_versions SET is_current = 1, is_candidate = 0 WHERE id = ?`, candidate.ID); err != nil {
		return nil, fmt.Errorf("promoting candidate: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing promote: %w", err)
	}

	candidate.IsCurrent = true
	candidate.IsCandidate = false
	return candidate, nil
}

// DeleteCandidate discards the project's candidate version together with its
// recommendations. Returns ErrNoCandidate when there is nothing to discard.
func (s *Store) DeleteCandidate(projectID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	var candidateID string
	err = tx.QueryRow(`SELECT id FROM script_versions WHERE project_id = ? AND is_candidate = 1`, projectID).Scan(&candidateID)
	if err == sql.ErrNoRows {
		return ErrNoCandidate
	}
	if err != nil {
		return fmt.Errorf("loading candidate: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM scene_recommendations WHERE script_version_id = ?`, candidateID); err != nil {
		return fmt.Errorf("deleting candidate recommendations: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM script_versions WHERE id = ?`, candidateID); err != nil {
		return fmt.Errorf("deleting candidate: %w", err)
	}

	return tx.Commit()
}

func currentVersionTx(tx *sql.Tx, projectID string) (*ScriptVersion, error) {
	return scanVersion(tx.QueryRow(
		`SELECT `+versionColumns+` FROM script_versions WHERE project_id = ? AND is_current = 1`, projectID))
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(row rowScanner) (*ScriptVersion, error) {
	var v ScriptVersion
	var scenesJSON, provJSON, diffJSON, analysisJSON, metricsJSON, changesJSON, createdAt string
	var isCurrent, isCandidate int

	err := row.Scan(&v.ID, &v.ProjectID, &v.VersionNumber, &scenesJSON, &v.FullScript, &v.CreatedBy,
		&isCurrent, &isCandidate, &v.BaseVersionID, &v.ParentVersionID, &analysisJSON, &v.AnalysisScore,
		&metricsJSON, &v.Review, &provJSON, &changesJSON, &diffJSON, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(scenesJSON), &v.Scenes); err != nil {
		return nil, fmt.Errorf("parsing scenes for version %s: %w", v.ID, err)
	}
	if provJSON != "" {
		if err := json.Unmarshal([]byte(provJSON), &v.Provenance); err != nil {
			return nil, fmt.Errorf("parsing provenance for version %s: %w", v.ID, err)
		}
	}
	if diffJSON != "" && diffJSON != "null" {
		if err := json.Unmarshal([]byte(diffJSON), &v.Diff); err != nil {
			return nil, fmt.Errorf("parsing diff for version %s: %w", v.ID, err)
		}
	}
	if analysisJSON != "" {
		v.AnalysisResult = json.RawMessage(analysisJSON)
	}
	if metricsJSON != "" {
		v.Metrics = json.RawMessage(metricsJSON)
	}
	if changesJSON != "" {
		v.Changes = json.RawMessage(changesJSON)
	}
	v.IsCurrent = isCurrent == 1
	v.IsCandidate = isCandidate == 1

	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at for version %s: %w", v.ID, err)
	}
	v.CreatedAt = t

	return &v, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
