package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const recommendationColumns = `id, script_version_id, scene_id, priority, area, current_text,
	suggested_text, reasoning, expected_impact, score_delta, confidence, source_agent,
	applied, applied_at, created_at`

// CreateRecommendations inserts a batch of recommendations in one
// transaction. Missing ids and timestamps are filled in.
func (s *Store) CreateRecommendations(recs []SceneRecommendation) ([]SceneRecommendation, error) {
	if len(recs) == 0 {
		return nil, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning recommendations transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	out := make([]SceneRecommendation, len(recs))
	for i, rec := range recs {
		inserted, err := insertRecommendationTx(tx, rec, now)
		if err != nil {
			return nil, err
		}
		out[i] = inserted
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing recommendations: %w", err)
	}
	return out, nil
}

// GetRecommendation returns a single recommendation by id.
func (s *Store) GetRecommendation(id string) (*SceneRecommendation, error) {
	return scanRecommendation(s.db.QueryRow(
		`SELECT `+recommendationColumns+` FROM scene_recommendations WHERE id = ?`, id))
}

// ListRecommendations returns all recommendations attached to a version.
func (s *Store) ListRecommendations(versionID string) ([]SceneRecommendation, error) {
	return s.queryRecommendations(
		`SELECT `+recommendationColumns+` FROM scene_recommendations
		 WHERE script_version_id = ? ORDER BY scene_id ASC, created_at DESC`, versionID)
}

// ListUnappliedRecommendations returns the recommendations on a version that
// have not been folded into a later version yet.
func (s *Store) ListUnappliedRecommendations(versionID string) ([]SceneRecommendation, error) {
	return s.queryRecommendations(
		`SELECT `+recommendationColumns+` FROM scene_recommendations
		 WHERE script_version_id = ? AND applied = 0 ORDER BY scene_id ASC, created_at DESC`, versionID)
}

// MarkRecommendationApplied flags one recommendation as folded into a version.
func (s *Store) MarkRecommendationApplied(id string) error {
	return s.MarkRecommendationsApplied([]string{id})
}

// MarkRecommendationsApplied flags a batch of recommendations as applied in
// one transaction: either every id is marked or none is. Unknown ids abort
// the whole batch with ErrNotFound.
func (s *Store) MarkRecommendationsApplied(ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning mark-applied transaction: %w", err)
	}
	defer tx.Rollback()

	if err := markAppliedTx(tx, ids, time.Now().UTC()); err != nil {
		return err
	}
	return tx.Commit()
}

// CopyUnappliedRecommendations re-inserts every unapplied recommendation from
// one version onto another, so they stay actionable after an edit. Returns
// the new copies.
func (s *Store) CopyUnappliedRecommendations(fromVersionID, toVersionID string, excludeIDs []string) ([]SceneRecommendation, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning copy transaction: %w", err)
	}
	defer tx.Rollback()

	copies, err := copyUnappliedTx(tx, fromVersionID, toVersionID, excludeIDs, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing copy: %w", err)
	}
	return copies, nil
}

func insertRecommendationTx(tx *sql.Tx, rec SceneRecommendation, now time.Time) (SceneRecommendation, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Priority == "" {
		rec.Priority = PriorityMedium
	}
	if rec.Area == "" {
		rec.Area = AreaGeneral
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}

	var scoreDelta any
	if rec.ScoreDelta != nil {
		scoreDelta = *rec.ScoreDelta
	}
	var appliedAt any
	if rec.AppliedAt != nil {
		appliedAt = rec.AppliedAt.UTC().Format(time.RFC3339)
	}

	if _, err := tx.Exec(`INSERT INTO scene_recommendations (`+recommendationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ScriptVersionID, rec.SceneID, rec.Priority, rec.Area, rec.CurrentText,
		rec.SuggestedText, rec.Reasoning, rec.ExpectedImpact, scoreDelta, rec.Confidence,
		rec.SourceAgent, boolToInt(rec.Applied), appliedAt, rec.CreatedAt.Format(time.RFC3339),
	); err != nil {
		return SceneRecommendation{}, fmt.Errorf("inserting recommendation for scene %d: %w", rec.SceneID, err)
	}
	return rec, nil
}

func markAppliedTx(tx *sql.Tx, ids []string, now time.Time) error {
	placeholders := strings.Repeat(",?", len(ids)-1)
	args := make([]any, 0, len(ids)+1)
	args = append(args, now.Format(time.RFC3339))
	for _, id := range ids {
		args = append(args, id)
	}

	res, err := tx.Exec(`UPDATE scene_recommendations SET applied = 1, applied_at = ?
		WHERE id IN (?`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("marking recommendations applied: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking marked rows: %w", err)
	}
	if n != int64(len(ids)) {
		return fmt.Errorf("marking %d recommendations, %d matched: %w", len(ids), n, ErrNotFound)
	}
	return nil
}

func copyUnappliedTx(tx *sql.Tx, fromVersionID, toVersionID string, excludeIDs []string, now time.Time) ([]SceneRecommendation, error) {
	rows, err := tx.Query(`SELECT `+recommendationColumns+` FROM scene_recommendations
		WHERE script_version_id = ? AND applied = 0 ORDER BY scene_id ASC`, fromVersionID)
	if err != nil {
		return nil, fmt.Errorf("listing unapplied recommendations: %w", err)
	}

	excluded := make(map[string]bool, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = true
	}

	var toCopy []SceneRecommendation
	for rows.Next() {
		rec, err := scanRecommendation(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		if excluded[rec.ID] {
			continue
		}
		rec.ID = ""
		rec.ScriptVersionID = toVersionID
		rec.CreatedAt = time.Time{}
		toCopy = append(toCopy, *rec)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	copies := make([]SceneRecommendation, 0, len(toCopy))
	for _, rec := range toCopy {
		inserted, err := insertRecommendationTx(tx, rec, now)
		if err != nil {
			return nil, err
		}
		copies = append(copies, inserted)
	}
	return copies, nil
}

func (s *Store) queryRecommendations(query string, args ...any) ([]SceneRecommendation, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []SceneRecommendation
	for rows.Next() {
		rec, err := scanRecommendation(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

func scanRecommendation(row rowScanner) (*SceneRecommendation, error) {
	var rec SceneRecommendation
	var scoreDelta sql.NullInt64
	var appliedAt sql.NullString
	var applied int
	var createdAt string

	err := row.Scan(&rec.ID, &rec.ScriptVersionID, &rec.SceneID, &rec.Priority, &rec.Area,
		&rec.CurrentText, &rec.SuggestedText, &rec.Reasoning, &rec.ExpectedImpact,
		&scoreDelta, &rec.Confidence, &rec.SourceAgent, &applied, &appliedAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if scoreDelta.Valid {
		d := int(scoreDelta.Int64)
		rec.ScoreDelta = &d
	}
	rec.Applied = applied == 1
	if appliedAt.Valid {
		t, err := time.Parse(time.RFC3339, appliedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing applied_at for recommendation %s: %w", rec.ID, err)
		}
		rec.AppliedAt = &t
	}

	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at for recommendation %s: %w", rec.ID, err)
	}
	rec.CreatedAt = t

	return &rec, nil
}
