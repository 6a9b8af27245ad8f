// Package api exposes the version store, recommendation applicator and
// reanalysis job manager over HTTP and MCP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/reeldraft/reeldraft/internal/reanalysis"
	"github.com/reeldraft/reeldraft/internal/recommend"
	"github.com/reeldraft/reeldraft/internal/script"
	"github.com/reeldraft/reeldraft/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// AppDeps holds the collaborators the HTTP surface is built on.
type AppDeps struct {
	Store      *storage.Store
	Applicator *recommend.Applicator
	Jobs       *reanalysis.Manager
	Token      string
}

// NewAppHandler builds the authenticated application router. Health stays
// outside auth so process supervisors can probe it.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Route("/projects/{projectID}", func(r chi.Router) {
			r.Post("/versions", handleCreateVersion(deps))
			r.Get("/versions", handleListVersions(deps))
			r.Get("/versions/current", handleCurrentVersion(deps))
			r.Post("/versions/{versionID}/revert", handleRevert(deps))
			r.Post("/recommendations/apply-all", handleApplyAll(deps))
			r.Post("/reanalysis", handleStartReanalysis(deps))
			r.Get("/reanalysis/{jobID}", handleJobStatus(deps))
			r.Get("/candidate", handleGetCandidate(deps))
			r.Post("/candidate/choose", handleChooseCandidate(deps))
			r.Delete("/candidate", handleCancelCandidate(deps))
		})

		r.Get("/versions/{versionID}", handleGetVersion(deps))
		r.Get("/versions/{versionID}/recommendations", handleListRecommendations(deps))
		r.Post("/versions/{versionID}/recommendations/{recommendationID}/apply", handleApplyOne(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CreateVersionRequest is the body of POST /projects/{projectID}/versions.
type CreateVersionRequest struct {
	Scenes     []script.Scene  `json:"scenes"`
	CreatedBy  string          `json:"created_by"`
	Changes    json.RawMessage `json:"changes,omitempty"`
	UserID     string          `json:"user_id,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	BaseFormat string          `json:"base_format,omitempty"`
}

func handleCreateVersion(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectID")
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req CreateVersionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(req.Scenes) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "scenes are required")
			return
		}
		createdBy := req.CreatedBy
		if createdBy == "" {
			createdBy = storage.CreatedByUser
		}

		var changes any
		if len(req.Changes) > 0 {
			changes = req.Changes
		}

		version, err := deps.Store.CreateVersion(storage.CreateVersionParams{
			ProjectID: projectID,
			Scenes:    req.Scenes,
			CreatedBy: createdBy,
			Changes:   changes,
			Provenance: storage.Provenance{
				Source: createdBy,
				UserID: req.UserID,
			},
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create version: %v", err)
			return
		}

		writeJSON(w, http.StatusCreated, version)
	}
}

func handleListVersions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectID")

		versions, err := deps.Store.ListVersions(projectID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list versions: %v", err)
			return
		}
		if versions == nil {
			versions = []storage.ScriptVersion{}
		}

		writeJSON(w, http.StatusOK, versions)
	}
}

func handleCurrentVersion(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectID")

		version, err := deps.Store.CurrentVersion(projectID)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "project has no current version")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load current version: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, version)
	}
}

func handleGetVersion(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "versionID")

		version, err := deps.Store.GetVersion(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "version not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load version: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, version)
	}
}

// RevertResponse is the body returned by a successful revert.
type RevertResponse struct {
	Version *storage.ScriptVersion `json:"version"`
	Message string                 `json:"message"`
}

func handleRevert(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectID")
		versionID := chi.URLParam(r, "versionID")

		version, err := deps.Store.RevertToVersion(projectID, versionID)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "version not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to revert: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, RevertResponse{
			Version: version,
			Message: fmt.Sprintf("Reverted to version %d as new version %d", sourceVersionNumber(deps, versionID), version.VersionNumber),
		})
	}
}

// sourceVersionNumber resolves the reverted-to version's number for the
// user-facing message; on a lookup race it degrades to 0 rather than failing
// a revert that already happened.
func sourceVersionNumber(deps AppDeps, versionID string) int {
	v, err := deps.Store.GetVersion(versionID)
	if err != nil {
		return 0
	}
	return v.VersionNumber
}

func handleListRecommendations(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		versionID := chi.URLParam(r, "versionID")

		if _, err := deps.Store.GetVersion(versionID); errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "version not found")
			return
		} else if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load version: %v", err)
			return
		}

		recs, err := deps.Store.ListRecommendations(versionID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list recommendations: %v", err)
			return
		}
		if recs == nil {
			recs = []storage.SceneRecommendation{}
		}

		writeJSON(w, http.StatusOK, recs)
	}
}

func handleApplyOne(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		versionID := chi.URLParam(r, "versionID")
		recommendationID := chi.URLParam(r, "recommendationID")

		result, err := deps.Applicator.ApplyOne(versionID, recommendationID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			httpError(w, http.StatusNotFound, "not_found", "recommendation not found on this version")
			return
		case errors.Is(err, recommend.ErrAlreadyApplied):
			httpError(w, http.StatusConflict, "conflict", "recommendation already applied")
			return
		case errors.Is(err, recommend.ErrSceneNotFound):
			httpError(w, http.StatusConflict, "conflict", "scene no longer exists in this version")
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "failed to apply recommendation: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}

// ApplyAllRequest optionally narrows a bulk apply to a subset of
// recommendation ids.
type ApplyAllRequest struct {
	IDs []string `json:"ids,omitempty"`
}

func handleApplyAll(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectID")
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ApplyAllRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
				return
			}
		}

		result, err := deps.Applicator.ApplyAll(projectID, req.IDs)
		if errors.Is(err, storage.ErrNoCurrentVersion) {
			httpError(w, http.StatusNotFound, "not_found", "project has no current version")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to apply recommendations: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
