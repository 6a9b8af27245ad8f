package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/reeldraft/reeldraft/internal/reanalysis"
	"github.com/reeldraft/reeldraft/internal/storage"
)

// StartReanalysisRequest carries the optional idempotency key. The
// Idempotency-Key header takes precedence over the body field.
type StartReanalysisRequest struct {
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// StartReanalysisResponse acknowledges an accepted (or replayed) job.
type StartReanalysisResponse struct {
	JobID    string `json:"job_id"`
	Existing bool   `json:"existing"`
}

func handleStartReanalysis(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectID")
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req StartReanalysisRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
				return
			}
		}
		key := r.Header.Get("Idempotency-Key")
		if key == "" {
			key = req.IdempotencyKey
		}

		result, err := deps.Jobs.Start(projectID, key)
		var already *reanalysis.AlreadyRunningError
		switch {
		case errors.As(err, &already):
			writeJSON(w, http.StatusConflict, map[string]any{
				"error": map[string]any{
					"code":    "ALREADY_RUNNING",
					"message": already.Error(),
					"job":     already.Existing,
				},
			})
			return
		case errors.Is(err, storage.ErrNoCurrentVersion):
			httpError(w, http.StatusNotFound, "not_found", "project has no current version")
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "failed to start reanalysis: %v", err)
			return
		}

		writeJSON(w, http.StatusAccepted, StartReanalysisResponse{
			JobID:    result.Job.ID,
			Existing: result.Existing,
		})
	}
}

func handleJobStatus(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectID")
		jobID := chi.URLParam(r, "jobID")

		job, err := deps.Jobs.Status(projectID, jobID)
		if errors.Is(err, reanalysis.ErrJobNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load job: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, job)
	}
}

func handleGetCandidate(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectID")

		candidate, err := deps.Store.CandidateVersion(projectID)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "project has no candidate version")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load candidate: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, candidate)
	}
}

// ChooseCandidateRequest selects which side of a pending candidate survives.
type ChooseCandidateRequest struct {
	Keep string `json:"keep"`
}

// ChooseCandidateResponse reports the resolved choice.
type ChooseCandidateResponse struct {
	Success bool   `json:"success"`
	Choice  string `json:"choice"`
}

func handleChooseCandidate(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectID")
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ChooseCandidateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		err := deps.Jobs.Choose(projectID, req.Keep)
		switch {
		case errors.Is(err, reanalysis.ErrInvalidChoice):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		case errors.Is(err, storage.ErrNoCurrentVersion):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "project has no current version")
			return
		case errors.Is(err, storage.ErrNoCandidate):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "project has no candidate version")
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "failed to resolve candidate: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, ChooseCandidateResponse{Success: true, Choice: req.Keep})
	}
}

func handleCancelCandidate(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectID")

		err := deps.Jobs.CancelCandidate(projectID)
		switch {
		case errors.Is(err, storage.ErrNoCurrentVersion):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "project has no current version")
			return
		case errors.Is(err, storage.ErrNoCandidate):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "project has no candidate version")
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "failed to cancel candidate: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
	}
}
