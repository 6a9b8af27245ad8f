package reanalysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/reeldraft/reeldraft/internal/metrics"
	"github.com/reeldraft/reeldraft/internal/recommend"
	"github.com/reeldraft/reeldraft/internal/scoring"
	"github.com/reeldraft/reeldraft/internal/script"
	"github.com/reeldraft/reeldraft/internal/storage"
)

// jobTimeout is the fixed wall-clock budget for one reanalysis run. The
// timer cancels the job's context, so in-flight scoring calls are aborted
// rather than merely relabeled.
const jobTimeout = 70 * time.Second

// sceneScoreLimit bounds the per-scene scoring fan-out to respect upstream
// rate limits.
const sceneScoreLimit = 2

const timeoutMessage = "reanalysis did not finish in time, please retry"

// ErrJobNotFound is returned when a status poll names an unknown job or a
// job belonging to a different project.
var ErrJobNotFound = errors.New("job not found")

// AlreadyRunningError reports that the project already has an active job.
// It carries the existing job so the caller can poll it instead of retrying
// blindly.
type AlreadyRunningError struct {
	Existing *Job
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("reanalysis already running for project %s (job %s, status %s)",
		e.Existing.ProjectID, e.Existing.ID, e.Existing.Status)
}

// StartResult is the outcome of Start. Existing is true when an idempotency
// key replayed a previously created job.
type StartResult struct {
	Job      *Job
	Existing bool
}

// Manager creates and runs reanalysis jobs. Jobs are detached: Start returns
// immediately and callers poll Status.
type Manager struct {
	store     *storage.Store
	scorer    scoring.Scorer
	generator *recommend.Generator
	registry  JobRegistry
	metrics   *metrics.Metrics
	logger    *slog.Logger

	timeout time.Duration
}

// NewManager creates a Manager over the given collaborators.
func NewManager(store *storage.Store, scorer scoring.Scorer, generator *recommend.Generator, registry JobRegistry, m *metrics.Metrics) *Manager {
	return &Manager{
		store:     store,
		scorer:    scorer,
		generator: generator,
		registry:  registry,
		metrics:   m,
		logger:    slog.Default(),
		timeout:   jobTimeout,
	}
}

// Start creates a reanalysis job for the project's current version and runs
// it in the background. A repeated idempotency key replays the recorded job;
// an active job for the project returns AlreadyRunningError.
func (m *Manager) Start(projectID, idempotencyKey string) (*StartResult, error) {
	m.registry.Sweep(time.Now())

	current, err := m.store.CurrentVersion(projectID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, storage.ErrNoCurrentVersion
	}
	if err != nil {
		return nil, fmt.Errorf("loading current version: %w", err)
	}

	job := &Job{
		ID:             uuid.New().String(),
		ProjectID:      projectID,
		Status:         StatusQueued,
		Step:           StepHook,
		IdempotencyKey: idempotencyKey,
		BaseVersionID:  current.ID,
		ScenesCount:    len(current.Scenes),
		StartedAt:      time.Now().UTC(),
	}

	// The key lookup, the exclusivity check and the insert must be one
	// atomic registry operation: concurrent starts for the same project
	// would otherwise all pass the checks and all register.
	existing, replayed := m.registry.Claim(job)
	if replayed {
		return &StartResult{Job: existing, Existing: true}, nil
	}
	if existing != nil {
		return nil, &AlreadyRunningError{Existing: existing}
	}

	ctx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(m.timeout, func() {
		m.finish(job.ID, func(j *Job) {
			j.Status = StatusError
			j.Error = timeoutMessage
			j.CanRetry = true
		}, metrics.OutcomeTimeout)
		cancel()
	})

	go m.run(ctx, cancel, timer, job.ID, current)

	m.logger.Info("reanalysis started",
		"project_id", projectID, "job_id", job.ID, "base_version", current.VersionNumber)

	return &StartResult{Job: job}, nil
}

// Status returns the job's current snapshot, failing with ErrJobNotFound when
// the job is unknown or belongs to a different project.
func (m *Manager) Status(projectID, jobID string) (*Job, error) {
	job := m.registry.Get(jobID)
	if job == nil || job.ProjectID != projectID {
		return nil, ErrJobNotFound
	}
	return job, nil
}

func (m *Manager) run(ctx context.Context, cancel context.CancelFunc, timer *time.Timer, jobID string, current *storage.ScriptVersion) {
	defer cancel()
	defer timer.Stop()

	m.progress(jobID, StatusRunning, StepHook, 0)

	whole, err := m.scorer.Score(ctx, current.FullScript, "")
	if err != nil {
		m.fail(jobID, err)
		return
	}
	m.progress(jobID, StatusRunning, StepStructure, 20)

	scenes := script.Clone(current.Scenes)
	sceneScores := m.scoreScenes(ctx, jobID, scenes)
	if ctx.Err() != nil {
		m.fail(jobID, ctx.Err())
		return
	}
	for i := range scenes {
		scenes[i].Score = sceneScores[i]
	}

	m.progress(jobID, StatusRunning, StepSynthesis, 80)
	analysisJSON, metricsJSON, err := assembleMetrics(whole, sceneScores)
	if err != nil {
		m.fail(jobID, err)
		return
	}

	m.progress(jobID, StatusRunning, StepSaving, 90)
	candidate, err := m.store.CreateVersion(storage.CreateVersionParams{
		ProjectID:       current.ProjectID,
		Scenes:          scenes,
		CreatedBy:       storage.CreatedByAI,
		Changes:         map[string]string{"type": "reanalysis"},
		BaseVersionID:   current.ID,
		ParentVersionID: current.ID,
		AnalysisResult:  analysisJSON,
		AnalysisScore:   whole.OverallScore,
		Metrics:         metricsJSON,
		Review:          reviewSummary(whole),
		Provenance:      storage.Provenance{Source: "reanalysis"},
		Candidate:       true,
	})
	if err != nil {
		m.fail(jobID, err)
		return
	}
	m.metrics.VersionCreated(storage.CreatedByAI)

	recs, err := m.generator.Generate(ctx, candidate.ID, scenes, "")
	if err != nil {
		m.fail(jobID, err)
		return
	}
	if _, err := m.store.CreateRecommendations(recs); err != nil {
		m.fail(jobID, err)
		return
	}

	m.finish(jobID, func(j *Job) {
		j.Status = StatusDone
		j.Step = StepSaving
		j.Progress = 100
		j.CandidateVersionID = candidate.ID
	}, metrics.OutcomeDone)

	m.logger.Info("reanalysis finished",
		"project_id", current.ProjectID, "job_id", jobID,
		"candidate_version", candidate.VersionNumber, "recommendations", len(recs))
}

// scoreScenes scores every scene concurrently with a bounded fan-out. A
// scene whose scoring fails after retries is scored 0 rather than failing
// the whole job.
func (m *Manager) scoreScenes(ctx context.Context, jobID string, scenes []script.Scene) []float64 {
	scores := make([]float64, len(scenes))
	if len(scenes) == 0 {
		return scores
	}

	var mu sync.Mutex
	done := 0

	eg, sceneCtx := errgroup.WithContext(ctx)
	eg.SetLimit(sceneScoreLimit)
	for i := range scenes {
		eg.Go(func() error {
			result, err := m.scorer.Score(sceneCtx, scenes[i].Text, "")
			if err != nil {
				m.logger.Warn("scene scoring failed, recording zero",
					"job_id", jobID, "scene_id", scenes[i].SceneNumber, "error", err)
			} else {
				scores[i] = result.OverallScore
			}

			mu.Lock()
			done++
			completed := done
			mu.Unlock()

			step := StepEmotional
			if completed*2 > len(scenes) {
				step = StepCTA
			}
			m.progress(jobID, StatusRunning, step, 50+20*completed/len(scenes))
			return nil
		})
	}
	eg.Wait()
	return scores
}

func (m *Manager) progress(jobID string, status Status, step Step, progress int) {
	m.registry.Update(jobID, func(j *Job) {
		if j.Terminal() {
			return
		}
		j.Status = status
		j.Step = step
		j.Progress = progress
	})
}

// finish moves a job to a terminal state exactly once: if the job already
// reached done or error (e.g. the timeout fired), the mutation is dropped.
func (m *Manager) finish(jobID string, mutate func(*Job), outcome string) {
	finished := false
	var duration time.Duration
	m.registry.Update(jobID, func(j *Job) {
		if j.Terminal() {
			return
		}
		mutate(j)
		now := time.Now().UTC()
		j.CompletedAt = &now
		duration = now.Sub(j.StartedAt)
		finished = true
	})
	if finished {
		m.metrics.JobFinished(outcome, duration.Seconds())
	}
}

func (m *Manager) fail(jobID string, err error) {
	message := err.Error()
	canRetry := true
	switch {
	case scoring.IsAuthFailure(err):
		canRetry = false
	case scoring.IsTransient(err):
		message = "scoring service temporarily unavailable, please retry later"
	case errors.Is(err, context.Canceled):
		// The timeout already recorded its own terminal state; finish below
		// is a no-op in that case.
		message = timeoutMessage
	}

	m.finish(jobID, func(j *Job) {
		j.Status = StatusError
		j.Error = message
		j.CanRetry = canRetry
	}, metrics.OutcomeError)

	m.logger.Error("reanalysis failed", "job_id", jobID, "can_retry", canRetry, "error", err)
}

// analysisPayload is the stored shape of a whole-script scoring result plus
// per-scene scores.
type analysisPayload struct {
	scoring.Result
	SceneScores []float64 `json:"scene_scores"`
}

func assembleMetrics(result *scoring.Result, sceneScores []float64) (analysis, metricsJSON json.RawMessage, err error) {
	analysis, err = json.Marshal(analysisPayload{Result: *result, SceneScores: sceneScores})
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling analysis result: %w", err)
	}

	metricsJSON, err = json.Marshal(map[string]any{
		"overall_score":     result.OverallScore,
		"hook_score":        result.HookScore,
		"structure_score":   result.StructureScore,
		"emotional_score":   result.EmotionalScore,
		"cta_score":         result.CTAScore,
		"predicted_metrics": result.PredictedMetrics,
		"scene_scores":      sceneScores,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling metrics: %w", err)
	}
	return analysis, metricsJSON, nil
}

// reviewSummary renders the scoring verdict and its supporting points as a
// short human-readable review.
func reviewSummary(result *scoring.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Overall %.0f/100.", result.OverallScore)
	if result.Verdict != "" {
		b.WriteString(" ")
		b.WriteString(result.Verdict)
	}
	if len(result.Strengths) > 0 {
		fmt.Fprintf(&b, " Strengths: %s.", strings.Join(result.Strengths, "; "))
	}
	if len(result.Weaknesses) > 0 {
		fmt.Fprintf(&b, " Weaknesses: %s.", strings.Join(result.Weaknesses, "; "))
	}
	return b.String()
}
