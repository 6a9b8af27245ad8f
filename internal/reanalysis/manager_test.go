package reanalysis

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/reeldraft/reeldraft/internal/metrics"
	"github.com/reeldraft/reeldraft/internal/recommend"
	"github.com/reeldraft/reeldraft/internal/scoring"
	"github.com/reeldraft/reeldraft/internal/script"
	"github.com/reeldraft/reeldraft/internal/storage"
)

type fakeScorer struct {
	mu       sync.Mutex
	calls    int
	wholeErr error
	sceneErr error
	block    chan struct{}
}

func (f *fakeScorer) Score(ctx context.Context, text, _ string) (*scoring.Result, error) {
	f.mu.Lock()
	f.calls++
	first := f.calls == 1
	f.mu.Unlock()

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if first && f.wholeErr != nil {
		return nil, f.wholeErr
	}
	if !first && f.sceneErr != nil {
		return nil, f.sceneErr
	}
	return &scoring.Result{
		OverallScore:   62,
		HookScore:      55,
		StructureScore: 70,
		EmotionalScore: 60,
		CTAScore:       65,
		Strengths:      []string{"clear premise"},
		Weaknesses:     []string{"weak hook"},
		Verdict:        "Solid draft, hook needs work.",
	}, nil
}

func (f *fakeScorer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fixedSuggester struct{}

func (fixedSuggester) SuggestEdit(_ context.Context, sceneText, _ string) (*scoring.EditSuggestion, error) {
	return &scoring.EditSuggestion{
		SuggestedText:  sceneText + "!",
		Reasoning:      "stronger delivery",
		Priority:       storage.PriorityHigh,
		ExpectedImpact: "+8 points",
	}, nil
}

func newTestManager(t *testing.T, scorer scoring.Scorer) (*Manager, *storage.Store) {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	mgr := NewManager(s, scorer, recommend.NewGenerator(fixedSuggester{}), NewMemoryRegistry(), metrics.New())
	return mgr, s
}

func seedCurrentVersion(t *testing.T, s *storage.Store, projectID string) *storage.ScriptVersion {
	t.Helper()
	v, err := s.CreateVersion(storage.CreateVersionParams{
		ProjectID: projectID,
		Scenes: []script.Scene{
			{SceneNumber: 1, Text: "Hook", StartSec: 0, EndSec: 5},
			{SceneNumber: 2, Text: "Body", StartSec: 5, EndSec: 10},
		},
		CreatedBy: storage.CreatedByUser,
	})
	if err != nil {
		t.Fatalf("seeding version: %v", err)
	}
	return v
}

func waitForTerminal(t *testing.T, mgr *Manager, projectID, jobID string) *Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := mgr.Status(projectID, jobID)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if job.Terminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job did not reach a terminal state")
	return nil
}

func TestStartRunsToDone(t *testing.T) {
	scorer := &fakeScorer{}
	mgr, s := newTestManager(t, scorer)
	v1 := seedCurrentVersion(t, s, "p1")

	result, err := mgr.Start("p1", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if result.Existing {
		t.Error("fresh job reported as existing")
	}
	if result.Job.BaseVersionID != v1.ID {
		t.Errorf("base version = %q, want %q", result.Job.BaseVersionID, v1.ID)
	}
	if result.Job.ScenesCount != 2 {
		t.Errorf("scenes count = %d, want 2", result.Job.ScenesCount)
	}

	job := waitForTerminal(t, mgr, "p1", result.Job.ID)
	if job.Status != StatusDone {
		t.Fatalf("status = %s (error %q), want done", job.Status, job.Error)
	}
	if job.Progress != 100 {
		t.Errorf("progress = %d, want 100", job.Progress)
	}
	if job.CompletedAt == nil {
		t.Error("completed job should record completed_at")
	}

	candidate, err := s.GetVersion(job.CandidateVersionID)
	if err != nil {
		t.Fatalf("loading candidate: %v", err)
	}
	if !candidate.IsCandidate {
		t.Error("result version should be flagged candidate")
	}
	if candidate.IsCurrent {
		t.Error("candidate must not be current")
	}
	if candidate.AnalysisScore != 62 {
		t.Errorf("analysis score = %v, want 62", candidate.AnalysisScore)
	}
	if candidate.Review == "" {
		t.Error("candidate should carry a review summary")
	}
	for _, scene := range candidate.Scenes {
		if scene.Score != 62 {
			t.Errorf("scene %d score = %v, want 62", scene.SceneNumber, scene.Score)
		}
	}

	// Whole script + two scenes.
	if n := scorer.callCount(); n != 3 {
		t.Errorf("scorer called %d times, want 3", n)
	}

	recs, err := s.ListRecommendations(candidate.ID)
	if err != nil {
		t.Fatalf("ListRecommendations: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("have %d recommendations, want 2", len(recs))
	}

	// The canonical version is untouched.
	current, err := s.CurrentVersion("p1")
	if err != nil {
		t.Fatalf("CurrentVersion: %v", err)
	}
	if current.ID != v1.ID {
		t.Error("reanalysis must not change the current version")
	}
}

func TestStartIdempotencyReplay(t *testing.T) {
	scorer := &fakeScorer{block: make(chan struct{})}
	mgr, s := newTestManager(t, scorer)
	seedCurrentVersion(t, s, "p1")

	first, err := mgr.Start("p1", "abc")
	if err != nil {
		t.Fatalf("first Start: %v", err)
	}
	second, err := mgr.Start("p1", "abc")
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if !second.Existing {
		t.Error("replayed job should be reported as existing")
	}
	if second.Job.ID != first.Job.ID {
		t.Errorf("replay returned job %q, want %q", second.Job.ID, first.Job.ID)
	}

	close(scorer.block)
	waitForTerminal(t, mgr, "p1", first.Job.ID)
}

func TestStartAlreadyRunning(t *testing.T) {
	scorer := &fakeScorer{block: make(chan struct{})}
	mgr, s := newTestManager(t, scorer)
	seedCurrentVersion(t, s, "p1")

	first, err := mgr.Start("p1", "")
	if err != nil {
		t.Fatalf("first Start: %v", err)
	}

	_, err = mgr.Start("p1", "")
	var already *AlreadyRunningError
	if !errors.As(err, &already) {
		t.Fatalf("error = %v, want AlreadyRunningError", err)
	}
	if already.Existing.ID != first.Job.ID {
		t.Errorf("conflicting job id = %q, want %q", already.Existing.ID, first.Job.ID)
	}

	close(scorer.block)
	waitForTerminal(t, mgr, "p1", first.Job.ID)
}

func TestStartConcurrentSingleWinner(t *testing.T) {
	scorer := &fakeScorer{block: make(chan struct{})}
	mgr, s := newTestManager(t, scorer)
	seedCurrentVersion(t, s, "p1")

	const starters = 64
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []*Job
	)
	for i := 0; i < starters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := mgr.Start("p1", "")
			if err != nil {
				var already *AlreadyRunningError
				if !errors.As(err, &already) {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			mu.Lock()
			winners = append(winners, result.Job)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(winners) != 1 {
		t.Fatalf("accepted %d concurrent starts for one project, want 1", len(winners))
	}

	close(scorer.block)
	waitForTerminal(t, mgr, "p1", winners[0].ID)
}

func TestStartConcurrentSameKeyShareOneJob(t *testing.T) {
	scorer := &fakeScorer{block: make(chan struct{})}
	mgr, s := newTestManager(t, scorer)
	seedCurrentVersion(t, s, "p1")

	const starters = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = make(map[string]int)
		created int
	)
	for i := 0; i < starters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := mgr.Start("p1", "same-key")
			if err != nil {
				t.Errorf("Start with shared key: %v", err)
				return
			}
			mu.Lock()
			ids[result.Job.ID]++
			if !result.Existing {
				created++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(ids) != 1 {
		t.Errorf("shared key produced %d distinct jobs, want 1", len(ids))
	}
	if created != 1 {
		t.Errorf("%d starts reported a fresh job, want 1", created)
	}

	close(scorer.block)
	for id := range ids {
		waitForTerminal(t, mgr, "p1", id)
	}
}

func TestStartNoCurrentVersion(t *testing.T) {
	mgr, _ := newTestManager(t, &fakeScorer{})

	if _, err := mgr.Start("empty", ""); !errors.Is(err, storage.ErrNoCurrentVersion) {
		t.Errorf("error = %v, want ErrNoCurrentVersion", err)
	}
}

func TestJobTimeout(t *testing.T) {
	scorer := &fakeScorer{block: make(chan struct{})}
	defer close(scorer.block)

	mgr, s := newTestManager(t, scorer)
	mgr.timeout = 30 * time.Millisecond
	seedCurrentVersion(t, s, "p1")

	result, err := mgr.Start("p1", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	job := waitForTerminal(t, mgr, "p1", result.Job.ID)
	if job.Status != StatusError {
		t.Fatalf("status = %s, want error", job.Status)
	}
	if job.Error != timeoutMessage {
		t.Errorf("error = %q, want %q", job.Error, timeoutMessage)
	}
	if !job.CanRetry {
		t.Error("timeout should be retryable")
	}
}

func TestTransientFailureRetryable(t *testing.T) {
	upstream := &scoring.UpstreamError{Status: 429, Body: "rate limited"}
	scorer := &fakeScorer{wholeErr: upstream}
	mgr, s := newTestManager(t, scorer)
	seedCurrentVersion(t, s, "p1")

	result, err := mgr.Start("p1", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	job := waitForTerminal(t, mgr, "p1", result.Job.ID)
	if job.Status != StatusError {
		t.Fatalf("status = %s, want error", job.Status)
	}
	if !job.CanRetry {
		t.Error("rate-limit failure should be retryable")
	}
	if !strings.Contains(job.Error, "temporarily unavailable") {
		t.Errorf("error = %q, want a temporary-unavailability message", job.Error)
	}

	// The failed job must not leave a candidate behind.
	if _, err := s.CandidateVersion("p1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("candidate lookup = %v, want ErrNotFound", err)
	}
}

func TestAuthFailureNotRetryable(t *testing.T) {
	scorer := &fakeScorer{wholeErr: &scoring.UpstreamError{Status: 401, Body: "bad key"}}
	mgr, s := newTestManager(t, scorer)
	seedCurrentVersion(t, s, "p1")

	result, err := mgr.Start("p1", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	job := waitForTerminal(t, mgr, "p1", result.Job.ID)
	if job.Status != StatusError {
		t.Fatalf("status = %s, want error", job.Status)
	}
	if job.CanRetry {
		t.Error("auth failure must not be retryable")
	}
}

func TestSceneFailuresScoredZero(t *testing.T) {
	scorer := &fakeScorer{sceneErr: &scoring.UpstreamError{Status: 500, Body: "boom"}}
	mgr, s := newTestManager(t, scorer)
	seedCurrentVersion(t, s, "p1")

	result, err := mgr.Start("p1", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	job := waitForTerminal(t, mgr, "p1", result.Job.ID)
	if job.Status != StatusDone {
		t.Fatalf("status = %s (error %q), want done despite scene failures", job.Status, job.Error)
	}

	candidate, err := s.GetVersion(job.CandidateVersionID)
	if err != nil {
		t.Fatalf("loading candidate: %v", err)
	}
	for _, scene := range candidate.Scenes {
		if scene.Score != 0 {
			t.Errorf("scene %d score = %v, want 0", scene.SceneNumber, scene.Score)
		}
	}
}

func TestStatusUnknownJob(t *testing.T) {
	mgr, s := newTestManager(t, &fakeScorer{})
	seedCurrentVersion(t, s, "p1")

	if _, err := mgr.Status("p1", "nope"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("error = %v, want ErrJobNotFound", err)
	}
}

func TestStatusForeignProject(t *testing.T) {
	scorer := &fakeScorer{}
	mgr, s := newTestManager(t, scorer)
	seedCurrentVersion(t, s, "p1")

	result, err := mgr.Start("p1", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForTerminal(t, mgr, "p1", result.Job.ID)

	if _, err := mgr.Status("p2", result.Job.ID); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("error = %v, want ErrJobNotFound", err)
	}
}

func TestChooseCandidatePromotes(t *testing.T) {
	scorer := &fakeScorer{}
	mgr, s := newTestManager(t, scorer)
	seedCurrentVersion(t, s, "p1")

	result, err := mgr.Start("p1", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	job := waitForTerminal(t, mgr, "p1", result.Job.ID)
	if job.Status != StatusDone {
		t.Fatalf("status = %s, want done", job.Status)
	}

	if err := mgr.Choose("p1", ChoiceCandidate); err != nil {
		t.Fatalf("Choose: %v", err)
	}

	current, err := s.CurrentVersion("p1")
	if err != nil {
		t.Fatalf("CurrentVersion: %v", err)
	}
	if current.ID != job.CandidateVersionID {
		t.Error("promoted candidate should be current")
	}
	if current.IsCandidate {
		t.Error("promoted version should drop the candidate flag")
	}
}

func TestChooseBaseDiscards(t *testing.T) {
	scorer := &fakeScorer{}
	mgr, s := newTestManager(t, scorer)
	v1 := seedCurrentVersion(t, s, "p1")

	result, err := mgr.Start("p1", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	job := waitForTerminal(t, mgr, "p1", result.Job.ID)
	if job.Status != StatusDone {
		t.Fatalf("status = %s, want done", job.Status)
	}

	if err := mgr.Choose("p1", ChoiceBase); err != nil {
		t.Fatalf("Choose: %v", err)
	}

	if _, err := s.GetVersion(job.CandidateVersionID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("discarded candidate lookup = %v, want ErrNotFound", err)
	}
	current, err := s.CurrentVersion("p1")
	if err != nil {
		t.Fatalf("CurrentVersion: %v", err)
	}
	if current.ID != v1.ID {
		t.Error("base version should remain current")
	}
}

func TestChooseWithoutCandidate(t *testing.T) {
	mgr, s := newTestManager(t, &fakeScorer{})
	seedCurrentVersion(t, s, "p1")

	if err := mgr.Choose("p1", ChoiceCandidate); !errors.Is(err, storage.ErrNoCandidate) {
		t.Errorf("error = %v, want ErrNoCandidate", err)
	}
}

func TestChooseInvalidChoice(t *testing.T) {
	mgr, s := newTestManager(t, &fakeScorer{})
	seedCurrentVersion(t, s, "p1")

	if err := mgr.Choose("p1", "maybe"); !errors.Is(err, ErrInvalidChoice) {
		t.Errorf("error = %v, want ErrInvalidChoice", err)
	}
}

func TestCancelCandidate(t *testing.T) {
	scorer := &fakeScorer{}
	mgr, s := newTestManager(t, scorer)
	seedCurrentVersion(t, s, "p1")

	result, err := mgr.Start("p1", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	job := waitForTerminal(t, mgr, "p1", result.Job.ID)
	if job.Status != StatusDone {
		t.Fatalf("status = %s, want done", job.Status)
	}

	if err := mgr.CancelCandidate("p1"); err != nil {
		t.Fatalf("CancelCandidate: %v", err)
	}
	if _, err := s.CandidateVersion("p1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("candidate lookup = %v, want ErrNotFound", err)
	}
}
