// Package reanalysis runs asynchronous re-scoring jobs and the candidate
// accept/reject workflow built on top of them.
package reanalysis

import "time"

// Status is a job lifecycle state. Terminal states are sticky: once a job is
// done or errored it never transitions again.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// Step labels the analysis phase a running job is in. Purely observational.
type Step string

const (
	StepHook      Step = "hook"
	StepStructure Step = "structure"
	StepEmotional Step = "emotional"
	StepCTA       Step = "cta"
	StepSynthesis Step = "synthesis"
	StepSaving    Step = "saving"
)

// Job is the in-memory record of one reanalysis run. Jobs live only in
// process memory; they are never persisted.
type Job struct {
	ID                 string     `json:"job_id"`
	ProjectID          string     `json:"project_id"`
	Status             Status     `json:"status"`
	Step               Step       `json:"step,omitempty"`
	Progress           int        `json:"progress"`
	CandidateVersionID string     `json:"candidate_version_id,omitempty"`
	Error              string     `json:"error,omitempty"`
	CanRetry           bool       `json:"can_retry"`
	IdempotencyKey     string     `json:"idempotency_key,omitempty"`
	BaseVersionID      string     `json:"base_version_id,omitempty"`
	ScenesCount        int        `json:"scenes_count"`
	StartedAt          time.Time  `json:"started_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
}

// Terminal reports whether the job has reached done or error.
func (j *Job) Terminal() bool {
	return j.Status == StatusDone || j.Status == StatusError
}

// Active reports whether the job still occupies its project's slot.
func (j *Job) Active() bool {
	return j.Status == StatusQueued || j.Status == StatusRunning
}
