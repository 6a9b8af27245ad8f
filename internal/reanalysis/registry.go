package reanalysis

import (
	"sync"
	"time"
)

// retentionWindow is how long terminal jobs stay pollable before GC.
const retentionWindow = 30 * time.Minute

// JobRegistry tracks jobs and idempotency keys. The in-memory implementation
// is process-local: it provides no cross-process exclusivity, and scaling to
// multiple workers requires an externalized implementation behind this same
// interface.
type JobRegistry interface {
	// Get returns the job by id, or nil.
	Get(jobID string) *Job
	// GetByKey returns the job recorded for an idempotency key, or nil.
	GetByKey(key string) *Job
	// ActiveForProject returns the project's queued or running job, or nil.
	ActiveForProject(projectID string) *Job
	// Claim registers job unless its idempotency key is already recorded or
	// the project already has an active job. The key check, the active check
	// and the insert happen under one lock, so concurrent claims for the same
	// project admit exactly one job. It returns the conflicting job and
	// whether the conflict is an idempotency-key replay; (nil, false) means
	// the claim succeeded.
	Claim(job *Job) (existing *Job, replayed bool)
	// Put inserts or replaces a job snapshot, indexing its idempotency key.
	// Claim is the create path; Put is for updates seeded from a snapshot.
	Put(job *Job)
	// Update applies fn to the job under the registry lock.
	Update(jobID string, fn func(*Job))
	// Sweep removes terminal jobs older than the retention window.
	Sweep(now time.Time)
}

// memoryRegistry is the mutex-guarded map implementation of JobRegistry.
// Get and friends return copies so readers never race the job's own updates.
type memoryRegistry struct {
	mu    sync.Mutex
	jobs  map[string]*Job
	byKey map[string]string
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() JobRegistry {
	return &memoryRegistry{
		jobs:  make(map[string]*Job),
		byKey: make(map[string]string),
	}
}

func (r *memoryRegistry) Get(jobID string) *Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return snapshot(r.jobs[jobID])
}

func (r *memoryRegistry) GetByKey(key string) *Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	if key == "" {
		return nil
	}
	return snapshot(r.jobs[r.byKey[key]])
}

func (r *memoryRegistry) ActiveForProject(projectID string) *Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, job := range r.jobs {
		if job.ProjectID == projectID && job.Active() {
			return snapshot(job)
		}
	}
	return nil
}

func (r *memoryRegistry) Claim(job *Job) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if job.IdempotencyKey != "" {
		if prior, ok := r.jobs[r.byKey[job.IdempotencyKey]]; ok {
			return snapshot(prior), true
		}
	}
	for _, j := range r.jobs {
		if j.ProjectID == job.ProjectID && j.Active() {
			return snapshot(j), false
		}
	}

	r.jobs[job.ID] = snapshot(job)
	if job.IdempotencyKey != "" {
		r.byKey[job.IdempotencyKey] = job.ID
	}
	return nil, false
}

func (r *memoryRegistry) Put(job *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = snapshot(job)
	if job.IdempotencyKey != "" {
		r.byKey[job.IdempotencyKey] = job.ID
	}
}

func (r *memoryRegistry) Update(jobID string, fn func(*Job)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[jobID]; ok {
		fn(job)
	}
}

func (r *memoryRegistry) Sweep(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, job := range r.jobs {
		if !job.Terminal() || job.CompletedAt == nil {
			continue
		}
		if now.Sub(*job.CompletedAt) < retentionWindow {
			continue
		}
		delete(r.jobs, id)
		if job.IdempotencyKey != "" {
			delete(r.byKey, job.IdempotencyKey)
		}
	}
}

func snapshot(job *Job) *Job {
	if job == nil {
		return nil
	}
	cp := *job
	return &cp
}
