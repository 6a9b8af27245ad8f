package reanalysis

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRegistrySnapshotsAreCopies(t *testing.T) {
	r := NewMemoryRegistry()
	r.Put(&Job{ID: "j1", ProjectID: "p1", Status: StatusQueued})

	got := r.Get("j1")
	got.Status = StatusError

	if r.Get("j1").Status != StatusQueued {
		t.Error("mutating a snapshot must not affect the stored job")
	}
}

func TestRegistryIdempotencyKeyLookup(t *testing.T) {
	r := NewMemoryRegistry()
	r.Put(&Job{ID: "j1", ProjectID: "p1", Status: StatusQueued, IdempotencyKey: "abc"})

	if job := r.GetByKey("abc"); job == nil || job.ID != "j1" {
		t.Errorf("GetByKey(abc) = %+v, want job j1", job)
	}
	if job := r.GetByKey(""); job != nil {
		t.Error("empty key must not match anything")
	}
	if job := r.GetByKey("other"); job != nil {
		t.Error("unknown key must not match anything")
	}
}

func TestRegistryActiveForProject(t *testing.T) {
	r := NewMemoryRegistry()
	done := time.Now().UTC()
	r.Put(&Job{ID: "j1", ProjectID: "p1", Status: StatusDone, CompletedAt: &done})
	r.Put(&Job{ID: "j2", ProjectID: "p1", Status: StatusRunning})
	r.Put(&Job{ID: "j3", ProjectID: "p2", Status: StatusQueued})

	active := r.ActiveForProject("p1")
	if active == nil || active.ID != "j2" {
		t.Errorf("active for p1 = %+v, want j2", active)
	}
	if r.ActiveForProject("p3") != nil {
		t.Error("project without jobs should have no active job")
	}
}

func TestRegistryClaim(t *testing.T) {
	r := NewMemoryRegistry()

	if existing, replayed := r.Claim(&Job{ID: "j1", ProjectID: "p1", Status: StatusQueued, IdempotencyKey: "k1"}); existing != nil || replayed {
		t.Fatalf("first claim = (%+v, %v), want (nil, false)", existing, replayed)
	}

	// Same key replays the recorded job, even for another project.
	existing, replayed := r.Claim(&Job{ID: "j2", ProjectID: "p2", Status: StatusQueued, IdempotencyKey: "k1"})
	if existing == nil || existing.ID != "j1" || !replayed {
		t.Errorf("key replay = (%+v, %v), want job j1 replayed", existing, replayed)
	}
	if r.Get("j2") != nil {
		t.Error("replayed claim must not register its job")
	}

	// Same project without a key conflicts with the active job.
	existing, replayed = r.Claim(&Job{ID: "j3", ProjectID: "p1", Status: StatusQueued})
	if existing == nil || existing.ID != "j1" || replayed {
		t.Errorf("active conflict = (%+v, %v), want job j1, not replayed", existing, replayed)
	}

	// A different project is free to claim.
	if existing, _ := r.Claim(&Job{ID: "j4", ProjectID: "p3", Status: StatusQueued}); existing != nil {
		t.Errorf("claim for idle project = %+v, want nil", existing)
	}
}

func TestRegistryClaimAfterTerminal(t *testing.T) {
	r := NewMemoryRegistry()
	done := time.Now().UTC()
	r.Put(&Job{ID: "j1", ProjectID: "p1", Status: StatusDone, CompletedAt: &done})

	if existing, _ := r.Claim(&Job{ID: "j2", ProjectID: "p1", Status: StatusQueued}); existing != nil {
		t.Errorf("claim after terminal job = %+v, want nil", existing)
	}
}

func TestRegistryClaimConcurrentSingleWinner(t *testing.T) {
	r := NewMemoryRegistry()

	const claimers = 64
	var wg sync.WaitGroup
	var admitted atomic.Int32
	for i := 0; i < claimers; i++ {
		id := fmt.Sprintf("j%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if existing, _ := r.Claim(&Job{ID: id, ProjectID: "p1", Status: StatusQueued}); existing == nil {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := admitted.Load(); got != 1 {
		t.Errorf("admitted %d concurrent claims for one project, want 1", got)
	}
}

func TestRegistryUpdateIgnoresUnknown(t *testing.T) {
	r := NewMemoryRegistry()
	r.Update("ghost", func(j *Job) {
		t.Error("update callback should not run for unknown jobs")
	})
}

func TestRegistrySweep(t *testing.T) {
	r := NewMemoryRegistry()
	now := time.Now().UTC()

	old := now.Add(-retentionWindow - time.Minute)
	fresh := now.Add(-time.Minute)
	r.Put(&Job{ID: "expired", ProjectID: "p1", Status: StatusDone, CompletedAt: &old, IdempotencyKey: "k1"})
	r.Put(&Job{ID: "recent", ProjectID: "p1", Status: StatusDone, CompletedAt: &fresh})
	r.Put(&Job{ID: "active", ProjectID: "p2", Status: StatusRunning})

	r.Sweep(now)

	if r.Get("expired") != nil {
		t.Error("expired terminal job should be swept")
	}
	if r.GetByKey("k1") != nil {
		t.Error("swept job's idempotency key should be released")
	}
	if r.Get("recent") == nil {
		t.Error("terminal job inside the retention window should survive")
	}
	if r.Get("active") == nil {
		t.Error("active job must never be swept")
	}
}
