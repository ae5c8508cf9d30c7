package executor

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// CancelRegistry is the process-wide map of per-job cancellation flags
// named in spec.md §9's "global mutable state" design note. It is narrow
// and lock-protected, with deterministic teardown via Forget.
type CancelRegistry struct {
	mu    sync.Mutex
	flags map[uuid.UUID]*atomic.Bool
}

// NewCancelRegistry constructs an empty registry.
func NewCancelRegistry() *CancelRegistry {
	return &CancelRegistry{flags: make(map[uuid.UUID]*atomic.Bool)}
}

func (r *CancelRegistry) flagFor(jobID uuid.UUID) *atomic.Bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.flags[jobID]
	if !ok {
		f = &atomic.Bool{}
		r.flags[jobID] = f
	}
	return f
}

// Cancel sets jobID's cancellation flag. Safe to call from the API layer
// concurrently with a running worker.
func (r *CancelRegistry) Cancel(jobID uuid.UUID) {
	r.flagFor(jobID).Store(true)
}

// IsCancelled reports whether jobID has been asked to cancel.
func (r *CancelRegistry) IsCancelled(jobID uuid.UUID) bool {
	return r.flagFor(jobID).Load()
}

// Forget drops jobID's flag once the job has reached a terminal state and
// no resume is expected to reuse the registry entry.
func (r *CancelRegistry) Forget(jobID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.flags, jobID)
}

// Reset clears jobID's flag without removing its entry. Resume calls it on
// every resume, so a flag left by an earlier cancel does not stop the new run.
func (r *CancelRegistry) Reset(jobID uuid.UUID) {
	r.flagFor(jobID).Store(false)
}
