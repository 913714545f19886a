package job

import (
	"context"
	"sync"
	"time"

	"github.com/opdacuont2563-hash/surgibot/id"
)

// Result is the single outcome of a job. Exactly one Result is produced per
// job; it reaches the job's Handle and, if the pool has one, the shared
// results channel.
type Result struct {
	JobID       id.JobID
	Kind        Kind
	Subject     string
	Value       any
	Err         error
	CompletedAt time.Time
}

// Ok reports whether the job completed without error.
func (r Result) Ok() bool { return r.Err == nil }

// Handle is the submitter's view of a submitted job. It resolves to exactly
// one Result; later completion attempts are ignored.
type Handle struct {
	job *Job

	mu     sync.Mutex
	done   chan struct{}
	result Result
	filled bool
}

// NewHandle wraps a job in an unresolved handle.
func NewHandle(j *Job) *Handle {
	return &Handle{job: j, done: make(chan struct{})}
}

// Job returns the job this handle tracks.
func (h *Handle) Job() *Job { return h.job }

// Done returns a channel closed once the result is available.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Complete resolves the handle. The first call wins and returns true;
// every later call is a no-op returning false.
func (h *Handle) Complete(r Result) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.filled {
		return false
	}
	h.result = r
	h.filled = true
	close(h.done)
	return true
}

// Await blocks until the result is available or ctx ends.
func (h *Handle) Await(ctx context.Context) (Result, error) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Result returns the result without blocking. The second return is false
// while the job is still pending or running.
func (h *Handle) Result() (Result, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result, h.filled
}
