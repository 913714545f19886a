package job

import (
	"errors"
	"time"

	"github.com/opdacuont2563-hash/surgibot/id"
)

// Outcome errors reported through Result.Err. Aliased at the module root.
var (
	// ErrCanceled is the result error of a job removed from the queue
	// before a worker picked it up.
	ErrCanceled = errors.New("surgibot: job canceled")

	// ErrTimeout is the result error of a job that exceeded its deadline.
	ErrTimeout = errors.New("surgibot: job timed out")
)

// Kind is the closed set of work the pool knows how to execute.
// Exactly one payload struct exists per kind; the worker loop dispatches
// with an exhaustive switch.
type Kind string

const (
	// KindFetch pulls rows from the remote source or server API.
	KindFetch Kind = "fetch"
	// KindSynthPlay synthesizes speech and plays it.
	KindSynthPlay Kind = "synth_play"
	// KindDBWrite mutates the durable store.
	KindDBWrite Kind = "db_write"
)

// Priority selects the queue tier. Interactive jobs drain first;
// background jobs are promoted once they have waited long enough.
type Priority int

const (
	// PriorityBackground is for work nothing is waiting on (audio,
	// persistence, scheduled refreshes).
	PriorityBackground Priority = 0
	// PriorityInteractive is for work blocking a rendered surface.
	PriorityInteractive Priority = 1
)

// String returns the tier name.
func (p Priority) String() string {
	if p == PriorityInteractive {
		return "interactive"
	}
	return "background"
}

// State represents the lifecycle state of a job.
type State string

const (
	// StatePending means the job is waiting to be picked up by a worker.
	StatePending State = "pending"
	// StateRunning means a worker is currently executing the job.
	StateRunning State = "running"
	// StateCompleted means the job finished successfully.
	StateCompleted State = "completed"
	// StateFailed means the job failed. The pool never retries; the
	// submitter decides whether to resubmit.
	StateFailed State = "failed"
	// StateCancelled means the job was removed from the queue before a
	// worker started it.
	StateCancelled State = "cancelled"
)

// Job represents a unit of background work. The queue owns it exclusively
// from submission until completion or cancellation; Payload is immutable
// after submit.
type Job struct {
	ID          id.JobID
	Kind        Kind
	Payload     Payload
	Subject     string
	Priority    Priority
	Timeout     time.Duration
	State       State
	SubmittedAt time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	LastError   string
}

// New builds a Job around a typed payload. The kind comes from the payload;
// options override priority, timeout, and subject.
func New(p Payload, opts ...Option) *Job {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	timeout := o.Timeout
	if timeout == 0 {
		timeout = defaultTimeout(p.Kind())
	}

	return &Job{
		ID:          id.NewJobID(),
		Kind:        p.Kind(),
		Payload:     p,
		Subject:     o.Subject,
		Priority:    o.Priority,
		Timeout:     timeout,
		State:       StatePending,
		SubmittedAt: time.Now().UTC(),
	}
}
