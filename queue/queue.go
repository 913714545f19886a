package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/opdacuont2563-hash/surgibot/id"
	"github.com/opdacuont2563-hash/surgibot/job"
)

var (
	// ErrFull is returned by Push when the queue is at capacity.
	// Interactive callers treat it as a signal to skip the work.
	ErrFull = errors.New("surgibot: queue full")

	// ErrClosed is returned once the queue has been closed.
	ErrClosed = errors.New("surgibot: queue closed")
)

// Option configures a Queue.
type Option func(*Queue)

// WithCapacity bounds the number of queued jobs across both tiers.
func WithCapacity(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.capacity = n
		}
	}
}

// WithStarveAfter sets how long a background job may wait before it is
// served ahead of fresh interactive jobs.
func WithStarveAfter(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.starveAfter = d
		}
	}
}

// WithRateLimit paces dequeues with a token bucket of rps jobs per second.
// Zero rps disables pacing.
func WithRateLimit(rps float64, burst int) Option {
	return func(q *Queue) {
		if rps > 0 {
			if burst <= 0 {
				burst = 1
			}
			q.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// entry wraps a queued job. Cancelled entries stay in their slice until a
// Pop discards them; only the index map and live count treat them as gone.
type entry struct {
	job       *job.Job
	enqueued  time.Time
	cancelled bool
}

// Stats is a point-in-time snapshot of queue depth.
type Stats struct {
	Interactive int
	Background  int
	Capacity    int
}

// Queue is a bounded, in-process, two-tier FIFO. Interactive jobs drain
// first; background jobs are promoted once they have waited starveAfter.
// Push never blocks; PushWait blocks while full. Safe for concurrent use.
type Queue struct {
	capacity    int
	starveAfter time.Duration
	limiter     *rate.Limiter

	mu          sync.Mutex
	interactive []*entry
	background  []*entry
	index       map[string]*entry
	size        int
	closed      bool

	notEmpty chan struct{}
	notFull  chan struct{}
}

// New creates a Queue.
func New(opts ...Option) *Queue {
	q := &Queue{
		capacity:    64,
		starveAfter: 2 * time.Second,
		index:       make(map[string]*entry),
		notEmpty:    make(chan struct{}, 1),
		notFull:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Push enqueues without blocking. Returns ErrFull at capacity and
// ErrClosed after Close.
func (q *Queue) Push(j *job.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if q.size >= q.capacity {
		return ErrFull
	}
	q.pushLocked(j)
	return nil
}

// PushWait enqueues, blocking while the queue is full. It returns ctx.Err()
// if the context ends first and ErrClosed if the queue closes while waiting.
func (q *Queue) PushWait(ctx context.Context, j *job.Job) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrClosed
		}
		if q.size < q.capacity {
			q.pushLocked(j)
			q.mu.Unlock()
			return nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.notFull:
		}
	}
}

func (q *Queue) pushLocked(j *job.Job) {
	e := &entry{job: j, enqueued: time.Now()}
	if j.Priority == job.PriorityInteractive {
		q.interactive = append(q.interactive, e)
	} else {
		q.background = append(q.background, e)
	}
	q.index[j.ID.String()] = e
	q.size++
	q.signalLocked(q.notEmpty)
}

// Pop blocks until a job is available, the context ends, or the queue is
// closed and drained.
func (q *Queue) Pop(ctx context.Context) (*job.Job, error) {
	if q.limiter != nil {
		if err := q.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	for {
		q.mu.Lock()
		if e := q.popLocked(); e != nil {
			q.mu.Unlock()
			return e.job, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return nil, ErrClosed
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notEmpty:
		}
	}
}

// popLocked picks the next live entry: the background head if it has
// starved past starveAfter, otherwise interactive first.
func (q *Queue) popLocked() *entry {
	q.discardCancelledLocked()

	if len(q.background) > 0 && time.Since(q.background[0].enqueued) >= q.starveAfter {
		return q.takeLocked(&q.background)
	}
	if len(q.interactive) > 0 {
		return q.takeLocked(&q.interactive)
	}
	if len(q.background) > 0 {
		return q.takeLocked(&q.background)
	}
	return nil
}

func (q *Queue) takeLocked(tier *[]*entry) *entry {
	e := (*tier)[0]
	*tier = (*tier)[1:]
	delete(q.index, e.job.ID.String())
	q.size--
	q.signalLocked(q.notFull)
	return e
}

func (q *Queue) discardCancelledLocked() {
	for len(q.interactive) > 0 && q.interactive[0].cancelled {
		q.interactive = q.interactive[1:]
	}
	for len(q.background) > 0 && q.background[0].cancelled {
		q.background = q.background[1:]
	}
}

// Remove cancels a queued-but-unstarted job. Returns the job and true when
// it was still queued; false when it already started, finished, or never
// existed.
func (q *Queue) Remove(jobID id.JobID) (*job.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.index[jobID.String()]
	if !ok {
		return nil, false
	}
	e.cancelled = true
	delete(q.index, jobID.String())
	q.size--
	q.signalLocked(q.notFull)
	return e.job, true
}

// Drain removes and returns every queued job. Used on shutdown so each
// handle can still resolve to a cancelled result.
func (q *Queue) Drain() []*job.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*job.Job
	for _, tier := range [][]*entry{q.interactive, q.background} {
		for _, e := range tier {
			if e.cancelled {
				continue
			}
			e.cancelled = true
			delete(q.index, e.job.ID.String())
			out = append(out, e.job)
		}
	}
	q.interactive = nil
	q.background = nil
	q.size = 0
	q.signalLocked(q.notFull)
	return out
}

// Len returns the number of live queued jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Snapshot returns current per-tier depth.
func (q *Queue) Snapshot() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := Stats{Capacity: q.capacity}
	for _, e := range q.interactive {
		if !e.cancelled {
			s.Interactive++
		}
	}
	for _, e := range q.background {
		if !e.cancelled {
			s.Background++
		}
	}
	return s
}

// Close marks the queue closed and wakes every waiter. Queued jobs remain
// poppable until drained.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.notEmpty)
	close(q.notFull)
}

// signalLocked performs a non-blocking send. After Close the channels are
// closed and permanently ready, so no send is needed or safe.
func (q *Queue) signalLocked(ch chan struct{}) {
	if q.closed {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}
