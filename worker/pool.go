package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/opdacuont2563-hash/surgibot/id"
	"github.com/opdacuont2563-hash/surgibot/job"
	"github.com/opdacuont2563-hash/surgibot/queue"
)

// Pool manages a fixed set of worker goroutines draining the queue. It is
// also the submission point: every accepted job gets a Handle that resolves
// to exactly one Result, including jobs cancelled before a worker picked
// them up and jobs still queued at shutdown.
type Pool struct {
	queue    *queue.Queue
	executor *Executor
	workers  int
	logger   *slog.Logger

	results chan job.Result

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup

	handleMu sync.Mutex
	handles  map[string]*job.Handle

	activeMu sync.Mutex
	active   map[string]context.CancelFunc
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithWorkers sets the number of worker goroutines.
func WithWorkers(n int) PoolOption {
	return func(p *Pool) { p.workers = n }
}

// WithResultsBuffer sets the capacity of the shared results channel.
func WithResultsBuffer(n int) PoolOption {
	return func(p *Pool) { p.results = make(chan job.Result, n) }
}

// NewPool creates a worker pool draining q.
func NewPool(q *queue.Queue, executor *Executor, logger *slog.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		queue:    q,
		executor: executor,
		workers:  4,
		logger:   logger,
		results:  make(chan job.Result, 256),
		handles:  make(map[string]*job.Handle),
		active:   make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Submit enqueues j, blocking while the queue is full. This is the
// background path; interactive callers use TrySubmit.
func (p *Pool) Submit(ctx context.Context, j *job.Job) (*job.Handle, error) {
	h := p.register(j)
	if err := p.queue.PushWait(ctx, j); err != nil {
		p.unregister(j.ID.String())
		return nil, err
	}
	return h, nil
}

// TrySubmit enqueues j without blocking. A full queue returns
// queue.ErrFull; interactive callers treat that as "skip this refresh"
// rather than waiting.
func (p *Pool) TrySubmit(j *job.Job) (*job.Handle, error) {
	h := p.register(j)
	if err := p.queue.Push(j); err != nil {
		p.unregister(j.ID.String())
		return nil, err
	}
	return h, nil
}

// Cancel removes a queued job, resolving its handle with job.ErrCanceled.
// It reports whether removal happened; a job already picked up by a worker
// runs to its natural result.
func (p *Pool) Cancel(jobID id.JobID) bool {
	j, ok := p.queue.Remove(jobID)
	if !ok {
		return false
	}
	p.cancelResult(j)
	return true
}

// Results returns the shared completion tap. Reading it is optional;
// handles resolve regardless. The channel closes after Stop.
func (p *Pool) Results() <-chan job.Result { return p.results }

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting", slog.Int("workers", p.workers))

	for range p.workers {
		p.wg.Add(1)
		go p.dequeueLoop()
	}
	return nil
}

// Stop cancels everything still queued, closes the queue, and waits for
// workers to finish their current job. When ctx expires first, running
// jobs have their contexts cancelled instead. Every outstanding handle
// resolves before Stop returns.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping")

	for _, j := range p.queue.Drain() {
		p.cancelResult(j)
	}
	p.queue.Close()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling running jobs")
		p.cancelActive()
		p.wg.Wait()
	}

	close(p.results)
	return nil
}

// Stats reports queue depth and in-flight work.
type Stats struct {
	Queue   queue.Stats
	Active  int
	Workers int
}

// Stats returns a point-in-time snapshot.
func (p *Pool) Stats() Stats {
	p.activeMu.Lock()
	active := len(p.active)
	p.activeMu.Unlock()

	return Stats{
		Queue:   p.queue.Snapshot(),
		Active:  active,
		Workers: p.workers,
	}
}

// dequeueLoop is run by each worker goroutine. It exits when the queue is
// closed and drained.
func (p *Pool) dequeueLoop() {
	defer p.wg.Done()

	for {
		j, err := p.queue.Pop(context.Background())
		if err != nil {
			return
		}
		p.runJob(j)
	}
}

func (p *Pool) runJob(j *job.Job) {
	started := time.Now().UTC()
	j.State = job.StateRunning
	j.StartedAt = &started

	ctx, cancel := context.WithCancel(context.Background())
	p.trackJob(j.ID.String(), cancel)
	defer cancel()

	value, err := p.executor.Execute(job.NewContext(ctx, j), j)

	p.untrackJob(j.ID.String())
	p.complete(j, value, err)
}

// complete resolves the job's handle and publishes the result.
func (p *Pool) complete(j *job.Job, value any, err error) {
	done := time.Now().UTC()
	j.CompletedAt = &done
	if err != nil {
		j.State = job.StateFailed
		j.LastError = err.Error()
	} else {
		j.State = job.StateCompleted
	}

	p.resolve(j.ID.String(), job.Result{
		JobID:       j.ID,
		Kind:        j.Kind,
		Subject:     j.Subject,
		Value:       value,
		Err:         err,
		CompletedAt: done,
	})
}

// cancelResult resolves a job removed from the queue before execution.
func (p *Pool) cancelResult(j *job.Job) {
	done := time.Now().UTC()
	j.State = job.StateCancelled
	j.CompletedAt = &done
	j.LastError = job.ErrCanceled.Error()

	p.resolve(j.ID.String(), job.Result{
		JobID:       j.ID,
		Kind:        j.Kind,
		Subject:     j.Subject,
		Err:         job.ErrCanceled,
		CompletedAt: done,
	})
}

// resolve completes the handle for jobID. Handle.Complete is first-wins,
// so a cancel racing a natural completion still publishes exactly once.
func (p *Pool) resolve(jobID string, r job.Result) {
	p.handleMu.Lock()
	h := p.handles[jobID]
	delete(p.handles, jobID)
	p.handleMu.Unlock()

	if h == nil || !h.Complete(r) {
		return
	}
	p.publish(r)
}

// publish taps the result onto the shared channel. A full channel drops
// rather than blocking a worker; handles remain the authoritative path.
func (p *Pool) publish(r job.Result) {
	select {
	case p.results <- r:
	default:
		p.logger.Warn("results channel full, dropping",
			slog.String("job_id", r.JobID.String()),
			slog.String("kind", string(r.Kind)),
		)
	}
}

func (p *Pool) register(j *job.Job) *job.Handle {
	h := job.NewHandle(j)
	p.handleMu.Lock()
	p.handles[j.ID.String()] = h
	p.handleMu.Unlock()
	return h
}

func (p *Pool) unregister(jobID string) {
	p.handleMu.Lock()
	delete(p.handles, jobID)
	p.handleMu.Unlock()
}

func (p *Pool) trackJob(jobID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.active[jobID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(jobID string) {
	p.activeMu.Lock()
	delete(p.active, jobID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActive() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, cancel := range p.active {
		p.logger.Warn("cancelling running job", slog.String("job_id", jobID))
		cancel()
	}
}
