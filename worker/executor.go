// Package worker provides the job execution engine: an Executor that
// dispatches each dequeued job through middleware to its kind-matched
// handler, and a Pool of goroutines draining the queue.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opdacuont2563-hash/surgibot/job"
	"github.com/opdacuont2563-hash/surgibot/middleware"
)

// Executors holds one handler per job kind. A kind left nil fails its jobs
// with an error result rather than hanging a worker.
type Executors struct {
	Fetch     func(ctx context.Context, p job.FetchPayload) (any, error)
	SynthPlay func(ctx context.Context, p job.SynthPlayPayload) error
	DBWrite   func(ctx context.Context, p job.WritePayload) (any, error)
}

// Executor runs a single job through the middleware chain and the handler
// for its kind. It never retries; the outcome travels back on the job's
// handle exactly as the chain produced it.
type Executor struct {
	execs  Executors
	mw     middleware.Middleware
	logger *slog.Logger
}

// NewExecutor creates an Executor. Middlewares wrap the handler outermost
// first, so Recover belongs at the front of the list.
func NewExecutor(execs Executors, logger *slog.Logger, mws ...middleware.Middleware) *Executor {
	return &Executor{
		execs:  execs,
		mw:     middleware.Chain(mws...),
		logger: logger,
	}
}

// Execute runs j and returns the handler's value. With the default chain,
// deadline overruns come back as job.ErrTimeout and panics as plain errors.
func (e *Executor) Execute(ctx context.Context, j *job.Job) (any, error) {
	var value any
	terminal := func(ctx context.Context) error {
		v, err := e.dispatch(ctx, j)
		value = v
		return err
	}

	if err := e.mw(ctx, j, terminal); err != nil {
		return nil, err
	}
	return value, nil
}

// dispatch switches over the sealed payload set. The default arm is
// unreachable unless a new kind is added without a handler case.
func (e *Executor) dispatch(ctx context.Context, j *job.Job) (any, error) {
	switch p := j.Payload.(type) {
	case job.FetchPayload:
		if e.execs.Fetch == nil {
			return nil, fmt.Errorf("surgibot: no fetch executor configured")
		}
		return e.execs.Fetch(ctx, p)
	case job.SynthPlayPayload:
		if e.execs.SynthPlay == nil {
			return nil, fmt.Errorf("surgibot: no synth_play executor configured")
		}
		return nil, e.execs.SynthPlay(ctx, p)
	case job.WritePayload:
		if e.execs.DBWrite == nil {
			return nil, fmt.Errorf("surgibot: no db_write executor configured")
		}
		return e.execs.DBWrite(ctx, p)
	default:
		return nil, fmt.Errorf("surgibot: unhandled job kind %q", j.Kind)
	}
}
