package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/opdacuont2563-hash/surgibot/job"
)

// Timeout returns middleware that enforces the per-job execution deadline.
// If the job has a non-zero Timeout, a context.WithTimeout wraps the handler
// call; a handler that returns because the deadline passed surfaces as
// job.ErrTimeout in the result instead of hanging a worker.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if j.Timeout <= 0 {
			return next(ctx)
		}

		ctx, cancel := context.WithTimeout(ctx, j.Timeout)
		defer cancel()

		err := next(ctx)
		if err != nil && errors.Is(err, context.DeadlineExceeded) {
			logger.Warn("job deadline exceeded",
				slog.String("job_id", j.ID.String()),
				slog.String("kind", string(j.Kind)),
				slog.Duration("timeout", j.Timeout),
			)
			return fmt.Errorf("%w after %s", job.ErrTimeout, j.Timeout)
		}
		return err
	}
}
