package job

import "context"

type ctxKey struct{}

// NewContext returns a context carrying the job under execution.
// The pool installs it before running the handler chain.
func NewContext(ctx context.Context, j *Job) context.Context {
	return context.WithValue(ctx, ctxKey{}, j)
}

// FromContext returns the job under execution, if any.
func FromContext(ctx context.Context) (*Job, bool) {
	j, ok := ctx.Value(ctxKey{}).(*Job)
	return j, ok
}
