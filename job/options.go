package job

import "time"

// Options configures per-job behavior.
type Options struct {
	// Priority determines the queue tier. Interactive drains first.
	Priority Priority

	// Timeout is the maximum duration a job may run. Zero picks the
	// per-kind default.
	Timeout time.Duration

	// Subject ties the job to the patient/room it concerns, so results
	// can be routed back to announcement and render state.
	Subject string
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		Priority: PriorityBackground,
	}
}

// Option is a functional option for configuring a job.
type Option func(*Options)

// WithPriority sets the queue tier.
func WithPriority(p Priority) Option {
	return func(o *Options) {
		o.Priority = p
	}
}

// WithInteractive marks the job as interactive-tier.
func WithInteractive() Option {
	return func(o *Options) {
		o.Priority = PriorityInteractive
	}
}

// WithTimeout sets the maximum execution duration for the job.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithSubject sets the subject key the job concerns.
func WithSubject(s string) Option {
	return func(o *Options) {
		o.Subject = s
	}
}
