package job

import (
	"time"
)

// Options configures per-job behavior at enqueue time.
type Options struct {
	// Priority determines dequeue ordering across queues.
	Priority Priority

	// Delay postpones eligibility for dequeue. Zero means immediate.
	Delay time.Duration

	// MaxRetries is the maximum number of retry attempts before the job
	// is dead-lettered.
	MaxRetries int

	// Timeout is the execution budget hint carried on the job record and
	// enforced by the worker-side timeout middleware.
	Timeout time.Duration

	// Metadata is free-form annotation copied onto the job record.
	Metadata map[string]string
}

// DefaultOptions returns Options with the platform defaults.
func DefaultOptions() Options {
	return Options{
		Priority:   PriorityNormal,
		MaxRetries: 3,
		Timeout:    5 * time.Minute,
	}
}

// Option is a functional option applied at enqueue time.
type Option func(*Options)

// WithPriority sets the job's priority level.
func WithPriority(p Priority) Option {
	return func(o *Options) {
		o.Priority = p
	}
}

// WithDelay schedules the job for execution after the given duration.
func WithDelay(d time.Duration) Option {
	return func(o *Options) {
		o.Delay = d
	}
}

// WithMaxRetries sets the maximum number of retry attempts.
func WithMaxRetries(n int) Option {
	return func(o *Options) {
		o.MaxRetries = n
	}
}

// WithTimeout sets the execution budget hint for the job.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithMetadata merges annotations onto the job record.
func WithMetadata(md map[string]string) Option {
	return func(o *Options) {
		if o.Metadata == nil {
			o.Metadata = make(map[string]string, len(md))
		}
		for k, v := range md {
			o.Metadata[k] = v
		}
	}
}
