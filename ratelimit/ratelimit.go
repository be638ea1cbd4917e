// Package ratelimit implements per-user admission control: sliding
// minute/hour/day request counters plus a concurrent-jobs cap.
//
// Check has no side effects; Increment mutates all window counters in one
// atomic batch and is called only after an admission succeeds, so a
// rejected request never consumes quota.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Window identifies a rate-limit counting window.
type Window int

const (
	WindowMinute Window = iota
	WindowHour
	WindowDay
)

// TTL returns the retention for a window's counter key. Keys are aligned
// to the window boundary, so the TTL equals the window length.
func (w Window) TTL() time.Duration {
	switch w {
	case WindowMinute:
		return time.Minute
	case WindowHour:
		return time.Hour
	default:
		return 24 * time.Hour
	}
}

// Bucket returns the window-aligned key component for the given instant.
// All stores must use the same bucketing so counters line up across
// processes.
func (w Window) Bucket(now time.Time) string {
	switch w {
	case WindowMinute:
		return now.UTC().Format("2006-01-02:15:04")
	case WindowHour:
		return now.UTC().Format("2006-01-02:15")
	default:
		return now.UTC().Format("2006-01-02")
	}
}

// String returns the window name used in counter keys and reasons.
func (w Window) String() string {
	switch w {
	case WindowMinute:
		return "minute"
	case WindowHour:
		return "hour"
	default:
		return "day"
	}
}

// Counts holds the current window counter values for one user.
type Counts struct {
	Minute int64
	Hour   int64
	Day    int64
}

// Store defines the persistence contract for window counters.
type Store interface {
	// WindowCounts reads the user's counters for the windows containing now.
	// Missing counters read as zero.
	WindowCounts(ctx context.Context, userID string, now time.Time) (Counts, error)

	// IncrementWindows increments the user's minute, hour, and day counters
	// and (re)sets their TTLs in a single atomic batch, so concurrent
	// callers never observe a partial increment.
	IncrementWindows(ctx context.Context, userID string, now time.Time) error
}

// ProcessingCounter counts a user's jobs currently being processed.
// The job store satisfies this; there is no separate counter entity.
type ProcessingCounter interface {
	CountUserProcessing(ctx context.Context, userID string) (int, error)
}

// Limits configures the per-user admission thresholds.
type Limits struct {
	RequestsPerMinute int
	RequestsPerHour   int
	RequestsPerDay    int
	ConcurrentJobs    int
}

// DefaultLimits returns the platform defaults.
func DefaultLimits() Limits {
	return Limits{
		RequestsPerMinute: 10,
		RequestsPerHour:   100,
		RequestsPerDay:    500,
		ConcurrentJobs:    3,
	}
}

// Decision is the outcome of a rate-limit check. Reason is human-readable
// and surfaces directly to the rejected caller.
type Decision struct {
	Allowed bool
	Reason  string
}

var allowed = Decision{Allowed: true, Reason: "OK"}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLimits overrides the default limits.
func WithLimits(l Limits) Option {
	return func(lim *Limiter) { lim.limits = l }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(lim *Limiter) { lim.logger = l }
}

// Limiter evaluates per-user admission limits against a counter store and
// a processing counter.
type Limiter struct {
	store      Store
	processing ProcessingCounter
	limits     Limits
	logger     *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// New creates a Limiter with the default limits.
func New(store Store, processing ProcessingCounter, opts ...Option) *Limiter {
	l := &Limiter{
		store:      store,
		processing: processing,
		limits:     DefaultLimits(),
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Limits returns the limiter's configured thresholds.
func (l *Limiter) Limits() Limits { return l.limits }

// Check evaluates the minute, hour, and day counters and the concurrent
// processing count, in that order, short-circuiting on the first violated
// limit. It never mutates state.
func (l *Limiter) Check(ctx context.Context, userID string) (Decision, error) {
	counts, err := l.store.WindowCounts(ctx, userID, l.now())
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: window counts for %s: %w", userID, err)
	}

	checks := []struct {
		window Window
		count  int64
		limit  int
	}{
		{WindowMinute, counts.Minute, l.limits.RequestsPerMinute},
		{WindowHour, counts.Hour, l.limits.RequestsPerHour},
		{WindowDay, counts.Day, l.limits.RequestsPerDay},
	}
	for _, c := range checks {
		if c.limit > 0 && c.count >= int64(c.limit) {
			return Decision{
				Allowed: false,
				Reason:  fmt.Sprintf("rate limit exceeded: too many requests per %s", c.window),
			}, nil
		}
	}

	if l.limits.ConcurrentJobs > 0 {
		active, err := l.processing.CountUserProcessing(ctx, userID)
		if err != nil {
			return Decision{}, fmt.Errorf("ratelimit: concurrent jobs for %s: %w", userID, err)
		}
		if active >= l.limits.ConcurrentJobs {
			return Decision{
				Allowed: false,
				Reason:  "rate limit exceeded: too many concurrent jobs",
			}, nil
		}
	}

	return allowed, nil
}

// Increment bumps all three window counters for the user. Called only
// after a successful admission.
func (l *Limiter) Increment(ctx context.Context, userID string) error {
	if err := l.store.IncrementWindows(ctx, userID, l.now()); err != nil {
		return fmt.Errorf("ratelimit: increment windows for %s: %w", userID, err)
	}
	return nil
}
