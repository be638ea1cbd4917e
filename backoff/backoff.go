// Package backoff provides pluggable retry delay strategies for failed
// jobs. All strategies are safe for concurrent use (they are stateless).
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	// Attempt 1 is the first retry after the initial failure.
	Delay(attempt int) time.Duration
}

// Constant always returns the same delay regardless of attempt number.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// Exponential doubles the delay each attempt.
// Delay = min(Initial * 2^(attempt-1), Cap).
type Exponential struct {
	Initial time.Duration
	Cap     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, cap time.Duration) *Exponential {
	return &Exponential{Initial: initial, Cap: cap}
}

// Delay returns Initial * 2^(attempt-1), capped at Cap.
func (e *Exponential) Delay(attempt int) time.Duration {
	d := time.Duration(float64(e.Initial) * math.Pow(2, float64(attempt-1)))
	if e.Cap > 0 && d > e.Cap {
		return e.Cap
	}
	return d
}

// ExponentialWithJitter applies full jitter to an exponential base:
// a random value in [0, min(Initial * 2^(attempt-1), Cap)]. This prevents
// thundering herd when many retries land simultaneously.
type ExponentialWithJitter struct {
	Initial time.Duration
	Cap     time.Duration
}

// NewExponentialWithJitter creates an exponential backoff with full jitter.
func NewExponentialWithJitter(initial, cap time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Initial: initial, Cap: cap}
}

// Delay returns a random duration in [0, min(Initial * 2^(attempt-1), Cap)].
func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	base := float64(e.Initial) * math.Pow(2, float64(attempt-1))
	if e.Cap > 0 && base > float64(e.Cap) {
		base = float64(e.Cap)
	}
	return time.Duration(rand.Float64() * base) //nolint:gosec // jitter intentionally uses non-crypto rand
}

// Default returns the retry schedule used by the queue manager: 20s, 40s,
// 80s, ... capped at 5 minutes.
func Default() Strategy {
	return NewExponential(20*time.Second, 5*time.Minute)
}
