package worker

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limits controls execution throughput for one job type on the dequeue
// side. Zero values mean unlimited.
type Limits struct {
	// MaxConcurrency caps simultaneous executions of the job type across
	// this pool.
	MaxConcurrency int

	// RateLimit caps execution starts per second.
	RateLimit float64

	// RateBurst is the token bucket size for RateLimit. Defaults to
	// max(1, RateLimit) when zero.
	RateBurst int
}

type throttleState struct {
	limiter *rate.Limiter // nil when RateLimit is 0
	active  int
}

// Throttle enforces per-job-type Limits. The pool calls Acquire before
// executing a dequeued job and Release after execution completes; a denied
// Acquire sends the job back to its queue.
type Throttle struct {
	mu     sync.Mutex
	limits map[string]Limits
	def    Limits
	states map[string]*throttleState
}

// NewThrottle creates a Throttle with def applied to job types that have
// no explicit limits.
func NewThrottle(def Limits) *Throttle {
	return &Throttle{
		limits: make(map[string]Limits),
		def:    def,
		states: make(map[string]*throttleState),
	}
}

// SetLimits sets the limits for one job type, replacing any previous value.
// Takes effect for subsequent Acquire calls.
func (t *Throttle) SetLimits(jobType string, l Limits) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.limits[jobType] = l
	delete(t.states, jobType)
}

// Acquire reports whether an execution of the job type may start, counting
// it as active when true.
func (t *Throttle) Acquire(jobType string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	l := t.limitsFor(jobType)
	s := t.stateFor(jobType, l)

	if l.MaxConcurrency > 0 && s.active >= l.MaxConcurrency {
		return false
	}
	if s.limiter != nil && !s.limiter.Allow() {
		return false
	}
	s.active++
	return true
}

// Release marks one execution of the job type finished.
func (t *Throttle) Release(jobType string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.states[jobType]; ok && s.active > 0 {
		s.active--
	}
}

// Active returns the number of in-flight executions for the job type.
func (t *Throttle) Active(jobType string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.states[jobType]; ok {
		return s.active
	}
	return 0
}

func (t *Throttle) limitsFor(jobType string) Limits {
	if l, ok := t.limits[jobType]; ok {
		return l
	}
	return t.def
}

func (t *Throttle) stateFor(jobType string, l Limits) *throttleState {
	if s, ok := t.states[jobType]; ok {
		return s
	}
	s := &throttleState{}
	if l.RateLimit > 0 {
		burst := l.RateBurst
		if burst <= 0 {
			burst = int(l.RateLimit)
			if burst < 1 {
				burst = 1
			}
		}
		s.limiter = rate.NewLimiter(rate.Limit(l.RateLimit), burst)
	}
	t.states[jobType] = s
	return s
}
