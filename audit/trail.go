package audit

import (
	"context"
	"sync"
)

// DefaultTrailCapacity bounds the in-memory trail history.
const DefaultTrailCapacity = 1000

// Trail is an in-memory Recorder that keeps a bounded history of recent
// audit events. When the capacity is exceeded the oldest events are
// discarded. It is safe for concurrent use.
type Trail struct {
	mu     sync.RWMutex
	events []*Event
	cap    int
}

var _ Recorder = (*Trail)(nil)

// NewTrail creates a Trail holding up to capacity events.
// A capacity of zero or less uses DefaultTrailCapacity.
func NewTrail(capacity int) *Trail {
	if capacity <= 0 {
		capacity = DefaultTrailCapacity
	}
	return &Trail{cap: capacity}
}

// Record implements Recorder.
func (t *Trail) Record(_ context.Context, evt *Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, evt)
	if len(t.events) > t.cap {
		t.events = t.events[len(t.events)-t.cap:]
	}
	return nil
}

// Events returns a copy of the recorded history, oldest first.
func (t *Trail) Events() []*Event {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Event, len(t.events))
	copy(out, t.events)
	return out
}

// EventsForUser returns the recorded events owned by the given user,
// oldest first.
func (t *Trail) EventsForUser(userID string) []*Event {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*Event
	for _, evt := range t.events {
		if evt.UserID == userID {
			out = append(out, evt)
		}
	}
	return out
}

// Len returns the number of recorded events.
func (t *Trail) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.events)
}
