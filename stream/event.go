// Package stream provides a real-time event broker for forgeq lifecycle
// events. It bridges the ext.Extension system to in-process consumers via
// topic-based pub/sub, so callers can watch a single job, a user's jobs,
// or the whole queue without polling.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	EventJobEnqueued  EventType = "job.enqueued"
	EventJobStarted   EventType = "job.started"
	EventJobProgress  EventType = "job.progress"
	EventJobCompleted EventType = "job.completed"
	EventJobFailed    EventType = "job.failed"
	EventJobRetrying  EventType = "job.retrying"
	EventJobCancelled EventType = "job.cancelled"
	EventJobDLQ       EventType = "job.dlq"
)

// Event is the envelope sent to subscribers on a topic channel.
type Event struct {
	// Type identifies the lifecycle event.
	Type EventType `json:"type"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"ts"`

	// Topic is the entity-specific channel this event belongs to.
	Topic string `json:"topic"`

	// UserID is the owner of the job the event concerns.
	UserID string `json:"user_id,omitempty"`

	// Data is the event-specific payload.
	Data json.RawMessage `json:"data"`
}

// JobEventData is the payload for job lifecycle events.
type JobEventData struct {
	JobID     string  `json:"job_id"`
	JobType   string  `json:"job_type"`
	UserID    string  `json:"user_id"`
	Priority  string  `json:"priority,omitempty"`
	Progress  float64 `json:"progress,omitempty"`
	ElapsedMs int64   `json:"elapsed_ms,omitempty"`
	Error     string  `json:"error,omitempty"`
	RetryID   string  `json:"retry_id,omitempty"`
	NextRunAt string  `json:"next_run_at,omitempty"`
}
