package job

import (
	"fmt"
	"time"

	"github.com/gameforge/forgeq/id"
)

// Status represents the lifecycle state of a job.
type Status string

const (
	// StatusPending means the job has been created but not yet queued.
	StatusPending Status = "pending"
	// StatusQueued means the job is waiting in an active or delayed queue.
	StatusQueued Status = "queued"
	// StatusProcessing means a worker is currently executing the job.
	StatusProcessing Status = "processing"
	// StatusCompleted means the job finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed means the job failed permanently and was dead-lettered.
	StatusFailed Status = "failed"
	// StatusCancelled means the job was cancelled, either explicitly or
	// because a retry superseded it under a new ID.
	StatusCancelled Status = "cancelled"
	// StatusExpired means the job record outlived its retention window.
	StatusExpired Status = "expired"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusExpired:
		return true
	default:
		return false
	}
}

// Priority determines which queue a job lands in. Queues are drained in
// strict priority order with no aging, so sustained urgent load can starve
// low-priority work.
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2
	PriorityUrgent Priority = 3
)

// Priorities lists all priority levels in dequeue order, highest first.
func Priorities() []Priority {
	return []Priority{PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow}
}

// String returns the lowercase name of the priority level.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority converts a priority name back to its level.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "low":
		return PriorityLow, nil
	case "normal":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "urgent":
		return PriorityUrgent, nil
	default:
		return PriorityLow, fmt.Errorf("job: unknown priority %q", s)
	}
}

// Job represents a unit of work submitted by a user. The payload is opaque
// to the queue; only the registered handler for the job's Type interprets it.
type Job struct {
	ID       id.JobID          `json:"id"`
	UserID   string            `json:"user_id"`
	Type     string            `json:"type"`
	Payload  []byte            `json:"payload,omitempty"`
	Priority Priority          `json:"priority"`
	Status   Status            `json:"status"`
	Metadata map[string]string `json:"metadata,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`

	// Timeout is a hint for the executing worker; the queue itself does
	// not preempt running jobs.
	Timeout time.Duration `json:"timeout,omitempty"`

	ErrorMessage string  `json:"error_message,omitempty"`
	Progress     float64 `json:"progress"`
}

// Delayed reports whether the job was enqueued with a future schedule.
func (j *Job) Delayed() bool {
	return j.ScheduledAt != nil
}

// Clone returns a shallow copy of the job with its own metadata map, so
// callers can mutate the copy without racing against the store.
func (j *Job) Clone() *Job {
	cp := *j
	if j.Metadata != nil {
		cp.Metadata = make(map[string]string, len(j.Metadata))
		for k, v := range j.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
