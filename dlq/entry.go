package dlq

import (
	"time"

	"github.com/gameforge/forgeq/id"
)

// Entry is an immutable snapshot of a job at the moment of its terminal
// failure, kept for inspection or replay.
type Entry struct {
	ID         id.DLQID   `json:"id"`
	JobID      id.JobID   `json:"job_id"`
	UserID     string     `json:"user_id"`
	JobType    string     `json:"job_type"`
	Payload    []byte     `json:"original_payload,omitempty"`
	Error      string     `json:"error"`
	RetryCount int        `json:"retry_count"`
	MaxRetries int        `json:"max_retries"`
	FailedAt   time.Time  `json:"failed_at"`
	ReplayedAt *time.Time `json:"replayed_at,omitempty"`
}
