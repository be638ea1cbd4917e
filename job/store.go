package job

import (
	"context"
	"time"

	"github.com/gameforge/forgeq/id"
)

// Store defines the persistence contract for jobs and the priority queues.
//
// Implementations back N worker processes plus background maintenance
// tasks, so every mutating operation must be atomic against the store
// (pipelined or transactional) — an in-process lock is not a substitute.
type Store interface {
	// SaveJob persists a new job record with the given retention TTL.
	// Returns forgeq.ErrJobAlreadyExists if the ID is taken.
	SaveJob(ctx context.Context, j *Job, ttl time.Duration) error

	// UpdateJob rewrites an existing job record, preserving its TTL.
	// Returns forgeq.ErrJobNotFound if the record is gone.
	UpdateJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by ID. Records that cannot be decoded are
	// treated as absent.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// DeleteJob removes a job record and its stored result.
	DeleteJob(ctx context.Context, jobID id.JobID) error

	// PushActive pushes a job ID onto the head of the priority's active
	// list. The head is also the pop side, so equal-priority jobs drain
	// newest-first (LIFO).
	PushActive(ctx context.Context, p Priority, jobID id.JobID) error

	// PopActive blocks up to timeout for a job ID from the first non-empty
	// active list, checked in the given priority order. ok is false when
	// the wait timed out with every list empty.
	PopActive(ctx context.Context, priorities []Priority, timeout time.Duration) (p Priority, jobID id.JobID, ok bool, err error)

	// AddDelayed schedules a job ID in the priority's delayed set, keyed
	// by due time.
	AddDelayed(ctx context.Context, p Priority, jobID id.JobID, due time.Time) error

	// PromoteDelayed atomically moves every delayed job due at or before
	// now onto the priority's active list. Returns the number moved.
	PromoteDelayed(ctx context.Context, p Priority, now time.Time) (int, error)

	// RemoveQueued removes a job ID from the priority's active list and
	// delayed set, wherever it currently is. Returns false if it was in
	// neither (already popped or never queued).
	RemoveQueued(ctx context.Context, p Priority, jobID id.JobID) (bool, error)

	// QueueDepth returns the active-list length and delayed-set size for
	// one priority.
	QueueDepth(ctx context.Context, p Priority) (active, delayed int64, err error)

	// TrackUserJob adds the job to the user's live-job set.
	TrackUserJob(ctx context.Context, userID string, jobID id.JobID, ttl time.Duration) error

	// UntrackUserJob removes the job from the user's live-job set.
	UntrackUserJob(ctx context.Context, userID string, jobID id.JobID) error

	// UserJobIDs lists the user's tracked live jobs.
	UserJobIDs(ctx context.Context, userID string) ([]id.JobID, error)

	// CountUserProcessing counts the user's jobs currently in
	// StatusProcessing. Used for the concurrent-jobs admission check.
	CountUserProcessing(ctx context.Context, userID string) (int, error)

	// SaveResult persists a job's result blob with its own TTL.
	SaveResult(ctx context.Context, jobID id.JobID, result []byte, ttl time.Duration) error

	// GetResult retrieves a stored result. Returns forgeq.ErrResultNotFound
	// when absent or expired.
	GetResult(ctx context.Context, jobID id.JobID) ([]byte, error)

	// SweepJobs deletes job records (and their results) created before the
	// cutoff, plus records that can no longer be decoded. Returns the
	// number removed.
	SweepJobs(ctx context.Context, cutoff time.Time) (int, error)
}
