package dlq

import (
	"context"
	"fmt"
	"time"

	"github.com/gameforge/forgeq/id"
	"github.com/gameforge/forgeq/job"
)

// Enqueuer submits a job for execution. queue.Manager satisfies this.
type Enqueuer interface {
	Enqueue(ctx context.Context, userID, jobType string, payload []byte, opts ...job.Option) (id.JobID, error)
}

// Replay re-enqueues a dead letter entry as a fresh job with the original
// payload and a reset retry budget, then marks the entry as replayed.
// Replaying the same entry again is allowed; each replay produces a new job.
func (s *Service) Replay(ctx context.Context, entryID id.DLQID, enq Enqueuer, opts ...job.Option) (id.JobID, error) {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return id.JobID{}, fmt.Errorf("dlq: replay %s: %w", entryID, err)
	}

	jobID, err := enq.Enqueue(ctx, entry.UserID, entry.JobType, entry.Payload, opts...)
	if err != nil {
		return id.JobID{}, fmt.Errorf("dlq: replay %s: enqueue: %w", entryID, err)
	}

	now := time.Now().UTC()
	if err := s.store.MarkReplayed(ctx, entryID, now); err != nil {
		// The job is already queued; report the replay anyway.
		s.logger.Warn("failed to mark dlq entry as replayed",
			"dlq_id", entryID.String(),
			"job_id", jobID.String(),
			"error", err)
	}

	s.logger.Info("replayed dead letter entry",
		"dlq_id", entryID.String(),
		"job_id", jobID.String(),
		"job_type", entry.JobType,
		"user_id", entry.UserID)

	return jobID, nil
}
