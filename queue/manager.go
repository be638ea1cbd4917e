package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gameforge/forgeq"
	"github.com/gameforge/forgeq/backoff"
	"github.com/gameforge/forgeq/dlq"
	"github.com/gameforge/forgeq/ext"
	"github.com/gameforge/forgeq/id"
	"github.com/gameforge/forgeq/job"
	"github.com/gameforge/forgeq/ratelimit"
)

// popBlock is the longest a single blocking pop waits before Dequeue
// re-promotes delayed jobs and tries again.
const popBlock = time.Second

// Manager orchestrates the job queues. It is safe for concurrent use;
// all shared state lives in the store, so multiple processes can run
// managers against the same backend.
type Manager struct {
	store   job.Store
	limiter *ratelimit.Limiter
	dlq     *dlq.Service
	backoff backoff.Strategy
	exts    *ext.Registry
	logger  *slog.Logger
	cfg     Config

	jobsQueued    atomic.Int64
	jobsProcessed atomic.Int64
	jobsFailed    atomic.Int64
	overflows     atomic.Int64

	cancel context.CancelFunc
	group  *errgroup.Group
}

// Option configures a Manager.
type Option func(*Manager)

// WithConfig overrides the default queue configuration.
func WithConfig(cfg Config) Option {
	return func(m *Manager) { m.cfg = cfg }
}

// WithRateLimiter enables per-user admission control on enqueue.
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(m *Manager) { m.limiter = l }
}

// WithDLQ enables dead-lettering of jobs whose retries are exhausted.
func WithDLQ(s *dlq.Service) Option {
	return func(m *Manager) { m.dlq = s }
}

// WithBackoff sets the retry delay strategy. Defaults to backoff.Default().
func WithBackoff(b backoff.Strategy) Option {
	return func(m *Manager) { m.backoff = b }
}

// WithExtensions sets the lifecycle extension registry.
func WithExtensions(r *ext.Registry) Option {
	return func(m *Manager) { m.exts = r }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// New creates a queue manager backed by the given store.
func New(store job.Store, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		backoff: backoff.Default(),
		logger:  slog.Default(),
		cfg:     DefaultConfig(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.cfg = m.cfg.withDefaults()
	if m.exts == nil {
		m.exts = ext.NewRegistry(m.logger)
	}
	return m
}

// Extensions returns the manager's lifecycle extension registry.
func (m *Manager) Extensions() *ext.Registry { return m.exts }

// Config returns the effective queue configuration.
func (m *Manager) Config() Config { return m.cfg }

// ──────────────────────────────────────────────────
// Enqueue path
// ──────────────────────────────────────────────────

// Enqueue admits a job into the queue. Admission runs rate limiting first,
// then overflow protection on the total stored job count across all
// priority queues; both reject before anything is written. On success the
// new job's ID is returned and
// the job is either immediately poppable or parked in the delayed set.
//
// Rejections wrap forgeq.ErrRateLimited or forgeq.ErrQueueFull.
func (m *Manager) Enqueue(ctx context.Context, userID, jobType string, payload []byte, opts ...job.Option) (id.JobID, error) {
	if userID == "" {
		return id.JobID{}, fmt.Errorf("queue: enqueue: user ID is required")
	}
	if jobType == "" {
		return id.JobID{}, fmt.Errorf("queue: enqueue: job type is required")
	}

	jobOpts := job.DefaultOptions()
	for _, opt := range opts {
		opt(&jobOpts)
	}

	if m.limiter != nil {
		decision, err := m.limiter.Check(ctx, userID)
		if err != nil {
			return id.JobID{}, fmt.Errorf("queue: enqueue: rate limit check: %w", err)
		}
		if !decision.Allowed {
			return id.JobID{}, fmt.Errorf("queue: enqueue for user %s: %s: %w",
				userID, decision.Reason, forgeq.ErrRateLimited)
		}
	}

	full, depth, err := m.queueFull(ctx)
	if err != nil {
		return id.JobID{}, fmt.Errorf("queue: enqueue: queue depth: %w", err)
	}
	if full {
		m.overflows.Add(1)
		m.logger.Warn("queue overflow, rejecting job",
			"priority", jobOpts.Priority.String(),
			"depth", depth,
			"max", m.cfg.MaxQueueSize,
			"user_id", userID)
		return id.JobID{}, fmt.Errorf("queue: enqueue: queue at capacity (%d): %w",
			m.cfg.MaxQueueSize, forgeq.ErrQueueFull)
	}

	now := time.Now().UTC()
	j := &job.Job{
		ID:         id.NewJobID(),
		UserID:     userID,
		Type:       jobType,
		Payload:    payload,
		Priority:   jobOpts.Priority,
		Status:     job.StatusQueued,
		Metadata:   jobOpts.Metadata,
		CreatedAt:  now,
		MaxRetries: jobOpts.MaxRetries,
		Timeout:    jobOpts.Timeout,
	}
	if jobOpts.Delay > 0 {
		due := now.Add(jobOpts.Delay)
		j.ScheduledAt = &due
	}

	if err := m.admit(ctx, j); err != nil {
		return id.JobID{}, err
	}

	if m.limiter != nil {
		if err := m.limiter.Increment(ctx, userID); err != nil {
			// Counters already checked; a failed increment only loosens
			// future checks, so the job stays accepted.
			m.logger.Warn("rate limit increment failed",
				"user_id", userID, "error", err)
		}
	}

	m.jobsQueued.Add(1)
	m.exts.EmitJobEnqueued(ctx, j)

	m.logger.Info("job enqueued",
		"job_id", j.ID.String(),
		"job_type", jobType,
		"user_id", userID,
		"priority", j.Priority.String(),
		"delayed", j.Delayed())

	return j.ID, nil
}

// queueFull reports whether the total number of stored jobs, active plus
// delayed across every priority queue, has reached the configured cap.
func (m *Manager) queueFull(ctx context.Context) (full bool, depth int64, err error) {
	for _, p := range job.Priorities() {
		active, delayed, err := m.store.QueueDepth(ctx, p)
		if err != nil {
			return false, 0, err
		}
		depth += active + delayed
	}
	return depth >= int64(m.cfg.MaxQueueSize), depth, nil
}

// admit persists the job record and places its ID in the right queue.
func (m *Manager) admit(ctx context.Context, j *job.Job) error {
	if err := m.store.SaveJob(ctx, j, m.cfg.JobTTL); err != nil {
		return fmt.Errorf("queue: save job %s: %w", j.ID, err)
	}
	if err := m.store.TrackUserJob(ctx, j.UserID, j.ID, m.cfg.JobTTL); err != nil {
		return fmt.Errorf("queue: track job %s: %w", j.ID, err)
	}

	if j.Delayed() {
		if err := m.store.AddDelayed(ctx, j.Priority, j.ID, *j.ScheduledAt); err != nil {
			return fmt.Errorf("queue: schedule job %s: %w", j.ID, err)
		}
		return nil
	}
	if err := m.store.PushActive(ctx, j.Priority, j.ID); err != nil {
		return fmt.Errorf("queue: push job %s: %w", j.ID, err)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Dequeue path
// ──────────────────────────────────────────────────

// Dequeue returns the next job to execute, blocking up to timeout.
// Queues are drained in strict priority order; within one priority the
// newest job pops first. Due delayed jobs are promoted before each pass.
// Returns (nil, nil) when the wait times out with no work available.
func (m *Manager) Dequeue(ctx context.Context, timeout time.Duration) (*job.Job, error) {
	deadline := time.Now().Add(timeout)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m.promoteDelayed(ctx)

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		block := popBlock
		if block > remaining {
			block = remaining
		}

		_, jobID, ok, err := m.store.PopActive(ctx, job.Priorities(), block)
		if err != nil {
			return nil, fmt.Errorf("queue: dequeue: %w", err)
		}
		if !ok {
			continue
		}

		j, err := m.claim(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if j == nil {
			// Stale or cancelled entry; keep draining.
			continue
		}
		return j, nil
	}
}

// claim loads a popped job and flips it to processing. Returns nil for
// entries whose record expired or that are no longer queued (cancelled
// while waiting).
func (m *Manager) claim(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, forgeq.ErrJobNotFound) {
			m.logger.Debug("popped job record missing, skipping",
				"job_id", jobID.String())
			return nil, nil
		}
		return nil, fmt.Errorf("queue: claim job %s: %w", jobID, err)
	}
	if j.Status != job.StatusQueued {
		m.logger.Debug("popped job no longer queued, skipping",
			"job_id", jobID.String(),
			"status", string(j.Status))
		return nil, nil
	}

	now := time.Now().UTC()
	j.Status = job.StatusProcessing
	j.StartedAt = &now
	if err := m.store.UpdateJob(ctx, j); err != nil {
		return nil, fmt.Errorf("queue: claim job %s: %w", jobID, err)
	}

	m.exts.EmitJobStarted(ctx, j)
	return j, nil
}

// promoteDelayed moves due delayed jobs to their active queues.
// Promotion failures are logged and skipped so one bad priority cannot
// stall dequeueing.
func (m *Manager) promoteDelayed(ctx context.Context) {
	now := time.Now().UTC()
	for _, p := range job.Priorities() {
		moved, err := m.store.PromoteDelayed(ctx, p, now)
		if err != nil {
			m.logger.Warn("delayed job promotion failed",
				"priority", p.String(), "error", err)
			continue
		}
		if moved > 0 {
			m.logger.Debug("promoted delayed jobs",
				"priority", p.String(), "count", moved)
		}
	}
}

// Requeue pushes a claimed job back onto its active queue, e.g. when a
// worker declined it due to throttling. The job returns to queued state.
func (m *Manager) Requeue(ctx context.Context, j *job.Job) error {
	j.Status = job.StatusQueued
	j.StartedAt = nil
	if err := m.store.UpdateJob(ctx, j); err != nil {
		return fmt.Errorf("queue: requeue job %s: %w", j.ID, err)
	}
	if err := m.store.PushActive(ctx, j.Priority, j.ID); err != nil {
		return fmt.Errorf("queue: requeue job %s: %w", j.ID, err)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Completion path
// ──────────────────────────────────────────────────

// Complete marks a job as successfully finished and stores its result.
// Terminal states are final: completing a job that was cancelled or failed
// in the meantime returns an error wrapping forgeq.ErrInvalidState.
func (m *Manager) Complete(ctx context.Context, jobID id.JobID, result []byte) error {
	j, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("queue: complete job %s: %w", jobID, err)
	}
	if j.Status.Terminal() {
		return fmt.Errorf("queue: complete job %s in status %s: %w",
			jobID, j.Status, forgeq.ErrInvalidState)
	}

	now := time.Now().UTC()
	j.Status = job.StatusCompleted
	j.CompletedAt = &now
	j.Progress = 1
	if err := m.store.UpdateJob(ctx, j); err != nil {
		return fmt.Errorf("queue: complete job %s: %w", jobID, err)
	}
	if result != nil {
		if err := m.store.SaveResult(ctx, jobID, result, m.cfg.ResultTTL); err != nil {
			return fmt.Errorf("queue: save result for job %s: %w", jobID, err)
		}
	}
	if err := m.store.UntrackUserJob(ctx, j.UserID, jobID); err != nil {
		m.logger.Warn("failed to untrack completed job",
			"job_id", jobID.String(), "error", err)
	}

	m.jobsProcessed.Add(1)
	var elapsed time.Duration
	if j.StartedAt != nil {
		elapsed = now.Sub(*j.StartedAt)
	}
	m.exts.EmitJobCompleted(ctx, j, elapsed)

	m.logger.Info("job completed",
		"job_id", jobID.String(),
		"job_type", j.Type,
		"elapsed", elapsed)
	return nil
}

// Fail records a job failure. The attempt is counted against the record's
// retry budget first; when retry is true and the budget is not exhausted,
// the work is rescheduled as a fresh job with exponential backoff and the
// failed record is marked cancelled, pointing at its replacement.
// Otherwise the job fails terminally and is dead-lettered.
//
// Only processing jobs can fail; reporting a failure twice for the same
// record returns an error wrapping forgeq.ErrInvalidState instead of
// spawning duplicate retries.
func (m *Manager) Fail(ctx context.Context, jobID id.JobID, jobErr error, retry bool) error {
	j, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("queue: fail job %s: %w", jobID, err)
	}
	if j.Status != job.StatusProcessing {
		return fmt.Errorf("queue: fail job %s in status %s: %w",
			jobID, j.Status, forgeq.ErrInvalidState)
	}

	j.RetryCount++
	if retry && j.RetryCount <= j.MaxRetries {
		return m.scheduleRetry(ctx, j, jobErr)
	}
	return m.failTerminal(ctx, j, jobErr)
}

// scheduleRetry creates the replacement job and supersedes the failed one.
// The caller has already charged this attempt to j.RetryCount. Retries go
// through the same overflow gate as fresh enqueues; when the queue is at
// capacity the job fails terminally instead of being rescheduled.
func (m *Manager) scheduleRetry(ctx context.Context, j *job.Job, jobErr error) error {
	full, depth, err := m.queueFull(ctx)
	if err != nil {
		return fmt.Errorf("queue: schedule retry for job %s: %w", j.ID, err)
	}
	if full {
		m.overflows.Add(1)
		m.logger.Warn("queue at capacity, failing retry terminally",
			"job_id", j.ID.String(),
			"depth", depth,
			"max", m.cfg.MaxQueueSize)
		return m.failTerminal(ctx, j, jobErr)
	}

	now := time.Now().UTC()
	attempt := j.RetryCount
	delay := m.backoff.Delay(attempt)
	due := now.Add(delay)

	retryJob := j.Clone()
	retryJob.ID = id.NewJobID()
	retryJob.Status = job.StatusQueued
	retryJob.RetryCount = attempt
	retryJob.CreatedAt = now
	retryJob.ScheduledAt = &due
	retryJob.StartedAt = nil
	retryJob.CompletedAt = nil
	retryJob.ErrorMessage = ""
	retryJob.Progress = 0

	if err := m.admit(ctx, retryJob); err != nil {
		return fmt.Errorf("queue: schedule retry for job %s: %w", j.ID, err)
	}

	// The failed record stays behind as a cancelled tombstone pointing at
	// its replacement, so status polls on the old ID explain themselves.
	j.Status = job.StatusCancelled
	j.CompletedAt = &now
	if j.Metadata == nil {
		j.Metadata = make(map[string]string, 1)
	}
	j.Metadata["superseded_by"] = retryJob.ID.String()
	j.ErrorMessage = fmt.Sprintf("retrying as %s: %v", retryJob.ID, jobErr)
	if err := m.store.UpdateJob(ctx, j); err != nil {
		return fmt.Errorf("queue: supersede job %s: %w", j.ID, err)
	}
	if err := m.store.UntrackUserJob(ctx, j.UserID, j.ID); err != nil {
		m.logger.Warn("failed to untrack superseded job",
			"job_id", j.ID.String(), "error", err)
	}

	m.exts.EmitJobRetrying(ctx, j, retryJob, due)

	m.logger.Info("job retry scheduled",
		"job_id", j.ID.String(),
		"retry_job_id", retryJob.ID.String(),
		"attempt", attempt,
		"max_retries", j.MaxRetries,
		"delay", delay,
		"error", jobErr)
	return nil
}

// failTerminal marks the job failed and archives it to the DLQ.
func (m *Manager) failTerminal(ctx context.Context, j *job.Job, jobErr error) error {
	now := time.Now().UTC()
	j.Status = job.StatusFailed
	j.CompletedAt = &now
	if jobErr != nil {
		j.ErrorMessage = jobErr.Error()
	}
	if err := m.store.UpdateJob(ctx, j); err != nil {
		return fmt.Errorf("queue: fail job %s: %w", j.ID, err)
	}
	if err := m.store.UntrackUserJob(ctx, j.UserID, j.ID); err != nil {
		m.logger.Warn("failed to untrack failed job",
			"job_id", j.ID.String(), "error", err)
	}

	m.jobsFailed.Add(1)
	m.exts.EmitJobFailed(ctx, j, jobErr)

	if m.dlq != nil {
		// DLQ archiving is best-effort; a DLQ outage must not mask the
		// job failure itself.
		if _, err := m.dlq.Push(ctx, j, jobErr); err != nil {
			m.logger.Error("failed to archive job to dead letter queue",
				"job_id", j.ID.String(), "error", err)
		} else {
			m.exts.EmitJobDLQ(ctx, j, jobErr)
		}
	}

	m.logger.Error("job failed terminally",
		"job_id", j.ID.String(),
		"job_type", j.Type,
		"retry_count", j.RetryCount,
		"error", jobErr)
	return nil
}

// ──────────────────────────────────────────────────
// Control operations
// ──────────────────────────────────────────────────

// Cancel withdraws a queued or delayed job before a worker claims it.
// Jobs already processing or in a terminal state cannot be cancelled;
// those return an error wrapping forgeq.ErrInvalidState.
func (m *Manager) Cancel(ctx context.Context, jobID id.JobID) error {
	j, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("queue: cancel job %s: %w", jobID, err)
	}
	if j.Status != job.StatusQueued && j.Status != job.StatusPending {
		return fmt.Errorf("queue: cancel job %s in status %s: %w",
			jobID, j.Status, forgeq.ErrInvalidState)
	}

	// Best-effort removal from the queue; a concurrent pop may have won,
	// in which case the worker's claim sees the cancelled status and skips.
	if _, err := m.store.RemoveQueued(ctx, j.Priority, jobID); err != nil {
		m.logger.Warn("failed to remove cancelled job from queue",
			"job_id", jobID.String(), "error", err)
	}

	now := time.Now().UTC()
	j.Status = job.StatusCancelled
	j.CompletedAt = &now
	if err := m.store.UpdateJob(ctx, j); err != nil {
		return fmt.Errorf("queue: cancel job %s: %w", jobID, err)
	}
	if err := m.store.UntrackUserJob(ctx, j.UserID, jobID); err != nil {
		m.logger.Warn("failed to untrack cancelled job",
			"job_id", jobID.String(), "error", err)
	}

	m.exts.EmitJobCancelled(ctx, j)

	m.logger.Info("job cancelled",
		"job_id", jobID.String(),
		"user_id", j.UserID)
	return nil
}

// CancelUserJobs cancels every cancellable job the user has live and
// returns the number cancelled. Jobs that are already processing or
// terminal are left alone.
func (m *Manager) CancelUserJobs(ctx context.Context, userID string) (int, error) {
	jobIDs, err := m.store.UserJobIDs(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("queue: cancel jobs for user %s: %w", userID, err)
	}

	cancelled := 0
	for _, jobID := range jobIDs {
		err := m.Cancel(ctx, jobID)
		switch {
		case err == nil:
			cancelled++
		case errors.Is(err, forgeq.ErrInvalidState), errors.Is(err, forgeq.ErrJobNotFound):
			// Not cancellable anymore; skip.
		default:
			return cancelled, err
		}
	}
	return cancelled, nil
}

// Progress updates a job's progress fraction, clamped to [0, 1].
func (m *Manager) Progress(ctx context.Context, jobID id.JobID, progress float64) error {
	j, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("queue: update progress for job %s: %w", jobID, err)
	}
	if progress < 0 {
		progress = 0
	} else if progress > 1 {
		progress = 1
	}
	j.Progress = progress
	if err := m.store.UpdateJob(ctx, j); err != nil {
		return fmt.Errorf("queue: update progress for job %s: %w", jobID, err)
	}
	return nil
}

// Job retrieves a job record by ID.
func (m *Manager) Job(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("queue: get job %s: %w", jobID, err)
	}
	return j, nil
}

// Result retrieves a completed job's stored result.
func (m *Manager) Result(ctx context.Context, jobID id.JobID) ([]byte, error) {
	result, err := m.store.GetResult(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("queue: get result for job %s: %w", jobID, err)
	}
	return result, nil
}

// UserJobs lists the user's live (tracked) jobs.
func (m *Manager) UserJobs(ctx context.Context, userID string) ([]*job.Job, error) {
	jobIDs, err := m.store.UserJobIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("queue: list jobs for user %s: %w", userID, err)
	}
	jobs := make([]*job.Job, 0, len(jobIDs))
	for _, jobID := range jobIDs {
		j, err := m.store.GetJob(ctx, jobID)
		if err != nil {
			if errors.Is(err, forgeq.ErrJobNotFound) {
				continue
			}
			return nil, fmt.Errorf("queue: list jobs for user %s: %w", userID, err)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}
