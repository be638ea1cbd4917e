package dlq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gameforge/forgeq/id"
	"github.com/gameforge/forgeq/job"
)

const (
	// DefaultMaxEntries bounds the dead letter queue length.
	DefaultMaxEntries = 1000
	// DefaultRetention is how long entries are kept before cleanup.
	DefaultRetention = 7 * 24 * time.Hour
)

// Service manages the dead letter queue: archiving exhausted jobs,
// inspection, replay, and retention cleanup.
type Service struct {
	store      Store
	maxEntries int
	retention  time.Duration
	logger     *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithMaxEntries caps the number of retained entries.
func WithMaxEntries(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxEntries = n
		}
	}
}

// WithRetention sets how long entries are kept before Cleanup removes them.
func WithRetention(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates a dead letter queue service backed by the given store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:      store,
		maxEntries: DefaultMaxEntries,
		retention:  DefaultRetention,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Push archives a job whose retries are exhausted. The entry snapshots
// everything needed to diagnose and replay the failure independently of
// the job record, which expires on its own TTL.
func (s *Service) Push(ctx context.Context, j *job.Job, jobErr error) (*Entry, error) {
	entry := &Entry{
		ID:         id.NewDLQID(),
		JobID:      j.ID,
		UserID:     j.UserID,
		JobType:    j.Type,
		Payload:    j.Payload,
		RetryCount: j.RetryCount,
		MaxRetries: j.MaxRetries,
		FailedAt:   time.Now().UTC(),
	}
	if jobErr != nil {
		entry.Error = jobErr.Error()
	}

	if err := s.store.PushDLQ(ctx, entry, s.maxEntries); err != nil {
		return nil, fmt.Errorf("dlq: push entry: %w", err)
	}

	s.logger.Warn("job moved to dead letter queue",
		"dlq_id", entry.ID.String(),
		"job_id", j.ID.String(),
		"job_type", j.Type,
		"user_id", j.UserID,
		"retry_count", j.RetryCount,
		"error", entry.Error)

	return entry, nil
}

// List returns dead letter entries, newest first.
func (s *Service) List(ctx context.Context, opts ListOpts) ([]*Entry, error) {
	entries, err := s.store.ListDLQ(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("dlq: list entries: %w", err)
	}
	return entries, nil
}

// Get retrieves a single entry by ID.
func (s *Service) Get(ctx context.Context, entryID id.DLQID) (*Entry, error) {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, fmt.Errorf("dlq: get entry %s: %w", entryID, err)
	}
	return entry, nil
}

// Size returns the number of entries currently in the queue.
func (s *Service) Size(ctx context.Context) (int64, error) {
	n, err := s.store.CountDLQ(ctx)
	if err != nil {
		return 0, fmt.Errorf("dlq: count entries: %w", err)
	}
	return n, nil
}

// Cleanup removes entries older than the retention window and returns the
// number removed.
func (s *Service) Cleanup(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.retention)
	removed, err := s.store.PurgeDLQ(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("dlq: cleanup: %w", err)
	}
	if removed > 0 {
		s.logger.Info("cleaned up dead letter queue",
			"removed", removed,
			"cutoff", cutoff)
	}
	return removed, nil
}
