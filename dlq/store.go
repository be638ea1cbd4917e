package dlq

import (
	"context"
	"time"

	"github.com/gameforge/forgeq/id"
)

// ListOpts controls filtering for DLQ list queries.
type ListOpts struct {
	// UserID filters by the failing job's user. Empty means all users.
	UserID string
	// Limit is the maximum number of entries to return. Zero means no limit.
	Limit int
}

// Store defines the persistence contract for the dead letter queue.
// The queue is a single bounded list, most-recent failure first.
type Store interface {
	// PushDLQ prepends an entry and trims the list to maxEntries in one
	// atomic batch.
	PushDLQ(ctx context.Context, entry *Entry, maxEntries int) error

	// ListDLQ returns entries matching the given options, newest first.
	// Entries that cannot be decoded are skipped.
	ListDLQ(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// GetDLQ retrieves an entry by ID.
	GetDLQ(ctx context.Context, entryID id.DLQID) (*Entry, error)

	// MarkReplayed sets the entry's ReplayedAt timestamp in place.
	MarkReplayed(ctx context.Context, entryID id.DLQID, at time.Time) error

	// PurgeDLQ rewrites the list keeping only entries that failed at or
	// after the cutoff. The rewrite must be a single transaction so
	// concurrent appends never observe a half-cleaned list. Returns the
	// number of entries removed.
	PurgeDLQ(ctx context.Context, cutoff time.Time) (int64, error)

	// CountDLQ returns the number of entries in the dead letter queue.
	CountDLQ(ctx context.Context) (int64, error)
}
