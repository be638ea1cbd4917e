package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/gameforge/forgeq"
	"github.com/gameforge/forgeq/dlq"
	"github.com/gameforge/forgeq/id"
)

// dlqEntryKey returns the key for one encoded DLQ entry: forgeq:dlq:{id}
func dlqEntryKey(entryID string) string { return dlqKey + ":" + entryID }

// PushDLQ prepends the entry and trims the queue to maxEntries. Entries
// trimmed off the tail have their blobs deleted in the same pass.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry, maxEntries int) error {
	blob, err := s.codec.Marshal(entry)
	if err != nil {
		return fmt.Errorf("forgeq/redis: encode dlq entry: %w", err)
	}
	eID := entry.ID.String()

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, dlqEntryKey(eID), blob, 0)
	pipe.LPush(ctx, dlqKey, eID)
	var overflow *goredis.StringSliceCmd
	if maxEntries > 0 {
		// Commands run in order, so this LRange sees the post-push list.
		overflow = pipe.LRange(ctx, dlqKey, int64(maxEntries), -1)
		pipe.LTrim(ctx, dlqKey, 0, int64(maxEntries)-1)
	}
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("forgeq/redis: push dlq: %w", err)
	}

	if overflow != nil && len(overflow.Val()) > 0 {
		keys := make([]string, 0, len(overflow.Val()))
		for _, trimmed := range overflow.Val() {
			keys = append(keys, dlqEntryKey(trimmed))
		}
		if err := s.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("forgeq/redis: push dlq trim blobs: %w", err)
		}
	}
	return nil
}

// ListDLQ returns entries newest first. Undecodable entries are skipped.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	ids, err := s.client.LRange(ctx, dlqKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("forgeq/redis: list dlq: %w", err)
	}

	var entries []*dlq.Entry
	for _, eID := range ids {
		e, getErr := s.getDLQEntry(ctx, eID)
		if getErr != nil {
			continue
		}
		if opts.UserID != "" && e.UserID != opts.UserID {
			continue
		}
		entries = append(entries, e)
		if opts.Limit > 0 && len(entries) >= opts.Limit {
			break
		}
	}
	return entries, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	return s.getDLQEntry(ctx, entryID.String())
}

// MarkReplayed sets the entry's ReplayedAt timestamp.
func (s *Store) MarkReplayed(ctx context.Context, entryID id.DLQID, at time.Time) error {
	entry, err := s.getDLQEntry(ctx, entryID.String())
	if err != nil {
		return err
	}
	at = at.UTC()
	entry.ReplayedAt = &at

	blob, err := s.codec.Marshal(entry)
	if err != nil {
		return fmt.Errorf("forgeq/redis: encode dlq entry: %w", err)
	}
	if err := s.client.Set(ctx, dlqEntryKey(entryID.String()), blob, 0).Err(); err != nil {
		return fmt.Errorf("forgeq/redis: mark replayed: %w", err)
	}
	return nil
}

// PurgeDLQ rewrites the queue keeping only entries that failed at or after
// the cutoff, so concurrent readers never see a half-cleaned list.
func (s *Store) PurgeDLQ(ctx context.Context, cutoff time.Time) (int64, error) {
	ids, err := s.client.LRange(ctx, dlqKey, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("forgeq/redis: purge dlq range: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	var kept []interface{}
	var dropKeys []string
	for _, eID := range ids {
		e, getErr := s.getDLQEntry(ctx, eID)
		if getErr != nil || e.FailedAt.Before(cutoff) {
			dropKeys = append(dropKeys, dlqEntryKey(eID))
			continue
		}
		kept = append(kept, eID)
	}
	if len(dropKeys) == 0 {
		return 0, nil
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, dlqKey)
	if len(kept) > 0 {
		// RPush in list order restores newest-first.
		pipe.RPush(ctx, dlqKey, kept...)
	}
	pipe.Del(ctx, dropKeys...)
	if _, err = pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("forgeq/redis: purge dlq rewrite: %w", err)
	}
	return int64(len(dropKeys)), nil
}

// CountDLQ returns the number of entries in the dead letter queue.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	count, err := s.client.LLen(ctx, dlqKey).Result()
	if err != nil {
		return 0, fmt.Errorf("forgeq/redis: count dlq: %w", err)
	}
	return count, nil
}

// ── helpers ──

func (s *Store) getDLQEntry(ctx context.Context, eID string) (*dlq.Entry, error) {
	blob, err := s.client.Get(ctx, dlqEntryKey(eID)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, forgeq.ErrDLQNotFound
		}
		return nil, fmt.Errorf("forgeq/redis: get dlq entry: %w", err)
	}
	var entry dlq.Entry
	if err := s.codec.Unmarshal(blob, &entry); err != nil {
		return nil, fmt.Errorf("forgeq/redis: decode dlq entry: %w", err)
	}
	return &entry, nil
}
