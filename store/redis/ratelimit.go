package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/gameforge/forgeq/ratelimit"
)

var windows = []ratelimit.Window{
	ratelimit.WindowMinute,
	ratelimit.WindowHour,
	ratelimit.WindowDay,
}

// WindowCounts reads the user's counters for the windows containing now.
// Missing counters read as zero.
func (s *Store) WindowCounts(ctx context.Context, userID string, now time.Time) (ratelimit.Counts, error) {
	keys := make([]string, len(windows))
	for i, w := range windows {
		keys[i] = rateKey(userID, w.String(), w.Bucket(now))
	}

	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return ratelimit.Counts{}, fmt.Errorf("forgeq/redis: window counts: %w", err)
	}

	read := func(v interface{}) int64 {
		str, ok := v.(string)
		if !ok {
			return 0
		}
		var n int64
		fmt.Sscanf(str, "%d", &n) //nolint:errcheck // best-effort parse from trusted Redis data
		return n
	}
	return ratelimit.Counts{
		Minute: read(vals[0]),
		Hour:   read(vals[1]),
		Day:    read(vals[2]),
	}, nil
}

// IncrementWindows increments the user's minute, hour, and day counters
// and refreshes their TTLs in a single transaction.
func (s *Store) IncrementWindows(ctx context.Context, userID string, now time.Time) error {
	pipe := s.client.TxPipeline()
	for _, w := range windows {
		key := rateKey(userID, w.String(), w.Bucket(now))
		pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, w.TTL())
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("forgeq/redis: increment windows: %w", err)
	}
	return nil
}
