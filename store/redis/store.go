// Package redis implements store.Store backed by Redis, the production
// default. Job records are Hashes with a retention TTL, priority queues
// are Lists (push and pop share the head), delayed jobs are Sorted Sets
// scored by due time, and the dead letter queue is a bounded List of
// codec-encoded entries.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/gameforge/forgeq/codec"
	"github.com/gameforge/forgeq/dlq"
	"github.com/gameforge/forgeq/job"
	"github.com/gameforge/forgeq/ratelimit"
)

// Compile-time interface checks.
var (
	_ job.Store       = (*Store)(nil)
	_ dlq.Store       = (*Store)(nil)
	_ ratelimit.Store = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithCodec sets the codec for encoded blobs (DLQ entries). Defaults to JSON.
func WithCodec(c codec.Codec) Option {
	return func(s *Store) { s.codec = c }
}

// Store implements the composite store.Store interface backed by Redis.
type Store struct {
	client redis.UniversalClient
	codec  codec.Codec
	logger *slog.Logger
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client: client,
		codec:  codec.JSON{},
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() redis.UniversalClient { return s.client }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op — the caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }
