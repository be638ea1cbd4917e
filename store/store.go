// Package store defines the aggregate persistence interface. Each
// subsystem (job, dlq, ratelimit) defines its own store interface; the
// composite Store composes them all. Backends: Redis and Memory.
package store

import (
	"context"

	"github.com/gameforge/forgeq/dlq"
	"github.com/gameforge/forgeq/job"
	"github.com/gameforge/forgeq/ratelimit"
)

// Store is the aggregate persistence interface.
// Each subsystem store is a composable interface; a single backend
// (redis, memory) implements all of them.
type Store interface {
	job.Store
	dlq.Store
	ratelimit.Store

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases the backend connection.
	Close() error
}
