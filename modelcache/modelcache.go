// Package modelcache keeps loaded generation models resident on the device,
// evicting least-recently-used entries when the cache is full and shedding
// aggressively under device memory pressure.
package modelcache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gameforge/forgeq"
	"github.com/gameforge/forgeq/gpu"
)

// DefaultMaxModels is the number of models kept resident before LRU
// eviction starts.
const DefaultMaxModels = 3

// LoadFunc loads a model and returns the opaque handle to cache. It runs
// outside the cache lock; loading is slow and must not block lookups.
type LoadFunc func(ctx context.Context) (any, error)

type entry struct {
	handle     any
	footprint  uint64
	lastAccess time.Time
}

// Cache is a memory-aware LRU cache of model handles. One mutex covers
// lookup, insert, and eviction; the cache is process-local by design —
// model handles cannot be shared across processes.
type Cache struct {
	monitor   *gpu.Monitor
	maxModels int
	logger    *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

// Option configures a Cache.
type Option func(*Cache)

// WithMaxModels overrides the resident model cap.
func WithMaxModels(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxModels = n
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Cache watched by the given monitor.
func New(monitor *gpu.Monitor, opts ...Option) *Cache {
	c := &Cache{
		monitor:   monitor,
		maxModels: DefaultMaxModels,
		logger:    slog.Default(),
		entries:   make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached handle for the model and refreshes its recency.
func (c *Cache) Get(modelID string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[modelID]
	if !ok {
		return nil, false
	}
	e.lastAccess = time.Now()
	return e.handle, true
}

// Lookup is like Get but never loads: a miss returns an error wrapping
// forgeq.ErrModelNotCached, for callers that must not trigger a load.
func (c *Cache) Lookup(modelID string) (any, error) {
	handle, ok := c.Get(modelID)
	if !ok {
		return nil, fmt.Errorf("modelcache: %s: %w", modelID, forgeq.ErrModelNotCached)
	}
	return handle, nil
}

// Put inserts a model handle, making room first. footprint is the model's
// device memory in bytes, used only for reporting.
func (c *Cache) Put(modelID string, handle any, footprint uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[modelID]; ok {
		e.handle = handle
		e.footprint = footprint
		e.lastAccess = time.Now()
		return
	}

	c.ensureSpaceLocked()
	c.entries[modelID] = &entry{
		handle:     handle,
		footprint:  footprint,
		lastAccess: time.Now(),
	}
	c.logger.Info("model cached",
		"model_id", modelID,
		"footprint", footprint,
		"resident", len(c.entries))
}

// Fetch returns the cached handle, loading and caching it on a miss. The
// load runs outside the lock; its device footprint is measured as the
// allocation delta across the load.
func (c *Cache) Fetch(ctx context.Context, modelID string, load LoadFunc) (any, error) {
	if handle, ok := c.Get(modelID); ok {
		return handle, nil
	}

	before := c.monitor.MemoryStats().Allocated
	var handle any
	err := c.monitor.Track("load_model:"+modelID, func() error {
		var loadErr error
		handle, loadErr = load(ctx)
		return loadErr
	})
	if err != nil {
		return nil, fmt.Errorf("modelcache: load %s: %w", modelID, err)
	}

	footprint := uint64(0)
	if after := c.monitor.MemoryStats().Allocated; after > before {
		footprint = after - before
	}
	c.Put(modelID, handle, footprint)
	return handle, nil
}

// Len returns the number of resident models.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Models lists resident model IDs in no particular order.
func (c *Cache) Models() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.entries))
	for modelID := range c.entries {
		ids = append(ids, modelID)
	}
	return ids
}

// Clear evicts every model and forces a device cleanup.
func (c *Cache) Clear() {
	c.mu.Lock()
	n := len(c.entries)
	c.entries = make(map[string]*entry)
	c.mu.Unlock()

	c.monitor.ForceCleanup()
	c.logger.Info("model cache cleared", "evicted", n)
}

// Reclaim evicts everything except the most recently used model and forces
// a device cleanup. It is the recovery path for device out-of-memory
// errors: the active model survives, everything else goes. Returns the
// number of models evicted.
func (c *Cache) Reclaim() int {
	c.mu.Lock()
	evicted := c.evictAllExceptNewestLocked()
	c.mu.Unlock()

	c.monitor.ForceCleanup()
	c.logger.Warn("model cache reclaimed", "evicted", evicted)
	return evicted
}

// ensureSpaceLocked makes room for one more model. Under device pressure
// everything but the most recent entry is shed; otherwise plain LRU
// eviction runs until the cache is below its cap.
func (c *Cache) ensureSpaceLocked() {
	if c.monitor.CheckPressure() {
		evicted := c.evictAllExceptNewestLocked()
		c.monitor.ForceCleanup()
		c.logger.Warn("memory pressure, shed model cache", "evicted", evicted)
		return
	}

	for len(c.entries) >= c.maxModels {
		c.evictOldestLocked()
	}
}

func (c *Cache) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	for modelID, e := range c.entries {
		if oldestID == "" || e.lastAccess.Before(oldest) {
			oldestID = modelID
			oldest = e.lastAccess
		}
	}
	if oldestID == "" {
		return
	}
	delete(c.entries, oldestID)
	c.monitor.ForceCleanup()
	c.logger.Info("model evicted", "model_id", oldestID)
}

func (c *Cache) evictAllExceptNewestLocked() int {
	var newestID string
	var newest time.Time
	for modelID, e := range c.entries {
		if newestID == "" || e.lastAccess.After(newest) {
			newestID = modelID
			newest = e.lastAccess
		}
	}

	evicted := 0
	for modelID := range c.entries {
		if modelID == newestID {
			continue
		}
		delete(c.entries, modelID)
		evicted++
	}
	return evicted
}
