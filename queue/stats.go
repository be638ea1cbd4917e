package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gameforge/forgeq/job"
)

// PriorityStats holds queue depths for one priority level.
type PriorityStats struct {
	Active  int64 `json:"active"`
	Delayed int64 `json:"delayed"`
}

// Total returns the combined depth of the priority queue.
func (s PriorityStats) Total() int64 { return s.Active + s.Delayed }

// Stats is a point-in-time snapshot of queue state plus process-local
// lifetime counters.
type Stats struct {
	Priorities map[job.Priority]PriorityStats `json:"priorities"`
	Total      int64                          `json:"total"`

	// MaxQueueSize is the configured global cap; Utilization is
	// Total / MaxQueueSize.
	MaxQueueSize int     `json:"max_queue_size"`
	Utilization  float64 `json:"utilization"`

	JobsQueued    int64 `json:"jobs_queued"`
	JobsProcessed int64 `json:"jobs_processed"`
	JobsFailed    int64 `json:"jobs_failed"`
	Overflows     int64 `json:"overflows"`

	// DLQSize is -1 when no dead letter queue is configured.
	DLQSize int64 `json:"dlq_size"`
}

// Stats collects current queue depths and counters.
func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		Priorities:    make(map[job.Priority]PriorityStats, 4),
		MaxQueueSize:  m.cfg.MaxQueueSize,
		JobsQueued:    m.jobsQueued.Load(),
		JobsProcessed: m.jobsProcessed.Load(),
		JobsFailed:    m.jobsFailed.Load(),
		Overflows:     m.overflows.Load(),
		DLQSize:       -1,
	}

	for _, p := range job.Priorities() {
		active, delayed, err := m.store.QueueDepth(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("queue: stats: depth for %s: %w", p, err)
		}
		ps := PriorityStats{Active: active, Delayed: delayed}
		stats.Priorities[p] = ps
		stats.Total += ps.Total()
	}
	stats.Utilization = float64(stats.Total) / float64(m.cfg.MaxQueueSize)

	if m.dlq != nil {
		size, err := m.dlq.Size(ctx)
		if err != nil {
			return nil, fmt.Errorf("queue: stats: dlq size: %w", err)
		}
		stats.DLQSize = size
	}

	return stats, nil
}

// ──────────────────────────────────────────────────
// Background maintenance
// ──────────────────────────────────────────────────

// Start launches the cleanup and monitor loops. They run until Stop is
// called or ctx is cancelled. Calling Start twice without Stop is an error.
func (m *Manager) Start(ctx context.Context) error {
	if m.cancel != nil {
		return errors.New("queue: manager already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	g, gctx := errgroup.WithContext(ctx)
	m.group = g
	g.Go(func() error { return m.cleanupLoop(gctx) })
	g.Go(func() error { return m.monitorLoop(gctx) })

	m.logger.Info("queue manager started",
		"cleanup_interval", m.cfg.CleanupInterval,
		"monitor_interval", m.cfg.MonitorInterval)
	return nil
}

// Stop cancels the background loops and waits for them to exit, then
// notifies extensions of shutdown.
func (m *Manager) Stop(ctx context.Context) error {
	if m.cancel == nil {
		return nil
	}
	m.cancel()
	err := m.group.Wait()
	m.cancel = nil
	m.group = nil

	m.exts.EmitShutdown(ctx)
	m.logger.Info("queue manager stopped")

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("queue: background task: %w", err)
	}
	return nil
}

// cleanupLoop periodically sweeps expired job records and aged DLQ entries.
func (m *Manager) cleanupLoop(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.runCleanup(ctx)
		}
	}
}

// runCleanup performs one cleanup pass. Errors are logged, never fatal:
// the next tick retries.
func (m *Manager) runCleanup(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-m.cfg.JobTTL)
	removed, err := m.store.SweepJobs(ctx, cutoff)
	switch {
	case err != nil && !errors.Is(err, context.Canceled):
		m.logger.Error("job sweep failed", "error", err)
	case removed > 0:
		m.logger.Info("swept expired job records",
			"removed", removed, "cutoff", cutoff)
	}

	if m.dlq != nil {
		if _, err := m.dlq.Cleanup(ctx); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Error("dlq cleanup failed", "error", err)
		}
	}
}

// monitorLoop periodically logs queue health warnings.
func (m *Manager) monitorLoop(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.runMonitor(ctx)
		}
	}
}

// runMonitor performs one monitoring pass: global utilization and DLQ
// depth checks.
func (m *Manager) runMonitor(ctx context.Context) {
	stats, err := m.Stats(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			m.logger.Error("queue monitoring failed", "error", err)
		}
		return
	}

	if stats.Utilization > m.cfg.UtilizationWarn {
		m.logger.Warn("queue nearing capacity",
			"depth", stats.Total,
			"max", m.cfg.MaxQueueSize,
			"utilization", stats.Utilization)
	}

	if stats.DLQSize > m.cfg.DLQWarn {
		m.logger.Warn("dead letter queue growing",
			"size", stats.DLQSize,
			"threshold", m.cfg.DLQWarn)
	}
}
