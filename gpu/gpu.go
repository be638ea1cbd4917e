// Package gpu tracks accelerator memory. A Monitor watches a Device for
// memory pressure, keeps a peak high-water mark, and can force a cache
// cleanup when generation jobs push the device toward exhaustion.
package gpu

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"
)

// Device abstracts the memory interface of an accelerator. Implementations
// wrap a real device runtime or simulate one for tests.
type Device interface {
	// Available reports whether the device is addressable.
	Available() bool

	// MemoryAllocated returns bytes currently allocated on the device.
	MemoryAllocated() uint64

	// MemoryReserved returns bytes reserved by the device's caching
	// allocator, including allocated memory.
	MemoryReserved() uint64

	// MemoryTotal returns the device's total memory in bytes.
	MemoryTotal() uint64

	// ReleaseCache returns unused cached memory to the device.
	ReleaseCache()

	// Synchronize blocks until all queued device work has finished.
	Synchronize()
}

// DefaultPressureThreshold is the usage fraction above which the monitor
// reports memory pressure.
const DefaultPressureThreshold = 0.90

// MemoryStats is a point-in-time snapshot of device memory.
type MemoryStats struct {
	Allocated uint64  `json:"allocated"`
	Reserved  uint64  `json:"reserved"`
	Total     uint64  `json:"total"`
	Usage     float64 `json:"usage"`
	Peak      uint64  `json:"peak"`
}

// Monitor observes one device. Safe for concurrent use.
type Monitor struct {
	device    Device
	threshold float64
	logger    *slog.Logger

	mu   sync.Mutex
	peak uint64
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithThreshold overrides the pressure threshold.
func WithThreshold(frac float64) Option {
	return func(m *Monitor) {
		if frac > 0 {
			m.threshold = frac
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewMonitor creates a Monitor for the given device. A nil or unavailable
// device yields a monitor that reports zeroed stats, no pressure, and
// no-op cleanups, so callers need no device-presence branches.
func NewMonitor(device Device, opts ...Option) *Monitor {
	m := &Monitor{
		device:    device,
		threshold: DefaultPressureThreshold,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Threshold returns the configured pressure threshold.
func (m *Monitor) Threshold() float64 { return m.threshold }

func (m *Monitor) available() bool {
	return m.device != nil && m.device.Available()
}

// MemoryStats snapshots the device's memory and advances the peak
// high-water mark.
func (m *Monitor) MemoryStats() MemoryStats {
	if !m.available() {
		return MemoryStats{}
	}

	allocated := m.device.MemoryAllocated()
	total := m.device.MemoryTotal()

	m.mu.Lock()
	if allocated > m.peak {
		m.peak = allocated
	}
	peak := m.peak
	m.mu.Unlock()

	stats := MemoryStats{
		Allocated: allocated,
		Reserved:  m.device.MemoryReserved(),
		Total:     total,
		Peak:      peak,
	}
	if total > 0 {
		stats.Usage = float64(allocated) / float64(total)
	}
	return stats
}

// CheckPressure reports whether device usage exceeds the threshold.
func (m *Monitor) CheckPressure() bool {
	return m.MemoryStats().Usage > m.threshold
}

// ForceCleanup releases the device's memory cache, waits for in-flight
// work, and runs a garbage collection pass to drop dangling host-side
// references. The post-cleanup stats are logged.
func (m *Monitor) ForceCleanup() {
	if !m.available() {
		return
	}

	m.device.ReleaseCache()
	m.device.Synchronize()
	runtime.GC()

	stats := m.MemoryStats()
	m.logger.Info("forced device memory cleanup",
		"allocated", stats.Allocated,
		"reserved", stats.Reserved,
		"usage", fmt.Sprintf("%.2f", stats.Usage))
}

// ResetPeak clears the peak high-water mark.
func (m *Monitor) ResetPeak() {
	m.mu.Lock()
	m.peak = 0
	m.mu.Unlock()
}

// Track runs fn under scoped memory monitoring: it measures the allocation
// delta and wall time of the operation and logs them when fn returns,
// on the error path included. Returns fn's error unchanged.
func (m *Monitor) Track(name string, fn func() error) error {
	before := m.MemoryStats()
	start := time.Now()

	defer func() {
		after := m.MemoryStats()
		delta := int64(after.Allocated) - int64(before.Allocated)
		m.logger.Debug("tracked device operation",
			"operation", name,
			"elapsed", time.Since(start),
			"memory_delta", delta,
			"allocated", after.Allocated,
			"peak", after.Peak)
	}()

	return fn()
}
