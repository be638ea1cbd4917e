package queue

import "time"

// Config controls queue capacity, retention, and maintenance cadence.
type Config struct {
	// MaxQueueSize caps the total number of stored jobs (active + delayed)
	// across all priority queues. Enqueues beyond the cap are rejected.
	MaxQueueSize int

	// JobTTL is how long job records are retained in the store. It also
	// bounds the cleanup sweep: records older than JobTTL are removed.
	JobTTL time.Duration

	// ResultTTL is how long job results are retained after completion.
	ResultTTL time.Duration

	// CleanupInterval is the cadence of the background cleanup loop.
	CleanupInterval time.Duration

	// MonitorInterval is the cadence of the background monitor loop.
	MonitorInterval time.Duration

	// UtilizationWarn is the queue fill fraction above which the monitor
	// logs a warning.
	UtilizationWarn float64

	// DLQWarn is the dead letter queue size above which the monitor logs
	// a warning.
	DLQWarn int64
}

// DefaultConfig returns the platform default configuration.
func DefaultConfig() Config {
	return Config{
		MaxQueueSize:    1000,
		JobTTL:          24 * time.Hour,
		ResultTTL:       24 * time.Hour,
		CleanupInterval: 5 * time.Minute,
		MonitorInterval: time.Minute,
		UtilizationWarn: 0.8,
		DLQWarn:         10,
	}
}

// withDefaults fills zero fields with platform defaults.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = def.MaxQueueSize
	}
	if c.JobTTL <= 0 {
		c.JobTTL = def.JobTTL
	}
	if c.ResultTTL <= 0 {
		c.ResultTTL = def.ResultTTL
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = def.CleanupInterval
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = def.MonitorInterval
	}
	if c.UtilizationWarn <= 0 {
		c.UtilizationWarn = def.UtilizationWarn
	}
	if c.DLQWarn <= 0 {
		c.DLQWarn = def.DLQWarn
	}
	return c
}
