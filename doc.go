// Package forgeq provides the job-queue and GPU model-cache core for the
// GameForge generation platform. It offers priority scheduling with delayed
// jobs, per-user rate limiting, retry with exponential backoff, dead-letter
// handling, and memory-pressure-aware caching of expensive GPU-resident
// models.
//
// Forgeq is designed as a library, not a service. Import it, configure a
// store, register handlers for your job types, and let the worker pool
// drain the queues.
//
// # Quick Start
//
//	eng, err := engine.Build(memory.New(),
//	    engine.WithPoolOptions(worker.WithConcurrency(4)),
//	)
//
// # Architecture
//
// Forgeq follows a composable store pattern where each subsystem (job,
// dlq, ratelimit) defines its own store interface. A single backend
// implements all of them; Redis is the production backend, memory the
// testing one. Every mutating queue operation is a single atomic store
// operation, so workers may run as separate processes.
//
// The model cache and GPU memory monitor are deliberately process-local:
// device memory belongs to one process, so a single mutex — not the
// durable store — serializes cache mutation.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package forgeq
