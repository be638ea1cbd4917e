package forgeq

import "errors"

var (
	// Admission errors. Both carry a human-readable reason when wrapped;
	// callers treat them as hard rejections and may retry later.
	ErrRateLimited = errors.New("forgeq: rate limit exceeded")
	ErrQueueFull   = errors.New("forgeq: queue is full")

	// Not found errors.
	ErrJobNotFound    = errors.New("forgeq: job not found")
	ErrResultNotFound = errors.New("forgeq: job result not found")
	ErrDLQNotFound    = errors.New("forgeq: dlq entry not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("forgeq: job already exists")

	// State errors.
	ErrInvalidState = errors.New("forgeq: invalid state transition")
	ErrNoHandler    = errors.New("forgeq: no handler registered for job type")

	// Cache errors.
	ErrModelNotCached = errors.New("forgeq: model not cached")
)
