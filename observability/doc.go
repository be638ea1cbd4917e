// Package observability provides an OpenTelemetry-based metrics
// extension for ForgeQ. The MetricsExtension implements lifecycle hooks
// to record system-wide counters for job enqueue, completion, failure,
// retry, cancellation, and DLQ events.
//
// For per-execution tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
