package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/gameforge/forgeq/ext"
	"github.com/gameforge/forgeq/job"
)

// meterName is the instrumentation scope name for forgeq lifecycle metrics.
const meterName = "github.com/gameforge/forgeq/observability"

// Compile-time interface checks.
var (
	_ ext.Extension    = (*MetricsExtension)(nil)
	_ ext.JobEnqueued  = (*MetricsExtension)(nil)
	_ ext.JobCompleted = (*MetricsExtension)(nil)
	_ ext.JobFailed    = (*MetricsExtension)(nil)
	_ ext.JobRetrying  = (*MetricsExtension)(nil)
	_ ext.JobCancelled = (*MetricsExtension)(nil)
	_ ext.JobDLQ       = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle counters via OTel.
// Register it as a ForgeQ extension to automatically track enqueue rates,
// completion counts, failure rates, retry counts, cancellations, and DLQ
// entries. All counters carry job_type and priority attributes.
type MetricsExtension struct {
	jobEnqueued  metric.Int64Counter
	jobCompleted metric.Int64Counter
	jobFailed    metric.Int64Counter
	jobRetried   metric.Int64Counter
	jobCancelled metric.Int64Counter
	jobDLQ       metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension using the global OTel
// MeterProvider. Without a configured provider the counters are noop.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter. This variant allows injecting a specific MeterProvider
// for testing.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	m := &MetricsExtension{}
	// On error, the OTel API returns noop instruments so the extension
	// degrades gracefully.
	m.jobEnqueued, _ = meter.Int64Counter("forgeq.job.enqueued",
		metric.WithDescription("Total number of jobs enqueued"),
		metric.WithUnit("{job}"))
	m.jobCompleted, _ = meter.Int64Counter("forgeq.job.completed",
		metric.WithDescription("Total number of jobs completed successfully"),
		metric.WithUnit("{job}"))
	m.jobFailed, _ = meter.Int64Counter("forgeq.job.failed",
		metric.WithDescription("Total number of jobs failed terminally"),
		metric.WithUnit("{job}"))
	m.jobRetried, _ = meter.Int64Counter("forgeq.job.retried",
		metric.WithDescription("Total number of job retries scheduled"),
		metric.WithUnit("{job}"))
	m.jobCancelled, _ = meter.Int64Counter("forgeq.job.cancelled",
		metric.WithDescription("Total number of jobs cancelled before execution"),
		metric.WithUnit("{job}"))
	m.jobDLQ, _ = meter.Int64Counter("forgeq.job.dlq",
		metric.WithDescription("Total number of jobs moved to the dead letter queue"),
		metric.WithUnit("{job}"))
	return m
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func jobAttrs(j *job.Job) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("job_type", j.Type),
		attribute.String("priority", j.Priority.String()),
	)
}

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	m.jobEnqueued.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, _ time.Duration) error {
	m.jobCompleted.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.jobFailed.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, _ *job.Job, _ time.Time) error {
	m.jobRetried.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobCancelled implements ext.JobCancelled.
func (m *MetricsExtension) OnJobCancelled(ctx context.Context, j *job.Job) error {
	m.jobCancelled.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobDLQ implements ext.JobDLQ.
func (m *MetricsExtension) OnJobDLQ(ctx context.Context, j *job.Job, _ error) error {
	m.jobDLQ.Add(ctx, 1, jobAttrs(j))
	return nil
}
