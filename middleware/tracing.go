package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gameforge/forgeq/job"
)

// tracerName is the instrumentation scope name for forgeq tracing.
const tracerName = "github.com/gameforge/forgeq"

// Tracing returns middleware that wraps job execution in an OpenTelemetry span.
// If no TracerProvider is configured globally, the default noop tracer is used
// and this middleware becomes a pass-through with zero overhead.
//
// Span attributes include: forgeq.job.id, forgeq.job.type, forgeq.priority,
// forgeq.user_id, forgeq.retry_count.
// On error, the span status is set to codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) ([]byte, error) {
		ctx, span := tracer.Start(ctx, "forgeq.job.execute",
			trace.WithAttributes(
				attribute.String("forgeq.job.id", j.ID.String()),
				attribute.String("forgeq.job.type", j.Type),
				attribute.String("forgeq.priority", j.Priority.String()),
				attribute.String("forgeq.user_id", j.UserID),
				attribute.Int("forgeq.retry_count", j.RetryCount),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		result, err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return result, err
	}
}
