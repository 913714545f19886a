package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opdacuont2563-hash/surgibot/job"
)

// tracerName is the instrumentation scope name for board tracing.
const tracerName = "github.com/opdacuont2563-hash/surgibot"

// Tracing returns middleware that wraps job execution in an OpenTelemetry
// span. If no TracerProvider is configured globally, the default noop tracer
// is used and this middleware becomes a pass-through with zero overhead.
//
// Span attributes include: surgibot.job.id, surgibot.job.kind,
// surgibot.job.priority, surgibot.job.subject. On error, the span status is
// set to codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx, span := tracer.Start(ctx, "surgibot.job.execute",
			trace.WithAttributes(
				attribute.String("surgibot.job.id", j.ID.String()),
				attribute.String("surgibot.job.kind", string(j.Kind)),
				attribute.String("surgibot.job.priority", j.Priority.String()),
				attribute.String("surgibot.job.subject", j.Subject),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
