package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/approvals/workflow"
)

// tracerName is the instrumentation scope name for approvals tracing.
const tracerName = "github.com/xraph/approvals"

// Tracing returns middleware that wraps each activity attempt in an
// OpenTelemetry span. If no TracerProvider is configured globally, the
// default noop tracer is used and this middleware becomes a pass-through.
//
// Span attributes include: approvals.run_id, approvals.workflow,
// approvals.step, approvals.attempt, approvals.idempotency_key.
// On error, the span status is set to codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, info workflow.StepInfo, next Handler) error {
		ctx, span := tracer.Start(ctx, "approvals.activity.execute",
			trace.WithAttributes(
				attribute.String("approvals.run_id", info.RunID.String()),
				attribute.String("approvals.workflow", info.Workflow),
				attribute.String("approvals.step", info.Step),
				attribute.Int("approvals.attempt", info.Attempt),
				attribute.String("approvals.idempotency_key", info.IdempotencyKey),
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
