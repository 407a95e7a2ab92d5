package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/approvals/workflow"
)

// meterName is the instrumentation scope name for approvals metrics.
const meterName = "github.com/xraph/approvals"

// Metrics returns middleware that records per-activity execution metrics
// using the global OTel MeterProvider. If no MeterProvider is configured,
// noop instruments are used and this middleware becomes a pass-through.
//
// Instruments:
//   - approvals.activity.duration (Float64Histogram): execution time in
//     seconds, with attributes: workflow, step, status ("ok" or "error")
//   - approvals.activity.executions (Int64Counter): total executions,
//     with attributes: workflow, step, status ("ok" or "error")
func Metrics() Middleware {
	meter := otel.Meter(meterName)
	return MetricsWithMeter(meter)
}

// MetricsWithMeter returns metrics middleware using the provided meter.
// This variant allows injecting a specific MeterProvider for testing.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// OTel returns noop instruments on error, so the errors are dropped.
	duration, _ := meter.Float64Histogram(
		"approvals.activity.duration",
		metric.WithDescription("Duration of activity execution in seconds"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter(
		"approvals.activity.executions",
		metric.WithDescription("Total number of activity executions"),
		metric.WithUnit("{execution}"),
	)

	return func(ctx context.Context, info workflow.StepInfo, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}

		attrs := metric.WithAttributes(
			attribute.String("workflow", info.Workflow),
			attribute.String("step", info.Step),
			attribute.String("status", status),
		)

		duration.Record(ctx, elapsed, attrs)
		executions.Add(ctx, 1, attrs)

		return err
	}
}
