package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/approvals/approval"
	"github.com/xraph/approvals/ext"
	"github.com/xraph/approvals/workflow"
)

// Compile-time interface checks.
var (
	_ ext.Extension             = (*MetricsExtension)(nil)
	_ ext.WorkflowStarted       = (*MetricsExtension)(nil)
	_ ext.WorkflowStepCompleted = (*MetricsExtension)(nil)
	_ ext.WorkflowStepFailed    = (*MetricsExtension)(nil)
	_ ext.WorkflowCompleted     = (*MetricsExtension)(nil)
	_ ext.WorkflowFailed        = (*MetricsExtension)(nil)
	_ ext.ApprovalDecided       = (*MetricsExtension)(nil)
)

const meterName = "github.com/xraph/approvals/observability"

// MetricsExtension records lifecycle metrics through an OTel meter.
// Register it as an engine extension to track run starts and outcomes,
// activity failures, and how approvals are decided.
type MetricsExtension struct {
	WorkflowStarted   metric.Int64Counter
	WorkflowCompleted metric.Int64Counter
	WorkflowFailed    metric.Int64Counter
	WorkflowDuration  metric.Float64Histogram
	StepCompleted     metric.Int64Counter
	StepFailed        metric.Int64Counter
	ApprovalDecided   metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the provided meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	// OTel hands back noop instruments alongside any error.
	started, _ := meter.Int64Counter("approvals.workflow.started")
	completed, _ := meter.Int64Counter("approvals.workflow.completed")
	failed, _ := meter.Int64Counter("approvals.workflow.failed")
	duration, _ := meter.Float64Histogram("approvals.workflow.duration",
		metric.WithDescription("Wall time from run start to completion in seconds"),
		metric.WithUnit("s"),
	)
	stepCompleted, _ := meter.Int64Counter("approvals.step.completed")
	stepFailed, _ := meter.Int64Counter("approvals.step.failed")
	decided, _ := meter.Int64Counter("approvals.decided",
		metric.WithDescription("Approval races resolved, by outcome state"),
	)
	return &MetricsExtension{
		WorkflowStarted:   started,
		WorkflowCompleted: completed,
		WorkflowFailed:    failed,
		WorkflowDuration:  duration,
		StepCompleted:     stepCompleted,
		StepFailed:        stepFailed,
		ApprovalDecided:   decided,
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func workflowAttr(r *workflow.Run) metric.AddOption {
	return metric.WithAttributes(attribute.String("workflow", r.Name))
}

// ── Workflow lifecycle hooks ────────────────────────

// OnWorkflowStarted implements ext.WorkflowStarted.
func (m *MetricsExtension) OnWorkflowStarted(ctx context.Context, r *workflow.Run) error {
	m.WorkflowStarted.Add(ctx, 1, workflowAttr(r))
	return nil
}

// OnWorkflowStepCompleted implements ext.WorkflowStepCompleted.
func (m *MetricsExtension) OnWorkflowStepCompleted(ctx context.Context, r *workflow.Run, _ string, _ time.Duration) error {
	m.StepCompleted.Add(ctx, 1, workflowAttr(r))
	return nil
}

// OnWorkflowStepFailed implements ext.WorkflowStepFailed.
func (m *MetricsExtension) OnWorkflowStepFailed(ctx context.Context, r *workflow.Run, _ string, _ error) error {
	m.StepFailed.Add(ctx, 1, workflowAttr(r))
	return nil
}

// OnWorkflowCompleted implements ext.WorkflowCompleted.
func (m *MetricsExtension) OnWorkflowCompleted(ctx context.Context, r *workflow.Run, elapsed time.Duration) error {
	m.WorkflowCompleted.Add(ctx, 1, workflowAttr(r))
	m.WorkflowDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.String("workflow", r.Name)))
	return nil
}

// OnWorkflowFailed implements ext.WorkflowFailed.
func (m *MetricsExtension) OnWorkflowFailed(ctx context.Context, r *workflow.Run, _ error) error {
	m.WorkflowFailed.Add(ctx, 1, workflowAttr(r))
	return nil
}

// ── Approval hooks ──────────────────────────────────

// OnApprovalDecided implements ext.ApprovalDecided.
func (m *MetricsExtension) OnApprovalDecided(ctx context.Context, evt approval.DecisionEvent) error {
	m.ApprovalDecided.Add(ctx, 1, metric.WithAttributes(
		attribute.String("state", string(evt.State)),
		attribute.String("approval_type", evt.Request.ApprovalType),
	))
	return nil
}
