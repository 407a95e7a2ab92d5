package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/approvals/approval"
	"github.com/xraph/approvals/ext"
	"github.com/xraph/approvals/workflow"
)

// Compile-time interface checks.
var (
	_ ext.Extension             = (*Extension)(nil)
	_ ext.WorkflowStarted       = (*Extension)(nil)
	_ ext.WorkflowStepCompleted = (*Extension)(nil)
	_ ext.WorkflowStepFailed    = (*Extension)(nil)
	_ ext.WorkflowCompleted     = (*Extension)(nil)
	_ ext.WorkflowFailed        = (*Extension)(nil)
	_ ext.ApprovalDecided       = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one entry of the audit trail.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// LogRecorder writes each audit event as one structured log line.
func LogRecorder(logger *slog.Logger) Recorder {
	return RecorderFunc(func(ctx context.Context, evt *AuditEvent) error {
		level := slog.LevelInfo
		switch evt.Severity {
		case SeverityWarning:
			level = slog.LevelWarn
		case SeverityCritical:
			level = slog.LevelError
		}
		attrs := []slog.Attr{
			slog.String("action", evt.Action),
			slog.String("resource", evt.Resource),
			slog.String("resource_id", evt.ResourceID),
			slog.String("category", evt.Category),
			slog.String("outcome", evt.Outcome),
		}
		if evt.Reason != "" {
			attrs = append(attrs, slog.String("reason", evt.Reason))
		}
		for k, v := range evt.Metadata {
			attrs = append(attrs, slog.Any(k, v))
		}
		logger.LogAttrs(ctx, level, "audit", attrs...)
		return nil
	})
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges approvals lifecycle events to an audit trail backend.
// Each lifecycle hook emits a structured audit event through the [Recorder].
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Workflow lifecycle hooks ────────────────────────

// OnWorkflowStarted implements ext.WorkflowStarted.
func (e *Extension) OnWorkflowStarted(ctx context.Context, r *workflow.Run) error {
	return e.record(ctx, ActionWorkflowStarted, SeverityInfo, OutcomeSuccess,
		ResourceWorkflow, r.ID.String(), CategoryWorkflow, nil,
		"workflow_name", r.Name,
		"version", r.Version,
	)
}

// OnWorkflowStepCompleted implements ext.WorkflowStepCompleted.
func (e *Extension) OnWorkflowStepCompleted(ctx context.Context, r *workflow.Run, stepName string, elapsed time.Duration) error {
	return e.record(ctx, ActionWorkflowStepCompleted, SeverityInfo, OutcomeSuccess,
		ResourceWorkflow, r.ID.String(), CategoryWorkflow, nil,
		"workflow_name", r.Name,
		"step_name", stepName,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnWorkflowStepFailed implements ext.WorkflowStepFailed.
func (e *Extension) OnWorkflowStepFailed(ctx context.Context, r *workflow.Run, stepName string, stepErr error) error {
	return e.record(ctx, ActionWorkflowStepFailed, SeverityWarning, OutcomeFailure,
		ResourceWorkflow, r.ID.String(), CategoryWorkflow, stepErr,
		"workflow_name", r.Name,
		"step_name", stepName,
	)
}

// OnWorkflowCompleted implements ext.WorkflowCompleted.
func (e *Extension) OnWorkflowCompleted(ctx context.Context, r *workflow.Run, elapsed time.Duration) error {
	return e.record(ctx, ActionWorkflowCompleted, SeverityInfo, OutcomeSuccess,
		ResourceWorkflow, r.ID.String(), CategoryWorkflow, nil,
		"workflow_name", r.Name,
		"custom_status", r.CustomStatus,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnWorkflowFailed implements ext.WorkflowFailed.
func (e *Extension) OnWorkflowFailed(ctx context.Context, r *workflow.Run, runErr error) error {
	return e.record(ctx, ActionWorkflowFailed, SeverityCritical, OutcomeFailure,
		ResourceWorkflow, r.ID.String(), CategoryWorkflow, runErr,
		"workflow_name", r.Name,
	)
}

// ── Approval hooks ──────────────────────────────────

// OnApprovalDecided implements ext.ApprovalDecided. Grants are recorded
// as successes; rejections and timeouts as warnings.
func (e *Extension) OnApprovalDecided(ctx context.Context, evt approval.DecisionEvent) error {
	severity, outcome := SeverityInfo, OutcomeSuccess
	if evt.State != approval.StateApproved {
		severity, outcome = SeverityWarning, OutcomeFailure
	}
	return e.record(ctx, ActionApprovalDecided, severity, outcome,
		ResourceApproval, evt.InstanceID, CategoryDecision, nil,
		"applicant_id", evt.Request.ApplicantID,
		"application_name", evt.Request.ApplicationName,
		"approval_type", evt.Request.ApprovalType,
		"state", string(evt.State),
		"status", evt.Status,
		"decided_at", evt.DecidedAt.Format(time.RFC3339),
	)
}

// ── Internal helpers ────────────────────────────────

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			slog.String("action", action),
			slog.String("resource_id", resourceID),
			slog.String("error", recErr.Error()),
		)
	}
	return nil
}
