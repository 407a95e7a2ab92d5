package ext

import (
	"context"
	"time"

	"github.com/xraph/approvals/approval"
	"github.com/xraph/approvals/workflow"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Workflow lifecycle hooks
// ──────────────────────────────────────────────────

// WorkflowStarted is called when a workflow run begins.
type WorkflowStarted interface {
	OnWorkflowStarted(ctx context.Context, r *workflow.Run) error
}

// WorkflowStepCompleted is called after a workflow step completes.
type WorkflowStepCompleted interface {
	OnWorkflowStepCompleted(ctx context.Context, r *workflow.Run, stepName string, elapsed time.Duration) error
}

// WorkflowStepFailed is called when a workflow step fails.
type WorkflowStepFailed interface {
	OnWorkflowStepFailed(ctx context.Context, r *workflow.Run, stepName string, err error) error
}

// WorkflowCompleted is called after a workflow run finishes successfully.
type WorkflowCompleted interface {
	OnWorkflowCompleted(ctx context.Context, r *workflow.Run, elapsed time.Duration) error
}

// WorkflowFailed is called when a workflow run fails terminally.
type WorkflowFailed interface {
	OnWorkflowFailed(ctx context.Context, r *workflow.Run, err error) error
}

// ──────────────────────────────────────────────────
// Approval hooks
// ──────────────────────────────────────────────────

// ApprovalDecided is called once per instance when the decision race
// resolves, before the artifact is finalized.
type ApprovalDecided interface {
	OnApprovalDecided(ctx context.Context, evt approval.DecisionEvent) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
