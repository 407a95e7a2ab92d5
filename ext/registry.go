package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/approvals/approval"
	"github.com/xraph/approvals/workflow"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type workflowStartedEntry struct {
	name string
	hook WorkflowStarted
}

type workflowStepCompletedEntry struct {
	name string
	hook WorkflowStepCompleted
}

type workflowStepFailedEntry struct {
	name string
	hook WorkflowStepFailed
}

type workflowCompletedEntry struct {
	name string
	hook WorkflowCompleted
}

type workflowFailedEntry struct {
	name string
	hook WorkflowFailed
}

type approvalDecidedEntry struct {
	name string
	hook ApprovalDecided
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	workflowStarted       []workflowStartedEntry
	workflowStepCompleted []workflowStepCompletedEntry
	workflowStepFailed    []workflowStepFailedEntry
	workflowCompleted     []workflowCompletedEntry
	workflowFailed        []workflowFailedEntry
	approvalDecided       []approvalDecidedEntry
	shutdown              []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(WorkflowStarted); ok {
		r.workflowStarted = append(r.workflowStarted, workflowStartedEntry{name, h})
	}
	if h, ok := e.(WorkflowStepCompleted); ok {
		r.workflowStepCompleted = append(r.workflowStepCompleted, workflowStepCompletedEntry{name, h})
	}
	if h, ok := e.(WorkflowStepFailed); ok {
		r.workflowStepFailed = append(r.workflowStepFailed, workflowStepFailedEntry{name, h})
	}
	if h, ok := e.(WorkflowCompleted); ok {
		r.workflowCompleted = append(r.workflowCompleted, workflowCompletedEntry{name, h})
	}
	if h, ok := e.(WorkflowFailed); ok {
		r.workflowFailed = append(r.workflowFailed, workflowFailedEntry{name, h})
	}
	if h, ok := e.(ApprovalDecided); ok {
		r.approvalDecided = append(r.approvalDecided, approvalDecidedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Workflow event emitters
// ──────────────────────────────────────────────────

// EmitWorkflowStarted notifies all extensions that implement WorkflowStarted.
func (r *Registry) EmitWorkflowStarted(ctx context.Context, run *workflow.Run) {
	for _, e := range r.workflowStarted {
		if err := e.hook.OnWorkflowStarted(ctx, run); err != nil {
			r.logHookError("OnWorkflowStarted", e.name, err)
		}
	}
}

// EmitWorkflowStepCompleted notifies all extensions that implement WorkflowStepCompleted.
func (r *Registry) EmitWorkflowStepCompleted(ctx context.Context, run *workflow.Run, stepName string, elapsed time.Duration) {
	for _, e := range r.workflowStepCompleted {
		if err := e.hook.OnWorkflowStepCompleted(ctx, run, stepName, elapsed); err != nil {
			r.logHookError("OnWorkflowStepCompleted", e.name, err)
		}
	}
}

// EmitWorkflowStepFailed notifies all extensions that implement WorkflowStepFailed.
func (r *Registry) EmitWorkflowStepFailed(ctx context.Context, run *workflow.Run, stepName string, stepErr error) {
	for _, e := range r.workflowStepFailed {
		if err := e.hook.OnWorkflowStepFailed(ctx, run, stepName, stepErr); err != nil {
			r.logHookError("OnWorkflowStepFailed", e.name, err)
		}
	}
}

// EmitWorkflowCompleted notifies all extensions that implement WorkflowCompleted.
func (r *Registry) EmitWorkflowCompleted(ctx context.Context, run *workflow.Run, elapsed time.Duration) {
	for _, e := range r.workflowCompleted {
		if err := e.hook.OnWorkflowCompleted(ctx, run, elapsed); err != nil {
			r.logHookError("OnWorkflowCompleted", e.name, err)
		}
	}
}

// EmitWorkflowFailed notifies all extensions that implement WorkflowFailed.
func (r *Registry) EmitWorkflowFailed(ctx context.Context, run *workflow.Run, runErr error) {
	for _, e := range r.workflowFailed {
		if err := e.hook.OnWorkflowFailed(ctx, run, runErr); err != nil {
			r.logHookError("OnWorkflowFailed", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Approval and other event emitters
// ──────────────────────────────────────────────────

// EmitApprovalDecided notifies all extensions that implement ApprovalDecided.
func (r *Registry) EmitApprovalDecided(ctx context.Context, evt approval.DecisionEvent) {
	for _, e := range r.approvalDecided {
		if err := e.hook.OnApprovalDecided(ctx, evt); err != nil {
			r.logHookError("OnApprovalDecided", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated; they must not block a run.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
