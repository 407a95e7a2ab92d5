package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionWorkflowStarted       = "workflow.started"
	ActionWorkflowStepCompleted = "workflow.step_completed"
	ActionWorkflowStepFailed    = "workflow.step_failed"
	ActionWorkflowCompleted     = "workflow.completed"
	ActionWorkflowFailed        = "workflow.failed"
	ActionApprovalDecided       = "approval.decided"
)

// Audit event categories group related actions.
const (
	CategoryWorkflow = "approvals.workflow"
	CategoryDecision = "approvals.decision"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceWorkflow = "workflow_run"
	ResourceApproval = "approval_instance"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionWorkflowStarted,
		ActionWorkflowStepCompleted,
		ActionWorkflowStepFailed,
		ActionWorkflowCompleted,
		ActionWorkflowFailed,
		ActionApprovalDecided,
	}
}

// DecisionActions is the subset a deployment usually keeps: who asked,
// how it was decided, and what failed.
func DecisionActions() []string {
	return []string{
		ActionWorkflowStarted,
		ActionWorkflowFailed,
		ActionApprovalDecided,
	}
}
