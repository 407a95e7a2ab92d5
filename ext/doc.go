// Package ext defines the extension system for approvals.
//
// Extensions are notified of lifecycle events and can react to them by
// recording metrics, emitting webhooks, writing audit logs and so on.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type AuditLog struct{}
//
//	func (a *AuditLog) Name() string { return "audit-log" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (a *AuditLog) OnApprovalDecided(ctx context.Context, evt approval.DecisionEvent) error {
//	    log.Printf("instance %s: %s", evt.InstanceID, evt.Status)
//	    return nil
//	}
//
// # Workflow Lifecycle Hooks
//
//   - [WorkflowStarted]: workflow run began
//   - [WorkflowStepCompleted]: a step finished successfully
//   - [WorkflowStepFailed]: a step failed
//   - [WorkflowCompleted]: workflow run finished successfully
//   - [WorkflowFailed]: workflow run failed terminally
//
// # Other Hooks
//
//   - [ApprovalDecided]: an approval race resolved
//   - [Shutdown]: the engine is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext
