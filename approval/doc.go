// Package approval implements the human-in-the-loop approval workflow:
// record the correlation, notify an approver, race the decision signal
// against a deadline, and finalize the artifact.
//
// The orchestrator is a workflow handler. It never reads the clock or the
// configuration directly; both come through recorded host primitives so
// that a run resumed after a restart reaches the same decision without
// re-sending the notification.
package approval
