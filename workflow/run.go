package workflow

import (
	"time"

	"github.com/xraph/approvals"
	"github.com/xraph/approvals/id"
)

// RunState represents the lifecycle state of a workflow run.
type RunState string

const (
	// RunStateRunning means the workflow is executing or suspended.
	RunStateRunning RunState = "running"
	// RunStateCompleted means the workflow finished successfully.
	RunStateCompleted RunState = "completed"
	// RunStateFailed means the workflow failed terminally.
	RunStateFailed RunState = "failed"
)

// RuntimeStatus returns the host-reported status name for s.
func (s RunState) RuntimeStatus() string {
	switch s {
	case RunStateRunning:
		return "Running"
	case RunStateCompleted:
		return "Completed"
	case RunStateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Run represents a single execution of a workflow.
type Run struct {
	approvals.Entity

	ID      id.RunID `json:"id"`
	Name    string   `json:"name"`
	Version int      `json:"version"`
	State   RunState `json:"state"`
	Input   []byte   `json:"input,omitempty"`
	Output  []byte   `json:"output,omitempty"`
	Error   string   `json:"error,omitempty"`

	// CustomStatus is human-readable detail written by the workflow
	// itself. It is observational only.
	CustomStatus string `json:"custom_status,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Terminal reports whether the run has finished.
func (r *Run) Terminal() bool {
	return r.State == RunStateCompleted || r.State == RunStateFailed
}
