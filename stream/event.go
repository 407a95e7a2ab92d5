// Package stream fans approval lifecycle events out to live subscribers.
// It bridges the ext hooks to connected clients via topic-based pub/sub.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	// Workflow events.
	EventWorkflowStarted       EventType = "workflow.started"
	EventWorkflowStepCompleted EventType = "workflow.step_completed"
	EventWorkflowStepFailed    EventType = "workflow.step_failed"
	EventWorkflowCompleted     EventType = "workflow.completed"
	EventWorkflowFailed        EventType = "workflow.failed"

	// Approval events.
	EventApprovalDecided EventType = "approval.decided"
)

// Terminal reports whether no further events follow t on a run topic.
func (t EventType) Terminal() bool {
	return t == EventWorkflowCompleted || t == EventWorkflowFailed
}

// Event is the envelope sent to subscribers on a topic channel.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"ts"`
	Topic     string          `json:"topic"`
	Data      json.RawMessage `json:"data"`
}

// WorkflowEventData is the payload for workflow lifecycle events.
type WorkflowEventData struct {
	RunID        string `json:"run_id"`
	Name         string `json:"name"`
	StepName     string `json:"step_name,omitempty"`
	CustomStatus string `json:"custom_status,omitempty"`
	ElapsedMs    int64  `json:"elapsed_ms,omitempty"`
	Error        string `json:"error,omitempty"`
}

// DecisionEventData is the payload for approval.decided.
type DecisionEventData struct {
	InstanceID      string    `json:"instance_id"`
	ApplicantID     string    `json:"applicant_id"`
	ApplicationName string    `json:"application_name"`
	ApprovalType    string    `json:"approval_type,omitempty"`
	State           string    `json:"state"`
	Status          string    `json:"status"`
	DecidedAt       time.Time `json:"decided_at"`
}
