package approval

import (
	"strings"
	"time"
)

// SignalName is the event that carries an approver's decision. Its
// payload is a JSON boolean.
const SignalName = "ReceiveApprovalResponse"

// WorkflowName is the registered name of the approval orchestrator.
const WorkflowName = "request-approval"

// RequestMetadata describes the artifact awaiting approval. It is the
// workflow input and is never mutated after the run starts.
type RequestMetadata struct {
	ApplicantID     string `json:"applicantId"`
	ApplicationName string `json:"applicationName"`
	ReferenceURL    string `json:"referenceUrl"`
	ApprovalType    string `json:"approvalType"`
}

// Decision is the disposition passed to finalization.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// ResponseMetadata is built once the race resolves.
type ResponseMetadata struct {
	ReferenceURL string   `json:"referenceUrl"`
	Status       Decision `json:"status"`
}

// Channel selects how the approver is notified.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSlack Channel = "slack"
)

// ParseChannel maps "email" (any case) to ChannelEmail and every other
// value, including "", to ChannelSlack.
func ParseChannel(s string) Channel {
	if strings.EqualFold(strings.TrimSpace(s), string(ChannelEmail)) {
		return ChannelEmail
	}
	return ChannelSlack
}

// Settings are the configuration values an instance runs with. They are
// recorded when the run starts, so a configuration change never alters a
// run already in flight.
type Settings struct {
	Channel Channel       `json:"channel"`
	Timeout time.Duration `json:"timeout"`
}

// Result is the output recorded on a finished run.
type Result struct {
	Approved  bool      `json:"approved"`
	State     State     `json:"state"`
	Status    string    `json:"status"`
	DecidedAt time.Time `json:"decidedAt"`
}

// Notification is what a Notifier needs to build a human-facing message
// and a way back to the instance.
type Notification struct {
	InstanceID string          `json:"instanceId"`
	Request    RequestMetadata `json:"request"`
	// Timeout is how long the approver has once the wait begins.
	Timeout time.Duration `json:"timeout"`
}

// DecisionEvent describes a resolved race. It is delivered to decision
// hooks once, when the outcome is first observed.
type DecisionEvent struct {
	InstanceID string
	Request    RequestMetadata
	State      State
	Status     string
	DecidedAt  time.Time
}
