package approval

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when a Machine is asked to move
// backwards, skip a state, or leave a terminal state.
var ErrInvalidTransition = errors.New("approvals: invalid approval state transition")

// State is the control-flow state of one approval instance.
type State string

const (
	StateReceived         State = "received"
	StateInReview         State = "in_review"
	StateAwaitingResponse State = "awaiting_response"
	StateApproved         State = "approved"
	StateRejected         State = "rejected"
	StateTimedOut         State = "timed_out"
	StateFinalized        State = "finalized"
)

// Human-readable custom status written at each transition. The text is
// observational; control flow only ever looks at State.
const (
	StatusReceived = "received"
	StatusInReview = "in review"
	StatusApproved = "approved, request granted"
	StatusRejected = "rejected by approver"
	StatusTimedOut = "rejected — timed out"
)

var transitions = map[State][]State{
	StateReceived:         {StateInReview},
	StateInReview:         {StateAwaitingResponse},
	StateAwaitingResponse: {StateApproved, StateRejected, StateTimedOut},
	StateApproved:         {StateFinalized},
	StateRejected:         {StateFinalized},
	StateTimedOut:         {StateFinalized},
}

// CustomStatus returns the status text written when entering s, or "" for
// states that keep the previous text.
func (s State) CustomStatus() string {
	switch s {
	case StateReceived:
		return StatusReceived
	case StateInReview:
		return StatusInReview
	case StateApproved:
		return StatusApproved
	case StateRejected:
		return StatusRejected
	case StateTimedOut:
		return StatusTimedOut
	default:
		return ""
	}
}

// Decided reports whether s is one of the race outcomes.
func (s State) Decided() bool {
	return s == StateApproved || s == StateRejected || s == StateTimedOut
}

// Decision maps an outcome state to the disposition handed to
// finalization. Only StateApproved is approved.
func (s State) Decision() Decision {
	if s == StateApproved {
		return DecisionApproved
	}
	return DecisionRejected
}

// Machine tracks the state of one instance and enforces forward-only
// transitions. It is not safe for concurrent use; a workflow handler is
// single-threaded.
type Machine struct {
	state   State
	visited []State
}

// NewMachine returns a machine in StateReceived.
func NewMachine() *Machine {
	return &Machine{state: StateReceived, visited: []State{StateReceived}}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// History returns every state entered, in order.
func (m *Machine) History() []State {
	out := make([]State, len(m.visited))
	copy(out, m.visited)
	return out
}

// Transition moves the machine to to.
func (m *Machine) Transition(to State) error {
	for _, next := range transitions[m.state] {
		if next == to {
			m.state = to
			m.visited = append(m.visited, to)
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, to)
}
