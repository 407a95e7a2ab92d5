package event

import (
	"time"

	"github.com/xraph/approvals/id"
)

// Event is a named signal addressed to one workflow run. Workflows wait
// for events with AwaitEvent, which lets external callers such as a human
// approver resume a suspended run.
type Event struct {
	ID        id.EventID `json:"id"`
	RunID     id.RunID   `json:"run_id"`
	Name      string     `json:"name"`
	Payload   []byte     `json:"payload,omitempty"`
	Acked     bool       `json:"acked"`
	CreatedAt time.Time  `json:"created_at"`
}
