package event

import (
	"context"

	"github.com/xraph/approvals/id"
)

// Store defines the persistence contract for events.
type Store interface {
	// PublishEvent persists a new event and makes it available for subscribers.
	PublishEvent(ctx context.Context, evt *Event) error

	// PeekEvent returns the oldest unacked event with the given name
	// addressed to runID, or nil if there is none. It never blocks.
	PeekEvent(ctx context.Context, runID id.RunID, name string) (*Event, error)

	// AckEvent acknowledges an event, marking it as consumed.
	AckEvent(ctx context.Context, eventID id.EventID) error
}
