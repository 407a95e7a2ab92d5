// Package event provides run-addressed signal events and the bus that
// publishes and awaits them.
package event

import (
	"context"
	"time"

	"github.com/xraph/approvals/id"
)

// DefaultPollInterval is how often Subscribe checks the store.
const DefaultPollInterval = 10 * time.Millisecond

// Bus provides high-level publish/subscribe operations over an event Store.
// Workflows use the Bus via AwaitEvent; external code publishes events
// through it to resume suspended runs.
type Bus struct {
	store    Store
	interval time.Duration
	now      func() time.Time
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithPollInterval sets how often Subscribe polls the store.
func WithPollInterval(d time.Duration) BusOption {
	return func(b *Bus) { b.interval = d }
}

// WithNow sets the time source that stamps published events. It should be
// the clock that drives wait deadlines.
func WithNow(now func() time.Time) BusOption {
	return func(b *Bus) { b.now = now }
}

// NewBus creates an event bus backed by the given store.
func NewBus(store Store, opts ...BusOption) *Bus {
	b := &Bus{store: store, interval: DefaultPollInterval, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish creates and persists a new event for runID.
func (b *Bus) Publish(ctx context.Context, runID id.RunID, name string, payload []byte) (*Event, error) {
	evt := &Event{
		ID:        id.NewEventID(),
		RunID:     runID,
		Name:      name,
		Payload:   payload,
		CreatedAt: b.now().UTC(),
	}
	if err := b.store.PublishEvent(ctx, evt); err != nil {
		return nil, err
	}
	return evt, nil
}

// Subscribe blocks until an unacked event matching runID and name exists
// or ctx is done.
func (b *Bus) Subscribe(ctx context.Context, runID id.RunID, name string) (*Event, error) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		evt, err := b.store.PeekEvent(ctx, runID, name)
		if err != nil {
			return nil, err
		}
		if evt != nil {
			return evt, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Ack acknowledges an event, marking it as consumed.
func (b *Bus) Ack(ctx context.Context, eventID id.EventID) error {
	return b.store.AckEvent(ctx, eventID)
}

// Store returns the underlying event store.
func (b *Bus) Store() Store { return b.store }

// Source returns a signal source for one run and event name. Only events
// published at or before deadline are delivered; a zero deadline accepts
// every event. It satisfies race.Source and race.Poller.
func (b *Bus) Source(runID id.RunID, name string, deadline time.Time) *Source {
	return &Source{bus: b, runID: runID, name: name, deadline: deadline}
}

// Source awaits a single named event for one run.
type Source struct {
	bus      *Bus
	runID    id.RunID
	name     string
	deadline time.Time
}

// Receive blocks until an admissible event is available.
func (s *Source) Receive(ctx context.Context) (*Event, error) {
	ticker := time.NewTicker(s.bus.interval)
	defer ticker.Stop()

	for {
		evt, ok, err := s.Poll(ctx)
		if err != nil {
			return nil, err
		}
		if ok {
			return evt, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll reports an already published event without blocking. Events are
// peeked oldest first, so once the oldest unacked event is late every
// later one is too.
func (s *Source) Poll(ctx context.Context) (*Event, bool, error) {
	evt, err := s.bus.store.PeekEvent(ctx, s.runID, s.name)
	if err != nil {
		return nil, false, err
	}
	if evt == nil || s.late(evt) {
		return nil, false, nil
	}
	return evt, true, nil
}

func (s *Source) late(evt *Event) bool {
	return !s.deadline.IsZero() && evt.CreatedAt.After(s.deadline)
}
