package postgres

import (
	"context"
	"fmt"

	"github.com/xraph/approvals"
	"github.com/xraph/approvals/event"
	"github.com/xraph/approvals/id"
)

// PublishEvent persists a new event.
func (s *Store) PublishEvent(ctx context.Context, evt *event.Event) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO approvals_events (id, run_id, name, payload, acked, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		evt.ID.String(), evt.RunID.String(), evt.Name, evt.Payload, evt.Acked, evt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("approvals/postgres: publish event: %w", err)
	}
	return nil
}

// PeekEvent returns the oldest unacked event for runID and name.
func (s *Store) PeekEvent(ctx context.Context, runID id.RunID, name string) (*event.Event, error) {
	var (
		eID string
		evt = &event.Event{RunID: runID, Name: name}
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, payload, acked, created_at
		FROM approvals_events
		WHERE run_id = $1 AND name = $2 AND acked = FALSE
		ORDER BY seq ASC
		LIMIT 1`,
		runID.String(), name,
	).Scan(&eID, &evt.Payload, &evt.Acked, &evt.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("approvals/postgres: peek event: %w", err)
	}
	if evt.ID, err = id.ParseEventID(eID); err != nil {
		return nil, fmt.Errorf("approvals/postgres: parse event id: %w", err)
	}
	return evt, nil
}

// AckEvent acknowledges an event, marking it as consumed.
func (s *Store) AckEvent(ctx context.Context, eventID id.EventID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE approvals_events SET acked = TRUE WHERE id = $1`,
		eventID.String(),
	)
	if err != nil {
		return fmt.Errorf("approvals/postgres: ack event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return approvals.ErrEventNotFound
	}
	return nil
}
