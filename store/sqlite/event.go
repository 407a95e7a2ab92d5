package sqlite

import (
	"context"
	"fmt"

	"github.com/xraph/approvals"
	"github.com/xraph/approvals/event"
	"github.com/xraph/approvals/id"
)

// PublishEvent persists a new event.
func (s *Store) PublishEvent(ctx context.Context, evt *event.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO approvals_events (id, run_id, name, payload, acked, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		evt.ID.String(), evt.RunID.String(), evt.Name, evt.Payload, evt.Acked, formatTime(evt.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("approvals/sqlite: publish event: %w", err)
	}
	return nil
}

// PeekEvent returns the oldest unacked event for runID and name.
func (s *Store) PeekEvent(ctx context.Context, runID id.RunID, name string) (*event.Event, error) {
	var (
		eID, createdAt string
		evt            = &event.Event{RunID: runID, Name: name}
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, payload, acked, created_at
		FROM approvals_events
		WHERE run_id = ? AND name = ? AND acked = 0
		ORDER BY seq ASC
		LIMIT 1`,
		runID.String(), name,
	).Scan(&eID, &evt.Payload, &evt.Acked, &createdAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("approvals/sqlite: peek event: %w", err)
	}
	if evt.ID, err = id.ParseEventID(eID); err != nil {
		return nil, fmt.Errorf("approvals/sqlite: parse event id: %w", err)
	}
	if evt.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("approvals/sqlite: parse event time: %w", err)
	}
	return evt, nil
}

// AckEvent acknowledges an event, marking it as consumed.
func (s *Store) AckEvent(ctx context.Context, eventID id.EventID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE approvals_events SET acked = 1 WHERE id = ?`,
		eventID.String(),
	)
	if err != nil {
		return fmt.Errorf("approvals/sqlite: ack event: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // sqlite always reports affected rows
	if rows == 0 {
		return approvals.ErrEventNotFound
	}
	return nil
}
