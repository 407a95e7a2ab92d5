package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/approvals"
	"github.com/xraph/approvals/event"
	"github.com/xraph/approvals/id"
)

// PublishEvent persists a new event and queues it for its run.
func (s *Store) PublishEvent(ctx context.Context, evt *event.Event) error {
	eID := evt.ID.String()
	rID := evt.RunID.String()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.keys.event(eID),
		"id", eID,
		"run_id", rID,
		"name", evt.Name,
		"payload", string(evt.Payload),
		"acked", "0",
		"created_at", evt.CreatedAt.Format(time.RFC3339Nano),
	)
	pipe.RPush(ctx, s.keys.pending(rID, evt.Name), eID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("approvals/redis: publish event: %w", err)
	}
	return nil
}

// PeekEvent returns the oldest unacked event for runID and name.
func (s *Store) PeekEvent(ctx context.Context, runID id.RunID, name string) (*event.Event, error) {
	ids, err := s.client.LRange(ctx, s.keys.pending(runID.String(), name), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("approvals/redis: peek event: %w", err)
	}

	for _, eID := range ids {
		vals, hErr := s.client.HGetAll(ctx, s.keys.event(eID)).Result()
		if hErr != nil {
			return nil, fmt.Errorf("approvals/redis: peek event get: %w", hErr)
		}
		if len(vals) == 0 || vals["acked"] == "1" {
			continue
		}
		return mapToEvent(vals)
	}
	return nil, nil
}

// AckEvent acknowledges an event, marking it as consumed and removing it
// from its run's pending list.
func (s *Store) AckEvent(ctx context.Context, eventID id.EventID) error {
	key := s.keys.event(eventID.String())

	vals, err := s.client.HMGet(ctx, key, "run_id", "name").Result()
	if err != nil {
		return fmt.Errorf("approvals/redis: ack event get: %w", err)
	}
	rID, ok1 := vals[0].(string)
	name, ok2 := vals[1].(string)
	if !ok1 || !ok2 {
		return approvals.ErrEventNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, "acked", "1")
	pipe.LRem(ctx, s.keys.pending(rID, name), 0, eventID.String())
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("approvals/redis: ack event: %w", err)
	}
	return nil
}

func mapToEvent(m map[string]string) (*event.Event, error) {
	eID, err := id.ParseEventID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("approvals/redis: parse event id: %w", err)
	}
	rID, err := id.ParseRunID(m["run_id"])
	if err != nil {
		return nil, fmt.Errorf("approvals/redis: parse event run id: %w", err)
	}

	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	evt := &event.Event{
		ID:        eID,
		RunID:     rID,
		Name:      m["name"],
		Payload:   []byte(m["payload"]),
		Acked:     m["acked"] == "1",
		CreatedAt: createdAt,
	}
	if len(evt.Payload) == 0 {
		evt.Payload = nil
	}
	return evt, nil
}
