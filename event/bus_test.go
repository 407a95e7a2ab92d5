package event_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/approvals/clock"
	"github.com/xraph/approvals/event"
	"github.com/xraph/approvals/id"
	"github.com/xraph/approvals/store/memory"
)

func TestBus_PublishSubscribe(t *testing.T) {
	s := memory.New()
	bus := event.NewBus(s)
	ctx := context.Background()
	runID := id.NewRunID()

	evt, err := bus.Publish(ctx, runID, "ReceiveApprovalResponse", []byte(`true`))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if evt.Name != "ReceiveApprovalResponse" {
		t.Errorf("Name = %q, want %q", evt.Name, "ReceiveApprovalResponse")
	}
	if evt.RunID != runID {
		t.Errorf("RunID = %s, want %s", evt.RunID, runID)
	}

	got, err := bus.Subscribe(ctx, runID, "ReceiveApprovalResponse")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if got.ID != evt.ID {
		t.Errorf("event ID = %s, want %s", got.ID, evt.ID)
	}
	if string(got.Payload) != "true" {
		t.Errorf("Payload = %q, want %q", got.Payload, "true")
	}
}

func TestBus_SubscribeIsScopedToRun(t *testing.T) {
	s := memory.New()
	bus := event.NewBus(s)
	ctx := context.Background()

	other := id.NewRunID()
	if _, err := bus.Publish(ctx, other, "approve", nil); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()

	_, err := bus.Subscribe(ctx, id.NewRunID(), "approve")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
}

func TestBus_SubscribeBlocksUntilPublished(t *testing.T) {
	s := memory.New()
	bus := event.NewBus(s, event.WithPollInterval(time.Millisecond))
	ctx := context.Background()
	runID := id.NewRunID()

	done := make(chan *event.Event, 1)
	go func() {
		evt, err := bus.Subscribe(ctx, runID, "approve")
		if err != nil {
			t.Errorf("Subscribe: %v", err)
		}
		done <- evt
	}()

	time.Sleep(20 * time.Millisecond)
	if _, err := bus.Publish(ctx, runID, "approve", nil); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case evt := <-done:
		if evt == nil {
			t.Fatal("expected event")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Subscribe did not return after publish")
	}
}

func TestBus_Ack(t *testing.T) {
	s := memory.New()
	bus := event.NewBus(s)
	ctx := context.Background()
	runID := id.NewRunID()

	evt, err := bus.Publish(ctx, runID, "ack-test", nil)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if ackErr := bus.Ack(ctx, evt.ID); ackErr != nil {
		t.Fatalf("Ack: %v", ackErr)
	}

	got, ok, err := bus.Source(runID, "ack-test", time.Time{}).Poll(ctx)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if ok || got != nil {
		t.Errorf("expected no event after ack, got %+v", got)
	}
}

func TestBus_PeekReturnsOldest(t *testing.T) {
	s := memory.New()
	bus := event.NewBus(s)
	ctx := context.Background()
	runID := id.NewRunID()

	first, _ := bus.Publish(ctx, runID, "approve", []byte(`false`))
	_, _ = bus.Publish(ctx, runID, "approve", []byte(`true`))

	got, ok, err := bus.Source(runID, "approve", time.Time{}).Poll(ctx)
	if err != nil || !ok {
		t.Fatalf("Poll: ok=%v err=%v", ok, err)
	}
	if got.ID != first.ID {
		t.Errorf("got %s, want oldest %s", got.ID, first.ID)
	}
}

func TestBus_PublishStampsFromClock(t *testing.T) {
	c := clock.NewFake(time.Date(2025, 2, 3, 10, 0, 0, 0, time.UTC))
	bus := event.NewBus(memory.New(), event.WithNow(c.Now))

	c.Advance(3 * time.Minute)
	evt, err := bus.Publish(context.Background(), id.NewRunID(), "approve", nil)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if want := c.Now(); !evt.CreatedAt.Equal(want) {
		t.Errorf("CreatedAt = %v, want %v", evt.CreatedAt, want)
	}
}

func TestSource_IgnoresEventsAfterDeadline(t *testing.T) {
	start := time.Date(2025, 2, 3, 10, 0, 0, 0, time.UTC)
	deadline := start.Add(5 * time.Minute)

	tests := []struct {
		name      string
		publishAt time.Duration
		want      bool
	}{
		{"before deadline", 4 * time.Minute, true},
		{"at deadline", 5 * time.Minute, true},
		{"after deadline", 10 * time.Minute, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := clock.NewFake(start)
			bus := event.NewBus(memory.New(), event.WithNow(c.Now), event.WithPollInterval(time.Millisecond))
			ctx := context.Background()
			runID := id.NewRunID()

			c.Advance(tt.publishAt)
			if _, err := bus.Publish(ctx, runID, "approve", []byte(`true`)); err != nil {
				t.Fatalf("Publish: %v", err)
			}

			src := bus.Source(runID, "approve", deadline)
			_, ok, err := src.Poll(ctx)
			if err != nil {
				t.Fatalf("Poll: %v", err)
			}
			if ok != tt.want {
				t.Errorf("Poll ok = %v, want %v", ok, tt.want)
			}

			rctx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
			defer cancel()
			_, err = src.Receive(rctx)
			if tt.want && err != nil {
				t.Errorf("Receive: %v", err)
			}
			if !tt.want && !errors.Is(err, context.DeadlineExceeded) {
				t.Errorf("Receive err = %v, want DeadlineExceeded", err)
			}
		})
	}
}
