package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/xraph/approvals/approval"
	"github.com/xraph/approvals/id"
	"github.com/xraph/approvals/workflow"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

var epoch = time.Date(2025, 2, 3, 10, 0, 0, 0, time.UTC)

func newTestBroker(opts ...BrokerOption) *Broker {
	return NewBroker(testLogger(), append([]BrokerOption{WithNow(func() time.Time { return epoch })}, opts...)...)
}

func receive(t *testing.T, sub *Subscriber) *Event {
	t.Helper()
	select {
	case evt, ok := <-sub.C():
		if !ok {
			t.Fatal("subscriber channel closed")
		}
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestBrokerSubscribeAndPublish(t *testing.T) {
	t.Parallel()

	b := newTestBroker()
	sub := b.Subscribe("sub-1", TopicWorkflows)

	r := &workflow.Run{ID: id.NewRunID(), Name: approval.WorkflowName}
	if err := b.OnWorkflowStarted(context.Background(), r); err != nil {
		t.Fatalf("OnWorkflowStarted: %v", err)
	}

	evt := receive(t, sub)
	if evt.Type != EventWorkflowStarted {
		t.Errorf("Type = %q, want %q", evt.Type, EventWorkflowStarted)
	}
	if evt.Topic != RunTopic(r.ID.String()) {
		t.Errorf("Topic = %q, want %q", evt.Topic, RunTopic(r.ID.String()))
	}
	if !evt.Timestamp.Equal(epoch) {
		t.Errorf("Timestamp = %v, want %v", evt.Timestamp, epoch)
	}

	var data WorkflowEventData
	if err := json.Unmarshal(evt.Data, &data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if data.RunID != r.ID.String() || data.Name != approval.WorkflowName {
		t.Errorf("data = %+v", data)
	}
}

func TestBrokerRunTopicSequence(t *testing.T) {
	t.Parallel()

	b := newTestBroker()
	r := &workflow.Run{ID: id.NewRunID(), Name: approval.WorkflowName, CustomStatus: approval.StatusApproved}
	runSub := b.Subscribe("run-sub", RunTopic(r.ID.String()))
	other := b.Subscribe("other-sub", RunTopic(id.NewRunID().String()))

	ctx := context.Background()
	_ = b.OnWorkflowStepCompleted(ctx, r, "persist-correlation", 5*time.Millisecond)
	_ = b.OnApprovalDecided(ctx, approval.DecisionEvent{
		InstanceID: r.ID.String(),
		Request:    approval.RequestMetadata{ApplicantID: "alice", ApplicationName: "model.png"},
		State:      approval.StateApproved,
		Status:     approval.StatusApproved,
		DecidedAt:  epoch,
	})
	_ = b.OnWorkflowCompleted(ctx, r, time.Second)

	want := []EventType{EventWorkflowStepCompleted, EventApprovalDecided, EventWorkflowCompleted}
	for _, typ := range want {
		if got := receive(t, runSub).Type; got != typ {
			t.Fatalf("Type = %q, want %q", got, typ)
		}
	}
	if !want[len(want)-1].Terminal() {
		t.Error("workflow.completed should be terminal")
	}

	select {
	case evt := <-other.C():
		t.Fatalf("unexpected event on unrelated run: %+v", evt)
	default:
	}
}

func TestBrokerDecisionPayload(t *testing.T) {
	t.Parallel()

	b := newTestBroker()
	sub := b.Subscribe("decisions", TopicDecisions)

	runID := id.NewRunID().String()
	_ = b.OnApprovalDecided(context.Background(), approval.DecisionEvent{
		InstanceID: runID,
		Request:    approval.RequestMetadata{ApplicantID: "bob", ApplicationName: "a.png", ApprovalType: "FurryModel"},
		State:      approval.StateTimedOut,
		Status:     approval.StatusTimedOut,
		DecidedAt:  epoch,
	})

	var data DecisionEventData
	if err := json.Unmarshal(receive(t, sub).Data, &data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if data.InstanceID != runID || data.State != string(approval.StateTimedOut) || data.Status != approval.StatusTimedOut {
		t.Errorf("data = %+v", data)
	}
}

func TestBrokerWorkflowFailedCarriesError(t *testing.T) {
	t.Parallel()

	b := newTestBroker()
	sub := b.Subscribe("fh", TopicFirehose)

	r := &workflow.Run{ID: id.NewRunID(), Name: approval.WorkflowName}
	_ = b.OnWorkflowFailed(context.Background(), r, errors.New("invalid signal payload"))

	evt := receive(t, sub)
	var data WorkflowEventData
	if err := json.Unmarshal(evt.Data, &data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !evt.Type.Terminal() || data.Error != "invalid signal payload" {
		t.Errorf("evt = %+v data = %+v", evt, data)
	}
}

func TestBrokerRemoveSubscriber(t *testing.T) {
	t.Parallel()

	b := newTestBroker()
	sub := b.Subscribe("sub-1", TopicWorkflows, TopicFirehose)
	b.RemoveSubscriber("sub-1")

	if _, ok := <-sub.C(); ok {
		t.Error("expected closed channel after RemoveSubscriber")
	}
	if n := b.topics.TopicCount(); n != 0 {
		t.Errorf("TopicCount = %d, want 0", n)
	}

	// Publishing after removal must not panic.
	_ = b.OnWorkflowStarted(context.Background(), &workflow.Run{ID: id.NewRunID()})
}

func TestBrokerStats(t *testing.T) {
	t.Parallel()

	b := newTestBroker()
	b.Subscribe("a", TopicFirehose)
	b.Subscribe("b", TopicWorkflows, TopicFirehose)

	_ = b.OnWorkflowStarted(context.Background(), &workflow.Run{ID: id.NewRunID()})

	stats := b.Stats()
	if stats.SubscriberCount != 2 {
		t.Errorf("SubscriberCount = %d, want 2", stats.SubscriberCount)
	}
	if stats.TopicCount != 2 {
		t.Errorf("TopicCount = %d, want 2", stats.TopicCount)
	}
	if stats.TotalPublished != 2 {
		t.Errorf("TotalPublished = %d, want 2", stats.TotalPublished)
	}
}

func TestBrokerShutdownClosesSubscribers(t *testing.T) {
	t.Parallel()

	b := newTestBroker()
	sub := b.Subscribe("sub-1", TopicFirehose)

	if err := b.OnShutdown(context.Background()); err != nil {
		t.Fatalf("OnShutdown: %v", err)
	}
	if _, ok := <-sub.C(); ok {
		t.Error("expected closed channel after shutdown")
	}
	if got := b.Stats().SubscriberCount; got != 0 {
		t.Errorf("SubscriberCount = %d, want 0", got)
	}
}

func TestSubscriberDropsOnFullBuffer(t *testing.T) {
	t.Parallel()

	b := newTestBroker(WithBufferSize(1))
	sub := b.Subscribe("slow", TopicFirehose)

	r := &workflow.Run{ID: id.NewRunID()}
	_ = b.OnWorkflowStarted(context.Background(), r)
	_ = b.OnWorkflowStepCompleted(context.Background(), r, "s", 0)

	if got := sub.Dropped(); got != 1 {
		t.Errorf("Dropped = %d, want 1", got)
	}
	if got := receive(t, sub).Type; got != EventWorkflowStarted {
		t.Errorf("Type = %q, want first event kept", got)
	}
}

func TestTopicValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		topic   string
		wantErr bool
	}{
		{TopicWorkflows, false},
		{TopicDecisions, false},
		{TopicFirehose, false},
		{"run:wfrun_01h455vb4pex5vsknk084sn02q", false},
		{"run:", true},
		{"job:abc", true},
		{"invalid", true},
		{"", true},
	}
	for _, tt := range tests {
		err := ValidateTopic(tt.topic)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateTopic(%q) error = %v, wantErr %v", tt.topic, err, tt.wantErr)
		}
	}
}

func TestBroadcastDeduplication(t *testing.T) {
	t.Parallel()

	tr := NewTopicRegistry()
	sub := NewSubscriber("s1", 10)
	tr.Subscribe(TopicFirehose, sub)
	tr.Subscribe(TopicWorkflows, sub)

	delivered := tr.Broadcast([]string{TopicFirehose, TopicWorkflows}, &Event{Type: EventWorkflowStarted})
	if delivered != 1 {
		t.Errorf("delivered = %d, want 1 (deduplicated)", delivered)
	}
	if got := tr.SubscriberCount(TopicWorkflows); got != 1 {
		t.Errorf("SubscriberCount = %d, want 1", got)
	}
}

func TestResolveTopics(t *testing.T) {
	t.Parallel()

	tests := []struct {
		evt  *Event
		want []string
	}{
		{&Event{Type: EventWorkflowStarted, Topic: "run:x"}, []string{TopicFirehose, TopicWorkflows, "run:x"}},
		{&Event{Type: EventApprovalDecided, Topic: "run:x"}, []string{TopicFirehose, TopicDecisions, "run:x"}},
		{&Event{Type: EventWorkflowFailed}, []string{TopicFirehose, TopicWorkflows}},
	}
	for _, tt := range tests {
		got := resolveTopics(tt.evt)
		if len(got) != len(tt.want) {
			t.Errorf("resolveTopics(%q) = %v, want %v", tt.evt.Type, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("resolveTopics(%q)[%d] = %q, want %q", tt.evt.Type, i, got[i], tt.want[i])
			}
		}
	}
}
