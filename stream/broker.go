package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/approvals/approval"
	"github.com/xraph/approvals/ext"
	"github.com/xraph/approvals/workflow"
)

// Compile-time interface checks.
var (
	_ ext.Extension             = (*Broker)(nil)
	_ ext.WorkflowStarted       = (*Broker)(nil)
	_ ext.WorkflowStepCompleted = (*Broker)(nil)
	_ ext.WorkflowStepFailed    = (*Broker)(nil)
	_ ext.WorkflowCompleted     = (*Broker)(nil)
	_ ext.WorkflowFailed        = (*Broker)(nil)
	_ ext.ApprovalDecided       = (*Broker)(nil)
	_ ext.Shutdown              = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 64

// Broker receives lifecycle hooks and fans them out to subscribers.
type Broker struct {
	topics *TopicRegistry
	logger *slog.Logger
	now    func() time.Time

	subscribers sync.Map // subscriberID → *Subscriber

	totalPublished atomic.Int64

	bufferSize int
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// WithNow sets the time source for event timestamps.
func WithNow(now func() time.Time) BrokerOption {
	return func(b *Broker) { b.now = now }
}

// NewBroker creates a new stream broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	b := &Broker{
		topics:     NewTopicRegistry(),
		logger:     logger,
		now:        time.Now,
		bufferSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements ext.Extension.
func (b *Broker) Name() string { return "stream-broker" }

// Subscribe creates a new subscriber on the given topics.
func (b *Broker) Subscribe(subscriberID string, topics ...string) *Subscriber {
	sub := NewSubscriber(subscriberID, b.bufferSize)
	b.subscribers.Store(subscriberID, sub)
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return sub
}

// RemoveSubscriber removes a subscriber from all topics and closes it.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	b.topics.UnsubscribeAll(subscriberID)
	if val, ok := b.subscribers.LoadAndDelete(subscriberID); ok {
		val.(*Subscriber).Close() //nolint:errcheck // sync.Map always stores *Subscriber
	}
}

// Stats returns broker statistics.
func (b *Broker) Stats() BrokerStats {
	count := 0
	b.subscribers.Range(func(_, _ any) bool {
		count++
		return true
	})
	return BrokerStats{
		TopicCount:      b.topics.TopicCount(),
		SubscriberCount: count,
		TotalPublished:  b.totalPublished.Load(),
	}
}

// BrokerStats contains broker metrics.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
}

func (b *Broker) publish(evt *Event) {
	delivered := b.topics.Broadcast(resolveTopics(evt), evt)
	b.totalPublished.Add(int64(delivered))
}

func (b *Broker) publishRun(typ EventType, r *workflow.Run, data WorkflowEventData) {
	data.RunID = r.ID.String()
	data.Name = r.Name
	b.publish(&Event{
		Type:      typ,
		Timestamp: b.now().UTC(),
		Topic:     RunTopic(data.RunID),
		Data:      mustMarshal(data),
	})
}

// mustMarshal marshals data to JSON, panicking on error (programming error).
func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic("stream: marshal event data: " + err.Error())
	}
	return data
}

// ── Workflow lifecycle hooks ────────────────────────

func (b *Broker) OnWorkflowStarted(_ context.Context, r *workflow.Run) error {
	b.publishRun(EventWorkflowStarted, r, WorkflowEventData{})
	return nil
}

func (b *Broker) OnWorkflowStepCompleted(_ context.Context, r *workflow.Run, stepName string, elapsed time.Duration) error {
	b.publishRun(EventWorkflowStepCompleted, r, WorkflowEventData{
		StepName:  stepName,
		ElapsedMs: elapsed.Milliseconds(),
	})
	return nil
}

func (b *Broker) OnWorkflowStepFailed(_ context.Context, r *workflow.Run, stepName string, stepErr error) error {
	b.publishRun(EventWorkflowStepFailed, r, WorkflowEventData{
		StepName: stepName,
		Error:    stepErr.Error(),
	})
	return nil
}

func (b *Broker) OnWorkflowCompleted(_ context.Context, r *workflow.Run, elapsed time.Duration) error {
	b.publishRun(EventWorkflowCompleted, r, WorkflowEventData{
		CustomStatus: r.CustomStatus,
		ElapsedMs:    elapsed.Milliseconds(),
	})
	return nil
}

func (b *Broker) OnWorkflowFailed(_ context.Context, r *workflow.Run, runErr error) error {
	b.publishRun(EventWorkflowFailed, r, WorkflowEventData{
		CustomStatus: r.CustomStatus,
		Error:        runErr.Error(),
	})
	return nil
}

// ── Approval hooks ──────────────────────────────────

func (b *Broker) OnApprovalDecided(_ context.Context, evt approval.DecisionEvent) error {
	b.publish(&Event{
		Type:      EventApprovalDecided,
		Timestamp: b.now().UTC(),
		Topic:     RunTopic(evt.InstanceID),
		Data: mustMarshal(DecisionEventData{
			InstanceID:      evt.InstanceID,
			ApplicantID:     evt.Request.ApplicantID,
			ApplicationName: evt.Request.ApplicationName,
			ApprovalType:    evt.Request.ApprovalType,
			State:           string(evt.State),
			Status:          evt.Status,
			DecidedAt:       evt.DecidedAt,
		}),
	})
	return nil
}

// ── Shutdown ────────────────────────────────────────

func (b *Broker) OnShutdown(_ context.Context) error {
	b.subscribers.Range(func(key, value any) bool {
		b.topics.UnsubscribeAll(key.(string)) //nolint:errcheck // keys are subscriber ids
		value.(*Subscriber).Close()           //nolint:errcheck // sync.Map always stores *Subscriber
		b.subscribers.Delete(key)
		return true
	})
	b.logger.Info("stream broker shut down")
	return nil
}
