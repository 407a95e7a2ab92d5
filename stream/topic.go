package stream

import (
	"fmt"
	"strings"
	"sync"
)

// Topic names follow a pattern:
//
//	run:<runID>   events for one approval instance
//	workflows     all workflow lifecycle events
//	decisions     all approval decisions
//	firehose      everything
const (
	TopicWorkflows = "workflows"
	TopicDecisions = "decisions"
	TopicFirehose  = "firehose"
)

// RunTopic returns the topic name for a specific run.
func RunTopic(runID string) string { return "run:" + runID }

// TopicRegistry manages subscriber sets per topic.
// It is safe for concurrent use.
type TopicRegistry struct {
	mu     sync.RWMutex
	topics map[string]map[string]*Subscriber // topic → subscriberID → subscriber
}

// NewTopicRegistry creates an empty topic registry.
func NewTopicRegistry() *TopicRegistry {
	return &TopicRegistry{topics: make(map[string]map[string]*Subscriber)}
}

// Subscribe adds a subscriber to a topic.
func (tr *TopicRegistry) Subscribe(topic string, sub *Subscriber) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	subs, ok := tr.topics[topic]
	if !ok {
		subs = make(map[string]*Subscriber)
		tr.topics[topic] = subs
	}
	subs[sub.ID()] = sub
	sub.addTopic(topic)
}

// UnsubscribeAll removes a subscriber from all topics and drops empty ones.
func (tr *TopicRegistry) UnsubscribeAll(subscriberID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	for topic, subs := range tr.topics {
		if sub, ok := subs[subscriberID]; ok {
			sub.removeTopic(topic)
			delete(subs, subscriberID)
		}
		if len(subs) == 0 {
			delete(tr.topics, topic)
		}
	}
}

// Broadcast sends an event to all subscribers on the listed topics,
// once per subscriber. It returns the number of deliveries.
func (tr *TopicRegistry) Broadcast(topics []string, evt *Event) int {
	tr.mu.RLock()
	seen := make(map[string]*Subscriber)
	for _, topic := range topics {
		for id, sub := range tr.topics[topic] {
			seen[id] = sub
		}
	}
	tr.mu.RUnlock()

	delivered := 0
	for _, sub := range seen {
		if sub.send(evt) {
			delivered++
		}
	}
	return delivered
}

// TopicCount returns the number of active topics.
func (tr *TopicRegistry) TopicCount() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.topics)
}

// SubscriberCount returns the number of subscribers on a topic.
func (tr *TopicRegistry) SubscriberCount(topic string) int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.topics[topic])
}

// resolveTopics returns every topic evt is published to.
func resolveTopics(evt *Event) []string {
	topics := []string{TopicFirehose}
	if evt.Type == EventApprovalDecided {
		topics = append(topics, TopicDecisions)
	} else if strings.HasPrefix(string(evt.Type), "workflow.") {
		topics = append(topics, TopicWorkflows)
	}
	if evt.Topic != "" {
		topics = append(topics, evt.Topic)
	}
	return topics
}

// ValidateTopic checks whether a topic string is valid.
func ValidateTopic(topic string) error {
	switch topic {
	case TopicWorkflows, TopicDecisions, TopicFirehose:
		return nil
	}
	kind, runID, ok := strings.Cut(topic, ":")
	if !ok || kind != "run" || runID == "" {
		return fmt.Errorf("stream: invalid topic %q", topic)
	}
	return nil
}
