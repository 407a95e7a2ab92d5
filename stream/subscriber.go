package stream

import (
	"sync"
	"sync/atomic"
)

// Subscriber receives events from the topics it is on. Delivery never
// blocks the publisher: when the buffer is full the event is dropped
// and counted.
type Subscriber struct {
	id string
	ch chan *Event

	topics map[string]struct{}
	mu     sync.RWMutex

	dropped atomic.Int64
	closed  atomic.Bool
	// sendMu orders send against Close so a send never hits a closed channel.
	sendMu sync.RWMutex
}

// NewSubscriber creates a subscriber with the given buffer size.
func NewSubscriber(id string, bufferSize int) *Subscriber {
	return &Subscriber{
		id:     id,
		ch:     make(chan *Event, bufferSize),
		topics: make(map[string]struct{}),
	}
}

// ID returns the subscriber identifier.
func (s *Subscriber) ID() string { return s.id }

// C returns the read-only event channel. It is closed when the
// subscriber is removed or the broker shuts down.
func (s *Subscriber) C() <-chan *Event { return s.ch }

// Dropped returns how many events were discarded on a full buffer.
func (s *Subscriber) Dropped() int64 { return s.dropped.Load() }

func (s *Subscriber) addTopic(topic string) {
	s.mu.Lock()
	s.topics[topic] = struct{}{}
	s.mu.Unlock()
}

func (s *Subscriber) removeTopic(topic string) {
	s.mu.Lock()
	delete(s.topics, topic)
	s.mu.Unlock()
}

// Topics returns a copy of all subscribed topic names.
func (s *Subscriber) Topics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.topics))
	for t := range s.topics {
		out = append(out, t)
	}
	return out
}

// send delivers evt without blocking. It reports false when the
// subscriber is closed or its buffer is full.
func (s *Subscriber) send(evt *Event) bool {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed.Load() {
		return false
	}
	select {
	case s.ch <- evt:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Close closes the subscriber channel. Safe to call multiple times.
func (s *Subscriber) Close() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}
