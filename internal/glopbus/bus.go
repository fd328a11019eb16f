// Package glopbus provides an in-process pub/sub event bus that feeds
// the admin WebSocket tail: every committed transaction and script
// exec result is published here for any number of subscribers (the
// WS handler, a future SSE surface) to fan out independently of the
// agent loop that produced the event.
package glopbus

import (
	"sync"
	"time"
)

// Event is one agent-runtime occurrence: a committed transaction or a
// script action's outcome.
type Event struct {
	Topic     string    `json:"topic"`      // committed / script
	Agent     string    `json:"agent"`      // originating agent name
	RuleIndex int       `json:"rule_index"` // M[i] that fired
	Seq       int64     `json:"seq"`        // Storage.Seq() after commit
	Consumed  []string  `json:"consumed"`   // topics popped by this commit
	ExitCode  int       `json:"exit_code,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	BusSeq    int64     `json:"bus_seq"` // global publish sequence
}

// Event topic constants.
const (
	TopicCommitted = "committed"
	TopicScript    = "script"

	// TopicAll matches every event regardless of its own Topic.
	TopicAll = "*"
)

// Subscriber receives every Event whose Topic matches Filter.
type Subscriber struct {
	ID     string
	Filter string
	Ch     chan Event
}

// Bus is a process-local pub/sub fan-out. A subscriber's Filter matches
// an Event's Topic exactly; "*" or "" matches every topic.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	seq         int64
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{subscribers: make(map[string]*Subscriber)}
}

// Publish stamps ev with the next bus sequence and timestamp, then
// fans it out to every subscriber whose Filter matches ev.Topic.
// Sequence assignment and fan-out happen under the same lock so
// subscribers observe events in publish order. A subscriber whose
// channel is full drops the event rather than blocking the publisher.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	ev.BusSeq = b.seq
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	for _, sub := range b.subscribers {
		if matchTopic(sub.Filter, ev.Topic) {
			select {
			case sub.Ch <- ev:
			default:
			}
		}
	}
}

// Subscribe registers a subscriber under id, filtered to topics
// matching filter ("committed", "script", or "*" for everything).
func (b *Bus) Subscribe(id, filter string) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscriber{ID: id, Filter: filter, Ch: make(chan Event, 64)}
	b.subscribers[id] = sub
	return sub
}

// Unsubscribe removes id's subscription and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[id]; ok {
		close(sub.Ch)
		delete(b.subscribers, id)
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

func matchTopic(filter, topic string) bool {
	if filter == TopicAll || filter == "" {
		return true
	}
	return topic == filter
}
