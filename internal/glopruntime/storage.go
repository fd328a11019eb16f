// Package glopruntime implements the rule-matching engine: committed
// agent state (Storage), the compiled rule representation (Match), the
// per-attempt evaluation Context, and the Transaction that stages a
// matched rule's effects until commit.
package glopruntime

import "github.com/glop/glop/internal/glopvalue"

// Storage is one agent's committed state: variables plus per-topic
// FIFO message queues and a monotonically increasing commit counter.
// Storage itself does no locking — synchronization is the owning
// agent's responsibility (it is the sole writer).
type Storage struct {
	vars glopvalue.Object
	msgs map[string][]glopvalue.Object
	seq  int64
}

// NewStorage returns an empty Storage with seq = 0.
func NewStorage() *Storage {
	return &Storage{
		vars: glopvalue.NewObject(),
		msgs: make(map[string][]glopvalue.Object),
	}
}

// PushMsg appends payload to the tail of topic's queue.
func (s *Storage) PushMsg(topic string, payload glopvalue.Object) {
	s.msgs[topic] = append(s.msgs[topic], payload)
}

// PopMsg removes and returns the head payload on topic, if any. An
// empty queue is dropped from the map.
func (s *Storage) PopMsg(topic string) (glopvalue.Object, bool) {
	q := s.msgs[topic]
	if len(q) == 0 {
		return nil, false
	}
	head := q[0]
	if len(q) == 1 {
		delete(s.msgs, topic)
	} else {
		s.msgs[topic] = q[1:]
	}
	return head, true
}

// PeekMsg returns the head payload on topic without removing it.
func (s *Storage) PeekMsg(topic string) (glopvalue.Object, bool) {
	q := s.msgs[topic]
	if len(q) == 0 {
		return nil, false
	}
	return q[0], true
}

// Vars returns the committed variable tree. Callers must not mutate it
// directly; go through a Transaction.
func (s *Storage) Vars() glopvalue.Object { return s.vars }

// Seq returns the current commit sequence number.
func (s *Storage) Seq() int64 { return s.seq }
