package glopruntime

import (
	"github.com/glop/glop/internal/glopast"
	pkgerr "github.com/glop/glop/pkg/errors"
)

// State owns one agent's committed Storage and produces Transactions
// from compiled Matches. State does no locking of its own; an Agent
// must serialize Eval/Commit pairs (only one Transaction may be
// in-flight against a State at a time).
type State struct {
	storage *Storage
}

// NewState wraps storage in a State.
func NewState(storage *Storage) *State {
	return &State{storage: storage}
}

// Storage returns the committed Storage.
func (s *State) Storage() *Storage { return s.storage }

// Eval checks whether m's conditions are satisfied against the
// currently committed Storage and, if so, returns a Transaction ready
// for Apply. Conditions are checked left to right; a Message
// condition peeks (does not pop) the head payload on its topic and
// binds it into the Transaction's working Context so later conditions
// and actions in the same attempt can reference it. Eval returns
// (nil, false) on an unmatched attempt — this is not an error, just a
// miss.
func (s *State) Eval(m Match) (*Transaction, bool) {
	ctx := newContext(s.storage.vars)

	for _, c := range m.Conditions {
		switch c.Kind {
		case glopast.CondMessage:
			payload, ok := s.storage.PeekMsg(c.Topic)
			if !ok {
				return nil, false
			}
			ctx.msgs[c.Topic] = payload

		case glopast.CondCmp:
			// Absent is not "not equal to anything" — it fails Eq
			// and NotEq alike.
			v, ok := resolve(c.Ident, ctx.vars, ctx.msgs)
			if !ok {
				return nil, false
			}
			eq := v.Equal(c.RHS)
			switch c.Op {
			case glopast.CmpEq:
				if !eq {
					return nil, false
				}
			case glopast.CmpNotEq:
				if eq {
					return nil, false
				}
			}

		case glopast.CondIsSet:
			if _, ok := resolve(c.Ident, ctx.vars, ctx.msgs); !ok {
				return nil, false
			}
		}
	}

	return &Transaction{
		Seq:            s.storage.seq,
		match:          m,
		ctx:            ctx,
		consumedTopics: make(map[string]struct{}),
	}, true
}

// Commit atomically replaces Storage's vars with the Transaction's
// working copy, pops the head message on every topic consumed this
// attempt (every Message condition's topic, plus every Acknowledge
// action's topic), and advances the commit sequence. Commit must only
// be called on a Transaction whose Apply returned nil; it does not
// re-validate actions.
func (s *State) Commit(t *Transaction) error {
	if t == nil {
		return pkgerr.New("glopruntime.State.Commit", "nil transaction")
	}

	for _, c := range t.match.Conditions {
		if c.Kind == glopast.CondMessage {
			t.consumedTopics[c.Topic] = struct{}{}
		}
	}

	s.storage.vars = t.ctx.vars
	for topic := range t.consumedTopics {
		s.storage.PopMsg(topic)
	}
	s.storage.seq++

	return nil
}
