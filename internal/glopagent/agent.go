// Package glopagent schedules one running agent: a committed Storage,
// its compiled rule list, and a mailbox of inbound envelopes from the
// supervisor. Each tick drains the mailbox, attempts one rule in
// round-robin order, and — on a match — applies and commits its
// Transaction.
package glopagent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/glop/glop/internal/glopast"
	"github.com/glop/glop/internal/glopbus"
	"github.com/glop/glop/internal/glopruntime"
	"github.com/glop/glop/internal/glopvalue"
	pkgerr "github.com/glop/glop/pkg/errors"
	"github.com/glop/glop/pkg/logger"
)

// Envelope is an inter-agent message: destination agent name, topic,
// and payload. The supervisor resolves Dst to an Agent's Inbox before
// sending; the Agent itself never sees Dst.
type Envelope struct {
	Dst      string
	Topic    string
	Contents glopvalue.Object
}

// Agent owns one Storage, a compiled Match list, and a mailbox. Run
// drives its scheduling loop until ctx is cancelled or the mailbox is
// closed; it is meant to be launched on its own goroutine, one per
// agent, by the supervisor.
type Agent struct {
	Name string

	storage       *glopruntime.Storage
	state         *glopruntime.State
	matches       []glopruntime.Match
	runner        glopruntime.ScriptRunner
	scriptTimeout time.Duration
	bus           *glopbus.Bus
	metrics       Metrics

	inbox chan Envelope
	idx   int

	// snapMu guards commit against Snapshot: the admin surface reads
	// committed state from its own goroutines while this agent runs.
	snapMu sync.Mutex
}

// Option configures an Agent at construction.
type Option func(*Agent)

// WithScriptTimeout bounds every Script action's subprocess lifetime.
// Zero (the default) means no additional deadline beyond ctx.
func WithScriptTimeout(d time.Duration) Option {
	return func(a *Agent) { a.scriptTimeout = d }
}

// WithBus publishes a glopbus.Event for the admin WebSocket tail: a
// committed event after every commit and a script event whenever a
// matched rule's Apply fails. A tick whose rule does not match
// publishes nothing.
func WithBus(b *glopbus.Bus) Option {
	return func(a *Agent) { a.bus = b }
}

// Metrics receives tick/commit/script occurrences for the admin
// Prometheus surface. glopmetrics.Recorder implements this; a nil
// Metrics (the default) disables recording entirely so tests never
// need a Prometheus registry.
type Metrics interface {
	ObserveTick(agent string)
	ObserveCommit(agent string, seq int64)
	ObserveScript(agent string, success bool, d time.Duration)
}

// WithMetrics wires m to receive every tick/commit/script occurrence.
func WithMetrics(m Metrics) Option {
	return func(a *Agent) { a.metrics = m }
}

// New builds an Agent over storage and matches, with mailbox capacity
// mailboxCap. runner executes Script actions; a nil runner is valid
// for programs with no Script actions (Apply returns an error the
// first time one is attempted).
func New(name string, storage *glopruntime.Storage, matches []glopruntime.Match, runner glopruntime.ScriptRunner, mailboxCap int, opts ...Option) *Agent {
	a := &Agent{
		Name:    name,
		storage: storage,
		state:   glopruntime.NewState(storage),
		matches: matches,
		runner:  runner,
		inbox:   make(chan Envelope, mailboxCap),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Inbox returns the send side of the agent's mailbox. Closing it — or
// cancelling Run's context, which the supervisor does on Remove —
// terminates the agent.
func (a *Agent) Inbox() chan<- Envelope { return a.inbox }

// Storage exposes the committed state. Only the goroutine driving this
// agent may use it; any other goroutine goes through Snapshot.
func (a *Agent) Storage() *glopruntime.Storage { return a.storage }

// Snapshot returns the committed sequence number and a deep copy of the
// committed variable tree, safe to call from any goroutine (the admin
// HTTP surface, a test polling for a commit).
func (a *Agent) Snapshot() (seq int64, vars glopvalue.Object) {
	a.snapMu.Lock()
	defer a.snapMu.Unlock()
	return a.storage.Seq(), a.storage.Vars().Clone()
}

// Run drives the agent's scheduling loop until ctx is cancelled or
// the mailbox is closed. Each iteration: drain the mailbox
// non-blocking, attempt one rule in round-robin order, and — only if
// that rule committed or the drain moved a message — loop immediately
// rather than parking, since there is likely more work. The agent
// re-arms itself after a successful commit, not after every miss; an
// idle agent (no mailbox traffic, last rule a miss or a rolled-back
// transaction) parks on the mailbox until the next envelope or
// cancellation, rather than busy-spinning State.Eval.
func (a *Agent) Run(ctx context.Context) {
	for {
		drained, closed := a.drainInbox()
		if closed {
			return
		}
		if len(a.matches) == 0 {
			return
		}

		committed := a.tick(ctx)
		if committed || drained {
			select {
			case <-ctx.Done():
				return
			default:
				continue
			}
		}

		select {
		case env, ok := <-a.inbox:
			if !ok {
				return
			}
			a.storage.PushMsg(env.Topic, env.Contents)
		case <-ctx.Done():
			return
		}
	}
}

// drainInbox pushes every immediately-available envelope onto
// Storage without blocking. closed reports whether the mailbox was
// observed closed (end-of-stream), the agent's termination signal.
func (a *Agent) drainInbox() (drained, closed bool) {
	for {
		select {
		case env, ok := <-a.inbox:
			if !ok {
				return drained, true
			}
			a.storage.PushMsg(env.Topic, env.Contents)
			drained = true
		default:
			return drained, false
		}
	}
}

// tick attempts M[idx mod N], advancing idx regardless of outcome. It
// reports whether that attempt committed a Transaction — not merely
// whether a rule was attempted — so Run only keeps spinning when there
// is actually more work to do.
func (a *Agent) tick(ctx context.Context) bool {
	n := len(a.matches)
	i := a.idx % n
	a.idx++

	m := a.matches[i]
	if a.metrics != nil {
		a.metrics.ObserveTick(a.Name)
	}
	txn, ok := a.state.Eval(m)
	if !ok {
		return false
	}

	applyCtx := ctx
	if a.scriptTimeout > 0 {
		var cancel context.CancelFunc
		applyCtx, cancel = context.WithTimeout(ctx, a.scriptTimeout)
		defer cancel()
	}

	runsScript := hasScript(m)
	applyStart := time.Now()
	err := txn.Apply(applyCtx, a.runner)
	if runsScript && a.metrics != nil {
		a.metrics.ObserveScript(a.Name, err == nil, time.Since(applyStart))
	}
	if err != nil {
		logger.Warn("glopagent: transaction rolled back",
			logger.FieldAgentName, a.Name,
			logger.FieldRuleIndex, i,
			logger.FieldError, err,
		)
		a.publish(glopbus.Event{
			Topic:     glopbus.TopicScript,
			Agent:     a.Name,
			RuleIndex: i,
			Seq:       a.storage.Seq(),
			ExitCode:  execExitCode(err),
		})
		return false
	}

	a.snapMu.Lock()
	err = a.state.Commit(txn)
	a.snapMu.Unlock()
	if err != nil {
		logger.Error("glopagent: commit failed",
			logger.FieldAgentName, a.Name,
			logger.FieldRuleIndex, i,
			logger.FieldError, err,
		)
		return false
	}
	if a.metrics != nil {
		a.metrics.ObserveCommit(a.Name, a.storage.Seq())
	}

	logger.Debug("glopagent: rule committed",
		logger.FieldAgentName, a.Name,
		logger.FieldRuleIndex, i,
		logger.FieldSeq, a.storage.Seq(),
	)
	a.publish(glopbus.Event{
		Topic:     glopbus.TopicCommitted,
		Agent:     a.Name,
		RuleIndex: i,
		Seq:       a.storage.Seq(),
		Consumed:  txn.ConsumedTopics(),
	})
	return true
}

func (a *Agent) publish(ev glopbus.Event) {
	if a.bus != nil {
		a.bus.Publish(ev)
	}
}

func hasScript(m glopruntime.Match) bool {
	for _, act := range m.Actions {
		if act.Kind == glopast.ActScript {
			return true
		}
	}
	return false
}

func execExitCode(err error) int {
	var execErr *pkgerr.ExecError
	if errors.As(err, &execErr) {
		return execErr.ExitCode
	}
	return -1
}
