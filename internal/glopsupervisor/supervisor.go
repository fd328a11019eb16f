// Package glopsupervisor owns the name → running-agent registry: Add
// compiles glop source and launches an agent goroutine, Remove stops
// one, List enumerates the running set, and SendTo delivers an
// envelope into a named agent's mailbox. The registry lock is held
// only across map operations, never across I/O.
package glopsupervisor

import (
	"context"
	"sync"
	"time"

	"github.com/glop/glop/internal/glopagent"
	"github.com/glop/glop/internal/glopast"
	"github.com/glop/glop/internal/glopbus"
	"github.com/glop/glop/internal/glopruntime"
	pkgerr "github.com/glop/glop/pkg/errors"
	"github.com/glop/glop/pkg/logger"
	"github.com/glop/glop/pkg/util"
)

// Parser turns glop source text into an AST. Supervisor depends on this
// narrow interface rather than a concrete package so a caller can
// swap in a pre-parsed-AST source (e.g. a test fixture) without
// going through source text at all.
type Parser interface {
	Parse(src string) (glopast.Program, error)
}

// ParserFunc adapts a function to Parser.
type ParserFunc func(src string) (glopast.Program, error)

// Parse implements Parser.
func (f ParserFunc) Parse(src string) (glopast.Program, error) { return f(src) }

type entry struct {
	agent  *glopagent.Agent
	cancel context.CancelFunc
}

// Supervisor is the name → running-agent registry for one glopd
// process. Zero value is not usable; build with New.
type Supervisor struct {
	parser Parser
	bus    *glopbus.Bus

	mailboxCap    int
	scriptTimeout time.Duration
	runner        glopruntime.ScriptRunner
	metrics       glopagent.Metrics

	mu      sync.Mutex
	entries map[string]entry
}

// Option configures a Supervisor at construction.
type Option func(*Supervisor)

// WithBus attaches a glopbus.Bus every spawned agent publishes
// committed/script events to.
func WithBus(b *glopbus.Bus) Option {
	return func(s *Supervisor) { s.bus = b }
}

// WithMailboxCapacity bounds each agent's inbox channel. Zero (the
// default) means unbuffered.
func WithMailboxCapacity(n int) Option {
	return func(s *Supervisor) { s.mailboxCap = n }
}

// WithScriptTimeout bounds every spawned agent's Script actions, per
// agent, via glopagent.WithScriptTimeout.
func WithScriptTimeout(d time.Duration) Option {
	return func(s *Supervisor) { s.scriptTimeout = d }
}

// WithMetrics wires m into every agent this Supervisor spawns, via
// glopagent.WithMetrics.
func WithMetrics(m glopagent.Metrics) Option {
	return func(s *Supervisor) { s.metrics = m }
}

// New builds a Supervisor. parser compiles glop source text for Add;
// runner executes Script actions for every agent it spawns.
func New(parser Parser, runner glopruntime.ScriptRunner, opts ...Option) *Supervisor {
	s := &Supervisor{
		parser:  parser,
		runner:  runner,
		entries: make(map[string]entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add parses source, compiles it, and launches a new agent named
// name on its own goroutine. Re-adding an existing name silently
// replaces it; the prior agent is stopped first.
func (s *Supervisor) Add(ctx context.Context, name, source string) error {
	prog, err := s.parser.Parse(source)
	if err != nil {
		return pkgerr.Wrap(err, "glopsupervisor.Add", "parse "+name)
	}
	matches, err := glopruntime.CompileProgram(prog)
	if err != nil {
		return pkgerr.Wrap(err, "glopsupervisor.Add", "compile "+name)
	}

	storage := glopruntime.NewStorage()
	agentOpts := []glopagent.Option{}
	if s.bus != nil {
		agentOpts = append(agentOpts, glopagent.WithBus(s.bus))
	}
	if s.scriptTimeout > 0 {
		agentOpts = append(agentOpts, glopagent.WithScriptTimeout(s.scriptTimeout))
	}
	if s.metrics != nil {
		agentOpts = append(agentOpts, glopagent.WithMetrics(s.metrics))
	}
	a := glopagent.New(name, storage, matches, s.runner, s.mailboxCap, agentOpts...)

	agentCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if old, ok := s.entries[name]; ok {
		old.cancel()
	}
	s.entries[name] = entry{agent: a, cancel: cancel}
	s.mu.Unlock()

	util.SafeGo(func() { a.Run(agentCtx) })
	logger.Info("glopsupervisor: agent added", logger.FieldAgentName, name)
	return nil
}

// Remove stops the named agent and drops it from the registry. A
// missing name is not an error — Remove is idempotent.
func (s *Supervisor) Remove(name string) {
	s.mu.Lock()
	e, ok := s.entries[name]
	delete(s.entries, name)
	s.mu.Unlock()

	if ok {
		e.cancel()
		logger.Info("glopsupervisor: agent removed", logger.FieldAgentName, name)
	}
}

// List returns the names of all running agents, in no particular
// order.
func (s *Supervisor) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	return names
}

// SendTo delivers env into the Dst agent's mailbox. Delivery to an
// unknown destination is silently ignored — the control socket
// reports success regardless. The send itself happens on its own
// goroutine (fire-and-forget) so a full mailbox never blocks the
// caller.
func (s *Supervisor) SendTo(env glopagent.Envelope) {
	s.mu.Lock()
	e, ok := s.entries[env.Dst]
	s.mu.Unlock()
	if !ok {
		return
	}
	util.SafeGo(func() { e.agent.Inbox() <- env })
}

// Agent returns the named agent and whether it exists, for read-only
// introspection (admin surface: storage snapshot, health).
func (s *Supervisor) Agent(name string) (*glopagent.Agent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	return e.agent, ok
}

// Shutdown stops every running agent. Intended for process teardown.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	entries := s.entries
	s.entries = make(map[string]entry)
	s.mu.Unlock()

	for _, e := range entries {
		e.cancel()
	}
}
