package glopruntime

import (
	stdcontext "context"
	"sort"

	"github.com/glop/glop/internal/glopast"
	"github.com/glop/glop/internal/glopvalue"
	pkgerr "github.com/glop/glop/pkg/errors"
)

// ScriptState is the working state a script action is allowed to read
// and mutate while it runs. It is satisfied by *Context; the script
// runner never sees committed Storage directly.
type ScriptState interface {
	GetVar(id glopvalue.Identifier) (glopvalue.Value, bool)
	SetVar(id glopvalue.Identifier, v glopvalue.Value)
	GetMsg(topic string, id glopvalue.Identifier) (glopvalue.Value, bool)
}

// ScriptRunner executes an ActScript action's body under the
// interpreter named by shebang, with state as its side-channel into
// the in-flight Transaction. A non-nil error aborts the whole
// Transaction — committed Storage is left untouched. glopruntime
// depends only on this interface; the concrete subprocess-based
// implementation lives in glopscript, which imports glopruntime, not
// the other way around.
type ScriptRunner interface {
	Run(ctx stdcontext.Context, shebang, body string, state ScriptState) error
}

// Transaction stages one matched rule's effects: a working Context
// plus the set of topics whose head message should be popped if this
// Transaction commits. Nothing here is visible outside the owning
// State until Commit.
type Transaction struct {
	// Seq is Storage's commit sequence at the moment Eval produced
	// this Transaction, before any commit.
	Seq int64

	match          Match
	ctx            *Context
	consumedTopics map[string]struct{}
}

// Context returns the Transaction's working Context, primarily for
// tests and for ScriptRunner implementations that need direct access
// outside the Apply loop.
func (t *Transaction) Context() *Context { return t.ctx }

// ConsumedTopics returns, sorted, the topics whose head message this
// Transaction pops: every Acknowledge action applied so far, and —
// once Commit has run — every matched Message condition's topic too.
func (t *Transaction) ConsumedTopics() []string {
	out := make([]string, 0, len(t.consumedTopics))
	for topic := range t.consumedTopics {
		out = append(out, topic)
	}
	sort.Strings(out)
	return out
}

// Apply runs every action in the matched rule in order, mutating the
// Transaction's working Context. The first action to fail aborts the
// remaining actions and the Transaction as a whole; callers must not
// Commit a Transaction whose Apply returned an error.
func (t *Transaction) Apply(ctx stdcontext.Context, runner ScriptRunner) error {
	for _, a := range t.match.Actions {
		switch a.Kind {
		case glopast.ActSetVar:
			t.ctx.SetVar(a.Ident, a.Val)
		case glopast.ActUnsetVar:
			t.ctx.UnsetVar(a.Ident)
		case glopast.ActAcknowledge:
			t.consumedTopics[a.Topic] = struct{}{}
		case glopast.ActScript:
			if runner == nil {
				return pkgerr.New("glopruntime.Transaction.Apply", "no script runner configured")
			}
			if err := runner.Run(ctx, a.Shebang, a.Body, t.ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// GetVar implements ScriptState.
func (c *Context) GetVar(id glopvalue.Identifier) (glopvalue.Value, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return id.Get(c.vars)
}

// SetVar implements ScriptState.
func (c *Context) SetVar(id glopvalue.Identifier, v glopvalue.Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id.Set(c.vars, v)
}

// UnsetVar removes id from the working variable tree.
func (c *Context) UnsetVar(id glopvalue.Identifier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id.Unset(c.vars)
}

// GetMsg implements ScriptState, resolving id within the payload
// consumed for topic during this attempt's Eval. It returns false if
// topic was not matched by a Message condition this attempt.
func (c *Context) GetMsg(topic string, id glopvalue.Identifier) (glopvalue.Value, bool) {
	payload, ok := c.msgs[topic]
	if !ok {
		return glopvalue.Value{}, false
	}
	if len(id) == 0 {
		return glopvalue.Value{}, false
	}
	return id.Get(payload)
}
