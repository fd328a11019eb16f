package glopruntime

import (
	"sync"

	"github.com/glop/glop/internal/glopvalue"
)

// Context holds, for a single match attempt, the specific payload
// consumed for each Message condition plus a working copy of vars that
// the match's actions may freely mutate. A Context lives only for the
// duration of one evaluate-apply-commit cycle.
//
// mu guards vars: during a Script action the state server mutates the
// working tree from its own connection-handler goroutines while the
// owning agent is blocked on the subprocess wait, so every access that
// can overlap a running script goes through a locked method.
type Context struct {
	mu   sync.Mutex
	msgs map[string]glopvalue.Object
	vars glopvalue.Object
}

func newContext(committedVars glopvalue.Object) *Context {
	return &Context{
		msgs: make(map[string]glopvalue.Object),
		vars: committedVars.Clone(),
	}
}

// Msgs returns the messages consumed for this attempt, keyed by topic.
func (c *Context) Msgs() map[string]glopvalue.Object { return c.msgs }

// Vars returns the working variable tree. Callers must not hold the
// returned Object across a Script action; use GetVar/SetVar then.
func (c *Context) Vars() glopvalue.Object { return c.vars }

// resolve looks up id against the working variable tree first; if not
// found there and id's first segment names a topic present in
// c.msgs, the remaining path is resolved inside that message's
// payload.
func resolve(id glopvalue.Identifier, vars glopvalue.Object, msgs map[string]glopvalue.Object) (glopvalue.Value, bool) {
	if v, ok := id.Get(vars); ok {
		return v, true
	}
	if len(id) == 0 {
		return glopvalue.Value{}, false
	}
	payload, ok := msgs[id[0]]
	if !ok {
		return glopvalue.Value{}, false
	}
	rest := id[1:]
	if len(rest) == 0 {
		return glopvalue.Value{}, false
	}
	return rest.Get(payload)
}
