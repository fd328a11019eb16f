package glopruntime

import (
	"github.com/glop/glop/internal/glopast"
	pkgerr "github.com/glop/glop/pkg/errors"
)

// Condition and Action are the compiled, runtime-facing forms of the
// parser's AST nodes. They carry the same data; the distinction exists
// so the runtime depends on its own stable shape rather than directly
// on the parser's grammar types.
type Condition = glopast.Condition
type Action = glopast.Action

// Match is a compiled rule: a non-empty ordered condition list plus a
// non-empty ordered action list. Match is pure data, immutable after
// construction, and cheap to copy.
type Match struct {
	Conditions []Condition
	Actions    []Action
}

// Compile validates and converts a parsed glopast.Match into a
// runtime Match. The parser is expected to reject empty condition/action
// lists (grammar-level invariant); Compile re-checks that no two
// Message conditions share a topic, a cross-condition property the
// grammar cannot express on its own.
func Compile(m glopast.Match) (Match, error) {
	if len(m.Conditions) == 0 {
		return Match{}, pkgerr.New("glopruntime.Compile", "match has no conditions")
	}
	if len(m.Actions) == 0 {
		return Match{}, pkgerr.New("glopruntime.Compile", "match has no actions")
	}

	seenTopics := make(map[string]struct{}, len(m.Conditions))
	for _, c := range m.Conditions {
		if c.Kind != glopast.CondMessage {
			continue
		}
		if _, dup := seenTopics[c.Topic]; dup {
			return Match{}, pkgerr.Newf("glopruntime.Compile", "duplicate message condition for topic %q", c.Topic)
		}
		seenTopics[c.Topic] = struct{}{}
	}

	return Match{Conditions: m.Conditions, Actions: m.Actions}, nil
}

// CompileProgram compiles every match in a parsed program, in order.
func CompileProgram(p glopast.Program) ([]Match, error) {
	out := make([]Match, 0, len(p.Matches))
	for i, m := range p.Matches {
		compiled, err := Compile(m)
		if err != nil {
			return nil, pkgerr.Wrapf(err, "glopruntime.CompileProgram", "match %d", i)
		}
		out = append(out, compiled)
	}
	return out, nil
}
