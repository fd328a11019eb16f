package glopparse

import (
	"testing"

	"github.com/glop/glop/internal/glopast"
	"github.com/glop/glop/internal/glopvalue"
)

// source exercises every condition and action variant across four
// rules, including a multi-line script body.
const source = `when (message init) {
    set installed false;
    set initialized true;
    acknowledge init;
}

when (installed == false, initialized == true) {
    script #!/bin/bash
set -ex
echo "hello world"
!#
    set installed true;
}

when (message config, is_set initialized) {
    acknowledge config;
}

when (message foo, initialized != baz) {
    acknowledge foo;
    set has_foo true;
    unset bar;
}
`

func TestParseRoundTripFixture(t *testing.T) {
	prog, err := Parse(source)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(prog.Matches) != 4 {
		t.Fatalf("got %d matches, want 4", len(prog.Matches))
	}

	m0 := prog.Matches[0]
	if len(m0.Conditions) != 1 || m0.Conditions[0].Kind != glopast.CondMessage || m0.Conditions[0].Topic != "init" {
		t.Errorf("match 0 condition = %+v", m0.Conditions)
	}
	if len(m0.Actions) != 3 {
		t.Fatalf("match 0 actions = %+v", m0.Actions)
	}
	if m0.Actions[0].Kind != glopast.ActSetVar || m0.Actions[0].Ident.String() != "installed" || !m0.Actions[0].Val.Equal(glopvalue.String("false")) {
		t.Errorf("match 0 action 0 = %+v", m0.Actions[0])
	}
	if m0.Actions[2].Kind != glopast.ActAcknowledge || m0.Actions[2].Topic != "init" {
		t.Errorf("match 0 action 2 = %+v", m0.Actions[2])
	}

	m1 := prog.Matches[1]
	if len(m1.Conditions) != 2 {
		t.Fatalf("match 1 conditions = %+v", m1.Conditions)
	}
	c0 := m1.Conditions[0]
	if c0.Kind != glopast.CondCmp || c0.Ident.String() != "installed" || c0.Op != glopast.CmpEq || !c0.RHS.Equal(glopvalue.String("false")) {
		t.Errorf("match 1 condition 0 = %+v", c0)
	}
	if len(m1.Actions) != 2 {
		t.Fatalf("match 1 actions = %+v", m1.Actions)
	}
	script := m1.Actions[0]
	if script.Kind != glopast.ActScript {
		t.Fatalf("match 1 action 0 kind = %v, want ActScript", script.Kind)
	}
	if script.Shebang != "#!/bin/bash" {
		t.Errorf("shebang = %q", script.Shebang)
	}
	if script.Body != "set -ex\necho \"hello world\"\n" {
		t.Errorf("body = %q", script.Body)
	}
	if m1.Actions[1].Kind != glopast.ActSetVar || !m1.Actions[1].Val.Equal(glopvalue.String("true")) {
		t.Errorf("match 1 action 1 = %+v", m1.Actions[1])
	}

	m2 := prog.Matches[2]
	if m2.Conditions[1].Kind != glopast.CondIsSet || m2.Conditions[1].Ident.String() != "initialized" {
		t.Errorf("match 2 condition 1 = %+v", m2.Conditions[1])
	}

	m3 := prog.Matches[3]
	c1 := m3.Conditions[1]
	if c1.Kind != glopast.CondCmp || c1.Op != glopast.CmpNotEq || !c1.RHS.Equal(glopvalue.String("baz")) {
		t.Errorf("match 3 condition 1 = %+v", c1)
	}
	if m3.Actions[2].Kind != glopast.ActUnsetVar || m3.Actions[2].Ident.String() != "bar" {
		t.Errorf("match 3 action 2 = %+v", m3.Actions[2])
	}
}

func TestParseRejectsEmptyProgram(t *testing.T) {
	if _, err := Parse(""); err == nil {
		t.Fatal("expected error for empty program")
	}
	if _, err := Parse("   \n  "); err == nil {
		t.Fatal("expected error for whitespace-only program")
	}
}

func TestParseRejectsEmptyConditions(t *testing.T) {
	if _, err := Parse(`when () { set foo bar; }`); err == nil {
		t.Fatal("expected error for empty condition list")
	}
}

func TestParseRejectsEmptyActions(t *testing.T) {
	if _, err := Parse(`when (foo == "bar") { }`); err == nil {
		t.Fatal("expected error for empty action list")
	}
}

func TestParseDottedIdentifier(t *testing.T) {
	prog, err := Parse(`when (message init) { set user.profile.name "ada"; }`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	a := prog.Matches[0].Actions[0]
	if a.Ident.String() != "user.profile.name" {
		t.Errorf("ident = %q, want user.profile.name", a.Ident.String())
	}
	if !a.Val.Equal(glopvalue.String("ada")) {
		t.Errorf("val = %+v", a.Val)
	}
}

func TestParseIntegerLiteral(t *testing.T) {
	prog, err := Parse(`when (message init) { set count 42; }`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	a := prog.Matches[0].Actions[0]
	if !a.Val.Equal(glopvalue.Int32(42)) {
		t.Errorf("val = %+v, want Int32(42)", a.Val)
	}
}
