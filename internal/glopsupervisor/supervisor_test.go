package glopsupervisor

import (
	"context"
	"testing"
	"time"

	"github.com/glop/glop/internal/glopagent"
	"github.com/glop/glop/internal/glopparse"
	"github.com/glop/glop/internal/glopvalue"
)

const onInitAck = `when (message init) { acknowledge init; }`

func waitForSeq(t *testing.T, sup *Supervisor, name string, want int64) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if a, ok := sup.Agent(name); ok {
			if seq, _ := a.Snapshot(); seq == want {
				return
			}
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s.Seq() == %d", name, want)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSupervisorAddListRemove(t *testing.T) {
	sup := New(ParserFunc(glopparse.Parse), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sup.Add(ctx, "a0", onInitAck); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if names := sup.List(); len(names) != 1 || names[0] != "a0" {
		t.Fatalf("List = %v, want [a0]", names)
	}

	sup.Remove("a0")
	if names := sup.List(); len(names) != 0 {
		t.Fatalf("List after Remove = %v, want empty", names)
	}
	// Remove is idempotent.
	sup.Remove("a0")
}

func TestSupervisorAddRejectsBadSource(t *testing.T) {
	sup := New(ParserFunc(glopparse.Parse), nil)
	if err := sup.Add(context.Background(), "bad", "not glop at all {{{"); err == nil {
		t.Fatal("expected parse error")
	}
	if names := sup.List(); len(names) != 0 {
		t.Fatalf("a failed Add must not register an agent, got %v", names)
	}
}

func TestSupervisorSendToDelivers(t *testing.T) {
	sup := New(ParserFunc(glopparse.Parse), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sup.Add(ctx, "a0", onInitAck); err != nil {
		t.Fatalf("Add: %v", err)
	}

	sup.SendTo(glopagent.Envelope{Dst: "a0", Topic: "init", Contents: glopvalue.NewObject()})
	waitForSeq(t, sup, "a0", 1)
}

func TestSupervisorSendToUnknownDestinationIsSilentlyIgnored(t *testing.T) {
	sup := New(ParserFunc(glopparse.Parse), nil)
	// Must not panic or block — delivery to an unknown destination is
	// silently ignored.
	sup.SendTo(glopagent.Envelope{Dst: "ghost", Topic: "init", Contents: glopvalue.NewObject()})
}

func TestSupervisorReAddReplacesRunningAgent(t *testing.T) {
	sup := New(ParserFunc(glopparse.Parse), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sup.Add(ctx, "a0", onInitAck); err != nil {
		t.Fatalf("first Add: %v", err)
	}
	first, _ := sup.Agent("a0")

	if err := sup.Add(ctx, "a0", onInitAck); err != nil {
		t.Fatalf("second Add: %v", err)
	}
	second, _ := sup.Agent("a0")
	if first == second {
		t.Fatal("re-Add should replace the running agent with a fresh one")
	}
	if names := sup.List(); len(names) != 1 {
		t.Fatalf("List = %v, want exactly one a0", names)
	}
}

func TestSupervisorShutdownStopsAllAgents(t *testing.T) {
	sup := New(ParserFunc(glopparse.Parse), nil)
	ctx := context.Background()

	if err := sup.Add(ctx, "a0", onInitAck); err != nil {
		t.Fatalf("Add a0: %v", err)
	}
	if err := sup.Add(ctx, "a1", onInitAck); err != nil {
		t.Fatalf("Add a1: %v", err)
	}

	sup.Shutdown()
	if names := sup.List(); len(names) != 0 {
		t.Fatalf("List after Shutdown = %v, want empty", names)
	}
}
