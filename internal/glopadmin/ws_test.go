package glopadmin

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/glop/glop/internal/glopagent"
	"github.com/glop/glop/internal/glopbus"
)

func TestAgentEventsStream(t *testing.T) {
	bus := glopbus.New()
	backend := &fakeBackend{agents: map[string]*glopagent.Agent{"a0": newTestAgent("a0")}}
	s := New(backend, bus)

	srv := httptest.NewServer(s.Engine())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/agents/a0/events"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	defer ws.Close()

	// Give the handler time to subscribe before publishing.
	time.Sleep(20 * time.Millisecond)

	bus.Publish(glopbus.Event{Topic: glopbus.TopicCommitted, Agent: "a0", Seq: 1})
	bus.Publish(glopbus.Event{Topic: glopbus.TopicCommitted, Agent: "other", Seq: 99})

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}

	var ev glopbus.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.Agent != "a0" || ev.Seq != 1 {
		t.Fatalf("event = %+v, want agent a0 seq 1", ev)
	}
}

func TestAgentEventsUnknownAgent(t *testing.T) {
	s := New(&fakeBackend{agents: map[string]*glopagent.Agent{}}, glopbus.New())
	srv := httptest.NewServer(s.Engine())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/agents/missing/events"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial failure for unknown agent")
	}
	if resp == nil || resp.StatusCode != 404 {
		t.Fatalf("response = %+v, want 404", resp)
	}
}
