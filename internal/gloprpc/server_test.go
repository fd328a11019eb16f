package gloprpc

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/glop/glop/internal/glopagent"
	"github.com/glop/glop/internal/glopparse"
	"github.com/glop/glop/internal/glopsupervisor"
)

func startTestServer(t *testing.T, backend Backend) (*Server, func()) {
	t.Helper()
	srv, err := New("127.0.0.1:0", backend)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx)
	return srv, func() { cancel(); srv.Close() }
}

// conn wraps a single persistent connection to the control socket —
// its line-delimited JSON framing allows many requests per
// connection, unlike glopscript's one-shot state server.
type conn struct {
	t *testing.T
	c net.Conn
	s *bufio.Scanner
}

func dial(t *testing.T, addr string) *conn {
	t.Helper()
	c, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return &conn{t: t, c: c, s: bufio.NewScanner(c)}
}

func (c *conn) roundTrip(line string) map[string]json.RawMessage {
	c.t.Helper()
	if _, err := c.c.Write([]byte(line + "\n")); err != nil {
		c.t.Fatalf("write: %v", err)
	}
	if !c.s.Scan() {
		c.t.Fatalf("no response: %v", c.s.Err())
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(c.s.Bytes(), &out); err != nil {
		c.t.Fatalf("unmarshal %q: %v", c.s.Text(), err)
	}
	return out
}

func TestServerAddListRemove(t *testing.T) {
	sup := glopsupervisor.New(glopsupervisor.ParserFunc(glopparse.Parse), nil)
	srv, stop := startTestServer(t, sup)
	defer stop()

	dir := t.TempDir()
	path := filepath.Join(dir, "greeter.glop")
	if err := os.WriteFile(path, []byte(`when (message init) { acknowledge init; }`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	c := dial(t, srv.Addr())
	defer c.c.Close()

	resp := c.roundTrip(`{"Add":{"source":"` + path + `","name":"greeter"}}`)
	if _, ok := resp["Add"]; !ok {
		t.Fatalf("expected Add response, got %v", resp)
	}

	resp = c.roundTrip(`{"List":{}}`)
	var list ListResponse
	if err := json.Unmarshal(resp["List"], &list); err != nil {
		t.Fatalf("unmarshal List: %v", err)
	}
	if len(list.Names) != 1 || list.Names[0] != "greeter" {
		t.Fatalf("List = %v, want [greeter]", list.Names)
	}

	// Remove runs on a second connection; the successful Add above
	// leaves the first one open.
	c2 := dial(t, srv.Addr())
	defer c2.c.Close()
	resp = c2.roundTrip(`{"Remove":{"name":"greeter"}}`)
	if _, ok := resp["Remove"]; !ok {
		t.Fatalf("expected Remove response, got %v", resp)
	}

	resp = c2.roundTrip(`{"List":{}}`)
	if err := json.Unmarshal(resp["List"], &list); err != nil {
		t.Fatalf("unmarshal List: %v", err)
	}
	if len(list.Names) != 0 {
		t.Fatalf("List after Remove = %v, want empty", list.Names)
	}
}

func TestServerAddMissingFileReturnsErrorAndCloses(t *testing.T) {
	sup := glopsupervisor.New(glopsupervisor.ParserFunc(glopparse.Parse), nil)
	srv, stop := startTestServer(t, sup)
	defer stop()

	c := dial(t, srv.Addr())
	defer c.c.Close()
	resp := c.roundTrip(`{"Add":{"source":"/no/such/file.glop","name":"x"}}`)
	if _, ok := resp["Error"]; !ok {
		t.Fatalf("expected Error response, got %v", resp)
	}

	// The connection is closed after a fatal response: no further
	// line arrives before the read deadline.
	c.c.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	if c.s.Scan() {
		t.Fatalf("expected connection closed, got another line: %q", c.s.Text())
	}
}

func TestServerSendToUnknownDestinationSucceeds(t *testing.T) {
	sup := glopsupervisor.New(glopsupervisor.ParserFunc(glopparse.Parse), nil)
	srv, stop := startTestServer(t, sup)
	defer stop()

	c := dial(t, srv.Addr())
	defer c.c.Close()
	resp := c.roundTrip(`{"SendTo":{"dst":"ghost","topic":"init","contents":{}}}`)
	if _, ok := resp["SendTo"]; !ok {
		t.Fatalf("expected SendTo response even for an unknown destination, got %v", resp)
	}
}

func TestServerMalformedRequestReturnsError(t *testing.T) {
	sup := glopsupervisor.New(glopsupervisor.ParserFunc(glopparse.Parse), nil)
	srv, stop := startTestServer(t, sup)
	defer stop()

	c := dial(t, srv.Addr())
	defer c.c.Close()
	resp := c.roundTrip(`not json at all`)
	if _, ok := resp["Error"]; !ok {
		t.Fatalf("expected Error response, got %v", resp)
	}
}

// fakeBackend lets TestServerSendToForwardsContents assert the exact envelope
// forwarded to the backend without spinning up a real agent.
type fakeBackend struct {
	addCalls    []AddRequest
	removeCalls []string
	sendCalls   []glopagent.Envelope
	names       []string
}

func (f *fakeBackend) Add(_ context.Context, name, source string) error {
	f.addCalls = append(f.addCalls, AddRequest{Name: name, Source: source})
	return nil
}
func (f *fakeBackend) Remove(name string)            { f.removeCalls = append(f.removeCalls, name) }
func (f *fakeBackend) List() []string                { return f.names }
func (f *fakeBackend) SendTo(env glopagent.Envelope) { f.sendCalls = append(f.sendCalls, env) }

func TestServerSendToForwardsContents(t *testing.T) {
	fb := &fakeBackend{}
	srv, stop := startTestServer(t, fb)
	defer stop()

	c := dial(t, srv.Addr())
	defer c.c.Close()
	c.roundTrip(`{"SendTo":{"dst":"a0","topic":"greet","contents":{"name":"ada"}}}`)

	if len(fb.sendCalls) != 1 {
		t.Fatalf("sendCalls = %v", fb.sendCalls)
	}
	env := fb.sendCalls[0]
	if env.Dst != "a0" || env.Topic != "greet" {
		t.Fatalf("envelope = %+v", env)
	}
	if got, ok := env.Contents["name"]; !ok || got.Str != "ada" {
		t.Fatalf("contents[name] = %+v", env.Contents["name"])
	}
}
