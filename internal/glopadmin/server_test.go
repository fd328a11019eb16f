package glopadmin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/glop/glop/internal/glopagent"
	"github.com/glop/glop/internal/glopbus"
	"github.com/glop/glop/internal/glopruntime"
)

type fakeBackend struct {
	agents map[string]*glopagent.Agent
}

func (f *fakeBackend) List() []string {
	names := make([]string, 0, len(f.agents))
	for n := range f.agents {
		names = append(names, n)
	}
	return names
}

func (f *fakeBackend) Agent(name string) (*glopagent.Agent, bool) {
	a, ok := f.agents[name]
	return a, ok
}

func newTestAgent(name string) *glopagent.Agent {
	storage := glopruntime.NewStorage()
	return glopagent.New(name, storage, nil, nil, 1)
}

func TestHealthz(t *testing.T) {
	s := New(&fakeBackend{agents: map[string]*glopagent.Agent{}}, glopbus.New())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	s.Engine().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestListAgents(t *testing.T) {
	backend := &fakeBackend{agents: map[string]*glopagent.Agent{"a0": newTestAgent("a0")}}
	s := New(backend, glopbus.New())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/agents", nil)
	s.Engine().ServeHTTP(rec, req)

	var body struct {
		Names []string `json:"names"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Names) != 1 || body.Names[0] != "a0" {
		t.Fatalf("names = %v, want [a0]", body.Names)
	}
}

func TestAgentSnapshotUnknown(t *testing.T) {
	s := New(&fakeBackend{agents: map[string]*glopagent.Agent{}}, glopbus.New())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/agents/missing", nil)
	s.Engine().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestAgentSnapshotFound(t *testing.T) {
	a := newTestAgent("a0")
	backend := &fakeBackend{agents: map[string]*glopagent.Agent{"a0": a}}
	s := New(backend, glopbus.New())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/agents/a0", nil)
	s.Engine().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["name"] != "a0" {
		t.Fatalf("name = %v, want a0", body["name"])
	}
}

func TestMetricsRoute(t *testing.T) {
	s := New(&fakeBackend{agents: map[string]*glopagent.Agent{}}, glopbus.New())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	s.Engine().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
