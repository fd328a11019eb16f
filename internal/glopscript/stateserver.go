package glopscript

import (
	"bufio"
	"encoding/json"
	"net"
	"sync"

	"github.com/glop/glop/internal/glopruntime"
	"github.com/glop/glop/internal/glopvalue"
	"github.com/glop/glop/pkg/logger"
	"github.com/glop/glop/pkg/util"
)

// wireRequest is the side-channel's request envelope: exactly one of
// GetVar/SetVar/GetMsg is non-nil, selected by which single JSON key
// the request carries, e.g. `{"GetVar":{"key":"foo"}}`.
type wireRequest struct {
	GetVar *struct {
		Key string `json:"key"`
	} `json:"GetVar,omitempty"`
	SetVar *struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	} `json:"SetVar,omitempty"`
	GetMsg *struct {
		Topic string `json:"topic"`
		Key   string `json:"key"`
	} `json:"GetMsg,omitempty"`
}

type wireResponse struct {
	GetVar *valueResponse `json:"GetVar,omitempty"`
	SetVar *struct{}      `json:"SetVar,omitempty"`
	GetMsg *valueResponse `json:"GetMsg,omitempty"`
}

type valueResponse struct {
	Value any `json:"value"`
}

// stateServer is the ephemeral loopback TCP listener a running script
// dials to inspect and mutate its Transaction's working state. One
// JSON request and one JSON response per connection.
type stateServer struct {
	ln    net.Listener
	state glopruntime.ScriptState
	wg    sync.WaitGroup
}

// startStateServer binds a loopback listener on an ephemeral port and
// begins serving connections in the background. The caller must Close
// it once the child process that was given Addr() has exited.
func startStateServer(state glopruntime.ScriptState) (*stateServer, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s := &stateServer{ln: ln, state: state}
	util.SafeGo(s.serve)
	return s, nil
}

// Addr returns the host:port a child should dial, for the ADDR
// environment variable.
func (s *stateServer) Addr() string { return s.ln.Addr().String() }

// Close tears down the listener and waits for in-flight connections to
// finish, so no state mutation straggles past the script action that
// owned this server.
func (s *stateServer) Close() error {
	err := s.ln.Close()
	s.wg.Wait()
	return err
}

func (s *stateServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		util.SafeGo(func() {
			defer s.wg.Done()
			s.handle(conn)
		})
	}
}

func (s *stateServer) handle(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	if !scanner.Scan() {
		return
	}

	var req wireRequest
	if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
		logger.Warn("glopscript: state server received malformed request", logger.FieldError, err)
		return
	}

	resp := s.dispatch(req)
	enc := json.NewEncoder(conn)
	if err := enc.Encode(resp); err != nil {
		logger.Warn("glopscript: state server failed to write response", logger.FieldError, err)
	}
}

func (s *stateServer) dispatch(req wireRequest) wireResponse {
	switch {
	case req.GetVar != nil:
		v, ok := s.state.GetVar(glopvalue.ParseIdentifier(req.GetVar.Key))
		return wireResponse{GetVar: &valueResponse{Value: valueToJSON(v, ok)}}

	case req.SetVar != nil:
		s.state.SetVar(glopvalue.ParseIdentifier(req.SetVar.Key), glopvalue.String(req.SetVar.Value))
		return wireResponse{SetVar: &struct{}{}}

	case req.GetMsg != nil:
		v, ok := s.state.GetMsg(req.GetMsg.Topic, glopvalue.ParseIdentifier(req.GetMsg.Key))
		return wireResponse{GetMsg: &valueResponse{Value: valueToJSON(v, ok)}}

	default:
		return wireResponse{}
	}
}

// valueToJSON renders a Value as a plain JSON scalar/object rather
// than a tagged variant, so a script piping the response through
// `jq -r '.GetVar.value'` gets the bare string/number it expects.
// A missing value renders as JSON null.
func valueToJSON(v glopvalue.Value, ok bool) any {
	if !ok {
		return nil
	}
	switch v.Kind {
	case glopvalue.KindInt:
		return v.Int
	case glopvalue.KindStr:
		return v.Str
	case glopvalue.KindObject:
		out := make(map[string]any, len(v.Obj))
		for k, vv := range v.Obj {
			out[k] = valueToJSON(vv, true)
		}
		return out
	default:
		return nil
	}
}
