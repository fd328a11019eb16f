package gloprpc

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"regexp"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/glop/glop/internal/glopagent"
	"github.com/glop/glop/pkg/logger"
	"github.com/glop/glop/pkg/util"
)

// Backend is the supervisor operation set the control socket drives.
// *glopsupervisor.Supervisor satisfies this; tests use a fake.
type Backend interface {
	Add(ctx context.Context, name, source string) error
	Remove(name string)
	List() []string
	SendTo(env glopagent.Envelope)
}

var (
	validateOnce sync.Once
	validate     *validator.Validate

	agentNameRE = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		_ = validate.RegisterValidation("agentname", func(fl validator.FieldLevel) bool {
			return agentNameRE.MatchString(fl.Field().String())
		})
	})
	return validate
}

// Server accepts control-socket connections on a loopback TCP
// listener and dispatches each decoded line to backend — a
// bufio.Scanner read loop per connection, the same hand-rolled
// net/bufio/encoding-json shape glopscript's state server uses for
// its own (simpler, one-shot) wire protocol.
type Server struct {
	ln      net.Listener
	backend Backend
}

// New binds addr (use "127.0.0.1:0" for an ephemeral port) and
// returns a Server ready for Serve.
func New(addr string, backend Backend) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{ln: ln, backend: backend}, nil
}

// Addr returns the bound listener address, e.g. for printing to
// stdout at startup so a launching process can discover the port.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Close stops accepting new connections.
func (s *Server) Close() error { return s.ln.Close() }

// Serve accepts connections until ctx is cancelled or the listener is
// closed. Each connection is handled on its own util.SafeGo goroutine
// so one misbehaving client can't take the listener down.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		util.SafeGo(func() { s.handleConn(ctx, conn) })
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	traceID := uuid.NewString()
	logger.Debug("gloprpc: connection accepted",
		logger.FieldTraceID, traceID,
		logger.FieldAddr, conn.RemoteAddr().String(),
	)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var req request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			logger.Warn("gloprpc: malformed request",
				logger.FieldTraceID, traceID,
				logger.FieldError, err,
			)
			writeLine(conn, encodeError("malformed request: "+err.Error()))
			return
		}

		out, fatal := s.dispatch(ctx, req)
		if err := writeLine(conn, out); err != nil {
			return
		}
		if fatal {
			return
		}
	}
}

// dispatch runs one decoded request and reports whether the
// connection should close afterward: request-level errors (parse/IO
// at Add time) are surfaced as one Error response line and then end
// the connection.
func (s *Server) dispatch(ctx context.Context, req request) (line []byte, fatal bool) {
	switch {
	case req.Add != nil:
		if err := getValidator().Struct(req.Add); err != nil {
			return encodeError(err.Error()), true
		}
		src, err := os.ReadFile(req.Add.Source)
		if err != nil {
			return encodeError("reading " + req.Add.Source + ": " + err.Error()), true
		}
		if err := s.backend.Add(ctx, req.Add.Name, string(src)); err != nil {
			return encodeError(err.Error()), true
		}
		logger.Info("gloprpc: Add", logger.FieldAgentName, req.Add.Name)
		return encodeAdd(), false

	case req.Remove != nil:
		if err := getValidator().Struct(req.Remove); err != nil {
			return encodeError(err.Error()), true
		}
		s.backend.Remove(req.Remove.Name)
		logger.Info("gloprpc: Remove", logger.FieldAgentName, req.Remove.Name)
		return encodeRemove(), false

	case req.List != nil:
		return encodeList(s.backend.List()), false

	case req.SendTo != nil:
		if err := getValidator().Struct(req.SendTo); err != nil {
			return encodeError(err.Error()), true
		}
		s.backend.SendTo(glopagent.Envelope{
			Dst:      req.SendTo.Dst,
			Topic:    req.SendTo.Topic,
			Contents: contentsToObject(req.SendTo.Contents),
		})
		return encodeSendTo(), false

	default:
		return encodeError("request has no recognized variant"), true
	}
}

func writeLine(conn net.Conn, line []byte) error {
	line = append(line, '\n')
	_, err := conn.Write(line)
	return err
}
