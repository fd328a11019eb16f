package glopadmin

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/glop/glop/internal/glopbus"
	"github.com/glop/glop/pkg/logger"
	"github.com/glop/glop/pkg/util"
)

const eventOutboxSize = 64

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkLocalOrigin,
}

// checkLocalOrigin only allows localhost-origin WebSocket connections,
// or no Origin header at all (a non-browser client — curl, a CLI tool).
func checkLocalOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	origin = strings.ToLower(origin)
	for _, allowed := range []string{
		"http://localhost", "https://localhost",
		"http://127.0.0.1", "https://127.0.0.1",
		"http://[::1]", "https://[::1]",
	} {
		if strings.HasPrefix(origin, allowed) {
			return true
		}
	}
	logger.Warn("glopadmin: rejected non-local websocket origin", "origin", origin)
	return false
}

// wsConn serializes writes against one upgraded connection — gorilla
// websocket connections are not safe for concurrent writers.
type wsConn struct {
	ws        *websocket.Conn
	wrMu      sync.Mutex
	outbox    chan []byte
	closeCh   chan struct{}
	closeOnce sync.Once
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{
		ws:      ws,
		outbox:  make(chan []byte, eventOutboxSize),
		closeCh: make(chan struct{}),
	}
}

func (c *wsConn) enqueue(data []byte) bool {
	select {
	case <-c.closeCh:
		return false
	default:
	}
	select {
	case c.outbox <- data:
		return true
	default:
		return false // client can't keep up; drop rather than block the publisher
	}
}

func (c *wsConn) closeNow() {
	c.closeOnce.Do(func() {
		close(c.closeCh)
		_ = c.ws.Close()
	})
}

func (c *wsConn) writeLoop() {
	for {
		select {
		case <-c.closeCh:
			return
		case msg := <-c.outbox:
			c.wrMu.Lock()
			_ = c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			err := c.ws.WriteMessage(websocket.TextMessage, msg)
			c.wrMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// handleAgentEvents upgrades to a WebSocket and streams every
// committed/script glopbus.Event for the named agent until the client
// disconnects or the request context is cancelled.
func (s *Server) handleAgentEvents(c *gin.Context) {
	name := c.Param("name")
	if _, ok := s.backend.Agent(name); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown agent: " + name})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("glopadmin: websocket upgrade failed", logger.FieldError, err)
		return
	}

	conn := newWSConn(ws)
	defer conn.closeNow()
	util.SafeGo(conn.writeLoop)

	subID := name + "-" + uuid.NewString()
	sub := s.bus.Subscribe(subID, glopbus.TopicAll)
	defer s.bus.Unsubscribe(subID)

	for {
		select {
		case ev, ok := <-sub.Ch:
			if !ok {
				return
			}
			if ev.Agent != name {
				continue
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if !conn.enqueue(data) {
				logger.Warn("glopadmin: event dropped, client slow", logger.FieldAgentName, name)
			}
		case <-c.Request.Context().Done():
			return
		}
	}
}
