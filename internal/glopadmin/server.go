// Package glopadmin is the read-only HTTP + WebSocket surface operators
// use to inspect a running glopd: which agents exist, their committed
// state, Prometheus metrics, and a live tail of committed transactions.
// It never drives the control socket's Add/Remove/SendTo surface —
// gloprpc owns mutation, glopadmin owns observation.
package glopadmin

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/glop/glop/internal/glopagent"
	"github.com/glop/glop/internal/glopbus"
	"github.com/glop/glop/pkg/logger"
)

// Backend is the read-only supervisor surface the admin routes query.
// *glopsupervisor.Supervisor satisfies this.
type Backend interface {
	List() []string
	Agent(name string) (*glopagent.Agent, bool)
}

// Server is the admin HTTP server: a gin.Engine plus the dependencies
// its handlers close over.
type Server struct {
	router  *gin.Engine
	backend Backend
	bus     *glopbus.Bus
}

// New builds a Server. backend answers agent listing/snapshot queries;
// bus feeds the WebSocket event tail. Admin binds to loopback only (see
// cmd/glopd), so unlike a public-facing dashboard this skips
// trusted-proxy configuration entirely.
func New(backend Backend, bus *glopbus.Bus) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{router: r, backend: backend, bus: bus}
	s.registerRoutes()
	return s
}

// Engine returns the underlying gin.Engine, for tests that want to
// drive routes with httptest without a real listener.
func (s *Server) Engine() *gin.Engine { return s.router }

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.handleHealthz)
	s.router.GET("/agents", s.handleListAgents)
	s.router.GET("/agents/:name", s.handleAgentSnapshot)
	s.router.GET("/agents/:name/events", s.handleAgentEvents)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleListAgents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"names": s.backend.List()})
}

func (s *Server) handleAgentSnapshot(c *gin.Context) {
	name := c.Param("name")
	a, ok := s.backend.Agent(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown agent: " + name})
		return
	}
	seq, vars := a.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"name": name,
		"seq":  seq,
		"vars": vars.ToJSON(),
	})
}

// ListenAndServe starts the HTTP server on addr and blocks until ctx
// is cancelled, then gives in-flight requests 5 seconds to finish.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("glopadmin: shutdown error", logger.FieldError, err)
		}
	}()

	logger.Info("glopadmin: listening", logger.FieldAddr, addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
