// Package dashhttp serves the operator surface: REST endpoints for
// starting/stopping strategies and inspecting state, plus a WebSocket feed
// of dashboard snapshots.
package dashhttp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"vela/internal/executor"
	"vela/internal/gateway/exchange"
	"vela/internal/ledger"
	"vela/internal/logger"
	"vela/internal/scheduler"
	"vela/internal/store"

	"github.com/gin-gonic/gin"
)

// Protector re-places missing protective orders for an open position. One
// implementation per execution mode.
type Protector interface {
	Protect(ctx context.Context, pos ledger.Position) executor.Protection
}

type Server struct {
	addr   string
	router *gin.Engine
	hub    *Hub
}

// ServerConfig describes the dashboard server dependencies.
type ServerConfig struct {
	Addr       string
	Scheduler  *scheduler.Scheduler
	Ledger     *ledger.Ledger
	Store      store.Store
	Protectors map[bool]Protector // keyed by is_live
	ReportFn   func(ctx context.Context, isLive bool) ([]byte, error)
	AuditFn    func(ctx context.Context, symbol, key string) (interface{}, error)
	BalanceFn  func(ctx context.Context, isLive bool) (exchange.Balance, error)
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Scheduler == nil || cfg.Ledger == nil || cfg.Store == nil {
		return nil, errors.New("dashboard server requires scheduler, ledger and store")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	hub := NewHub(cfg.Ledger)
	h := &handlers{cfg: cfg, hub: hub}
	h.register(router)

	return &Server{addr: cfg.Addr, router: router, hub: hub}, nil
}

// requestLogger records API calls for tracing operator actions.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery
		client := c.ClientIP()
		c.Next()
		dur := time.Since(start)
		status := c.Writer.Status()
		fullPath := path
		if query != "" {
			fullPath = path + "?" + query
		}
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s", method, fullPath, status, client, dur)
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Start runs the HTTP server until ctx is canceled or it fails.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.hub.Close()
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		s.hub.Close()
		return err
	}
}
