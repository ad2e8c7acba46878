// Package statusapi exposes the status register over an embedded HTTP
// server.
//
// Observers poll GET /status for the latest transition outcome or hold
// GET /status/stream open for a server-sent-events feed of every
// change. The server is itself a system component, so the supervisor
// can manage it like anything else it supervises.
package statusapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/rekindle/rekindle/pkg/config"
	"github.com/rekindle/rekindle/pkg/status"
	"github.com/rekindle/rekindle/pkg/stores"
	"github.com/rekindle/rekindle/pkg/system"
	"github.com/rekindle/rekindle/pkg/telemetry"
)

// Options configures optional server collaborators.
type Options struct {
	Logger  *telemetry.Logger
	Metrics *telemetry.Metrics

	// History enables the /transitions endpoint when set.
	History *stores.SQLiteStore
}

// Server is the embedded status-broadcast HTTP server.
type Server struct {
	cfg      config.ServerConfig
	register *status.Register
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics
	history  *stores.SQLiteStore
	engine   *gin.Engine
	server   *http.Server
	addr     string

	// baseCancel releases long-lived stream handlers on stop; plain
	// Shutdown would wait for them forever.
	baseCancel context.CancelFunc
}

// NewServer builds the server and its routes. It does not bind the
// listen address until Start.
func NewServer(cfg config.ServerConfig, register *status.Register, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.Default()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics, _ = telemetry.NewMetrics(telemetry.MetricsConfig{})
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		cfg:      cfg,
		register: register,
		logger:   logger.NewSubsystemLogger("statusapi"),
		metrics:  metrics,
		history:  opts.History,
		engine:   engine,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.handleLiveness)
	s.engine.GET("/status", s.handleStatus)
	s.engine.GET("/status/stream", s.handleStream)
	s.engine.GET("/transitions", s.handleTransitions)
	if h := s.metrics.Handler(); h != nil {
		s.engine.GET("/metrics", gin.WrapH(h))
	}
}

// handleLiveness reports that the server itself is up, regardless of
// system health.
func (s *Server) handleLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"alive": true})
}

// handleStatus returns the latest outcome: 200 when healthy, 503 when
// the last transition failed.
func (s *Server) handleStatus(c *gin.Context) {
	outcome := s.register.Get()
	code := http.StatusOK
	if !outcome.State.IsHealthy() {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, outcome.Report())
}

// handleStream holds the connection open and relays the current
// outcome followed by every subsequent change as SSE events. Each
// observer re-registers after every change; a dropped connection
// abandons its wait without affecting other observers.
func (s *Server) handleStream(c *gin.Context) {
	s.metrics.ObserverConnected()
	defer s.metrics.ObserverDisconnected()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	// Current value first; AwaitChange alone would miss it.
	c.SSEvent("status", s.register.Get().Report())
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		outcome, err := s.register.AwaitChange(ctx)
		if err != nil {
			return
		}
		c.SSEvent("status", outcome.Report())
		c.Writer.Flush()
	}
}

// handleTransitions lists recent transition history records.
func (s *Server) handleTransitions(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "transition history is disabled"})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	transitions, err := s.history.ListTransitions(c.Request.Context(), limit)
	if err != nil {
		s.logger.WithError(err).Error("failed to list transitions")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list transitions"})
		return
	}
	if transitions == nil {
		transitions = []*stores.Transition{}
	}
	c.JSON(http.StatusOK, gin.H{"transitions": transitions})
}

// Start implements system.Component. The listen address is bound
// synchronously so a bind conflict fails the start instead of a
// background goroutine.
func (s *Server) Start(ctx context.Context) (system.Component, error) {
	ln, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return s, err
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())
	s.baseCancel = baseCancel
	s.server = &http.Server{
		Handler:     s.engine,
		ReadTimeout: s.cfg.ReadTimeout.Std(),
		// WriteTimeout stays zero: it would sever open SSE streams.
		BaseContext: func(net.Listener) context.Context { return baseCtx },
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithError(err).Error("status server failed")
		}
	}()

	s.addr = ln.Addr().String()
	s.logger.WithField("address", s.addr).Info("status server listening")
	return s, nil
}

// Addr returns the bound listen address after Start, useful when the
// configured address picks an ephemeral port.
func (s *Server) Addr() string {
	return s.addr
}

// Stop implements system.Component with a graceful shutdown.
func (s *Server) Stop(ctx context.Context) (system.Component, error) {
	if s.server == nil {
		return s, nil
	}

	if s.baseCancel != nil {
		s.baseCancel()
	}

	shutdownCtx := ctx
	if s.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout.Std())
		defer cancel()
	}

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return s, err
	}
	s.server = nil
	s.logger.Info("status server stopped")
	return s, nil
}
