package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vango-dev/whiteboard/pkg/auth"
	"github.com/vango-dev/whiteboard/pkg/metrics"
	"github.com/vango-dev/whiteboard/pkg/session"
)

// Server is the HTTP/WebSocket front of the whiteboard engine. It owns the
// gateway and the session registry.
type Server struct {
	config    *Config
	validator auth.Validator
	logger    *slog.Logger
	metrics   *metrics.Metrics
	gatherer  prometheus.Gatherer

	gateway  *Gateway
	registry *session.Registry
	handler  http.Handler

	mu         sync.Mutex
	httpServer *http.Server
	shutdown   bool
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics sets the collectors and the gatherer served on /metrics.
// Default: no collectors, prometheus.DefaultGatherer.
func WithMetrics(m *metrics.Metrics, gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = gatherer
	}
}

// New creates a Server. validator resolves connection credentials; it is
// usually an auth.Chain.
func New(config *Config, validator auth.Validator, opts ...Option) *Server {
	s := &Server{
		config:    config.withDefaults(),
		validator: validator,
		logger:    slog.Default(),
		gatherer:  prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	base := s.logger
	s.logger = base.With("component", "server")

	s.gateway = newGateway(s.config, base, s.metrics)
	router := session.NewRouter(s.gateway, base, s.metrics)
	s.registry = session.NewRegistry(router, s.config.Session, base, s.metrics)
	s.gateway.registry = s.registry
	s.handler = s.routes(base)
	return s
}

func (s *Server) routes(base *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.With(auth.Middleware(auth.MiddlewareConfig{
		Validator:      s.validator,
		AllowAnonymous: s.config.AllowAnonymous,
		OnFailure: func(_ *http.Request, err error) {
			s.metrics.AuthFailure(auth.Reason(err))
		},
		Logger: base,
	})).Handle("/ws", s.gateway)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	if s.config.EnableDebug {
		r.Get("/debug/sessions", s.handleDebugSessions)
	}
	return r
}

type healthResponse struct {
	Status      string `json:"status"`
	Sessions    int    `json:"sessions"`
	Connections int    `json:"connections"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		Sessions:    s.registry.Count(),
		Connections: s.gateway.Count(),
	})
}

type debugSessionsResponse struct {
	Sessions     []session.Stats `json:"sessions"`
	TotalCreated uint64          `json:"totalCreated"`
	Connections  int             `json:"connections"`
}

func (s *Server) handleDebugSessions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, debugSessionsResponse{
		Sessions:     s.registry.Sessions(),
		TotalCreated: s.registry.TotalCreated(),
		Connections:  s.gateway.Count(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("response write failed", "status", status, "error", err)
	}
}

// Handler returns the HTTP handler: /ws, /healthz, /metrics and, with
// EnableDebug, /debug/sessions.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Registry returns the session registry.
func (s *Server) Registry() *session.Registry {
	return s.registry
}

// Gateway returns the connection gateway.
func (s *Server) Gateway() *Gateway {
	return s.gateway
}

// Config returns the effective configuration.
func (s *Server) Config() *Config {
	return s.config
}

// Run listens on the configured address and serves until ctx is done, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		ln.Close()
		return ErrServerClosed
	}
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.config.HandshakeTimeout,
	}
	httpServer := s.httpServer
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "address", ln.Addr().String())
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err

	case <-ctx.Done():
		s.logger.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Shutdown stops accepting connections, closes the open ones (each leaves
// its sessions) and terminates every session.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shutdown = true
	httpServer := s.httpServer
	s.mu.Unlock()

	start := time.Now()
	var errs []error
	if httpServer != nil {
		if err := httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.gateway.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	s.registry.Shutdown()

	if err := errors.Join(errs...); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}
	s.logger.Info("server shutdown complete", "took", time.Since(start).Round(time.Millisecond))
	return nil
}
