// Package server is the HTTP and WebSocket surface of the resolver.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alexander-t-ho/prediction-market-sub001/internal/domain"
	"github.com/alexander-t-ho/prediction-market-sub001/internal/server/handler"
	"github.com/alexander-t-ho/prediction-market-sub001/internal/server/middleware"
	"github.com/alexander-t-ho/prediction-market-sub001/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	// RateLimit caps requests per client per RateWindow on the resolve and
	// preview routes. Zero disables limiting.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates the HTTP handlers the server registers. Nil entries
// leave their routes unregistered, except Health and Resolutions which are
// required.
type Handlers struct {
	Health      *handler.HealthHandler
	Resolutions *handler.ResolutionHandler
	Audit       *handler.AuditHandler
	Events      *handler.EventsHandler
	Metrics     http.Handler
}

// Deps carries optional collaborators of the middleware chain.
type Deps struct {
	Hub      *ws.Hub
	Limiter  domain.RateLimiter
	Observer middleware.Observer
}

// Server is the resolver's HTTP API server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
func NewServer(cfg Config, handlers Handlers, deps Deps, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()

	window := cfg.RateWindow
	if window <= 0 {
		window = time.Minute
	}
	protect := middleware.Auth(cfg.APIKey)
	limit := middleware.RateLimit(deps.Limiter, "resolve", cfg.RateLimit, window, logger)

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	mux.Handle("POST /api/markets/{id}/resolve", protect(limit(http.HandlerFunc(handlers.Resolutions.Resolve))))
	mux.Handle("POST /api/markets/{id}/preview", limit(http.HandlerFunc(handlers.Resolutions.Preview)))
	mux.HandleFunc("GET /api/markets/{id}/resolution", handlers.Resolutions.GetResolution)

	if handlers.Audit != nil {
		mux.Handle("GET /api/audit", protect(http.HandlerFunc(handlers.Audit.ListAudit)))
	}
	if handlers.Events != nil {
		mux.HandleFunc("GET /api/resolutions/events", handlers.Events.ListEvents)
	}
	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}
	if deps.Hub != nil {
		mux.HandleFunc("GET /ws", deps.Hub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Logging(logger, deps.Observer)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		handler: h,
		logger:  logger,
	}
}

// Handler returns the full middleware chain, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
