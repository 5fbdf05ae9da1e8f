// Package server exposes the read API, the order submission endpoint, the
// Prometheus scrape endpoint and the order-update WebSocket stream.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/openfloor/nftindex/internal/metrics"
	"github.com/openfloor/nftindex/internal/server/handler"
	"github.com/openfloor/nftindex/internal/server/middleware"
	"github.com/openfloor/nftindex/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Orders    *handler.OrderHandler
	TokenSets *handler.TokenSetHandler
	Activity  *handler.ActivityHandler
}

// Server is the HTTP + WebSocket API server for the index.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered. Middleware order is
// CORS outermost, then request logging, then auth. Health and metrics skip
// auth so probes and scrapers need no credentials.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, m *metrics.Set, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/orders", handlers.Orders.ListOrders)
	mux.HandleFunc("POST /api/orders", handlers.Orders.SubmitOrders)
	mux.HandleFunc("GET /api/orders/{id}", handlers.Orders.GetOrder)

	mux.HandleFunc("GET /api/token-sets/{id}", handlers.TokenSets.GetTokenSet)

	mux.HandleFunc("GET /api/tokens/{contract}/{token_id}/orders", handlers.Activity.ListTokenOrders)
	mux.HandleFunc("GET /api/tokens/{contract}/{token_id}/fills", handlers.Activity.ListFills)
	mux.HandleFunc("GET /api/tokens/{contract}/{token_id}/transfers", handlers.Activity.ListTransfers)

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	authed := middleware.Auth(cfg.APIKey)(mux)

	outer := http.NewServeMux()
	outer.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	outer.Handle("GET /metrics", m.Handler())
	outer.Handle("/", authed)

	var h http.Handler = outer
	h = middleware.Logging(logger, m)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger.With(slog.String("component", "server")),
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
