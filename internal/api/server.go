package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/venue-app/pricingservice/internal/ratelimit"
)

// Config holds HTTP server settings
type Config struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// RateLimiter is optional; nil disables rate limiting.
	RateLimiter ratelimit.RateLimiter
	RateLimit   ratelimit.Config
}

// Server is the pricing HTTP API
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	logger  *zap.Logger
}

// NewServer creates a new API server.
func NewServer(cfg Config, quoter Quoter, approvals RuleApprover, materializer SurgeMaterializer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	handler := NewHandler(quoter, approvals, materializer)
	router := chi.NewRouter()

	router.Use(RecoverMiddleware(logger))
	router.Use(RequestIDMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware(logger))
	router.Use(middleware.RealIP)

	router.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(ratelimit.Middleware(cfg.RateLimiter, cfg.RateLimit, logger))

			r.Post("/pricing/quote", handler.Quote)

			r.Post("/rules/{id}/submit", handler.SubmitRule)
			r.Post("/rules/{id}/approve", handler.ApproveRule)
			r.Post("/rules/{id}/reject", handler.RejectRule)

			r.Post("/surge-configs/{id}/materialize", handler.Materialize)
		})
	})

	return &Server{
		router:  router,
		handler: handler,
		server: &http.Server{
			Addr:         cfg.Address,
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  120 * time.Second,
		},
		logger: logger,
	}
}

// Start serves until Shutdown is called
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP API server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP API server")
	return s.server.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
