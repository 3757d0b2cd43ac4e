// Package server provides the HTTP admin server of the view syncer.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/ydydsnyd/mono-sub004/internal/config"
	apierrors "github.com/ydydsnyd/mono-sub004/internal/errors"
	"github.com/ydydsnyd/mono-sub004/internal/handler"
	"github.com/ydydsnyd/mono-sub004/internal/health"
	"github.com/ydydsnyd/mono-sub004/internal/metrics"
	"github.com/ydydsnyd/mono-sub004/internal/middleware"
	"github.com/ydydsnyd/mono-sub004/internal/service"
)

// Server represents the HTTP server.
type Server struct {
	router       *mux.Router
	httpServer   *http.Server
	handlers     *handler.Handlers
	healthCheck  *health.HealthCheck
	errorHandler *apierrors.Handler
	metrics      *metrics.Metrics
	logger       *zap.Logger
	cfg          *config.Config
}

// NewServer creates a new HTTP server.
func NewServer(
	cfg *config.Config,
	cvrService *service.CVRService,
	healthCheck *health.HealthCheck,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Server {
	router := mux.NewRouter()
	errorHandler := apierrors.NewHandler(logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Server{
		router:       router,
		httpServer:   httpServer,
		handlers:     handler.NewHandlers(cvrService, errorHandler, logger),
		healthCheck:  healthCheck,
		errorHandler: errorHandler,
		metrics:      m,
		logger:       logger,
		cfg:          cfg,
	}
}

// SetupRoutes configures all HTTP routes.
func (s *Server) SetupRoutes() {
	middlewareChain := []func(http.Handler) http.Handler{
		middleware.Recovery(s.logger),
		middleware.RequestID,
		middleware.Logging(s.logger),
		middleware.Metrics(s.metrics),
	}
	if s.cfg.Server.WriteTimeout > 0 {
		middlewareChain = append(middlewareChain, middleware.Timeout(s.cfg.Server.WriteTimeout))
	}

	// Router middleware runs after matching, so the limiter sees the
	// client group of the route
	if s.cfg.Server.RateLimit > 0 {
		rateLimiter := middleware.NewRateLimiter(s.cfg.Server.RateLimit, s.cfg.Server.RateBurst, s.logger)
		middlewareChain = append(middlewareChain, rateLimiter.Limit)
	}

	s.router.Use(middleware.Chain(middlewareChain...))

	// Health check endpoints
	s.router.HandleFunc("/health", s.healthCheck.LivenessHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", s.healthCheck.ReadinessHandler).Methods(http.MethodGet)

	// Client groups
	groups := s.router.PathPrefix("/v1/groups").Subrouter()
	groups.HandleFunc("/{group_id}", s.handlers.GetClientGroup).Methods(http.MethodGet)
	groups.HandleFunc("/{group_id}/touch", s.handlers.Touch).Methods(http.MethodPost)
	groups.HandleFunc("/{group_id}/catchup", s.handlers.Catchup).Methods(http.MethodGet)
	groups.HandleFunc("/{group_id}/executions", s.handlers.ApplyExecution).Methods(http.MethodPost)

	// Clients
	groups.HandleFunc("/{group_id}/clients/{client_id}", s.handlers.DeleteClient).Methods(http.MethodDelete)
	groups.HandleFunc("/{group_id}/clients/{client_id}/queries", s.handlers.PutDesiredQueries).Methods(http.MethodPut)
	groups.HandleFunc("/{group_id}/clients/{client_id}/queries", s.handlers.DeleteDesiredQueries).Methods(http.MethodDelete)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.errorHandler.WriteErrorResponse(w, http.StatusNotFound, apierrors.ErrorCodeNotFound, "endpoint not found", r.Header.Get("X-Request-ID"))
	})

	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.errorHandler.WriteErrorResponse(w, http.StatusMethodNotAllowed, apierrors.ErrorCodeInvalidRequest, "method not allowed", r.Header.Get("X-Request-ID"))
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server",
		zap.String("addr", s.httpServer.Addr),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}
