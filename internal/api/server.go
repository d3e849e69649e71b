package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/domain"
	"github.com/TRUSTSCOREAI/TRUSTSCORE/internal/metrics"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, metering domain.MeteringConfig, deps Deps) *Server {
	handler := NewHandler(deps)
	logger := handler.Logger
	router := chi.NewRouter()

	router.Use(CORSMiddleware)
	router.Use(middleware.RealIP)
	router.Use(RecoverMiddleware(logger))
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware(logger))
	router.Use(middleware.Compress(5))

	// Operational endpoints are never metered.
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Method(http.MethodGet, "/metrics", metrics.Handler())

	router.Group(func(r chi.Router) {
		r.Use(MeteringMiddleware(metering, deps.Cache, logger))

		r.Get("/reputation/service/{address}", handler.GetServiceReputation)
		r.Get("/reputation/agent/{address}", handler.GetAgentReputation)

		r.Get("/fraud/{address}/score", handler.FraudScore)
		r.Get("/fraud/{address}/flags", handler.FraudFlags)
		r.Get("/fraud/{address}/analysis", handler.AnalyzeFraud)
		r.Post("/fraud/{address}/evaluate", handler.EvaluateFraud)

		r.Get("/compatibility", handler.Compatibility)
	})

	// Operator and watcher endpoints.
	router.Post("/fraud/flags/{id}/resolve", handler.ResolveFlag)
	router.Post("/ingest", handler.Ingest)

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
