// Package httpserver exposes the document store's resource services over a
// REST boundary. It is the only layer that maps the error taxonomy to HTTP
// status codes; the core packages never see HTTP.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ownkit/docstore/internal/crud"
	"github.com/ownkit/docstore/internal/observability"
)

// Config holds HTTP server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// HealthChecker reports whether the backing database is reachable.
type HealthChecker func(ctx context.Context) error

// Server is the HTTP REST boundary over a set of resource services.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	services   map[string]*crud.PaginatedService
	health     HealthChecker
	logger     zerolog.Logger
	metrics    *observability.Metrics
}

// NewServer creates a server exposing the given services, keyed by resource
// name. The health checker may be nil when no backend ping is available.
func NewServer(
	cfg Config,
	services map[string]*crud.PaginatedService,
	health HealthChecker,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Server {
	s := &Server{
		services: services,
		health:   health,
		logger:   logger.With().Str("component", "http-server").Logger(),
		metrics:  metrics,
	}

	s.router = s.buildRouter()
	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Router returns the underlying router, for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	if s.metrics != nil {
		r.Use(s.requestMetrics)
	}

	r.Get("/healthz", s.healthHandler)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1/{resource}", func(r chi.Router) {
		r.Use(ownerMiddleware)
		r.Use(s.resourceMiddleware)

		r.Get("/", s.listDocuments)
		r.Post("/", s.createDocument)
		r.Post("/bulk", s.bulkCreateDocuments)
		r.Get("/search", s.searchDocuments)
		r.Get("/count", s.countDocuments)
		r.Put("/upsert", s.upsertDocument)
		r.Get("/{id}", s.getDocument)
		r.Put("/{id}", s.updateDocument)
		r.Delete("/{id}", s.deleteDocument)
	})

	return r
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// healthHandler returns basic liveness status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Best-effort; headers already sent.
		_ = err
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{
		"error": message,
	})
}
