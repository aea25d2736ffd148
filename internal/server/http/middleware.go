package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ownkit/docstore/internal/crud"
)

// OwnerHeader carries the authenticated principal's identity. An upstream
// gateway is expected to set it after authentication; requests without it
// are rejected before any data access.
const OwnerHeader = "X-Owner-ID"

type contextKey string

const (
	ownerContextKey   contextKey = "owner"
	serviceContextKey contextKey = "service"
)

// ownerMiddleware extracts the owning principal from the request header and
// stores it in the request context. Every data route runs behind it.
func ownerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := r.Header.Get(OwnerHeader)
		if owner == "" {
			writeError(w, http.StatusUnauthorized, "missing owner identity")
			return
		}
		ctx := context.WithValue(r.Context(), ownerContextKey, owner)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// resourceMiddleware resolves the {resource} path parameter to a registered
// service, rejecting unknown resources before any handler runs.
func (s *Server) resourceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "resource")
		svc, ok := s.services[name]
		if !ok {
			writeError(w, http.StatusNotFound, "unknown resource: "+name)
			return
		}
		ctx := context.WithValue(r.Context(), serviceContextKey, svc)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ownerFromContext returns the principal placed by ownerMiddleware.
func ownerFromContext(ctx context.Context) string {
	owner, _ := ctx.Value(ownerContextKey).(string)
	return owner
}

// serviceFromContext returns the service placed by resourceMiddleware.
func serviceFromContext(ctx context.Context) *crud.PaginatedService {
	svc, _ := ctx.Value(serviceContextKey).(*crud.PaginatedService)
	return svc
}

// requestLogger logs one line per request with status and latency.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", middleware.GetReqID(r.Context())).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request completed")
	})
}

// requestMetrics records request counts and latency per route pattern.
func (s *Server) requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		s.metrics.ObserveHTTPRequest(r.Method, route, ww.Status(), time.Since(start))
	})
}
