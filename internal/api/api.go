// Package api serves the operator-facing HTTP surface of spec.md §7: run
// status, the dead-lettered "failed-jobs" view, liveness, and starting a
// new run. It is a thin read/trigger layer over internal/store and
// internal/queue — no pipeline logic lives here.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	pipelineerrors "github.com/korrelate/triangulate/internal/errors"
	"github.com/korrelate/triangulate/internal/queue"
	"github.com/korrelate/triangulate/internal/store"
	"github.com/korrelate/triangulate/internal/telemetry/metrics"
	"github.com/korrelate/triangulate/internal/telemetry/tracing"
)

// Starter begins a new run over rootPath, matching Scout's start contract
// (spec.md §4.1). internal/scout implements this; api depends only on the
// interface to avoid importing scout's job-fan-out machinery here.
type Starter interface {
	Start(ctx context.Context, rootPath string) (runID string, err error)
}

// Server bundles the router's dependencies.
type Server struct {
	runs    *store.RunRepository
	queue   *queue.Queue
	starter Starter
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewServer(runs *store.RunRepository, q *queue.Queue, starter Starter, m *metrics.Metrics, logger *zap.Logger) *Server {
	return &Server{runs: runs, queue: q, starter: starter, metrics: m, logger: logger}
}

// NewRouter builds the chi router: request-id, recoverer, CORS, then the
// metrics/tracing instrumentation, then the routes themselves.
func (s *Server) NewRouter(allowedOrigins []string) chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}))
	r.Use(s.instrument)

	r.Get("/healthz", s.handleHealthz)
	r.Post("/runs", s.handleCreateRun)
	r.Get("/runs/{runId}", s.handleGetRun)
	r.Get("/runs/{runId}/failed-jobs", s.handleFailedJobs)

	return r
}

// instrument records per-route prometheus metrics and an otel span for
// every request. Route is taken from chi's matched pattern, not the raw
// path, to keep the route label's cardinality bounded.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ctx, span := tracing.StartHTTPSpan(r.Context(), "triangulate/api", r.URL.Path, r.Method)
		defer span.End()

		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		// chi's route tree match happens inside next.ServeHTTP, mutating
		// the *chi.Context already attached to r's context in place — so
		// RoutePattern is only meaningful once next has returned. Used for
		// the metric label (bounded cardinality); the span keeps the raw
		// path set at start.
		route := r.URL.Path
		if rctx := chi.RouteContext(ctx); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		span.SetAttributes(attribute.Int("http.status_code", ww.Status()))

		status := strconv.Itoa(ww.Status())
		s.metrics.HTTPRequests.WithLabelValues(route, r.Method, status).Inc()
		s.metrics.HTTPDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := pipelineerrors.GetStatusCode(err)
	logger.Warn("operator API request failed", zap.Error(err), zap.Int("status", status))
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
