// Package api exposes the orchestrator over HTTP.
//
// Routes:
//
//	POST /runs                    start a run
//	GET  /runs                    list runs (?status=&experiment_id=&limit=)
//	GET  /runs/{id}               status view
//	POST /runs/{id}/decision      submit the review decision
//	GET  /runs/{id}/result        result view
//	GET  /runs/{id}/provenance    provenance graph
//	POST /runs/{id}/abandon       abandon a non-terminal run
//	GET  /healthz                 liveness
//
// Errors are JSON objects of the form {"error": "..."}; see StatusCode for
// the mapping from orchestrator errors to HTTP status codes.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/randalmurphal/docflow/pkg/docflow/orchestrator"
	"github.com/randalmurphal/docflow/pkg/docflow/provenance"
	"github.com/randalmurphal/docflow/pkg/docflow/run"
	"github.com/randalmurphal/docflow/pkg/docflow/store"
)

// Service is the subset of *orchestrator.Orchestrator the handlers call.
type Service interface {
	Start(ctx context.Context, experimentID string, opts orchestrator.StartOptions) (string, error)
	Status(ctx context.Context, runID string) (*run.Run, error)
	Result(ctx context.Context, runID string) (*run.Run, error)
	List(ctx context.Context, filter store.Filter) ([]*run.Run, error)
	SubmitDecision(ctx context.Context, runID string, d run.Decision) (*run.Run, error)
	Abandon(ctx context.Context, runID, reason string) (*run.Run, error)
	ExportProvenance(ctx context.Context, runID string) (*provenance.Graph, error)
}

var _ Service = (*orchestrator.Orchestrator)(nil)

// Handler serves the run endpoints.
type Handler struct {
	svc         Service
	logger      *slog.Logger
	corsOrigins []string
	maxList     int
}

// Option configures a Handler.
type Option func(*Handler)

// WithCORSOrigins enables CORS for the given origins.
func WithCORSOrigins(origins []string) Option {
	return func(h *Handler) {
		h.corsOrigins = origins
	}
}

// WithMaxList caps the number of runs GET /runs returns.
func WithMaxList(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxList = n
		}
	}
}

// NewHandler creates a Handler. A nil logger uses slog.Default().
func NewHandler(svc Service, logger *slog.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		svc:     svc,
		logger:  logger.With("component", "api"),
		maxList: 500,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router returns the HTTP handler with middleware applied.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.requestLogger)
	if len(h.corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: h.corsOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/runs", func(r chi.Router) {
		r.Post("/", h.Start)
		r.Get("/", h.List)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Status)
			r.Post("/decision", h.SubmitDecision)
			r.Get("/result", h.Result)
			r.Get("/provenance", h.Provenance)
			r.Post("/abandon", h.Abandon)
		})
	})
	return r
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Info("request",
			"method", r.Method,
			"uri", r.URL.RequestURI(),
			"status", ww.Status(),
			"request_id", middleware.GetReqID(r.Context()),
			"duration", time.Since(start),
		)
	})
}
