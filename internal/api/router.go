package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	apimiddleware "github.com/phrazzld/examgen/internal/api/middleware"
	"github.com/phrazzld/examgen/internal/api/shared"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

const healthTimeout = 2 * time.Second

// NewRouter builds the HTTP surface of the job service. Checks run on
// GET /healthz; any failing check turns the response into 503.
func NewRouter(jobs JobAPI, log *slog.Logger, checks ...HealthCheck) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	handler := NewJobHandler(jobs, log)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(apimiddleware.NewTraceMiddleware(log))

	r.Route("/v1/jobs", func(r chi.Router) {
		r.Post("/", handler.CreateJob)
		r.Get("/", handler.ListJobs)
		r.Get("/{id}", handler.GetJob)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		for _, check := range checks {
			if err := check(ctx); err != nil {
				shared.RespondWithErrorAndLog(w, r, http.StatusServiceUnavailable, "unavailable", err)
				return
			}
		}
		shared.RespondWithJSON(w, r, http.StatusOK, HealthResponse{Status: "ok"})
	})

	return r
}
