package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/SnowballHQ/data-enricher/internal/api/middleware"
	"github.com/SnowballHQ/data-enricher/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	RateLimit *mw.RateLimit

	HealthHandler    http.HandlerFunc
	CreateJobHandler http.HandlerFunc
	ListJobsHandler  http.HandlerFunc
	GetJobHandler    http.HandlerFunc
	JobLogsHandler   http.HandlerFunc
	PauseHandler     http.HandlerFunc
	ResumeHandler    http.HandlerFunc
	CancelHandler    http.HandlerFunc
	DeleteJobHandler http.HandlerFunc
	StatsHandler     http.HandlerFunc
	QueueHandler     http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	r.Group(func(r chi.Router) {
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}

		r.Get("/api/v1/jobs/stats", orNotImplemented(deps.StatsHandler))
		r.Get("/api/v1/queue", orNotImplemented(deps.QueueHandler))

		r.Post("/api/v1/jobs", orNotImplemented(deps.CreateJobHandler))
		r.Get("/api/v1/jobs", orNotImplemented(deps.ListJobsHandler))
		r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.GetJobHandler))
		r.Get("/api/v1/jobs/{jobID}/logs", orNotImplemented(deps.JobLogsHandler))
		r.Delete("/api/v1/jobs/{jobID}", orNotImplemented(deps.DeleteJobHandler))

		r.Post("/api/v1/jobs/{jobID}/pause", orNotImplemented(deps.PauseHandler))
		r.Post("/api/v1/jobs/{jobID}/resume", orNotImplemented(deps.ResumeHandler))
		r.Post("/api/v1/jobs/{jobID}/cancel", orNotImplemented(deps.CancelHandler))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
