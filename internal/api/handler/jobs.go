package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/SnowballHQ/data-enricher/internal/api/response"
	"github.com/SnowballHQ/data-enricher/internal/jobs"
	"github.com/SnowballHQ/data-enricher/internal/store"
	"github.com/SnowballHQ/data-enricher/pkg/models"
)

// JobService defines the manager surface the handlers depend on.
type JobService interface {
	CreateJob(ctx context.Context, p jobs.CreateParams) (*models.Job, error)
	GetStatus(ctx context.Context, id uuid.UUID) (*jobs.JobView, error)
	ListJobs(ctx context.Context, filter store.JobFilter) ([]*models.Job, error)
	GetLogs(ctx context.Context, id uuid.UUID, limit int) ([]*models.JobLogEntry, error)
	Pause(ctx context.Context, id uuid.UUID) error
	Resume(ctx context.Context, id uuid.UUID) error
	Cancel(ctx context.Context, id uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
	Statistics(ctx context.Context) (models.JobStats, error)
	QueueInfo() models.QueueInfo
	Workers() []models.WorkerInfo
}

// NewCreateJobHandler returns the handler for POST /api/v1/jobs.
func NewCreateJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			SheetID   string         `json:"sheet_id"`
			SheetName string         `json:"sheet_name"`
			Mode      string         `json:"mode"`
			StartRow  int            `json:"start_row"`
			RowCount  int            `json:"row_count"`
			APIKey    string         `json:"api_key"`
			Metadata  map[string]any `json:"metadata"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		if req.StartRow == 0 {
			req.StartRow = 2 // first data row below the header
		}

		job, err := svc.CreateJob(r.Context(), jobs.CreateParams{
			SheetID:   req.SheetID,
			SheetName: req.SheetName,
			Mode:      models.JobMode(req.Mode),
			StartRow:  req.StartRow,
			RowCount:  req.RowCount,
			APIKey:    req.APIKey,
			Metadata:  req.Metadata,
		})
		if err != nil {
			writeJobError(w, err)
			return
		}
		response.Created(w, job)
	}
}

// NewListJobsHandler returns the handler for GET /api/v1/jobs.
func NewListJobsHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := store.JobFilter{
			Limit:  queryInt(r, "limit", 50),
			Offset: queryInt(r, "offset", 0),
		}
		if s := r.URL.Query().Get("status"); s != "" {
			status := models.JobStatus(s)
			if !status.Valid() {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"unknown status filter", nil)
				return
			}
			filter.Status = &status
		}

		list, err := svc.ListJobs(r.Context(), filter)
		if err != nil {
			writeJobError(w, err)
			return
		}
		if list == nil {
			list = []*models.Job{}
		}
		response.Collection(w, list, response.PaginationMeta{
			Limit:  filter.Limit,
			Offset: filter.Offset,
			Count:  len(list),
		})
	}
}

// NewGetJobHandler returns the handler for GET /api/v1/jobs/{jobID}.
func NewGetJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobID(w, r)
		if !ok {
			return
		}
		view, err := svc.GetStatus(r.Context(), id)
		if err != nil {
			writeJobError(w, err)
			return
		}
		response.JSON(w, view)
	}
}

// NewJobLogsHandler returns the handler for GET /api/v1/jobs/{jobID}/logs.
func NewJobLogsHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobID(w, r)
		if !ok {
			return
		}
		logs, err := svc.GetLogs(r.Context(), id, queryInt(r, "limit", 50))
		if err != nil {
			writeJobError(w, err)
			return
		}
		if logs == nil {
			logs = []*models.JobLogEntry{}
		}
		response.JSON(w, logs)
	}
}

// NewJobActionHandler returns a handler for the pause/resume/cancel
// control endpoints. The action runs, then the fresh job view is
// returned so callers see the resulting status.
func NewJobActionHandler(svc JobService, action func(context.Context, uuid.UUID) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobID(w, r)
		if !ok {
			return
		}
		if err := action(r.Context(), id); err != nil {
			writeJobError(w, err)
			return
		}
		view, err := svc.GetStatus(r.Context(), id)
		if err != nil {
			writeJobError(w, err)
			return
		}
		response.Accepted(w, view)
	}
}

// NewDeleteJobHandler returns the handler for DELETE /api/v1/jobs/{jobID}.
func NewDeleteJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobID(w, r)
		if !ok {
			return
		}
		if err := svc.Delete(r.Context(), id); err != nil {
			writeJobError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// NewStatsHandler returns the handler for GET /api/v1/jobs/stats.
func NewStatsHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := svc.Statistics(r.Context())
		if err != nil {
			writeJobError(w, err)
			return
		}
		response.JSON(w, stats)
	}
}

// NewQueueHandler returns the handler for GET /api/v1/queue.
func NewQueueHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, queueResponse{
			Queue:   svc.QueueInfo(),
			Workers: svc.Workers(),
		})
	}
}

// NewHealthHandler returns the handler for GET /api/v1/health.
func NewHealthHandler(pingers map[string]func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := make(map[string]string, len(pingers))
		healthy := true
		for name, ping := range pingers {
			if err := ping(r.Context()); err != nil {
				checks[name] = "down: " + err.Error()
				healthy = false
			} else {
				checks[name] = "ok"
			}
		}

		status := "ok"
		code := http.StatusOK
		if !healthy {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(healthResponse{Status: status, Checks: checks})
	}
}

func jobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "jobID")
	id, err := uuid.Parse(raw)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
			"jobID must be a valid UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func writeJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND",
			"No job exists with that id", nil)
	case errors.Is(err, store.ErrInvalidJob):
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR",
			err.Error(), nil)
	case errors.Is(err, jobs.ErrInvalidTransition), errors.Is(err, store.ErrTerminal),
		errors.Is(err, store.ErrStatusConflict):
		response.Error(w, http.StatusConflict, "INVALID_STATE",
			err.Error(), nil)
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}

type queueResponse struct {
	Queue   models.QueueInfo    `json:"queue"`
	Workers []models.WorkerInfo `json:"workers"`
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
