package store

import (
	"context"
	"errors"

	"github.com/SnowballHQ/data-enricher/pkg/models"
	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a job id does not exist. Callers treat
	// this as "job vanished"; jobs may be deleted concurrently with an
	// in-flight worker still referencing them.
	ErrNotFound = errors.New("job not found")
	// ErrInvalidJob is returned when a job configuration fails validation
	// at creation. Never retried.
	ErrInvalidJob = errors.New("invalid job configuration")
	// ErrTerminal is returned when an update targets a job that already
	// reached a terminal status. Terminal jobs only change via delete.
	ErrTerminal = errors.New("job already terminal")
	// ErrStatusConflict is returned when an update would move a job to
	// running from anywhere but pending or running. It closes the window
	// where a job is paused after being pulled off the queue but before
	// its worker marks it running.
	ErrStatusConflict = errors.New("job status conflict")
)

// Store is the data access interface for jobs and their event logs. It is
// the only component permitted to mutate persisted job state, and every
// mutating call is atomic (a single transaction).
type Store interface {
	Ping(ctx context.Context) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status models.JobStatus, opts ...JobUpdateOption) error
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, error)
	CountByStatus(ctx context.Context) (map[models.JobStatus]int, error)
	DeleteJob(ctx context.Context, id uuid.UUID) error
	CleanupOlderThan(ctx context.Context, days int) (int, error)

	AppendLog(ctx context.Context, jobID uuid.UUID, level, message string, details map[string]any) error
	GetLogs(ctx context.Context, jobID uuid.UUID, limit int) ([]*models.JobLogEntry, error)
}

// JobFilter selects and pages job listings. A nil Status matches all.
type JobFilter struct {
	Status *models.JobStatus
	Limit  int
	Offset int
}

// JobUpdate is the resolved set of optional fields for UpdateJobStatus.
type JobUpdate struct {
	Progress      *float64
	ProcessedRows *int
	ErrorMessage  *string
}

type JobUpdateOption func(*JobUpdate)

// ApplyUpdateOptions folds options into a JobUpdate. Store
// implementations use this to see which fields were supplied.
func ApplyUpdateOptions(opts []JobUpdateOption) JobUpdate {
	var u JobUpdate
	for _, opt := range opts {
		opt(&u)
	}
	return u
}

func WithProgress(p float64) JobUpdateOption {
	return func(u *JobUpdate) {
		u.Progress = &p
	}
}

func WithProcessedRows(n int) JobUpdateOption {
	return func(u *JobUpdate) {
		u.ProcessedRows = &n
	}
}

func WithErrorMessage(msg string) JobUpdateOption {
	return func(u *JobUpdate) {
		u.ErrorMessage = &msg
	}
}
