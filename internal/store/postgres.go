package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/SnowballHQ/data-enricher/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const jobColumns = `id, sheet_id, sheet_name, mode, start_row, row_count, status, progress,
	 processed_rows, created_at, started_at, completed_at, error_message, api_key_hash, metadata`

// CreateJob validates the configuration, assigns a fresh id if none is set,
// and inserts the job as pending together with its creation log entry.
func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	if err := validateJob(job); err != nil {
		return err
	}

	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.Status = models.JobStatusPending
	job.Progress = 0
	job.ProcessedRows = 0
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.Metadata == nil {
		job.Metadata = map[string]any{}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create job: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO jobs (id, sheet_id, sheet_name, mode, start_row, row_count, status, progress,
		 processed_rows, created_at, api_key_hash, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		job.ID, job.SheetID, job.SheetName, job.Mode, job.StartRow, job.RowCount,
		job.Status, job.Progress, job.ProcessedRows, job.CreatedAt, job.APIKeyHash, job.Metadata)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}

	if err := appendLogTx(ctx, tx, job.ID, "INFO", "job created", map[string]any{
		"sheet_id":  job.SheetID,
		"mode":      string(job.Mode),
		"row_count": job.RowCount,
	}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func validateJob(job *models.Job) error {
	if strings.TrimSpace(job.SheetID) == "" {
		return fmt.Errorf("%w: sheet id is required", ErrInvalidJob)
	}
	if strings.TrimSpace(job.SheetName) == "" {
		return fmt.Errorf("%w: sheet name is required", ErrInvalidJob)
	}
	if !job.Mode.Valid() {
		return fmt.Errorf("%w: mode must be %q or %q, got %q", ErrInvalidJob, models.ModeText, models.ModeURL, job.Mode)
	}
	if job.StartRow < 1 {
		return fmt.Errorf("%w: start_row must be >= 1, got %d", ErrInvalidJob, job.StartRow)
	}
	if job.RowCount < 1 {
		return fmt.Errorf("%w: row_count must be >= 1, got %d", ErrInvalidJob, job.RowCount)
	}
	return nil
}

// GetJob returns the job with the given id, or ErrNotFound.
func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// UpdateJobStatus applies a partial update in one transaction: the status,
// any supplied progress/processed_rows/error_message, started_at on the
// first transition into running, completed_at on the first transition into
// a terminal state, plus a log row when the status actually changes.
// Terminal jobs are never updated; concurrent cancel and complete cannot
// overwrite each other.
func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, status models.JobStatus, opts ...JobUpdateOption) error {
	params := ApplyUpdateOptions(opts)

	now := time.Now().UTC()
	sets := []string{"status = $2"}
	args := []any{id, status}
	argIdx := 3

	if status == models.JobStatusRunning {
		sets = append(sets, fmt.Sprintf("started_at = COALESCE(started_at, $%d)", argIdx))
		args = append(args, now)
		argIdx++
	}
	if status.Terminal() {
		sets = append(sets, fmt.Sprintf("completed_at = COALESCE(completed_at, $%d)", argIdx))
		args = append(args, now)
		argIdx++
	}
	if params.Progress != nil {
		sets = append(sets, fmt.Sprintf("progress = $%d", argIdx))
		args = append(args, *params.Progress)
		argIdx++
	}
	if params.ProcessedRows != nil {
		sets = append(sets, fmt.Sprintf("processed_rows = $%d", argIdx))
		args = append(args, *params.ProcessedRows)
		argIdx++
	}
	if params.ErrorMessage != nil {
		sets = append(sets, fmt.Sprintf("error_message = $%d", argIdx))
		args = append(args, *params.ErrorMessage)
		argIdx++
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin update job status: %w", err)
	}
	defer tx.Rollback(ctx)

	var prev models.JobStatus
	err = tx.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1 FOR UPDATE`, id).Scan(&prev)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock job row: %w", err)
	}
	if prev.Terminal() {
		return fmt.Errorf("%w: job is %s", ErrTerminal, prev)
	}
	if status == models.JobStatusRunning &&
		prev != models.JobStatusPending && prev != models.JobStatusRunning {
		return fmt.Errorf("%w: cannot run %s job", ErrStatusConflict, prev)
	}

	query := "UPDATE jobs SET " + strings.Join(sets, ", ") + " WHERE id = $1"
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("update job status: %w", err)
	}

	if prev != status {
		details := map[string]any{}
		if params.Progress != nil {
			details["progress"] = *params.Progress
		}
		if params.ProcessedRows != nil {
			details["processed_rows"] = *params.ProcessedRows
		}
		if params.ErrorMessage != nil {
			details["error_message"] = *params.ErrorMessage
		}
		if err := appendLogTx(ctx, tx, id, "INFO", fmt.Sprintf("status changed to %s", status), details); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// ListJobs returns jobs ordered newest-created first, optionally filtered
// by status, with limit/offset paging.
func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	var (
		rows pgx.Rows
		err  error
	)
	if filter.Status != nil {
		rows, err = s.pool.Query(ctx,
			`SELECT `+jobColumns+` FROM jobs WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
			*filter.Status, limit, offset)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
			limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// CountByStatus returns the number of jobs in each status.
func (s *PostgresStore) CountByStatus(ctx context.Context) (map[models.JobStatus]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count jobs by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.JobStatus]int)
	for rows.Next() {
		var status models.JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// DeleteJob removes a job and its logs atomically.
func (s *PostgresStore) DeleteJob(ctx context.Context, id uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete job: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM job_logs WHERE job_id = $1`, id); err != nil {
		return fmt.Errorf("delete job logs: %w", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return tx.Commit(ctx)
}

// CleanupOlderThan deletes terminal jobs whose completed_at is older than
// the cutoff, plus their logs, atomically. Returns the number of jobs
// removed.
func (s *PostgresStore) CleanupOlderThan(ctx context.Context, days int) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin cleanup: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`DELETE FROM job_logs WHERE job_id IN (
		   SELECT id FROM jobs
		   WHERE status IN ('completed', 'failed', 'cancelled')
		     AND completed_at IS NOT NULL AND completed_at < $1)`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup job logs: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`DELETE FROM jobs
		 WHERE status IN ('completed', 'failed', 'cancelled')
		   AND completed_at IS NOT NULL AND completed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup jobs: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// AppendLog records one event for a job. Log rows are append-only.
func (s *PostgresStore) AppendLog(ctx context.Context, jobID uuid.UUID, level, message string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO job_logs (job_id, level, message, details) VALUES ($1, $2, $3, $4)`,
		jobID, level, message, details)
	if err != nil {
		return fmt.Errorf("append job log: %w", err)
	}
	return nil
}

// GetLogs returns the most recent log entries for a job, newest first.
func (s *PostgresStore) GetLogs(ctx context.Context, jobID uuid.UUID, limit int) ([]*models.JobLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id, timestamp, level, message, details
		 FROM job_logs WHERE job_id = $1 ORDER BY timestamp DESC, id DESC LIMIT $2`,
		jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("get job logs: %w", err)
	}
	defer rows.Close()

	var entries []*models.JobLogEntry
	for rows.Next() {
		var e models.JobLogEntry
		if err := rows.Scan(&e.ID, &e.JobID, &e.Timestamp, &e.Level, &e.Message, &e.Details); err != nil {
			return nil, fmt.Errorf("scan job log: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func appendLogTx(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, level, message string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO job_logs (job_id, level, message, details) VALUES ($1, $2, $3, $4)`,
		jobID, level, message, details)
	if err != nil {
		return fmt.Errorf("append job log: %w", err)
	}
	return nil
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.SheetID, &j.SheetName, &j.Mode, &j.StartRow, &j.RowCount,
		&j.Status, &j.Progress, &j.ProcessedRows, &j.CreatedAt, &j.StartedAt, &j.CompletedAt,
		&j.ErrorMessage, &j.APIKeyHash, &j.Metadata)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
