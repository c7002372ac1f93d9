// Package jobs is the control plane for background enrichment jobs. The
// Manager owns the dispatch queue, the worker pool, the job state
// machine, and the pause/cancel flags workers poll.
package jobs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SnowballHQ/data-enricher/internal/cache"
	"github.com/SnowballHQ/data-enricher/internal/config"
	"github.com/SnowballHQ/data-enricher/internal/processor"
	"github.com/SnowballHQ/data-enricher/internal/queue"
	"github.com/SnowballHQ/data-enricher/internal/store"
	"github.com/SnowballHQ/data-enricher/pkg/models"
)

// ErrInvalidTransition is returned when an operation is not valid for the
// job's current status.
var ErrInvalidTransition = errors.New("invalid job state transition")

const (
	dispatchInterval = 200 * time.Millisecond
	jobCacheTTL      = time.Minute
	maxErrorLen      = 500

	// Rough per-job runtime used for the queue wait estimate.
	estimatedJobMins = 2.0
)

// StatusSubscriber is notified on every job status transition.
type StatusSubscriber func(jobID uuid.UUID, status models.JobStatus)

// ProgressSubscriber is notified after each processed row. The message
// names the row outcome and the estimated time remaining.
type ProgressSubscriber func(jobID uuid.UUID, processed int, progress float64, message string)

// JobView is a job plus its queue position when it is waiting for a
// worker.
type JobView struct {
	models.Job
	QueuePosition *int `json:"queue_position,omitempty"`
}

// CreateParams describes a new job.
type CreateParams struct {
	SheetID   string
	SheetName string
	Mode      models.JobMode
	StartRow  int
	RowCount  int
	APIKey    string
	Metadata  map[string]any
}

// Manager coordinates job creation, dispatch, and lifecycle control.
type Manager struct {
	store    store.Store
	cache    cache.Cache // optional; nil disables the job mirror
	queue    *queue.FIFO
	pool     *Pool
	procDeps processor.Deps
	cfg      config.JobsConfig
	logger   *slog.Logger

	mu       sync.Mutex
	controls map[uuid.UUID]*jobControl

	subMu        sync.RWMutex
	statusSubs   []StatusSubscriber
	progressSubs []ProgressSubscriber

	statsMu sync.Mutex
	stats   models.JobStats
	statsAt time.Time

	runCtx  context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewManager builds a Manager. The cache may be nil.
func NewManager(st store.Store, c cache.Cache, procDeps processor.Deps, cfg config.JobsConfig, logger *slog.Logger) *Manager {
	return &Manager{
		store:    st,
		cache:    c,
		queue:    queue.New(),
		pool:     NewPool(cfg.MaxWorkers),
		procDeps: procDeps,
		cfg:      cfg,
		logger:   logger,
		controls: make(map[uuid.UUID]*jobControl),
	}
}

// Start recovers persisted state and launches the dispatch loop. Jobs
// left running by a previous process are failed; pending jobs are
// re-queued oldest first.
func (m *Manager) Start(ctx context.Context) error {
	if m.started {
		return errors.New("manager already started")
	}
	m.started = true
	m.runCtx, m.stop = context.WithCancel(context.Background())

	if err := m.recoverState(ctx); err != nil {
		return fmt.Errorf("recovering job state: %w", err)
	}

	m.wg.Add(1)
	go m.dispatchLoop()
	return nil
}

// Stop halts dispatching and waits for in-flight workers to observe the
// shutdown.
func (m *Manager) Stop() {
	if !m.started {
		return
	}
	m.stop()
	m.wg.Wait()
}

func (m *Manager) recoverState(ctx context.Context) error {
	// Worker slots do not survive a restart, so any job still marked
	// running lost its worker.
	running := models.JobStatusRunning
	orphans, err := m.store.ListJobs(ctx, store.JobFilter{Status: &running, Limit: 1000})
	if err != nil {
		return err
	}
	for _, job := range orphans {
		if err := m.store.UpdateJobStatus(ctx, job.ID, models.JobStatusFailed,
			store.WithErrorMessage("worker died")); err != nil {
			m.logger.Warn("failed to fail orphaned job", "job_id", job.ID, "error", err)
		}
	}

	pending := models.JobStatusPending
	waiting, err := m.store.ListJobs(ctx, store.JobFilter{Status: &pending, Limit: 1000})
	if err != nil {
		return err
	}
	sort.Slice(waiting, func(i, j int) bool {
		return waiting[i].CreatedAt.Before(waiting[j].CreatedAt)
	})
	for _, job := range waiting {
		m.queue.Enqueue(job.ID)
	}

	if len(orphans) > 0 || len(waiting) > 0 {
		m.logger.Info("job state recovered",
			"orphaned", len(orphans), "requeued", len(waiting))
	}
	return nil
}

func (m *Manager) dispatchLoop() {
	defer m.wg.Done()

	dispatch := time.NewTicker(dispatchInterval)
	defer dispatch.Stop()

	sweepEvery := m.cfg.HeartbeatTimeout / 4
	if sweepEvery < time.Second {
		sweepEvery = time.Second
	}
	sweep := time.NewTicker(sweepEvery)
	defer sweep.Stop()

	for {
		select {
		case <-m.runCtx.Done():
			return
		case <-dispatch.C:
			m.dispatchQueued()
		case <-sweep.C:
			m.sweepWorkers()
			m.refreshStats(m.runCtx)
		}
	}
}

// dispatchQueued hands queued jobs to idle workers. Only this goroutine
// acquires worker slots, so the free-slot check cannot race.
func (m *Manager) dispatchQueued() {
	for m.pool.Active() < m.pool.Size() {
		id, ok := m.queue.DequeueNowait()
		if !ok {
			return
		}

		job, err := m.store.GetJob(m.runCtx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue // deleted while queued
		}
		if err != nil {
			m.logger.Error("dispatch fetch failed", "job_id", id, "error", err)
			m.queue.Enqueue(id)
			return
		}
		if job.Status != models.JobStatusPending {
			continue // paused or cancelled while queued
		}

		workerID, ok := m.pool.Acquire(job.ID)
		if !ok {
			m.queue.Enqueue(id)
			return
		}
		m.wg.Add(1)
		go m.runJob(workerID, job)
	}
}

func (m *Manager) runJob(workerID string, job *models.Job) {
	defer m.wg.Done()
	defer m.pool.Release(workerID, job.ID)
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("worker panic",
				"worker_id", workerID, "job_id", job.ID,
				"panic", r, "stack", string(debug.Stack()))
			m.finish(job.ID, models.JobStatusFailed,
				store.WithErrorMessage(truncateError(fmt.Sprintf("internal error: %v", r))))
		}
	}()

	ctx := m.runCtx
	if err := m.setStatus(ctx, job.ID, models.JobStatusRunning); err != nil {
		// Vanished or already terminal while waiting for a slot.
		m.dropControl(job.ID)
		return
	}

	strategy, err := processor.ForMode(job.Mode, m.procDeps)
	if err != nil {
		m.finish(job.ID, models.JobStatusFailed, store.WithErrorMessage(truncateError(err.Error())))
		m.dropControl(job.ID)
		return
	}

	ctl := m.control(job.ID)
	report := func(processed int, progress float64, message string) {
		m.pool.Heartbeat(workerID, job.ID)
		if err := m.store.UpdateJobStatus(ctx, job.ID, models.JobStatusRunning,
			store.WithProgress(progress), store.WithProcessedRows(processed)); err != nil {
			// Cancelled from the outside or deleted; the strategy will
			// observe the flag at the next row boundary.
			m.logger.Debug("progress update skipped", "job_id", job.ID, "error", err)
			return
		}
		m.notifyProgress(job.ID, processed, progress, message)
	}

	m.logger.Info("job started",
		"worker_id", workerID, "job_id", job.ID,
		"mode", job.Mode, "rows", job.RowCount)

	outcome, err := strategy.Process(ctx, job, ctl, report)

	switch {
	case err != nil && errors.Is(err, context.Canceled):
		// Process shutdown; leave the job running for the next start's
		// recovery to fail.
	case err != nil:
		m.finish(job.ID, models.JobStatusFailed,
			store.WithErrorMessage(truncateError(err.Error())))
	case outcome.Stopped == processor.StopCancelled:
		m.finish(job.ID, models.JobStatusCancelled,
			store.WithErrorMessage("cancelled by user"),
			store.WithProcessedRows(outcome.Processed))
	case outcome.Stopped == processor.StopPaused:
		m.finish(job.ID, models.JobStatusPaused,
			store.WithErrorMessage("paused by user"),
			store.WithProcessedRows(outcome.Processed))
	default:
		m.finish(job.ID, models.JobStatusCompleted,
			store.WithProgress(100), store.WithProcessedRows(outcome.Processed))
	}

	if logErr := m.store.AppendLog(ctx, job.ID, "INFO",
		fmt.Sprintf("processed %d rows", outcome.Processed), map[string]any{
			"succeeded": outcome.Succeeded,
			"skipped":   outcome.Skipped,
			"errored":   outcome.Errored,
		}); logErr != nil && !errors.Is(logErr, store.ErrNotFound) {
		m.logger.Warn("summary log failed", "job_id", job.ID, "error", logErr)
	}

	m.dropControl(job.ID)
	m.logger.Info("job finished",
		"worker_id", workerID, "job_id", job.ID,
		"processed", outcome.Processed, "succeeded", outcome.Succeeded,
		"skipped", outcome.Skipped, "errored", outcome.Errored,
		"stopped", string(outcome.Stopped), "error", err)
}

// sweepWorkers fails jobs whose worker stopped heartbeating. This is the
// only preemptive failure path.
func (m *Manager) sweepWorkers() {
	for _, w := range m.pool.Stale(m.cfg.HeartbeatTimeout) {
		if w.CurrentJobID == nil {
			continue
		}
		jobID := *w.CurrentJobID
		m.logger.Warn("worker heartbeat lost",
			"worker_id", w.WorkerID, "job_id", jobID,
			"last_heartbeat", w.LastHeartbeat)

		if ctl := m.lookupControl(jobID); ctl != nil {
			ctl.cancel.Store(true)
		}
		m.finish(jobID, models.JobStatusFailed, store.WithErrorMessage("worker died"))
		m.pool.Release(w.WorkerID, jobID)
	}
}

// CreateJob persists a new pending job and queues it for dispatch. The
// caller's API key is stored only as a fingerprint.
func (m *Manager) CreateJob(ctx context.Context, p CreateParams) (*models.Job, error) {
	job := &models.Job{
		SheetID:    p.SheetID,
		SheetName:  p.SheetName,
		Mode:       p.Mode,
		StartRow:   p.StartRow,
		RowCount:   p.RowCount,
		APIKeyHash: fingerprint(p.APIKey),
		Metadata:   p.Metadata,
	}
	if err := m.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	m.queue.Enqueue(job.ID)
	m.mirrorJob(job)
	m.notifyStatus(job.ID, models.JobStatusPending)

	m.logger.Info("job created",
		"job_id", job.ID, "mode", job.Mode,
		"start_row", job.StartRow, "row_count", job.RowCount)
	return job, nil
}

// Pause stops a pending job immediately or asks a running job's worker
// to stop at the next row boundary.
func (m *Manager) Pause(ctx context.Context, id uuid.UUID) error {
	job, err := m.store.GetJob(ctx, id)
	if err != nil {
		return err
	}

	switch job.Status {
	case models.JobStatusPending:
		m.queue.Remove(id)
		return m.setStatus(ctx, id, models.JobStatusPaused,
			store.WithErrorMessage("paused by user"))
	case models.JobStatusRunning:
		m.control(id).pause.Store(true)
		return nil
	default:
		return fmt.Errorf("%w: cannot pause %s job", ErrInvalidTransition, job.Status)
	}
}

// Resume re-queues a paused job.
func (m *Manager) Resume(ctx context.Context, id uuid.UUID) error {
	job, err := m.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status != models.JobStatusPaused {
		return fmt.Errorf("%w: cannot resume %s job", ErrInvalidTransition, job.Status)
	}

	m.dropControl(id) // clear a stale pause flag
	if err := m.setStatus(ctx, id, models.JobStatusPending); err != nil {
		return err
	}
	m.queue.Enqueue(id)
	return nil
}

// Cancel terminates a non-terminal job. A running job's worker observes
// the cancel flag at its next row boundary; rows already written keep
// their results.
func (m *Manager) Cancel(ctx context.Context, id uuid.UUID) error {
	job, err := m.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return fmt.Errorf("%w: job already %s", ErrInvalidTransition, job.Status)
	}

	if ctl := m.lookupControl(id); ctl != nil {
		ctl.cancel.Store(true)
	}
	m.queue.Remove(id)
	return m.setStatus(ctx, id, models.JobStatusCancelled,
		store.WithErrorMessage("cancelled by user"))
}

// Delete cancels a non-terminal job, then removes it and its logs.
func (m *Manager) Delete(ctx context.Context, id uuid.UUID) error {
	job, err := m.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if !job.Status.Terminal() {
		if err := m.Cancel(ctx, id); err != nil && !errors.Is(err, store.ErrTerminal) {
			return err
		}
	}

	if err := m.store.DeleteJob(ctx, id); err != nil {
		return err
	}
	m.dropControl(id)
	m.queue.Remove(id)
	if m.cache != nil {
		if err := m.cache.Delete(ctx, cache.JobStatusKey(id)); err != nil {
			m.logger.Debug("cache delete failed", "job_id", id, "error", err)
		}
	}
	return nil
}

// GetStatus returns a job together with its queue position when pending.
// Finished jobs are served from the cache mirror when it has them; a
// finished record never changes again, so the mirror cannot be stale.
// Everything else reads the store for fresh progress.
func (m *Manager) GetStatus(ctx context.Context, id uuid.UUID) (*JobView, error) {
	if job := m.cachedJob(ctx, id); job != nil {
		return &JobView{Job: *job}, nil
	}

	job, err := m.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}

	view := &JobView{Job: *job}
	if job.Status == models.JobStatusPending {
		if pos := m.queue.Position(id); pos >= 0 {
			pos++ // 1-based: the next job to dispatch reports position 1
			view.QueuePosition = &pos
		}
	}
	return view, nil
}

// ListJobs pages persisted jobs, newest first.
func (m *Manager) ListJobs(ctx context.Context, filter store.JobFilter) ([]*models.Job, error) {
	return m.store.ListJobs(ctx, filter)
}

// GetLogs returns a job's most recent log entries.
func (m *Manager) GetLogs(ctx context.Context, id uuid.UUID, limit int) ([]*models.JobLogEntry, error) {
	if _, err := m.store.GetJob(ctx, id); err != nil {
		return nil, err
	}
	return m.store.GetLogs(ctx, id, limit)
}

// Statistics returns aggregate job counts, cached briefly to keep hot
// polling off the database.
func (m *Manager) Statistics(ctx context.Context) (models.JobStats, error) {
	m.statsMu.Lock()
	fresh := time.Since(m.statsAt) < m.cfg.StatsTTL
	stats := m.stats
	m.statsMu.Unlock()
	if fresh {
		return stats, nil
	}

	// Another instance may have counted recently; its shared copy saves
	// the aggregate query.
	if m.cache != nil {
		if b, ok, err := m.cache.Get(ctx, cache.StatsKey()); err == nil && ok {
			var shared models.JobStats
			if err := json.Unmarshal(b, &shared); err == nil {
				m.statsMu.Lock()
				m.stats = shared
				m.statsAt = time.Now()
				m.statsMu.Unlock()
				return shared, nil
			}
		}
	}
	return m.refreshStats(ctx)
}

func (m *Manager) refreshStats(ctx context.Context) (models.JobStats, error) {
	counts, err := m.store.CountByStatus(ctx)
	if err != nil {
		return models.JobStats{}, err
	}

	stats := models.JobStats{
		Pending:   counts[models.JobStatusPending],
		Running:   counts[models.JobStatusRunning],
		Paused:    counts[models.JobStatusPaused],
		Completed: counts[models.JobStatusCompleted],
		Failed:    counts[models.JobStatusFailed],
		Cancelled: counts[models.JobStatusCancelled],
	}
	for _, n := range counts {
		stats.Total += n
	}
	if finished := stats.Completed + stats.Failed; finished > 0 {
		stats.SuccessRate = float64(stats.Completed) / float64(finished) * 100
	}

	m.statsMu.Lock()
	m.stats = stats
	m.statsAt = time.Now()
	m.statsMu.Unlock()

	if m.cache != nil {
		if b, err := json.Marshal(stats); err == nil {
			if err := m.cache.Set(ctx, cache.StatsKey(), b, m.cfg.StatsTTL); err != nil {
				m.logger.Debug("stats cache write failed", "error", err)
			}
		}
	}
	return stats, nil
}

// QueueInfo snapshots the dispatch queue and worker pool.
func (m *Manager) QueueInfo() models.QueueInfo {
	size := m.queue.Len()
	return models.QueueInfo{
		QueueSize:         size,
		ActiveWorkers:     m.pool.Active(),
		MaxWorkers:        m.pool.Size(),
		EstimatedWaitMins: float64(size) * estimatedJobMins / float64(m.pool.Size()),
	}
}

// Workers snapshots the worker slots.
func (m *Manager) Workers() []models.WorkerInfo {
	return m.pool.Snapshot()
}

// SubscribeStatus registers a callback for status transitions. Callbacks
// run inline on the transitioning goroutine; panics are contained.
func (m *Manager) SubscribeStatus(fn StatusSubscriber) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.statusSubs = append(m.statusSubs, fn)
}

// SubscribeProgress registers a callback for per-row progress.
func (m *Manager) SubscribeProgress(fn ProgressSubscriber) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.progressSubs = append(m.progressSubs, fn)
}

func (m *Manager) notifyStatus(jobID uuid.UUID, status models.JobStatus) {
	m.subMu.RLock()
	subs := m.statusSubs
	m.subMu.RUnlock()
	for _, fn := range subs {
		m.safeNotify(jobID, func() { fn(jobID, status) })
	}
}

func (m *Manager) notifyProgress(jobID uuid.UUID, processed int, progress float64, message string) {
	m.subMu.RLock()
	subs := m.progressSubs
	m.subMu.RUnlock()
	for _, fn := range subs {
		m.safeNotify(jobID, func() { fn(jobID, processed, progress, message) })
	}
}

// safeNotify isolates subscriber panics from the worker.
func (m *Manager) safeNotify(jobID uuid.UUID, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("subscriber panic", "job_id", jobID, "panic", r)
		}
	}()
	fn()
}

// setStatus updates the store and fans the transition out to the cache
// mirror and subscribers.
func (m *Manager) setStatus(ctx context.Context, id uuid.UUID, status models.JobStatus, opts ...store.JobUpdateOption) error {
	if err := m.store.UpdateJobStatus(ctx, id, status, opts...); err != nil {
		return err
	}
	if job, err := m.store.GetJob(ctx, id); err == nil {
		m.mirrorJob(job)
	}
	m.notifyStatus(id, status)
	return nil
}

// finish is setStatus for workers: a job that vanished or was already
// driven terminal by someone else is not an error here.
func (m *Manager) finish(id uuid.UUID, status models.JobStatus, opts ...store.JobUpdateOption) {
	err := m.setStatus(m.runCtx, id, status, opts...)
	if err != nil && !errors.Is(err, store.ErrNotFound) && !errors.Is(err, store.ErrTerminal) {
		m.logger.Error("status update failed", "job_id", id, "status", status, "error", err)
	}
}

// mirrorJob writes a job snapshot to the cache so status reads for
// finished jobs skip the database.
func (m *Manager) mirrorJob(job *models.Job) {
	if m.cache == nil {
		return
	}
	b, err := json.Marshal(job)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.cache.Set(ctx, cache.JobStatusKey(job.ID), b, jobCacheTTL); err != nil {
		m.logger.Debug("job mirror failed", "job_id", job.ID, "error", err)
	}
}

// cachedJob returns the mirrored copy of a finished job, or nil. Live
// jobs always read the store so progress and queue position stay fresh.
func (m *Manager) cachedJob(ctx context.Context, id uuid.UUID) *models.Job {
	if m.cache == nil {
		return nil
	}
	b, ok, err := m.cache.Get(ctx, cache.JobStatusKey(id))
	if err != nil || !ok {
		return nil
	}
	var job models.Job
	if err := json.Unmarshal(b, &job); err != nil {
		return nil
	}
	if !job.Status.Terminal() {
		return nil
	}
	return &job
}

func (m *Manager) control(id uuid.UUID) *jobControl {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctl, ok := m.controls[id]
	if !ok {
		ctl = &jobControl{}
		m.controls[id] = ctl
	}
	return ctl
}

func (m *Manager) lookupControl(id uuid.UUID) *jobControl {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.controls[id]
}

func (m *Manager) dropControl(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.controls, id)
}

// fingerprint returns a short non-reversible handle for an API key so
// jobs can be traced to a key without persisting it.
func fingerprint(apiKey string) string {
	if apiKey == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])[:16]
}

func truncateError(msg string) string {
	if len(msg) > maxErrorLen {
		return msg[:maxErrorLen]
	}
	return msg
}
