// Package models contains shared data models used across the data-enricher codebase.
package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a background enrichment job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusPaused    JobStatus = "paused"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible from s.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known status value.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusPaused,
		JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// JobMode selects the row processing strategy for a job.
type JobMode string

const (
	// ModeText enriches rows from keyword/description text columns.
	ModeText JobMode = "text"
	// ModeURL enriches rows by scraping the row's website first.
	ModeURL JobMode = "url"
)

// Valid reports whether m is a known mode value.
func (m JobMode) Valid() bool {
	return m == ModeText || m == ModeURL
}

// Job is one unit of background enrichment work over a spreadsheet row range.
type Job struct {
	ID            uuid.UUID      `json:"id"`
	SheetID       string         `json:"sheet_id"`
	SheetName     string         `json:"sheet_name"`
	Mode          JobMode        `json:"mode"`
	StartRow      int            `json:"start_row"`
	RowCount      int            `json:"row_count"`
	Status        JobStatus      `json:"status"`
	Progress      float64        `json:"progress"`
	ProcessedRows int            `json:"processed_rows"`
	CreatedAt     time.Time      `json:"created_at"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	ErrorMessage  *string        `json:"error_message,omitempty"`
	APIKeyHash    string         `json:"-"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// JobLogEntry is one append-only event row attached to a job.
type JobLogEntry struct {
	ID        int64          `json:"id"`
	JobID     uuid.UUID      `json:"job_id"`
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}

// JobStats is an aggregate snapshot over all persisted jobs.
type JobStats struct {
	Total       int     `json:"total"`
	Pending     int     `json:"pending"`
	Running     int     `json:"running"`
	Paused      int     `json:"paused"`
	Completed   int     `json:"completed"`
	Failed      int     `json:"failed"`
	Cancelled   int     `json:"cancelled"`
	SuccessRate float64 `json:"success_rate"`
}

// QueueInfo describes the in-memory dispatch queue and worker pool.
type QueueInfo struct {
	QueueSize         int     `json:"queue_size"`
	ActiveWorkers     int     `json:"active_workers"`
	MaxWorkers        int     `json:"max_workers"`
	EstimatedWaitMins float64 `json:"estimated_wait_mins"`
}

// Worker slot states.
const (
	WorkerIdle = "idle"
	WorkerBusy = "busy"
)

// WorkerInfo is the runtime state of one worker slot. Never persisted;
// rebuilt on every process start.
type WorkerInfo struct {
	WorkerID      string     `json:"worker_id"`
	Status        string     `json:"status"` // "idle" or "busy"
	CurrentJobID  *uuid.UUID `json:"current_job_id,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	LastHeartbeat time.Time  `json:"last_heartbeat"`
}
