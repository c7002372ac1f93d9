// Package processor runs the per-row enrichment work for a job. Each
// job mode has its own strategy; both honor pause and cancel requests
// at row boundaries and report progress after every row.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/SnowballHQ/data-enricher/internal/scrape"
	"github.com/SnowballHQ/data-enricher/internal/sheets"
	"github.com/SnowballHQ/data-enricher/pkg/models"
)

// StopReason records why a strategy returned before finishing its rows.
type StopReason string

const (
	StopNone      StopReason = ""
	StopPaused    StopReason = "paused"
	StopCancelled StopReason = "cancelled"
)

// Outcome summarizes a strategy run.
type Outcome struct {
	Processed int
	Succeeded int
	Skipped   int
	Errored   int
	Stopped   StopReason
}

// Control exposes the pause and cancel flags a worker polls between rows.
type Control interface {
	PauseRequested() bool
	CancelRequested() bool
}

// ProgressFunc receives the row count processed so far, the percent of
// the job that is done (0 to 100), and a short human-readable message
// naming the row outcome and the estimated time remaining.
type ProgressFunc func(processed int, progress float64, message string)

// Strategy processes the rows of one job.
type Strategy interface {
	Process(ctx context.Context, job *models.Job, ctl Control, report ProgressFunc) (Outcome, error)
}

// Deps carries the collaborators and tuning knobs strategies share.
type Deps struct {
	Source          sheets.Source
	Enricher        models.Enricher
	Scraper         scrape.Scraper
	Logger          *slog.Logger
	RowDelay        time.Duration
	TextConcurrency int
	EnrichTimeout   time.Duration
}

// ForMode returns the strategy for a job's mode.
func ForMode(mode models.JobMode, deps Deps) (Strategy, error) {
	switch mode {
	case models.ModeText:
		return NewTextStrategy(deps), nil
	case models.ModeURL:
		return NewURLStrategy(deps), nil
	default:
		return nil, fmt.Errorf("unknown job mode %q", mode)
	}
}

// Status cell values written as a row moves through enrichment.
const (
	statusProcessing = "processing"
	statusCompleted  = "completed"
	statusSkipped    = "skipped"
)

const maxErrorCellLen = 500

// rowDone reports whether a row was already enriched by an earlier run
// of the same sheet.
func rowDone(rec models.RowRecord) bool {
	return rec.Status == statusCompleted
}

// textRowEmpty reports whether a text-mode row has nothing to enrich.
// Keywords and description are the inputs; a company name alone is not
// enough to categorize.
func textRowEmpty(rec models.RowRecord) bool {
	return strings.TrimSpace(rec.Keywords) == "" && strings.TrimSpace(rec.Description) == ""
}

// urlRowEmpty reports whether a url-mode row has no website to scrape.
func urlRowEmpty(rec models.RowRecord) bool {
	return strings.TrimSpace(rec.Website) == ""
}

func errorCell(err error) string {
	msg := "error: " + err.Error()
	if len(msg) > maxErrorCellLen {
		msg = msg[:maxErrorCellLen]
	}
	return msg
}

// etaMinutes projects the minutes left from the average time taken per
// finished row so far.
func etaMinutes(start time.Time, processed, total int) float64 {
	if processed <= 0 {
		return 0
	}
	perRow := time.Since(start) / time.Duration(processed)
	return (perRow * time.Duration(total-processed)).Minutes()
}

// checkStop translates the control flags into a stop reason. Cancel wins
// over pause when both are set.
func checkStop(ctl Control) StopReason {
	if ctl.CancelRequested() {
		return StopCancelled
	}
	if ctl.PauseRequested() {
		return StopPaused
	}
	return StopNone
}
