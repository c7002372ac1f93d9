package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/SnowballHQ/data-enricher/internal/sheets"
	"github.com/SnowballHQ/data-enricher/pkg/models"
)

// TextStrategy enriches rows from their keyword and description cells.
// Rows fan out to the enricher with bounded concurrency; pause and
// cancel are polled before each row is dispatched.
type TextStrategy struct {
	deps Deps
}

func NewTextStrategy(deps Deps) *TextStrategy {
	return &TextStrategy{deps: deps}
}

func (s *TextStrategy) Process(ctx context.Context, job *models.Job, ctl Control, report ProgressFunc) (Outcome, error) {
	hdr, err := s.deps.Source.DetectHeaders(ctx, job.SheetID, job.SheetName)
	if err != nil {
		return Outcome{}, err
	}

	records, err := s.deps.Source.FetchRows(ctx, job.SheetID, job.SheetName, hdr, job.StartRow, job.RowCount)
	if err != nil {
		return Outcome{}, err
	}

	limit := s.deps.TextConcurrency
	if limit < 1 {
		limit = 1
	}
	sem := semaphore.NewWeighted(int64(limit))

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		outcome Outcome
	)

	total := job.RowCount
	start := time.Now()
	// Rows finish out of order under the semaphore; counting and
	// reporting under the same lock keeps the reported processed
	// sequence monotonic.
	finishRow := func(kind *int, detail string) {
		mu.Lock()
		defer mu.Unlock()
		outcome.Processed++
		*kind++
		processed := outcome.Processed
		report(processed, float64(processed)/float64(total)*100,
			fmt.Sprintf("%s | eta %.1fm", detail, etaMinutes(start, processed, total)))
	}

	for _, rec := range records {
		if rowDone(rec) || textRowEmpty(rec) {
			if reason := checkStop(ctl); reason != StopNone {
				outcome.Stopped = reason
				break
			}
			if !rowDone(rec) {
				s.writeStatus(ctx, job, hdr, rec.RowNumber, statusSkipped)
			}
			finishRow(&outcome.Skipped, fmt.Sprintf("row %d skipped", rec.RowNumber))
			continue
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return outcome, err
		}
		// Checked after the acquire so a pause or cancel requested while
		// rows were in flight stops the loop at this boundary.
		if reason := checkStop(ctl); reason != StopNone {
			sem.Release(1)
			outcome.Stopped = reason
			break
		}
		wg.Add(1)
		go func(rec models.RowRecord) {
			defer wg.Done()
			defer sem.Release(1)
			if res, ok := s.enrichRow(ctx, job, hdr, rec); ok {
				finishRow(&outcome.Succeeded, fmt.Sprintf("row %d: %s", rec.RowNumber, res.Category))
			} else {
				finishRow(&outcome.Errored, fmt.Sprintf("row %d failed", rec.RowNumber))
			}
		}(rec)

		if s.deps.RowDelay > 0 {
			select {
			case <-ctx.Done():
				wg.Wait()
				return outcome, ctx.Err()
			case <-time.After(s.deps.RowDelay):
			}
		}
	}

	wg.Wait()

	// Rows past the sheet's last populated row never arrive; count them
	// as skipped so a short sheet still reaches full progress.
	if outcome.Stopped == StopNone && outcome.Processed < total {
		missing := total - outcome.Processed
		outcome.Processed = total
		outcome.Skipped += missing
		report(total, 100, fmt.Sprintf("%d rows past the sheet end skipped", missing))
	}
	return outcome, nil
}

// enrichRow runs one row through the enricher and writes the outcome
// back to the sheet. Returns the result and true on success.
func (s *TextStrategy) enrichRow(ctx context.Context, job *models.Job, hdr sheets.Header, rec models.RowRecord) (models.EnrichResult, bool) {
	s.writeStatus(ctx, job, hdr, rec.RowNumber, statusProcessing)

	enrichCtx, cancel := context.WithTimeout(ctx, s.deps.EnrichTimeout)
	defer cancel()

	result, err := s.deps.Enricher.Enrich(enrichCtx, models.EnrichRequest{
		Keywords:    rec.Keywords,
		Description: rec.Description,
		CompanyName: rec.CompanyName,
		Mode:        models.ModeText,
	})
	if err != nil {
		s.deps.Logger.Warn("row enrichment failed",
			"job_id", job.ID, "row", rec.RowNumber, "error", err)
		s.writeStatus(ctx, job, hdr, rec.RowNumber, errorCell(err))
		return models.EnrichResult{}, false
	}

	if err := s.deps.Source.WriteResult(ctx, job.SheetID, job.SheetName, hdr, rec.RowNumber, result); err != nil {
		s.deps.Logger.Warn("row write failed",
			"job_id", job.ID, "row", rec.RowNumber, "error", err)
		s.writeStatus(ctx, job, hdr, rec.RowNumber, errorCell(err))
		return models.EnrichResult{}, false
	}
	s.writeStatus(ctx, job, hdr, rec.RowNumber, statusCompleted)
	return result, true
}

func (s *TextStrategy) writeStatus(ctx context.Context, job *models.Job, hdr sheets.Header, row int, status string) {
	if err := s.deps.Source.WriteStatus(ctx, job.SheetID, job.SheetName, hdr, row, status); err != nil {
		s.deps.Logger.Warn("status write failed",
			"job_id", job.ID, "row", row, "error", err)
	}
}
