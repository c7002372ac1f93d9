package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/SnowballHQ/data-enricher/internal/sheets"
	"github.com/SnowballHQ/data-enricher/pkg/models"
)

// URLStrategy scrapes each row's website and enriches from the page
// text. Scraping targets are rate limited, so rows run strictly one at
// a time in sheet order.
type URLStrategy struct {
	deps Deps
}

func NewURLStrategy(deps Deps) *URLStrategy {
	return &URLStrategy{deps: deps}
}

func (s *URLStrategy) Process(ctx context.Context, job *models.Job, ctl Control, report ProgressFunc) (Outcome, error) {
	hdr, err := s.deps.Source.DetectHeaders(ctx, job.SheetID, job.SheetName)
	if err != nil {
		return Outcome{}, err
	}

	records, err := s.deps.Source.FetchRows(ctx, job.SheetID, job.SheetName, hdr, job.StartRow, job.RowCount)
	if err != nil {
		return Outcome{}, err
	}

	var outcome Outcome
	total := job.RowCount
	start := time.Now()

	for _, rec := range records {
		if reason := checkStop(ctl); reason != StopNone {
			outcome.Stopped = reason
			break
		}

		var detail string
		switch {
		case rowDone(rec) || urlRowEmpty(rec):
			if !rowDone(rec) {
				s.writeStatus(ctx, job, hdr, rec.RowNumber, statusSkipped)
			}
			outcome.Skipped++
			detail = fmt.Sprintf("row %d skipped", rec.RowNumber)
		default:
			if res, ok := s.enrichRow(ctx, job, hdr, rec); ok {
				outcome.Succeeded++
				detail = fmt.Sprintf("row %d: %s", rec.RowNumber, res.Category)
			} else {
				outcome.Errored++
				detail = fmt.Sprintf("row %d failed", rec.RowNumber)
			}
		}
		outcome.Processed++
		report(outcome.Processed, float64(outcome.Processed)/float64(total)*100,
			fmt.Sprintf("%s | eta %.1fm", detail, etaMinutes(start, outcome.Processed, total)))

		if s.deps.RowDelay > 0 {
			select {
			case <-ctx.Done():
				return outcome, ctx.Err()
			case <-time.After(s.deps.RowDelay):
			}
		}
	}

	if outcome.Stopped == StopNone && outcome.Processed < total {
		missing := total - outcome.Processed
		outcome.Processed = total
		outcome.Skipped += missing
		report(total, 100, fmt.Sprintf("%d rows past the sheet end skipped", missing))
	}
	return outcome, nil
}

func (s *URLStrategy) enrichRow(ctx context.Context, job *models.Job, hdr sheets.Header, rec models.RowRecord) (models.EnrichResult, bool) {
	s.writeStatus(ctx, job, hdr, rec.RowNumber, statusProcessing)

	text, err := s.deps.Scraper.Scrape(ctx, rec.Website)
	if err != nil {
		s.deps.Logger.Warn("row scrape failed",
			"job_id", job.ID, "row", rec.RowNumber, "url", rec.Website, "error", err)
		s.writeStatus(ctx, job, hdr, rec.RowNumber, errorCell(err))
		return models.EnrichResult{}, false
	}

	enrichCtx, cancel := context.WithTimeout(ctx, s.deps.EnrichTimeout)
	defer cancel()

	result, err := s.deps.Enricher.Enrich(enrichCtx, models.EnrichRequest{
		CompanyName: rec.CompanyName,
		Website:     rec.Website,
		ScrapedText: text,
		Mode:        models.ModeURL,
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

func (s *URLStrategy) writeStatus(ctx context.Context, job *models.Job, hdr sheets.Header, row int, status string) {
	if err := s.deps.Source.WriteStatus(ctx, job.SheetID, job.SheetName, hdr, row, status); err != nil {
		s.deps.Logger.Warn("status write failed",
			"job_id", job.ID, "row", row, "error", err)
	}
}
