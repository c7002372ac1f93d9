package processor_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SnowballHQ/data-enricher/internal/enrich/mock"
	"github.com/SnowballHQ/data-enricher/internal/processor"
	"github.com/SnowballHQ/data-enricher/internal/sheets"
	"github.com/SnowballHQ/data-enricher/pkg/models"
)

// fakeSource serves rows from memory and records everything written back.
type fakeSource struct {
	mu       sync.Mutex
	rows     []models.RowRecord
	results  map[int]models.EnrichResult
	statuses map[int]string
	fetchErr error
}

func newFakeSource(rows ...models.RowRecord) *fakeSource {
	return &fakeSource{
		rows:     rows,
		results:  make(map[int]models.EnrichResult),
		statuses: make(map[int]string),
	}
}

func (f *fakeSource) DetectHeaders(ctx context.Context, sheetID, sheetName string) (sheets.Header, error) {
	return sheets.Header{
		KeywordsCol: 0, DescriptionCol: 1, CompanyCol: 2, WebsiteCol: 3,
		CategoryCol: 4, BrandCol: 5, QuestionCol: 6, StatusCol: 7,
	}, nil
}

func (f *fakeSource) FetchRows(ctx context.Context, sheetID, sheetName string, hdr sheets.Header, startRow, count int) ([]models.RowRecord, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.rows, nil
}

func (f *fakeSource) WriteResult(ctx context.Context, sheetID, sheetName string, hdr sheets.Header, row int, res models.EnrichResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[row] = res
	return nil
}

func (f *fakeSource) WriteStatus(ctx context.Context, sheetID, sheetName string, hdr sheets.Header, row int, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[row] = status
	return nil
}

func (f *fakeSource) status(row int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[row]
}

type fakeControl struct {
	pause  bool
	cancel bool
}

func (c *fakeControl) PauseRequested() bool  { return c.pause }
func (c *fakeControl) CancelRequested() bool { return c.cancel }

type fakeScraper struct {
	text string
	err  error

	mu   sync.Mutex
	urls []string
}

func (s *fakeScraper) Scrape(ctx context.Context, pageURL string) (string, error) {
	s.mu.Lock()
	s.urls = append(s.urls, pageURL)
	s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	return s.text, nil
}

func testDeps(src *fakeSource, enricher models.Enricher, scraper *fakeScraper) processor.Deps {
	return processor.Deps{
		Source:          src,
		Enricher:        enricher,
		Scraper:         scraper,
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		TextConcurrency: 10,
		EnrichTimeout:   5 * time.Second,
	}
}

func textJob(rowCount int) *models.Job {
	return &models.Job{
		SheetID:   "sheet-1",
		SheetName: "Companies",
		Mode:      models.ModeText,
		StartRow:  2,
		RowCount:  rowCount,
		Status:    models.JobStatusRunning,
	}
}

// --- ForMode ---

func TestForMode(t *testing.T) {
	deps := testDeps(newFakeSource(), mock.NewEnricher(), &fakeScraper{})

	s, err := processor.ForMode(models.ModeText, deps)
	require.NoError(t, err)
	assert.IsType(t, &processor.TextStrategy{}, s)

	s, err = processor.ForMode(models.ModeURL, deps)
	require.NoError(t, err)
	assert.IsType(t, &processor.URLStrategy{}, s)

	_, err = processor.ForMode("batch", deps)
	assert.Error(t, err)
}

// --- TextStrategy ---

func TestTextStrategy_MixedRows(t *testing.T) {
	src := newFakeSource(
		models.RowRecord{RowNumber: 2, Keywords: "hardware", CompanyName: "Acme Hardware"},
		models.RowRecord{RowNumber: 3, Keywords: "explode", CompanyName: "Boom Co"},
		models.RowRecord{RowNumber: 4}, // empty row
		models.RowRecord{RowNumber: 5, Description: "artisanal coffee roaster"},
		models.RowRecord{RowNumber: 6, Keywords: "plants", CompanyName: "Green Thumb"},
	)
	enricher := &mock.Enricher{
		EnrichFunc: func(ctx context.Context, req models.EnrichRequest) (models.EnrichResult, error) {
			if req.Keywords == "explode" {
				return models.EnrichResult{}, errors.New("provider rejected the request")
			}
			return models.EnrichResult{Category: "Test Category", BrandName: "Brand", EmailQuestion: "Q?"}, nil
		},
	}

	strategy := processor.NewTextStrategy(testDeps(src, enricher, nil))
	outcome, err := strategy.Process(context.Background(), textJob(5), &fakeControl{}, func(int, float64, string) {})
	require.NoError(t, err)

	assert.Equal(t, 5, outcome.Processed)
	assert.Equal(t, 3, outcome.Succeeded)
	assert.Equal(t, 1, outcome.Skipped)
	assert.Equal(t, 1, outcome.Errored)
	assert.Equal(t, processor.StopNone, outcome.Stopped)

	assert.Equal(t, "completed", src.status(2))
	assert.Contains(t, src.status(3), "error: provider rejected")
	assert.Equal(t, "skipped", src.status(4))
	assert.Equal(t, "Test Category", src.results[5].Category)
}

func TestTextStrategy_CompanyNameAloneIsSkipped(t *testing.T) {
	// A name gives the enricher nothing to categorize from; the row
	// needs keywords or a description.
	src := newFakeSource(
		models.RowRecord{RowNumber: 2, Keywords: "hardware", CompanyName: "Acme Hardware"},
		models.RowRecord{RowNumber: 3, CompanyName: "OnlyName Inc"},
		models.RowRecord{RowNumber: 4, Keywords: "   ", Description: "  ", CompanyName: "Whitespace LLC"},
	)
	var mu sync.Mutex
	var companies []string
	enricher := &mock.Enricher{
		EnrichFunc: func(ctx context.Context, req models.EnrichRequest) (models.EnrichResult, error) {
			mu.Lock()
			companies = append(companies, req.CompanyName)
			mu.Unlock()
			return models.EnrichResult{Category: "C", BrandName: "B", EmailQuestion: "Q"}, nil
		},
	}

	strategy := processor.NewTextStrategy(testDeps(src, enricher, nil))
	outcome, err := strategy.Process(context.Background(), textJob(3), &fakeControl{}, func(int, float64, string) {})
	require.NoError(t, err)

	assert.Equal(t, 1, outcome.Succeeded)
	assert.Equal(t, 2, outcome.Skipped)
	assert.Equal(t, []string{"Acme Hardware"}, companies)
	assert.Equal(t, "skipped", src.status(3))
	assert.Equal(t, "skipped", src.status(4))
}

func TestTextStrategy_ProgressReportsAreMonotonic(t *testing.T) {
	rows := make([]models.RowRecord, 0, 50)
	for i := 0; i < 50; i++ {
		rows = append(rows, models.RowRecord{RowNumber: i + 2, Keywords: "k"})
	}
	src := newFakeSource(rows...)
	// Uneven per-row latency so in-flight rows finish out of dispatch
	// order.
	var calls int32
	enricher := &mock.Enricher{
		EnrichFunc: func(ctx context.Context, req models.EnrichRequest) (models.EnrichResult, error) {
			time.Sleep(time.Duration(atomic.AddInt32(&calls, 1)%5) * time.Millisecond)
			return models.EnrichResult{Category: "C", BrandName: "B", EmailQuestion: "Q"}, nil
		},
	}

	var mu sync.Mutex
	var seen []int
	report := func(processed int, _ float64, _ string) {
		mu.Lock()
		seen = append(seen, processed)
		mu.Unlock()
	}

	strategy := processor.NewTextStrategy(testDeps(src, enricher, nil))
	outcome, err := strategy.Process(context.Background(), textJob(50), &fakeControl{}, report)
	require.NoError(t, err)
	require.Equal(t, 50, outcome.Processed)

	require.Len(t, seen, 50)
	for i := 1; i < len(seen); i++ {
		require.GreaterOrEqual(t, seen[i], seen[i-1],
			"processed counts arrived out of order: %v", seen)
	}
}

func TestTextStrategy_ReportCarriesCategoryAndETA(t *testing.T) {
	src := newFakeSource(
		models.RowRecord{RowNumber: 2, Keywords: "pottery"},
		models.RowRecord{RowNumber: 3, Keywords: "pottery"},
	)
	enricher := &mock.Enricher{
		EnrichFunc: func(ctx context.Context, req models.EnrichRequest) (models.EnrichResult, error) {
			return models.EnrichResult{Category: "Pottery Studio", BrandName: "B", EmailQuestion: "Q"}, nil
		},
	}

	var mu sync.Mutex
	var messages []string
	report := func(_ int, _ float64, msg string) {
		mu.Lock()
		messages = append(messages, msg)
		mu.Unlock()
	}

	strategy := processor.NewTextStrategy(testDeps(src, enricher, nil))
	_, err := strategy.Process(context.Background(), textJob(2), &fakeControl{}, report)
	require.NoError(t, err)

	require.Len(t, messages, 2)
	for _, msg := range messages {
		assert.Contains(t, msg, "Pottery Studio")
		assert.Contains(t, msg, "eta")
	}
}

func TestTextStrategy_SkipsCompletedRows(t *testing.T) {
	src := newFakeSource(
		models.RowRecord{RowNumber: 2, Keywords: "done already", Status: "completed"},
		models.RowRecord{RowNumber: 3, Keywords: "fresh"},
	)
	var calls int
	var mu sync.Mutex
	enricher := &mock.Enricher{
		EnrichFunc: func(ctx context.Context, req models.EnrichRequest) (models.EnrichResult, error) {
			mu.Lock()
			calls++
			mu.Unlock()
			return models.EnrichResult{Category: "C", BrandName: "B", EmailQuestion: "Q"}, nil
		},
	}

	strategy := processor.NewTextStrategy(testDeps(src, enricher, nil))
	outcome, err := strategy.Process(context.Background(), textJob(2), &fakeControl{}, func(int, float64, string) {})
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, outcome.Succeeded)
	assert.Equal(t, 1, outcome.Skipped)
}

func TestTextStrategy_PauseBeforeFirstRow(t *testing.T) {
	src := newFakeSource(
		models.RowRecord{RowNumber: 2, Keywords: "a"},
		models.RowRecord{RowNumber: 3, Keywords: "b"},
	)
	strategy := processor.NewTextStrategy(testDeps(src, mock.NewEnricher(), nil))

	outcome, err := strategy.Process(context.Background(), textJob(2), &fakeControl{pause: true}, func(int, float64, string) {})
	require.NoError(t, err)
	assert.Equal(t, processor.StopPaused, outcome.Stopped)
	assert.Zero(t, outcome.Processed)
}

func TestTextStrategy_CancelBeatsPause(t *testing.T) {
	src := newFakeSource(models.RowRecord{RowNumber: 2, Keywords: "a"})
	strategy := processor.NewTextStrategy(testDeps(src, mock.NewEnricher(), nil))

	outcome, err := strategy.Process(context.Background(), textJob(1), &fakeControl{pause: true, cancel: true}, func(int, float64, string) {})
	require.NoError(t, err)
	assert.Equal(t, processor.StopCancelled, outcome.Stopped)
}

func TestTextStrategy_ShortSheetReachesFullProgress(t *testing.T) {
	// Sheet ends before the requested range does.
	src := newFakeSource(models.RowRecord{RowNumber: 2, Keywords: "only row"})
	strategy := processor.NewTextStrategy(testDeps(src, mock.NewEnricher(), nil))

	var lastProgress float64
	var mu sync.Mutex
	report := func(_ int, p float64, _ string) {
		mu.Lock()
		lastProgress = p
		mu.Unlock()
	}

	outcome, err := strategy.Process(context.Background(), textJob(10), &fakeControl{}, report)
	require.NoError(t, err)
	assert.Equal(t, 10, outcome.Processed)
	assert.Equal(t, 9, outcome.Skipped)
	assert.Equal(t, 100.0, lastProgress)
}

func TestTextStrategy_FetchError(t *testing.T) {
	src := newFakeSource()
	src.fetchErr = errors.New("sheet source unreachable")
	strategy := processor.NewTextStrategy(testDeps(src, mock.NewEnricher(), nil))

	_, err := strategy.Process(context.Background(), textJob(5), &fakeControl{}, func(int, float64, string) {})
	assert.Error(t, err)
}

// --- URLStrategy ---

func TestURLStrategy_ScrapesSequentially(t *testing.T) {
	src := newFakeSource(
		models.RowRecord{RowNumber: 2, CompanyName: "One", Website: "one.example.com"},
		models.RowRecord{RowNumber: 3, CompanyName: "NoSite"},
		models.RowRecord{RowNumber: 4, CompanyName: "Two", Website: "two.example.com"},
	)
	scraper := &fakeScraper{text: "We sell handmade pottery in Austin."}

	var scrapedRows []string
	enricher := &mock.Enricher{
		EnrichFunc: func(ctx context.Context, req models.EnrichRequest) (models.EnrichResult, error) {
			scrapedRows = append(scrapedRows, req.Website)
			assert.Equal(t, scraper.text, req.ScrapedText)
			assert.Equal(t, models.ModeURL, req.Mode)
			return models.EnrichResult{Category: "Pottery Studio", BrandName: req.CompanyName, EmailQuestion: "Q"}, nil
		},
	}

	job := textJob(3)
	job.Mode = models.ModeURL
	strategy := processor.NewURLStrategy(testDeps(src, enricher, scraper))
	outcome, err := strategy.Process(context.Background(), job, &fakeControl{}, func(int, float64, string) {})
	require.NoError(t, err)

	assert.Equal(t, 3, outcome.Processed)
	assert.Equal(t, 2, outcome.Succeeded)
	assert.Equal(t, 1, outcome.Skipped)
	// Strictly ascending sheet order.
	assert.Equal(t, []string{"one.example.com", "two.example.com"}, scrapedRows)
	assert.Equal(t, "One", src.results[2].BrandName)
	assert.Equal(t, "skipped", src.status(3))
}

func TestURLStrategy_ScrapeFailureIsRowError(t *testing.T) {
	src := newFakeSource(
		models.RowRecord{RowNumber: 2, CompanyName: "Broken", Website: "down.example.com"},
	)
	scraper := &fakeScraper{err: errors.New("page fetch failed: status 503")}

	job := textJob(1)
	job.Mode = models.ModeURL
	strategy := processor.NewURLStrategy(testDeps(src, mock.NewEnricher(), scraper))
	outcome, err := strategy.Process(context.Background(), job, &fakeControl{}, func(int, float64, string) {})
	require.NoError(t, err)

	assert.Equal(t, 1, outcome.Errored)
	assert.Contains(t, src.status(2), "error: page fetch failed")
}

func TestURLStrategy_CancelAtRowBoundary(t *testing.T) {
	src := newFakeSource(
		models.RowRecord{RowNumber: 2, CompanyName: "One", Website: "one.example.com"},
		models.RowRecord{RowNumber: 3, CompanyName: "Two", Website: "two.example.com"},
	)
	scraper := &fakeScraper{text: "text"}
	ctl := &fakeControl{}
	enricher := &mock.Enricher{
		EnrichFunc: func(ctx context.Context, req models.EnrichRequest) (models.EnrichResult, error) {
			ctl.cancel = true // requested mid-row; current row still finishes
			return models.EnrichResult{Category: "C", BrandName: "B", EmailQuestion: "Q"}, nil
		},
	}

	job := textJob(2)
	job.Mode = models.ModeURL
	strategy := processor.NewURLStrategy(testDeps(src, enricher, scraper))
	outcome, err := strategy.Process(context.Background(), job, ctl, func(int, float64, string) {})
	require.NoError(t, err)

	assert.Equal(t, processor.StopCancelled, outcome.Stopped)
	assert.Equal(t, 1, outcome.Processed)
	assert.Equal(t, "completed", src.status(2))
	assert.Empty(t, src.status(3))
}
