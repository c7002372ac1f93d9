// Package sheets reads and writes spreadsheet rows through the Google
// Sheets values API.
package sheets

import (
	"context"
	"errors"

	"github.com/SnowballHQ/data-enricher/pkg/models"
)

// Sentinel errors for sheet access failures.
var (
	ErrSourceUnavailable = errors.New("sheet source unreachable")
	ErrBadRange          = errors.New("invalid sheet range")
	ErrUnauthorized      = errors.New("sheet access denied")
)

// Header describes where the input and output columns live on a sheet.
// Column indexes are zero-based; -1 means the column is absent.
type Header struct {
	KeywordsCol    int
	DescriptionCol int
	CompanyCol     int
	WebsiteCol     int

	CategoryCol int
	BrandCol    int
	QuestionCol int
	StatusCol   int

	// Reused is true when the enriched columns already existed, which
	// happens when a job resumes over a partially processed sheet.
	Reused bool
}

// Source is the interface jobs use to read rows and write results back.
type Source interface {
	// DetectHeaders inspects row 1, locates the input columns, and
	// finds or appends the enriched output columns.
	DetectHeaders(ctx context.Context, sheetID, sheetName string) (Header, error)

	// FetchRows reads count rows starting at startRow (1-based, row 1
	// is the header) and maps them through hdr.
	FetchRows(ctx context.Context, sheetID, sheetName string, hdr Header, startRow, count int) ([]models.RowRecord, error)

	// WriteResult writes one enriched result into row's output cells.
	WriteResult(ctx context.Context, sheetID, sheetName string, hdr Header, row int, res models.EnrichResult) error

	// WriteStatus writes only the status cell for row.
	WriteStatus(ctx context.Context, sheetID, sheetName string, hdr Header, row int, status string) error
}
