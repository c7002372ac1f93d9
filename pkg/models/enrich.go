package models

import "context"

// Enricher is the core interface that all enrichment integrations must
// implement. Never call specific providers directly; always inject this
// interface. Implementations must be safe for concurrent use: the text-mode
// strategy calls Enrich from multiple rows of the same job at once.
type Enricher interface {
	// Enrich derives a category, cleaned brand name, and cold-email
	// discovery question from one row's fields.
	Enrich(ctx context.Context, req EnrichRequest) (EnrichResult, error)
	// Name returns the provider identifier (e.g., "openai", "mock").
	Name() string
}

// EnrichRequest is the input to an enrichment operation. For text mode the
// Keywords/Description fields carry the signal; for URL mode ScrapedText
// holds the extracted website content.
type EnrichRequest struct {
	Keywords    string
	Description string
	CompanyName string
	Website     string
	ScrapedText string
	Mode        JobMode
}

// EnrichResult is the output written back to the row's enriched columns.
type EnrichResult struct {
	Category      string `json:"category"`
	BrandName     string `json:"brand_name"`
	EmailQuestion string `json:"email_question"`
}

// RowRecord is one spreadsheet row as fetched from the source, keyed by its
// absolute row number so writes stay independent of fetch order.
type RowRecord struct {
	RowNumber   int
	Keywords    string
	Description string
	CompanyName string
	Website     string
	Status      string // existing value of the status column, if any
}
