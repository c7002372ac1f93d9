package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/SnowballHQ/data-enricher/pkg/models"
)

// Canonical output header names written to the sheet.
const (
	headerCategory = "Category"
	headerBrand    = "Brand Name"
	headerQuestion = "Email Question"
	headerStatus   = "Status"
)

// HTTPClient implements Source using the Sheets v4 values API.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient creates a new Sheets HTTP client.
func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) DetectHeaders(ctx context.Context, sheetID, sheetName string) (Header, error) {
	values, err := c.getRange(ctx, sheetID, rangeRef(sheetName, "1:1"))
	if err != nil {
		return Header{}, err
	}

	var row []string
	if len(values) > 0 {
		row = values[0]
	}

	hdr := Header{
		KeywordsCol: -1, DescriptionCol: -1, CompanyCol: -1, WebsiteCol: -1,
		CategoryCol: -1, BrandCol: -1, QuestionCol: -1, StatusCol: -1,
	}
	for i, cell := range row {
		switch normalizeHeader(cell) {
		case "keywords", "keyword":
			hdr.KeywordsCol = i
		case "description":
			hdr.DescriptionCol = i
		case "company name", "company", "name":
			hdr.CompanyCol = i
		case "website", "url", "domain":
			hdr.WebsiteCol = i
		case "category":
			hdr.CategoryCol = i
		case "brand name":
			hdr.BrandCol = i
		case "email question":
			hdr.QuestionCol = i
		case "status":
			hdr.StatusCol = i
		}
	}

	// Reuse existing output columns so a resumed job writes into the
	// same place it did before.
	hdr.Reused = hdr.CategoryCol >= 0 && hdr.BrandCol >= 0 && hdr.QuestionCol >= 0 && hdr.StatusCol >= 0
	if hdr.Reused {
		return hdr, nil
	}

	next := len(row)
	var missing []headerWrite
	assign := func(col *int, name string) {
		if *col < 0 {
			*col = next
			missing = append(missing, headerWrite{col: next, name: name})
			next++
		}
	}
	assign(&hdr.CategoryCol, headerCategory)
	assign(&hdr.BrandCol, headerBrand)
	assign(&hdr.QuestionCol, headerQuestion)
	assign(&hdr.StatusCol, headerStatus)

	for _, m := range missing {
		ref := rangeRef(sheetName, columnLetter(m.col)+"1")
		if err := c.putRange(ctx, sheetID, ref, [][]any{{m.name}}); err != nil {
			return Header{}, fmt.Errorf("writing header %q: %w", m.name, err)
		}
	}
	return hdr, nil
}

func (c *HTTPClient) FetchRows(ctx context.Context, sheetID, sheetName string, hdr Header, startRow, count int) ([]models.RowRecord, error) {
	if startRow < 1 || count < 1 {
		return nil, fmt.Errorf("%w: start %d count %d", ErrBadRange, startRow, count)
	}

	ref := rangeRef(sheetName, fmt.Sprintf("%d:%d", startRow, startRow+count-1))
	values, err := c.getRange(ctx, sheetID, ref)
	if err != nil {
		return nil, err
	}

	records := make([]models.RowRecord, 0, len(values))
	for i, row := range values {
		records = append(records, models.RowRecord{
			RowNumber:   startRow + i,
			Keywords:    cellAt(row, hdr.KeywordsCol),
			Description: cellAt(row, hdr.DescriptionCol),
			CompanyName: cellAt(row, hdr.CompanyCol),
			Website:     cellAt(row, hdr.WebsiteCol),
			Status:      cellAt(row, hdr.StatusCol),
		})
	}
	return records, nil
}

func (c *HTTPClient) WriteResult(ctx context.Context, sheetID, sheetName string, hdr Header, row int, res models.EnrichResult) error {
	cells := []struct {
		col   int
		value string
	}{
		{hdr.CategoryCol, res.Category},
		{hdr.BrandCol, res.BrandName},
		{hdr.QuestionCol, res.EmailQuestion},
	}
	for _, cell := range cells {
		ref := rangeRef(sheetName, fmt.Sprintf("%s%d", columnLetter(cell.col), row))
		if err := c.putRange(ctx, sheetID, ref, [][]any{{cell.value}}); err != nil {
			return err
		}
	}
	return nil
}

func (c *HTTPClient) WriteStatus(ctx context.Context, sheetID, sheetName string, hdr Header, row int, status string) error {
	ref := rangeRef(sheetName, fmt.Sprintf("%s%d", columnLetter(hdr.StatusCol), row))
	return c.putRange(ctx, sheetID, ref, [][]any{{status}})
}

func (c *HTTPClient) getRange(ctx context.Context, sheetID, ref string) ([][]string, error) {
	u := fmt.Sprintf("%s/v4/spreadsheets/%s/values/%s?majorDimension=ROWS",
		c.baseURL, url.PathEscape(sheetID), url.PathEscape(ref))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp.StatusCode); err != nil {
		return nil, err
	}

	var valuesResp valuesResponse
	if err := json.NewDecoder(resp.Body).Decode(&valuesResp); err != nil {
		return nil, fmt.Errorf("decoding values response: %w", err)
	}

	rows := make([][]string, len(valuesResp.Values))
	for i, row := range valuesResp.Values {
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = fmt.Sprint(v)
		}
		rows[i] = cells
	}
	return rows, nil
}

func (c *HTTPClient) putRange(ctx context.Context, sheetID, ref string, values [][]any) error {
	body, err := json.Marshal(valuesPayload{Range: ref, Values: values})
	if err != nil {
		return fmt.Errorf("encoding values: %w", err)
	}

	u := fmt.Sprintf("%s/v4/spreadsheets/%s/values/%s?valueInputOption=RAW",
		c.baseURL, url.PathEscape(sheetID), url.PathEscape(ref))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	return checkStatus(resp.StatusCode)
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func checkStatus(code int) error {
	switch {
	case code == http.StatusOK:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrUnauthorized, code)
	case code == http.StatusBadRequest || code == http.StatusNotFound:
		return fmt.Errorf("%w: status %d", ErrBadRange, code)
	default:
		return fmt.Errorf("%w: status %d", ErrSourceUnavailable, code)
	}
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: timeout: %v", ErrSourceUnavailable, err)
	}
	return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
}

func normalizeHeader(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func cellAt(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[col])
}

// columnLetter converts a zero-based column index to A1 notation.
func columnLetter(col int) string {
	letters := ""
	for col >= 0 {
		letters = string(rune('A'+col%26)) + letters
		col = col/26 - 1
	}
	return letters
}

// rangeRef builds a quoted A1 range reference for a named sheet.
func rangeRef(sheetName, cells string) string {
	return fmt.Sprintf("'%s'!%s", strings.ReplaceAll(sheetName, "'", "''"), cells)
}

type headerWrite struct {
	col  int
	name string
}

// --- Sheets API request/response types ---

type valuesResponse struct {
	Range  string  `json:"range"`
	Values [][]any `json:"values"`
}

type valuesPayload struct {
	Range  string  `json:"range"`
	Values [][]any `json:"values"`
}

// Compile-time check that HTTPClient implements Source.
var _ Source = (*HTTPClient)(nil)
