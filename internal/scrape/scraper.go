// Package scrape extracts readable text from company websites for
// URL-mode enrichment.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

var (
	ErrFetchFailed = errors.New("page fetch failed")
	ErrEmptyPage   = errors.New("page has no readable text")
)

const (
	maxTextLength = 8000
	userAgent     = "Mozilla/5.0 (compatible; DataEnricher/1.0)"
)

// Scraper fetches a page and returns its visible text.
type Scraper interface {
	Scrape(ctx context.Context, pageURL string) (string, error)
}

// HTTPScraper implements Scraper with a plain HTTP GET and goquery
// text extraction.
type HTTPScraper struct {
	client *http.Client
}

func NewHTTPScraper(timeout time.Duration) *HTTPScraper {
	return &HTTPScraper{
		client: &http.Client{Timeout: timeout},
	}
}

func (s *HTTPScraper) Scrape(ctx context.Context, pageURL string) (string, error) {
	pageURL = normalizeURL(pageURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrFetchFailed, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: parsing html: %v", ErrFetchFailed, err)
	}

	text := ExtractText(doc)
	if text == "" {
		return "", fmt.Errorf("%w: %s", ErrEmptyPage, pageURL)
	}
	return text, nil
}

// ExtractText pulls the title, meta description, headings, and body text
// from a parsed document, bounded to a length the prompt can carry.
func ExtractText(doc *goquery.Document) string {
	doc.Find("script, style, noscript, iframe, svg").Remove()

	var parts []string
	appendPart := func(s string) {
		s = collapseWhitespace(s)
		if s != "" {
			parts = append(parts, s)
		}
	}

	appendPart(doc.Find("title").First().Text())
	if desc, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
		appendPart(desc)
	}
	doc.Find("h1, h2, h3").Each(func(_ int, sel *goquery.Selection) {
		appendPart(sel.Text())
	})
	appendPart(doc.Find("body").Text())

	text := strings.Join(parts, "\n")
	if len(text) > maxTextLength {
		text = text[:maxTextLength]
	}
	return text
}

func normalizeURL(u string) string {
	u = strings.TrimSpace(u)
	if u != "" && !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		u = "https://" + u
	}
	return u
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

var _ Scraper = (*HTTPScraper)(nil)
