package scrape_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SnowballHQ/data-enricher/internal/scrape"
)

const samplePage = `<!DOCTYPE html>
<html>
<head>
  <title>Spoke &amp; Wheel - Custom Bikes</title>
  <meta name="description" content="Hand-built bicycles from Portland, Oregon.">
  <script>window.tracker = "should never appear";</script>
  <style>.hidden { display: none; }</style>
</head>
<body>
  <h1>Custom Bicycles</h1>
  <h2>Built by hand since 1998</h2>
  <p>We build steel frames to order.</p>
  <noscript>enable javascript</noscript>
</body>
</html>`

func TestScrape_ExtractsVisibleText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	s := scrape.NewHTTPScraper(5 * time.Second)
	text, err := s.Scrape(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.Contains(t, text, "Spoke & Wheel - Custom Bikes")
	assert.Contains(t, text, "Hand-built bicycles from Portland, Oregon.")
	assert.Contains(t, text, "Custom Bicycles")
	assert.Contains(t, text, "We build steel frames to order.")
	assert.NotContains(t, text, "should never appear")
	assert.NotContains(t, text, "display: none")
	assert.NotContains(t, text, "enable javascript")
}

func TestScrape_BoundsTextLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body><p>" + strings.Repeat("verbose marketing copy ", 2000) + "</p></body></html>"))
	}))
	defer srv.Close()

	s := scrape.NewHTTPScraper(5 * time.Second)
	text, err := s.Scrape(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(text), 8000)
}

func TestScrape_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := scrape.NewHTTPScraper(5 * time.Second)
	_, err := s.Scrape(context.Background(), srv.URL)
	assert.ErrorIs(t, err, scrape.ErrFetchFailed)
}

func TestScrape_EmptyPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body><script>only();</script></body></html>"))
	}))
	defer srv.Close()

	s := scrape.NewHTTPScraper(5 * time.Second)
	_, err := s.Scrape(context.Background(), srv.URL)
	assert.ErrorIs(t, err, scrape.ErrEmptyPage)
}

func TestScrape_AddsSchemeWhenMissing(t *testing.T) {
	s := scrape.NewHTTPScraper(500 * time.Millisecond)
	// Bare hosts get https:// prepended; the fetch itself fails because
	// nothing is listening.
	_, err := s.Scrape(context.Background(), "localhost:1")
	assert.ErrorIs(t, err, scrape.ErrFetchFailed)
}
