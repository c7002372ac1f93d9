package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SnowballHQ/data-enricher/internal/config"
	"github.com/SnowballHQ/data-enricher/internal/enrich"
	"github.com/SnowballHQ/data-enricher/internal/enrich/openai"
	"github.com/SnowballHQ/data-enricher/pkg/models"
)

func chatServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req["model"])

		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": content}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func testProvider(baseURL string) *openai.Provider {
	return openai.NewProvider(config.OpenAIConfig{
		BaseURL: baseURL,
		APIKey:  "sk-test",
		Model:   "gpt-4o-mini",
	})
}

func TestEnrich_ParsesJSONAnswer(t *testing.T) {
	srv := chatServer(t, `{"category": "Independent Hardware Store", "brand_name": "Acme Hardware", "email_question": "Where can I find independent hardware stores in Texas?"}`)
	defer srv.Close()

	p := testProvider(srv.URL)
	result, err := p.Enrich(context.Background(), models.EnrichRequest{
		Keywords: "hardware, tools", CompanyName: "Acme Hardware Inc", Mode: models.ModeText,
	})
	require.NoError(t, err)
	assert.Equal(t, "Independent Hardware Store", result.Category)
	assert.Equal(t, "Acme Hardware", result.BrandName)
	assert.Contains(t, result.EmailQuestion, "hardware stores")
}

func TestEnrich_StripsCodeFences(t *testing.T) {
	srv := chatServer(t, "```json\n{\"category\": \"Coffee Roaster\", \"brand_name\": \"Bean Co\", \"email_question\": \"Q?\"}\n```")
	defer srv.Close()

	p := testProvider(srv.URL)
	result, err := p.Enrich(context.Background(), models.EnrichRequest{Keywords: "coffee"})
	require.NoError(t, err)
	assert.Equal(t, "Coffee Roaster", result.Category)
}

func TestEnrich_ServerErrorIsProviderUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream busy", http.StatusBadGateway)
	}))
	defer srv.Close()

	p := testProvider(srv.URL)
	_, err := p.Enrich(context.Background(), models.EnrichRequest{Keywords: "x"})
	assert.ErrorIs(t, err, enrich.ErrProviderUnavailable)
}

func TestEnrich_RetriesTransientFailures(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			http.Error(w, "try again", http.StatusServiceUnavailable)
			return
		}
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": `{"category": "C", "brand_name": "B", "email_question": "Q"}`}},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p := testProvider(srv.URL)
	start := time.Now()
	result, err := p.Enrich(context.Background(), models.EnrichRequest{Keywords: "x"})
	require.NoError(t, err)
	assert.Equal(t, "C", result.Category)
	assert.Equal(t, 2, calls)
	assert.GreaterOrEqual(t, time.Since(start), 2*time.Second) // backoff before retry
}

func TestEnrich_ContextCancelStopsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	p := testProvider(srv.URL)
	_, err := p.Enrich(ctx, models.EnrichRequest{Keywords: "x"})
	assert.Error(t, err)
}

// --- ParseResult ---

func TestParseResult(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    models.EnrichResult
		wantErr bool
	}{
		{
			name: "bare json",
			raw:  `{"category": "Pet Groomer", "brand_name": "Pawfect", "email_question": "Q?"}`,
			want: models.EnrichResult{Category: "Pet Groomer", BrandName: "Pawfect", EmailQuestion: "Q?"},
		},
		{
			name: "line based fallback",
			raw:  "Here is the result:\nCategory: Family-owned Bakery\nBrand Name: Crumb & Co\nEmail Question: Where can I find family-owned bakeries in Portland?",
			want: models.EnrichResult{
				Category:      "Family-owned Bakery",
				BrandName:     "Crumb & Co",
				EmailQuestion: "Where can I find family-owned bakeries in Portland?",
			},
		},
		{
			name: "partial fields get defaults",
			raw:  `{"category": "Bike Shop"}`,
			want: models.EnrichResult{
				Category:      "Bike Shop",
				BrandName:     "Unknown Brand",
				EmailQuestion: "What are the best local brands?",
			},
		},
		{
			name:    "no recognizable content",
			raw:     "I cannot help with that.",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := openai.ParseResult(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, enrich.ErrInvalidResponse)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
