// Package openai implements models.Enricher over the OpenAI chat
// completions API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/SnowballHQ/data-enricher/internal/config"
	"github.com/SnowballHQ/data-enricher/pkg/models"
)

const (
	maxRetries   = 3
	systemPrompt = "You are a product categorization and brand extraction expert. " +
		"Analyze the company information and return the business category, the cleaned " +
		"company name, and a personalized cold-outreach email question. Return a valid " +
		"JSON object with exactly three fields: 'category', 'brand_name', and " +
		"'email_question'. No additional text or explanation."
)

// Provider implements models.Enricher using OpenAI.
type Provider struct {
	cfg    config.OpenAIConfig
	client *http.Client
}

func NewProvider(cfg config.OpenAIConfig) *Provider {
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *Provider) Name() string { return "openai" }

// Enrich sends the row's fields through the chat completions endpoint and
// parses the JSON answer. Transient failures are retried with backoff.
func (p *Provider) Enrich(ctx context.Context, req models.EnrichRequest) (models.EnrichResult, error) {
	payload := chatRequest{
		Model: p.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildPrompt(req)},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return models.EnrichResult{}, fmt.Errorf("encoding request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return models.EnrichResult{}, classifyError(ctx.Err())
			case <-time.After(time.Duration(attempt) * 2 * time.Second):
			}
		}

		result, err := p.complete(ctx, body)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrInvalidResponse) || errors.Is(err, context.Canceled) {
			return models.EnrichResult{}, err
		}
	}
	return models.EnrichResult{}, lastErr
}

func (p *Provider) complete(ctx context.Context, body []byte) (models.EnrichResult, error) {
	u := fmt.Sprintf("%s/v1/chat/completions", p.cfg.BaseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return models.EnrichResult{}, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return models.EnrichResult{}, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.EnrichResult{}, fmt.Errorf("%w: status %d", ErrProviderUnavailable, resp.StatusCode)
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return models.EnrichResult{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if len(chatResp.Choices) == 0 {
		return models.EnrichResult{}, fmt.Errorf("%w: no choices", ErrInvalidResponse)
	}

	return ParseResult(chatResp.Choices[0].Message.Content)
}

// ParseResult extracts an EnrichResult from the model's raw answer. A
// well-behaved model returns bare JSON; a line-based fallback handles
// answers with stray prose around the object.
func ParseResult(raw string) (models.EnrichResult, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var result models.EnrichResult
	if err := json.Unmarshal([]byte(raw), &result); err == nil {
		if result.Category != "" || result.BrandName != "" || result.EmailQuestion != "" {
			fillDefaults(&result)
			return result, nil
		}
	}

	// Fallback: scan line by line for labeled values.
	found := false
	for _, line := range strings.Split(raw, "\n") {
		lower := strings.ToLower(line)
		value := lineValue(line)
		if value == "" {
			continue
		}
		switch {
		case strings.Contains(lower, "category"):
			result.Category = value
			found = true
		case strings.Contains(lower, "brand") || strings.Contains(lower, "company"):
			result.BrandName = value
			found = true
		case strings.Contains(lower, "question") || strings.Contains(lower, "email"):
			result.EmailQuestion = value
			found = true
		}
	}
	if !found {
		return models.EnrichResult{}, fmt.Errorf("%w: %q", ErrInvalidResponse, truncate(raw, 200))
	}
	fillDefaults(&result)
	return result, nil
}

func buildPrompt(req models.EnrichRequest) string {
	var b strings.Builder
	b.WriteString("Please analyze this company information and extract three things:\n")
	b.WriteString("1. A HIGHLY SPECIFIC business category (2-4 words max)\n")
	b.WriteString("2. The official company/brand name (cleaned and standardized)\n")
	b.WriteString("3. A personalized email question for cold outreach\n\n")

	if req.Mode == models.ModeURL {
		fmt.Fprintf(&b, "Company Name: %s\n", req.CompanyName)
		fmt.Fprintf(&b, "Website: %s\n", req.Website)
		fmt.Fprintf(&b, "Website Content: %s\n", truncate(req.ScrapedText, 4000))
	} else {
		fmt.Fprintf(&b, "Company Keywords: %s\n", req.Keywords)
		fmt.Fprintf(&b, "Company Description: %s\n", req.Description)
		fmt.Fprintf(&b, "Company Context: %s\n", req.CompanyName)
	}

	b.WriteString(`
For the category, be VERY SPECIFIC (2-4 words): name the exact product or
service sold, include qualifiers like "Independent", "Family-owned",
"Custom", "Local" when relevant, and avoid generic terms like "retail",
"e-commerce", "services", "solutions".

For the brand name, remove URLs and promotional text, use the official name
the company refers to itself by, and drop "Inc.", "LLC", "Ltd." unless part
of the official brand.

For the email question, write the question a potential customer would ask
to discover companies like this one: focus on the customer's need, never
mention the company name, and include the location for local businesses.
Example: "Where can I find independent hardware stores in California that
aren't big box retailers?"

Return ONLY a valid JSON object:
{"category": "...", "brand_name": "...", "email_question": "..."}
`)
	return b.String()
}

func fillDefaults(r *models.EnrichResult) {
	r.Category = strings.TrimSpace(r.Category)
	r.BrandName = strings.TrimSpace(r.BrandName)
	r.EmailQuestion = strings.TrimSpace(r.EmailQuestion)
	if r.Category == "" {
		r.Category = "Unknown Category"
	}
	if r.BrandName == "" {
		r.BrandName = "Unknown Brand"
	}
	if r.EmailQuestion == "" {
		r.EmailQuestion = "What are the best local brands?"
	}
}

func lineValue(line string) string {
	idx := strings.LastIndex(line, ":")
	if idx < 0 || idx == len(line)-1 {
		return ""
	}
	value := strings.TrimSpace(line[idx+1:])
	value = strings.Trim(value, `"',{}`)
	return strings.TrimSpace(value)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrInferenceTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrInferenceTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}

// --- OpenAI request/response types ---

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

var _ models.Enricher = (*Provider)(nil)
