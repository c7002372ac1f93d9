// Package mock provides a configurable Enricher for tests and local
// development without an OpenAI key.
package mock

import (
	"context"
	"fmt"

	"github.com/SnowballHQ/data-enricher/pkg/models"
)

// Enricher is a test double. Override EnrichFunc to control behavior.
type Enricher struct {
	Name_      string
	EnrichFunc func(ctx context.Context, req models.EnrichRequest) (models.EnrichResult, error)
}

func (m *Enricher) Name() string {
	if m.Name_ != "" {
		return m.Name_
	}
	return "mock"
}

func (m *Enricher) Enrich(ctx context.Context, req models.EnrichRequest) (models.EnrichResult, error) {
	if m.EnrichFunc != nil {
		return m.EnrichFunc(ctx, req)
	}
	return models.EnrichResult{}, fmt.Errorf("EnrichFunc not set")
}

// NewEnricher returns a mock that derives a plausible result from the
// request, good enough for manual runs against real sheets.
func NewEnricher() *Enricher {
	return &Enricher{
		Name_: "mock",
		EnrichFunc: func(ctx context.Context, req models.EnrichRequest) (models.EnrichResult, error) {
			name := req.CompanyName
			if name == "" {
				name = "Acme Widgets"
			}
			return models.EnrichResult{
				Category:      "Specialty Goods Retailer",
				BrandName:     name,
				EmailQuestion: "Where can I find specialty goods retailers near me?",
			}, nil
		},
	}
}

// NewFailingEnricher returns a mock whose Enrich always fails with err.
func NewFailingEnricher(err error) *Enricher {
	return &Enricher{
		Name_: "failing-mock",
		EnrichFunc: func(ctx context.Context, req models.EnrichRequest) (models.EnrichResult, error) {
			return models.EnrichResult{}, err
		},
	}
}

// NewTimeoutEnricher returns a mock that blocks until the context expires.
func NewTimeoutEnricher() *Enricher {
	return &Enricher{
		Name_: "timeout-mock",
		EnrichFunc: func(ctx context.Context, req models.EnrichRequest) (models.EnrichResult, error) {
			<-ctx.Done()
			return models.EnrichResult{}, ctx.Err()
		},
	}
}

var _ models.Enricher = (*Enricher)(nil)
