package enrich

import (
	"fmt"

	"github.com/SnowballHQ/data-enricher/internal/config"
	"github.com/SnowballHQ/data-enricher/internal/enrich/mock"
	"github.com/SnowballHQ/data-enricher/internal/enrich/openai"
	"github.com/SnowballHQ/data-enricher/pkg/models"
)

// NewEnricher constructs the appropriate enrichment provider based on config.
// Called once at server startup.
func NewEnricher(cfg config.EnrichConfig) (models.Enricher, error) {
	switch cfg.Provider {
	case "openai":
		return openai.NewProvider(cfg.OpenAI), nil
	case "mock":
		return mock.NewEnricher(), nil
	default:
		return nil, fmt.Errorf("unknown enrichment provider %q: must be one of openai, mock", cfg.Provider)
	}
}
