package enrich

import "github.com/SnowballHQ/data-enricher/internal/enrich/openai"

var (
	ErrProviderUnavailable = openai.ErrProviderUnavailable
	ErrInferenceTimeout    = openai.ErrInferenceTimeout
	ErrInvalidResponse     = openai.ErrInvalidResponse
)
