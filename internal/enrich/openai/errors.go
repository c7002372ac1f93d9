package openai

import "errors"

var (
	ErrProviderUnavailable = errors.New("enrichment provider unavailable")
	ErrInferenceTimeout    = errors.New("enrichment timeout")
	ErrInvalidResponse     = errors.New("enrichment provider returned invalid response")
)
