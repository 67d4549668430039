package llm

import (
	"context"
	"fmt"

	"nutriflow/internal/config"
	"nutriflow/internal/shared"
)

// ContentResponse contains the generated text and metadata like token usage.
type ContentResponse struct {
	Content string
	Usage   shared.TokenUsage
}

// TextGenerator is an interface for generating text from a prompt.
// Implementations are asked for JSON output.
type TextGenerator interface {
	GenerateContent(ctx context.Context, prompt string) (ContentResponse, error)
}

// Closer is an interface for closing resources.
type Closer interface {
	Close() error
}

// NewFromConfig returns the generator selected by ORACLE_PROVIDER.
// The returned close func is never nil.
func NewFromConfig(ctx context.Context, cfg *config.Config) (TextGenerator, func() error, error) {
	switch cfg.OracleProvider {
	case config.ProviderGroq:
		return NewGroqClient(cfg), func() error { return nil }, nil
	case config.ProviderGemini:
		client, err := NewGeminiClient(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported oracle provider %q", cfg.OracleProvider)
	}
}
