// Package embeddings generates the vectors behind semantic recall. Two
// providers are supported: any OpenAI-compatible embeddings endpoint, and a
// local Ollama instance.
package embeddings

import (
	"context"
	"fmt"

	"github.com/haasonsaas/relay/internal/retry"
)

// Provider generates embedding vectors.
type Provider interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Name returns the provider name.
	Name() string

	// Dimension returns the embedding dimension for the configured model.
	Dimension() int
}

// Config selects and configures a provider.
type Config struct {
	Provider string `json:"provider,omitempty"` // openai (default) or ollama
	APIKey   string `json:"apiKey,omitempty"`
	BaseURL  string `json:"baseUrl,omitempty"`
	Model    string `json:"model,omitempty"`
}

// New builds the configured provider.
func New(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "", "openai":
		return NewOpenAI(OpenAIConfig{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, Model: cfg.Model})
	case "ollama":
		return NewOllama(OllamaConfig{BaseURL: cfg.BaseURL, Model: cfg.Model})
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// embedWithRetry runs an embedding call under the standard upstream policy.
// The operation marks non-retryable failures with retry.Permanent.
func embedWithRetry[T any](ctx context.Context, op func() (T, error)) (T, error) {
	value, result := retry.DoWithValue(ctx, retry.Upstream(), op)
	return value, result.Err
}
