package embeddings

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/relay/internal/errdefs"
	"github.com/haasonsaas/relay/internal/retry"
)

// requestTimeout bounds a single embeddings call; retries get a fresh budget.
const requestTimeout = 30 * time.Second

// OpenAIProvider calls an OpenAI-compatible embeddings endpoint.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

var _ Provider = (*OpenAIProvider)(nil)

// OpenAIConfig configures the provider.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string // optional, for compatible endpoints
	Model   string // default text-embedding-3-small
}

// NewOpenAI creates the provider.
func NewOpenAI(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embedding api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: requestTimeout}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
	}, nil
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Dimension returns the embedding dimension for the configured model.
func (p *OpenAIProvider) Dimension() int {
	switch p.model {
	case "text-embedding-3-large":
		return 3072
	case "text-embedding-3-small", "text-embedding-ada-002":
		return 1536
	default:
		return 1536
	}
}

// Embed generates an embedding for a single text.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, errdefs.New(errdefs.EmbeddingApiError, "no embedding returned").
			WithComponent("embeddings")
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one call.
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return embedWithRetry(ctx, func() ([][]float32, error) {
		resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: texts,
			Model: openai.EmbeddingModel(p.model),
		})
		if err != nil {
			return nil, classifyOpenAIError(err)
		}
		vectors := make([][]float32, len(resp.Data))
		for _, data := range resp.Data {
			vectors[data.Index] = data.Embedding
		}
		return vectors, nil
	})
}

// classifyOpenAIError tags failures with the embedding error codes and marks
// the ones retrying cannot fix as permanent.
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return errdefs.Wrap(errdefs.EmbeddingRateLimited, "embedding endpoint rate limited", err).
				WithComponent("embeddings")
		case retry.RetryableStatus(apiErr.HTTPStatusCode):
			return errdefs.Wrap(errdefs.EmbeddingApiError, "embedding endpoint unavailable", err).
				WithComponent("embeddings")
		default:
			return retry.Permanent(errdefs.Wrap(errdefs.EmbeddingApiError, "embedding request rejected", err).
				WithComponent("embeddings").
				WithDetail("status", apiErr.HTTPStatusCode))
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && !retry.RetryableStatus(reqErr.HTTPStatusCode) {
		return retry.Permanent(errdefs.Wrap(errdefs.EmbeddingApiError, "embedding request rejected", err).
			WithComponent("embeddings").
			WithDetail("status", reqErr.HTTPStatusCode))
	}
	// transport failures: timeouts, refused connections, resets
	return errdefs.Wrap(errdefs.EmbeddingNetworkError, "embedding endpoint unreachable", err).
		WithComponent("embeddings")
}
