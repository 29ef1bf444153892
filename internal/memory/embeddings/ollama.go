package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/haasonsaas/relay/internal/errdefs"
	"github.com/haasonsaas/relay/internal/retry"
)

// OllamaProvider embeds against a local Ollama instance.
type OllamaProvider struct {
	baseURL string
	model   string
	client  *http.Client
}

var _ Provider = (*OllamaProvider)(nil)

// OllamaConfig configures the provider.
type OllamaConfig struct {
	BaseURL string // default http://localhost:11434
	Model   string // default nomic-embed-text
}

// NewOllama creates the provider.
func NewOllama(cfg OllamaConfig) (*OllamaProvider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "nomic-embed-text"
	}
	return &OllamaProvider{
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		client:  &http.Client{Timeout: requestTimeout},
	}, nil
}

// Name returns the provider name.
func (p *OllamaProvider) Name() string {
	return "ollama"
}

// Dimension returns the embedding dimension for the configured model.
func (p *OllamaProvider) Dimension() int {
	switch p.model {
	case "mxbai-embed-large":
		return 1024
	case "all-minilm":
		return 384
	default: // nomic-embed-text
		return 768
	}
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed generates an embedding for a single text.
func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return embedWithRetry(ctx, func() ([]float32, error) {
		return p.embedOnce(ctx, text)
	})
}

// EmbedBatch generates embeddings one request per text; the Ollama
// embeddings endpoint takes a single prompt.
func (p *OllamaProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vec, err := p.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, vec)
	}
	return vectors, nil
}

func (p *OllamaProvider) embedOnce(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaRequest{Model: p.model, Prompt: text})
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("marshal embedding request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("build embedding request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.EmbeddingNetworkError, "embedding endpoint unreachable", err).
			WithComponent("embeddings")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		wrapped := errdefs.Newf(errdefs.EmbeddingApiError, "embedding endpoint returned %d: %s", resp.StatusCode, text).
			WithComponent("embeddings")
		if retry.RetryableStatus(resp.StatusCode) {
			return nil, wrapped
		}
		return nil, retry.Permanent(wrapped)
	}

	var out ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, retry.Permanent(errdefs.Wrap(errdefs.EmbeddingApiError, "decode embedding response", err).
			WithComponent("embeddings"))
	}
	if len(out.Embedding) == 0 {
		return nil, retry.Permanent(errdefs.New(errdefs.EmbeddingApiError, "no embedding returned").
			WithComponent("embeddings"))
	}
	return out.Embedding, nil
}
