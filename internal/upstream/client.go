// Package upstream sends translated requests to provider endpoints. One
// client serves all providers; per-request base URL and credentials come
// from the routing decision. Responses are returned unconsumed so streaming
// bodies can be relayed.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/relay/internal/config"
	"github.com/haasonsaas/relay/internal/errdefs"
	"github.com/haasonsaas/relay/internal/retry"
)

// defaultTimeout bounds one upstream call including all retry attempts.
const defaultTimeout = 120 * time.Second

// Client posts chat-completion requests upstream.
type Client struct {
	http    *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

// New builds a client. timeoutMs zero or negative selects the default.
func New(timeoutMs int, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := defaultTimeout
	if timeoutMs > 0 {
		timeout = time.Duration(timeoutMs) * time.Millisecond
	}
	return &Client{
		// The per-request deadline governs; the transport itself stays
		// unbounded so streaming reads are not cut off mid-body.
		http:    &http.Client{},
		timeout: timeout,
		logger:  logger.With("component", "upstream"),
	}
}

// Timeout returns the per-request deadline.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// ChatCompletion posts the request to the provider and returns the raw
// response with its body unread. The caller owns the body. Retries follow
// the upstream policy: 429/502/503 and network errors, nothing else.
func (c *Client) ChatCompletion(ctx context.Context, provider *config.Provider, req *openai.ChatCompletionRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.InternalError, "encode upstream request", err).
			WithComponent("upstream")
	}
	url := strings.TrimRight(provider.APIBaseURL, "/") + "/chat/completions"

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	resp, result := retry.DoWithValue(ctx, retry.Upstream(), func() (*http.Response, error) {
		return c.attempt(ctx, url, provider.APIKey, body)
	})
	if result.Err != nil {
		cancel()
		if result.Attempts > 1 {
			c.logger.Warn("upstream request failed after retries",
				"url", url, "attempts", result.Attempts, "error", result.Err)
		}
		return nil, classify(ctx, result.Err)
	}

	// Tie the deadline to the body so streaming reads stay bounded.
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// attempt runs one POST. Retryable failures come back as plain errors;
// everything else is marked permanent so the retry loop stops.
func (c *Client) attempt(ctx context.Context, url, apiKey string, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("build upstream request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		// Client aborts must not burn retry attempts.
		if ctx.Err() != nil {
			return nil, retry.Permanent(ctx.Err())
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		detail := readErrorBody(resp.Body)
		err := &statusError{status: resp.StatusCode, detail: detail}
		if retry.RetryableStatus(resp.StatusCode) {
			return nil, err
		}
		return nil, retry.Permanent(err)
	}
	return resp, nil
}

// statusError carries a non-2xx upstream status through the retry loop.
type statusError struct {
	status int
	detail string
}

func (e *statusError) Error() string {
	if e.detail == "" {
		return fmt.Sprintf("upstream returned %d", e.status)
	}
	return fmt.Sprintf("upstream returned %d: %s", e.status, e.detail)
}

// StatusCode exposes the upstream status for error mapping.
func (e *statusError) StatusCode() int {
	return e.status
}

// classify maps a final transport error onto the error taxonomy.
func classify(ctx context.Context, err error) error {
	var se *statusError
	if errors.As(err, &se) {
		switch {
		case se.status == http.StatusTooManyRequests:
			return errdefs.Wrap(errdefs.ApiRateLimited, "provider rate limited", err).
				WithComponent("upstream")
		case se.status == http.StatusUnauthorized || se.status == http.StatusForbidden:
			return errdefs.Wrap(errdefs.ApiAuthFailed, "provider rejected credentials", err).
				WithComponent("upstream").
				WithSuggestion("check the provider api_key in config.json")
		default:
			return errdefs.Wrap(errdefs.InternalError, "provider request failed", err).
				WithComponent("upstream").
				WithDetail("status", se.status)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errdefs.Wrap(errdefs.ApiTimeout, "provider request timed out", err).
			WithComponent("upstream")
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return errdefs.Wrap(errdefs.ApiTimeout, "provider unreachable", err).
		WithComponent("upstream")
}

// readErrorBody grabs a bounded slice of an error response for logs.
func readErrorBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 2048))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// cancelBody releases the request deadline when the body is closed.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
