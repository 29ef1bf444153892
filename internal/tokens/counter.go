// Package tokens estimates token usage with the cl100k_base BPE encoding.
// Counts feed the routing thresholds and the count_tokens endpoint; they are
// estimates, not provider-billed numbers.
package tokens

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/haasonsaas/relay/pkg/models"
)

const encodingName = "cl100k_base"

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
	encodingErr  error
)

// Counter counts tokens deterministically. The zero-value (nil) counter is
// usable and falls back to a character-based estimate.
type Counter struct {
	enc *tiktoken.Tiktoken
}

// NewCounter returns a counter backed by the shared cl100k_base encoding.
// The encoding loads once per process.
func NewCounter() (*Counter, error) {
	encodingOnce.Do(func() {
		encoding, encodingErr = tiktoken.GetEncoding(encodingName)
	})
	if encodingErr != nil {
		return nil, fmt.Errorf("load %s encoding: %w", encodingName, encodingErr)
	}
	return &Counter{enc: encoding}, nil
}

// CountText returns the token count for a single string.
func (c *Counter) CountText(text string) int {
	if text == "" {
		return 0
	}
	if c == nil || c.enc == nil {
		return Estimate(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// CountRequest estimates the input tokens of a request. It visits every text
// part, every tool_use input, every tool_result body, every system block, and
// every tool declaration (name, description, schema).
func (c *Counter) CountRequest(req *models.MessagesRequest) int {
	total := 0
	for i := range req.Messages {
		total += c.countMessage(&req.Messages[i])
	}
	for _, b := range req.System.AsBlocks() {
		total += c.CountText(b.Text)
	}
	for _, t := range req.Tools {
		total += c.CountText(t.Name)
		total += c.CountText(t.Description)
		total += c.CountText(string(t.InputSchema))
	}
	return total
}

func (c *Counter) countMessage(m *models.Message) int {
	if m.Content.Parts == nil {
		return c.CountText(m.Content.Text)
	}
	total := 0
	for i := range m.Content.Parts {
		p := &m.Content.Parts[i]
		switch p.Type {
		case models.PartText:
			total += c.CountText(p.Text)
		case models.PartToolUse:
			total += c.CountText(string(p.Input))
		case models.PartToolResult:
			total += c.CountText(p.ResultText())
		}
	}
	return total
}

// Estimate is the character-based fallback used when the BPE encoding is
// unavailable: roughly four characters per token.
func Estimate(text string) int {
	return len(text) / 4
}
