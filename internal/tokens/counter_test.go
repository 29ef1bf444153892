package tokens

import (
	"encoding/json"
	"testing"

	"github.com/haasonsaas/relay/pkg/models"
)

func newTestCounter(t *testing.T) *Counter {
	t.Helper()
	c, err := NewCounter()
	if err != nil {
		t.Skipf("cl100k_base encoding unavailable: %v", err)
	}
	return c
}

func TestCountTextDeterministic(t *testing.T) {
	c := newTestCounter(t)
	a := c.CountText("the quick brown fox jumps over the lazy dog")
	b := c.CountText("the quick brown fox jumps over the lazy dog")
	if a != b {
		t.Errorf("count not deterministic: %d vs %d", a, b)
	}
	if a <= 0 {
		t.Errorf("count should be positive, got %d", a)
	}
	if c.CountText("") != 0 {
		t.Error("empty string should count zero")
	}
}

func TestCountRequestVisitsEverything(t *testing.T) {
	c := newTestCounter(t)

	base := models.MessagesRequest{
		Messages: []models.Message{
			{Role: models.RoleUser, Content: models.MessageContent{Text: "hello"}},
		},
	}
	baseCount := c.CountRequest(&base)

	withParts := base
	withParts.Messages = append(withParts.Messages, models.Message{
		Role: models.RoleAssistant,
		Content: models.MessageContent{Parts: []models.ContentPart{
			models.ToolUsePart("tu_1", "search", json.RawMessage(`{"query":"golang"}`)),
		}},
	}, models.Message{
		Role: models.RoleUser,
		Content: models.MessageContent{Parts: []models.ContentPart{
			models.ToolResultPart("tu_1", "lots of search results here", false),
		}},
	})
	withParts.System.SetText("you are a helpful assistant")
	withParts.Tools = []models.Tool{{
		Name:        "search",
		Description: "search the web",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"}}}`),
	}}

	fullCount := c.CountRequest(&withParts)
	if fullCount <= baseCount {
		t.Errorf("tool parts, system and tools must contribute: base=%d full=%d", baseCount, fullCount)
	}
}

func TestNilCounterFallsBack(t *testing.T) {
	var c *Counter
	text := "twelve chars"
	if got := c.CountText(text); got != len(text)/4 {
		t.Errorf("nil counter estimate = %d, want %d", got, len(text)/4)
	}
}

func TestEstimate(t *testing.T) {
	if Estimate("abcdefgh") != 2 {
		t.Errorf("Estimate = %d, want 2", Estimate("abcdefgh"))
	}
}
