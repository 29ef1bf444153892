// Package models defines the canonical wire types the gateway speaks with
// clients: messages, content parts, tools, and streaming events. The shapes
// follow the Anthropic Messages dialect; provider-specific shapes never leave
// the translation layer.
package models

import (
	"encoding/json"
	"fmt"
)

// PartType discriminates content part variants.
type PartType string

const (
	PartText       PartType = "text"
	PartImage      PartType = "image"
	PartToolUse    PartType = "tool_use"
	PartToolResult PartType = "tool_result"
)

// ContentPart is one element of a message's content array. Exactly one
// variant's fields are populated, selected by Type. Unknown fields from the
// wire are not preserved; the variant fields themselves round-trip losslessly.
type ContentPart struct {
	Type PartType `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// image
	Source *ImageSource `json:"source,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// ImageSource carries an image payload or reference.
type ImageSource struct {
	Type      string `json:"type"` // base64 or url
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// TextPart builds a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: PartText, Text: text}
}

// ToolUsePart builds a tool_use content part.
func ToolUsePart(id, name string, input json.RawMessage) ContentPart {
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	return ContentPart{Type: PartToolUse, ID: id, Name: name, Input: input}
}

// ToolResultPart builds a tool_result part with a plain-string content body.
func ToolResultPart(toolUseID, content string, isError bool) ContentPart {
	raw, _ := json.Marshal(content)
	return ContentPart{Type: PartToolResult, ToolUseID: toolUseID, Content: raw, IsError: isError}
}

// ResultText renders a tool_result content body as plain text. String bodies
// decode directly; structured bodies are returned as compact JSON.
func (p *ContentPart) ResultText() string {
	if len(p.Content) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(p.Content, &s); err == nil {
		return s
	}
	return string(p.Content)
}

// Validate checks the structural invariants of a part.
func (p *ContentPart) Validate() error {
	switch p.Type {
	case PartText:
		return nil
	case PartImage:
		if p.Source == nil {
			return fmt.Errorf("image part missing source")
		}
		return nil
	case PartToolUse:
		if p.ID == "" || p.Name == "" {
			return fmt.Errorf("tool_use part requires id and name")
		}
		return nil
	case PartToolResult:
		if p.ToolUseID == "" {
			return fmt.Errorf("tool_result part requires tool_use_id")
		}
		return nil
	default:
		return fmt.Errorf("unknown content part type %q", p.Type)
	}
}
