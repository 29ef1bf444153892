package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// MessagesRequest is the canonical chat-completion request body.
type MessagesRequest struct {
	Model         string          `json:"model"`
	Messages      []Message       `json:"messages"`
	System        SystemPrompt    `json:"system,omitempty"`
	Tools         []Tool          `json:"tools,omitempty"`
	ToolChoice    *ToolChoice     `json:"tool_choice,omitempty"`
	MaxTokens     int             `json:"max_tokens,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	Thinking      json.RawMessage `json:"thinking,omitempty"`
	Metadata      *Metadata       `json:"metadata,omitempty"`
}

// Message is a single conversation turn.
type Message struct {
	Role    Role           `json:"role"`
	Content MessageContent `json:"content"`
}

// MessageContent is either a bare string or an array of content parts on the
// wire. Whichever form arrived is re-emitted on serialization.
type MessageContent struct {
	// Parts is non-nil when the wire form was an array.
	Parts []ContentPart
	// Text holds the bare-string form; meaningful only when Parts is nil.
	Text string
}

// UnmarshalJSON accepts both wire forms.
func (c *MessageContent) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "\"") {
		return json.Unmarshal(data, &c.Text)
	}
	return json.Unmarshal(data, &c.Parts)
}

// MarshalJSON re-emits the original wire form.
func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.Parts != nil {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// AllParts returns the content as a part slice regardless of wire form.
func (c *MessageContent) AllParts() []ContentPart {
	if c.Parts != nil {
		return c.Parts
	}
	if c.Text == "" {
		return nil
	}
	return []ContentPart{TextPart(c.Text)}
}

// PlainText concatenates all text parts.
func (c *MessageContent) PlainText() string {
	if c.Parts == nil {
		return c.Text
	}
	var b strings.Builder
	for _, p := range c.Parts {
		if p.Type == PartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// SystemPrompt is either a bare string or an array of system text blocks.
type SystemPrompt struct {
	Blocks []SystemBlock
	Text   string
	isList bool
}

// SystemBlock is a typed system text block.
type SystemBlock struct {
	Type         string          `json:"type"`
	Text         string          `json:"text"`
	CacheControl json.RawMessage `json:"cache_control,omitempty"`
}

func (s *SystemPrompt) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "\"") {
		s.isList = false
		return json.Unmarshal(data, &s.Text)
	}
	s.isList = true
	return json.Unmarshal(data, &s.Blocks)
}

func (s SystemPrompt) MarshalJSON() ([]byte, error) {
	if s.isList {
		return json.Marshal(s.Blocks)
	}
	return json.Marshal(s.Text)
}

// IsEmpty reports whether no system content is present.
func (s *SystemPrompt) IsEmpty() bool {
	if s.isList {
		return len(s.Blocks) == 0
	}
	return s.Text == ""
}

// Joined returns the system content as one string, blocks joined by newlines.
func (s *SystemPrompt) Joined() string {
	if !s.isList {
		return s.Text
	}
	parts := make([]string, 0, len(s.Blocks))
	for _, b := range s.Blocks {
		if b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// AsBlocks returns the system content as a block slice regardless of form.
func (s *SystemPrompt) AsBlocks() []SystemBlock {
	if s.isList {
		return s.Blocks
	}
	if s.Text == "" {
		return nil
	}
	return []SystemBlock{{Type: "text", Text: s.Text}}
}

// SetBlocks replaces the system content with the given blocks.
func (s *SystemPrompt) SetBlocks(blocks []SystemBlock) {
	s.isList = true
	s.Blocks = blocks
	s.Text = ""
}

// SetText replaces the system content with a bare string.
func (s *SystemPrompt) SetText(text string) {
	s.isList = false
	s.Text = text
	s.Blocks = nil
}

// Tool declares a callable tool: a name, a human description, and a JSON
// schema for its input. The schema is carried verbatim; only its top-level
// structure is validated.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
	Type        string          `json:"type,omitempty"`
}

// ToolChoice directs how the model may use tools.
type ToolChoice struct {
	Type string `json:"type"` // auto, any, tool
	Name string `json:"name,omitempty"`
}

// Metadata carries request metadata; the session id is derived from it.
type Metadata struct {
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// SessionID extracts the session identity for usage tracking. An explicit
// session_id wins; otherwise a `_session_<id>` suffix on user_id is parsed.
func (m *Metadata) SessionIDValue() string {
	if m == nil {
		return ""
	}
	if m.SessionID != "" {
		return m.SessionID
	}
	if idx := strings.LastIndex(m.UserID, "_session_"); idx >= 0 {
		return m.UserID[idx+len("_session_"):]
	}
	return ""
}

// ValidateToolRefs checks that tool_result parts reference a tool_use id seen
// earlier in the conversation and that tool names are unique.
func (r *MessagesRequest) ValidateToolRefs() error {
	names := make(map[string]bool, len(r.Tools))
	for _, t := range r.Tools {
		if names[t.Name] {
			return fmt.Errorf("duplicate tool name %q", t.Name)
		}
		names[t.Name] = true
	}
	seen := make(map[string]bool)
	for _, msg := range r.Messages {
		for _, p := range msg.Content.AllParts() {
			switch p.Type {
			case PartToolUse:
				seen[p.ID] = true
			case PartToolResult:
				if !seen[p.ToolUseID] {
					return fmt.Errorf("tool_result references unknown tool_use id %q", p.ToolUseID)
				}
			}
		}
	}
	return nil
}

// LastUserMessage returns the most recent user turn, or nil.
func (r *MessagesRequest) LastUserMessage() *Message {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return &r.Messages[i]
		}
	}
	return nil
}
