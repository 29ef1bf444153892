package models

// Stop reasons in the canonical dialect.
const (
	StopEndTurn      = "end_turn"
	StopToolUse      = "tool_use"
	StopMaxTokens    = "max_tokens"
	StopStopSequence = "stop_sequence"
)

// Usage reports token consumption for a completed message.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// MessagesResponse is the canonical non-streaming completion response.
type MessagesResponse struct {
	ID           string        `json:"id"`
	Type         string        `json:"type"` // always "message"
	Role         Role          `json:"role"` // always "assistant"
	Model        string        `json:"model"`
	Content      []ContentPart `json:"content"`
	StopReason   string        `json:"stop_reason,omitempty"`
	StopSequence *string       `json:"stop_sequence,omitempty"`
	Usage        Usage         `json:"usage"`
}

// CountTokensResponse is the body of POST /v1/messages/count_tokens.
type CountTokensResponse struct {
	InputTokens int `json:"input_tokens"`
}
