package models

// Stream event types in the canonical dialect.
const (
	EventMessageStart      = "message_start"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
	EventPing              = "ping"
	EventError             = "error"
)

// Delta types carried by content_block_delta events.
const (
	DeltaText      = "text_delta"
	DeltaInputJSON = "input_json_delta"
	DeltaThinking  = "thinking_delta"
)

// Delta is the incremental payload of a content_block_delta or
// message_delta event. For block deltas Type and one of Text or
// PartialJSON are set; for message deltas StopReason is set instead.
type Delta struct {
	Type         string  `json:"type,omitempty"`
	Text         string  `json:"text,omitempty"`
	PartialJSON  string  `json:"partial_json,omitempty"`
	Thinking     string  `json:"thinking,omitempty"`
	StopReason   string  `json:"stop_reason,omitempty"`
	StopSequence *string `json:"stop_sequence,omitempty"`
}

// StreamEvent is one canonical SSE event. Index uses a pointer so that
// block events serialize index 0 while message-level events omit the
// field entirely.
type StreamEvent struct {
	Type         string            `json:"type"`
	Index        *int              `json:"index,omitempty"`
	Message      *MessagesResponse `json:"message,omitempty"`
	ContentBlock *ContentPart      `json:"content_block,omitempty"`
	Delta        *Delta            `json:"delta,omitempty"`
	Usage        *Usage            `json:"usage,omitempty"`
	Error        *EventErrorBody   `json:"error,omitempty"`
}

// EventErrorBody is the payload of a terminal error event.
type EventErrorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewMessageStart builds the opening event of a stream. The embedded
// message carries the id, model and input token usage; content is empty.
func NewMessageStart(id, model string, inputTokens int) StreamEvent {
	return StreamEvent{
		Type: EventMessageStart,
		Message: &MessagesResponse{
			ID:      id,
			Type:    "message",
			Role:    RoleAssistant,
			Model:   model,
			Content: []ContentPart{},
			Usage:   Usage{InputTokens: inputTokens},
		},
	}
}

// NewTextBlockStart opens a text content block at the given index.
func NewTextBlockStart(index int) StreamEvent {
	block := TextPart("")
	return StreamEvent{Type: EventContentBlockStart, Index: &index, ContentBlock: &block}
}

// NewToolUseBlockStart opens a tool_use content block. The input field
// starts empty; arguments arrive as input_json_delta events.
func NewToolUseBlockStart(index int, id, name string) StreamEvent {
	block := ToolUsePart(id, name, nil)
	return StreamEvent{Type: EventContentBlockStart, Index: &index, ContentBlock: &block}
}

// NewTextDelta emits a text fragment for the block at index.
func NewTextDelta(index int, text string) StreamEvent {
	return StreamEvent{
		Type:  EventContentBlockDelta,
		Index: &index,
		Delta: &Delta{Type: DeltaText, Text: text},
	}
}

// NewInputJSONDelta emits a tool-argument fragment for the block at index.
func NewInputJSONDelta(index int, partial string) StreamEvent {
	return StreamEvent{
		Type:  EventContentBlockDelta,
		Index: &index,
		Delta: &Delta{Type: DeltaInputJSON, PartialJSON: partial},
	}
}

// NewContentBlockStop closes the block at index.
func NewContentBlockStop(index int) StreamEvent {
	return StreamEvent{Type: EventContentBlockStop, Index: &index}
}

// NewMessageDelta carries the stream's stop reason and output usage.
func NewMessageDelta(stopReason string, outputTokens int) StreamEvent {
	return StreamEvent{
		Type:  EventMessageDelta,
		Delta: &Delta{StopReason: stopReason},
		Usage: &Usage{OutputTokens: outputTokens},
	}
}

// NewMessageStop terminates the stream.
func NewMessageStop() StreamEvent {
	return StreamEvent{Type: EventMessageStop}
}

// NewPing is a keepalive event.
func NewPing() StreamEvent {
	return StreamEvent{Type: EventPing}
}

// NewErrorEvent reports a terminal stream error to the client.
func NewErrorEvent(errType, message string) StreamEvent {
	return StreamEvent{Type: EventError, Error: &EventErrorBody{Type: errType, Message: message}}
}
