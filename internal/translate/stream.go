package translate

import (
	"log/slog"
	"sort"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/relay/pkg/models"
)

// textBlockIndex is the block index text content streams under. Provider
// tool-call indices are preserved exactly as the upstream emits them.
const textBlockIndex = 0

// StreamTranslator converts OpenAI stream chunks into canonical events. It
// is stateful per response: it opens the message on the first chunk, opens
// and closes content blocks as the upstream shape changes, and closes
// everything on the finish reason. The caller owns SSE framing; this type
// only sees whole decoded chunks.
type StreamTranslator struct {
	logger *slog.Logger

	started   bool
	textOpen  bool
	toolOpen  map[int]bool // provider tool-call index -> block open
	toolIDs   map[int]string
	stopEvent *models.StreamEvent
}

// NewStreamTranslator creates a translator for one response stream.
func NewStreamTranslator(logger *slog.Logger) *StreamTranslator {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamTranslator{
		logger:  logger.With("component", "translate"),
		toolOpen: make(map[int]bool),
		toolIDs:  make(map[int]string),
	}
}

// Translate maps one provider chunk onto zero or more canonical events in
// emission order.
func (t *StreamTranslator) Translate(chunk *openai.ChatCompletionStreamResponse) []models.StreamEvent {
	var events []models.StreamEvent

	if !t.started {
		t.started = true
		inputTokens := 0
		if chunk.Usage != nil {
			inputTokens = chunk.Usage.PromptTokens
		}
		events = append(events, models.NewMessageStart(messageID(chunk.ID), chunk.Model, inputTokens))
	}
	if len(chunk.Choices) == 0 {
		return events
	}
	choice := chunk.Choices[0]

	if choice.Delta.Content != "" {
		if !t.textOpen {
			t.textOpen = true
			events = append(events, models.NewTextBlockStart(textBlockIndex))
		}
		events = append(events, models.NewTextDelta(textBlockIndex, choice.Delta.Content))
	}

	for i := range choice.Delta.ToolCalls {
		events = append(events, t.translateToolCall(&choice.Delta.ToolCalls[i])...)
	}

	if choice.FinishReason != "" {
		outputTokens := 0
		if chunk.Usage != nil {
			outputTokens = chunk.Usage.CompletionTokens
		}
		delta := models.NewMessageDelta(MapFinishReason(choice.FinishReason), outputTokens)
		// The message_delta is held until Finish so every block stop
		// precedes it even when the upstream interleaves oddly.
		t.stopEvent = &delta
	}
	return events
}

// translateToolCall opens a tool_use block on the first fragment carrying
// the function name and streams argument fragments as input_json_delta.
func (t *StreamTranslator) translateToolCall(call *openai.ToolCall) []models.StreamEvent {
	index := 0
	if call.Index != nil {
		index = *call.Index
	}

	var events []models.StreamEvent
	if !t.toolOpen[index] {
		if call.Function.Name == "" {
			t.logger.Warn("tool-call fragment before name, dropping", "index", index)
			return nil
		}
		if t.textOpen {
			t.textOpen = false
			events = append(events, models.NewContentBlockStop(textBlockIndex))
		}
		id := call.ID
		if id == "" {
			id = "toolu_" + uuid.NewString()
		}
		t.toolOpen[index] = true
		t.toolIDs[index] = id
		events = append(events, models.NewToolUseBlockStart(index, id, call.Function.Name))
	}
	if call.Function.Arguments != "" {
		events = append(events, models.NewInputJSONDelta(index, call.Function.Arguments))
	}
	return events
}

// Finish closes any open blocks and terminates the stream. Call it when the
// upstream emits [DONE] or ends.
func (t *StreamTranslator) Finish() []models.StreamEvent {
	var events []models.StreamEvent
	if t.textOpen {
		t.textOpen = false
		events = append(events, models.NewContentBlockStop(textBlockIndex))
	}
	indices := make([]int, 0, len(t.toolOpen))
	for index, open := range t.toolOpen {
		if open {
			indices = append(indices, index)
		}
	}
	sort.Ints(indices)
	for _, index := range indices {
		t.toolOpen[index] = false
		events = append(events, models.NewContentBlockStop(index))
	}
	if t.stopEvent != nil {
		events = append(events, *t.stopEvent)
		t.stopEvent = nil
	}
	events = append(events, models.NewMessageStop())
	return events
}

func messageID(upstream string) string {
	if upstream != "" {
		return upstream
	}
	return "msg_" + uuid.NewString()
}
