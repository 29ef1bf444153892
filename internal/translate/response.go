package translate

import (
	"encoding/json"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/relay/pkg/models"
)

// MapFinishReason converts an OpenAI finish reason to a canonical stop
// reason. Unknown reasons pass through verbatim.
func MapFinishReason(reason openai.FinishReason) string {
	switch reason {
	case openai.FinishReasonToolCalls:
		return models.StopToolUse
	case openai.FinishReasonStop:
		return models.StopEndTurn
	case "":
		return ""
	default:
		return string(reason)
	}
}

// Response converts a non-streaming provider response to the canonical
// shape. Malformed tool calls are dropped and logged, never passed through.
func Response(resp *openai.ChatCompletionResponse, model string, logger *slog.Logger) *models.MessagesResponse {
	if logger == nil {
		logger = slog.Default()
	}
	out := &models.MessagesResponse{
		ID:      resp.ID,
		Type:    "message",
		Role:    models.RoleAssistant,
		Model:   model,
		Content: []models.ContentPart{},
		Usage: models.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	if len(resp.Choices) == 0 {
		return out
	}
	choice := resp.Choices[0]

	if choice.Message.Content != "" {
		out.Content = append(out.Content, models.TextPart(choice.Message.Content))
	}
	for _, call := range choice.Message.ToolCalls {
		part, ok := convertToolCall(&call, logger)
		if !ok {
			continue
		}
		out.Content = append(out.Content, part)
	}

	out.StopReason = MapFinishReason(choice.FinishReason)
	return out
}

// convertToolCall validates one provider tool call and parses its arguments
// strictly. An empty arguments string parses as {}; any other parse failure
// drops the call.
func convertToolCall(call *openai.ToolCall, logger *slog.Logger) (models.ContentPart, bool) {
	if call.Type != openai.ToolTypeFunction || call.ID == "" || call.Function.Name == "" {
		logger.Warn("dropping malformed tool call",
			"id", call.ID, "type", string(call.Type), "name", call.Function.Name)
		return models.ContentPart{}, false
	}
	input := json.RawMessage(`{}`)
	if call.Function.Arguments != "" {
		if !json.Valid([]byte(call.Function.Arguments)) {
			logger.Warn("dropping tool call with unparseable arguments",
				"id", call.ID, "name", call.Function.Name)
			return models.ContentPart{}, false
		}
		input = json.RawMessage(call.Function.Arguments)
	}
	return models.ToolUsePart(call.ID, call.Function.Name, input), true
}
