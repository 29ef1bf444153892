// Package translate converts between the canonical dialect and the
// OpenAI-shaped provider dialect: requests out, responses and stream chunks
// back. Tool schemas are validated structurally before any request leaves
// the gateway; a validation failure rejects the whole request.
package translate

import (
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/relay/internal/errdefs"
	"github.com/haasonsaas/relay/pkg/models"
)

// schemaSubsetKeys are the JSON-Schema fields carried into the provider
// dialect; everything else is dropped. properties and items recurse.
var schemaSubsetKeys = map[string]bool{
	"type":        true,
	"description": true,
	"enum":        true,
	"required":    true,
	"properties":  true,
	"items":       true,
}

// Request converts a canonical request into the OpenAI dialect for the given
// resolved model. Canonical system blocks become one synthetic leading
// system message. Fails with ToolValidationFailed when any tool is
// structurally invalid.
func Request(req *models.MessagesRequest, model string) (*openai.ChatCompletionRequest, error) {
	out := &openai.ChatCompletionRequest{
		Model:     model,
		MaxTokens: req.MaxTokens,
		Stream:    req.Stream,
		Stop:      req.StopSequences,
	}
	if req.Temperature != nil {
		out.Temperature = float32(*req.Temperature)
	}
	if req.TopP != nil {
		out.TopP = float32(*req.TopP)
	}

	if !req.System.IsEmpty() {
		out.Messages = append(out.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System.Joined(),
		})
	}
	for i := range req.Messages {
		converted, err := convertMessage(&req.Messages[i])
		if err != nil {
			return nil, err
		}
		out.Messages = append(out.Messages, converted...)
	}

	for _, tool := range req.Tools {
		converted, err := ConvertTool(&tool)
		if err != nil {
			return nil, err
		}
		out.Tools = append(out.Tools, converted)
	}
	if req.ToolChoice != nil {
		choice, err := convertToolChoice(req.ToolChoice)
		if err != nil {
			return nil, err
		}
		out.ToolChoice = choice
	}
	return out, nil
}

// convertMessage maps one canonical turn onto one or more provider
// messages. tool_result parts split into standalone role-tool messages;
// tool_use parts become assistant tool calls.
func convertMessage(msg *models.Message) ([]openai.ChatCompletionMessage, error) {
	parts := msg.Content.AllParts()
	if parts == nil {
		return []openai.ChatCompletionMessage{{
			Role:    string(msg.Role),
			Content: msg.Content.Text,
		}}, nil
	}

	var (
		out       []openai.ChatCompletionMessage
		text      string
		toolCalls []openai.ToolCall
		images    []openai.ChatMessagePart
	)
	for i := range parts {
		p := &parts[i]
		switch p.Type {
		case models.PartText:
			text += p.Text
		case models.PartImage:
			if part, ok := imagePart(p.Source); ok {
				images = append(images, part)
			}
		case models.PartToolUse:
			args := string(p.Input)
			if args == "" {
				args = "{}"
			}
			toolCalls = append(toolCalls, openai.ToolCall{
				ID:       p.ID,
				Type:     openai.ToolTypeFunction,
				Function: openai.FunctionCall{Name: p.Name, Arguments: args},
			})
		case models.PartToolResult:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: p.ToolUseID,
				Content:    p.ResultText(),
			})
		}
	}

	main := openai.ChatCompletionMessage{Role: string(msg.Role)}
	switch {
	case len(images) > 0:
		if text != "" {
			main.MultiContent = append(main.MultiContent, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: text,
			})
		}
		main.MultiContent = append(main.MultiContent, images...)
	default:
		main.Content = text
	}
	main.ToolCalls = toolCalls

	if main.Content != "" || len(main.MultiContent) > 0 || len(main.ToolCalls) > 0 {
		// Tool results precede the assistant follow-up on the wire only when
		// they belong to an earlier turn; within one canonical message the
		// main content goes first.
		out = append([]openai.ChatCompletionMessage{main}, out...)
	}
	if len(out) == 0 {
		out = append(out, openai.ChatCompletionMessage{Role: string(msg.Role), Content: ""})
	}
	return out, nil
}

func imagePart(src *models.ImageSource) (openai.ChatMessagePart, bool) {
	if src == nil {
		return openai.ChatMessagePart{}, false
	}
	url := src.URL
	if url == "" && src.Data != "" {
		mediaType := src.MediaType
		if mediaType == "" {
			mediaType = "image/png"
		}
		url = "data:" + mediaType + ";base64," + src.Data
	}
	if url == "" {
		return openai.ChatMessagePart{}, false
	}
	return openai.ChatMessagePart{
		Type:     openai.ChatMessagePartTypeImageURL,
		ImageURL: &openai.ChatMessageImageURL{URL: url},
	}, true
}

// ConvertTool validates one canonical tool and wraps it in the provider
// function shape with a subset-converted schema.
func ConvertTool(tool *models.Tool) (openai.Tool, error) {
	schema, err := ValidateTool(tool)
	if err != nil {
		return openai.Tool{}, err
	}
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  convertSchema(schema),
		},
	}, nil
}

// ValidateTool checks the structural invariants: non-empty name and
// description, and an input schema whose type field is the string "object".
// It returns the parsed schema on success.
func ValidateTool(tool *models.Tool) (map[string]any, error) {
	fail := func(msg string) error {
		return errdefs.Newf(errdefs.ToolValidationFailed, "tool %q: %s", tool.Name, msg).
			WithComponent("translate").WithOperation("validate-tool").
			WithDetail("tool", tool.Name)
	}
	if tool.Name == "" {
		return nil, fail("name is required")
	}
	if tool.Description == "" {
		return nil, fail("description is required")
	}
	if len(tool.InputSchema) == 0 {
		return nil, fail("input_schema is required")
	}
	var schema map[string]any
	if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
		return nil, fail(fmt.Sprintf("input_schema is not an object: %v", err))
	}
	if t, _ := schema["type"].(string); t != "object" {
		return nil, fail(`input_schema.type must be "object"`)
	}
	return schema, nil
}

// convertSchema applies the subset rule: keep type, description, enum,
// required, properties and items; recurse through properties and items; drop
// every other key.
func convertSchema(schema map[string]any) map[string]any {
	out := make(map[string]any, len(schema))
	for key, value := range schema {
		if !schemaSubsetKeys[key] {
			continue
		}
		switch key {
		case "properties":
			if props, ok := value.(map[string]any); ok {
				converted := make(map[string]any, len(props))
				for name, sub := range props {
					if subSchema, ok := sub.(map[string]any); ok {
						converted[name] = convertSchema(subSchema)
					} else {
						converted[name] = sub
					}
				}
				out[key] = converted
				continue
			}
			out[key] = value
		case "items":
			if subSchema, ok := value.(map[string]any); ok {
				out[key] = convertSchema(subSchema)
				continue
			}
			out[key] = value
		default:
			out[key] = value
		}
	}
	return out
}

func convertToolChoice(choice *models.ToolChoice) (any, error) {
	switch choice.Type {
	case "auto":
		return "auto", nil
	case "any":
		return "required", nil
	case "tool":
		if choice.Name == "" {
			return nil, errdefs.New(errdefs.ToolValidationFailed, "tool_choice of type tool requires a name").
				WithComponent("translate")
		}
		return openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: choice.Name},
		}, nil
	case "":
		return nil, nil
	default:
		return nil, errdefs.Newf(errdefs.ToolValidationFailed, "unknown tool_choice type %q", choice.Type).
			WithComponent("translate")
	}
}
