package translate

import (
	"encoding/json"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/relay/internal/errdefs"
	"github.com/haasonsaas/relay/pkg/models"
)

func testTool(schema string) models.Tool {
	return models.Tool{
		Name:        "get_weather",
		Description: "Look up the weather",
		InputSchema: json.RawMessage(schema),
	}
}

func TestRequestPrependsSystemMessage(t *testing.T) {
	req := &models.MessagesRequest{
		Messages: []models.Message{
			{Role: models.RoleUser, Content: models.MessageContent{Text: "hi"}},
		},
	}
	req.System.SetBlocks([]models.SystemBlock{
		{Type: "text", Text: "first"},
		{Type: "text", Text: "second"},
	})

	out, err := Request(req, "gpt-x")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if out.Model != "gpt-x" {
		t.Errorf("model %q", out.Model)
	}
	if len(out.Messages) != 2 {
		t.Fatalf("got %d messages", len(out.Messages))
	}
	if out.Messages[0].Role != openai.ChatMessageRoleSystem || out.Messages[0].Content != "first\nsecond" {
		t.Errorf("system message %+v", out.Messages[0])
	}
}

func TestRequestCopiesParameters(t *testing.T) {
	temp := 0.7
	topP := 0.9
	req := &models.MessagesRequest{
		Messages:      []models.Message{{Role: models.RoleUser, Content: models.MessageContent{Text: "hi"}}},
		MaxTokens:     512,
		Temperature:   &temp,
		TopP:          &topP,
		StopSequences: []string{"END"},
		Stream:        true,
	}
	out, err := Request(req, "gpt-x")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if out.MaxTokens != 512 || !out.Stream || len(out.Stop) != 1 {
		t.Errorf("parameters not copied: %+v", out)
	}
	if out.Temperature != 0.7 || out.TopP != 0.9 {
		t.Errorf("temperature/top_p not copied: %v %v", out.Temperature, out.TopP)
	}
}

func TestRequestSubsetRuleSchema(t *testing.T) {
	req := &models.MessagesRequest{
		Messages: []models.Message{{Role: models.RoleUser, Content: models.MessageContent{Text: "hi"}}},
		Tools: []models.Tool{testTool(`{
			"type": "object",
			"description": "args",
			"additionalProperties": false,
			"$schema": "http://json-schema.org/draft-07/schema#",
			"required": ["city"],
			"properties": {
				"city": {"type": "string", "minLength": 2, "enum": ["sf", "nyc"]},
				"days": {"type": "array", "items": {"type": "integer", "maximum": 14}}
			}
		}`)},
	}
	out, err := Request(req, "gpt-x")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if len(out.Tools) != 1 {
		t.Fatalf("got %d tools", len(out.Tools))
	}
	params, ok := out.Tools[0].Function.Parameters.(map[string]any)
	if !ok {
		t.Fatalf("parameters type %T", out.Tools[0].Function.Parameters)
	}
	if _, present := params["additionalProperties"]; present {
		t.Error("additionalProperties survived the subset rule")
	}
	if _, present := params["$schema"]; present {
		t.Error("$schema survived the subset rule")
	}
	city := params["properties"].(map[string]any)["city"].(map[string]any)
	if _, present := city["minLength"]; present {
		t.Error("minLength survived nested subset conversion")
	}
	if _, present := city["enum"]; !present {
		t.Error("enum dropped by subset conversion")
	}
	items := params["properties"].(map[string]any)["days"].(map[string]any)["items"].(map[string]any)
	if _, present := items["maximum"]; present {
		t.Error("maximum survived items recursion")
	}
}

func TestRequestRejectsInvalidTool(t *testing.T) {
	tests := []struct {
		name string
		tool models.Tool
	}{
		{"missing type", testTool(`{"properties":{}}`)},
		{"non-object type", testTool(`{"type":"array"}`)},
		{"empty name", models.Tool{Description: "d", InputSchema: json.RawMessage(`{"type":"object"}`)}},
		{"empty description", models.Tool{Name: "t", InputSchema: json.RawMessage(`{"type":"object"}`)}},
	}
	for _, tt := range tests {
		req := &models.MessagesRequest{
			Messages: []models.Message{{Role: models.RoleUser, Content: models.MessageContent{Text: "hi"}}},
			Tools:    []models.Tool{tt.tool},
		}
		_, err := Request(req, "gpt-x")
		if err == nil {
			t.Errorf("%s: no error", tt.name)
			continue
		}
		var ge *errdefs.Error
		if !errors.As(err, &ge) || ge.Code != errdefs.ToolValidationFailed {
			t.Errorf("%s: wrong error %v", tt.name, err)
		}
	}
}

func TestRequestToolChoice(t *testing.T) {
	base := func(choice *models.ToolChoice) *models.MessagesRequest {
		return &models.MessagesRequest{
			Messages:   []models.Message{{Role: models.RoleUser, Content: models.MessageContent{Text: "hi"}}},
			Tools:      []models.Tool{testTool(`{"type":"object"}`)},
			ToolChoice: choice,
		}
	}

	out, err := Request(base(&models.ToolChoice{Type: "auto"}), "m")
	if err != nil || out.ToolChoice != "auto" {
		t.Errorf("auto: %v %v", out.ToolChoice, err)
	}
	out, err = Request(base(&models.ToolChoice{Type: "any"}), "m")
	if err != nil || out.ToolChoice != "required" {
		t.Errorf("any: %v %v", out.ToolChoice, err)
	}
	out, err = Request(base(&models.ToolChoice{Type: "tool", Name: "get_weather"}), "m")
	if err != nil {
		t.Fatalf("tool: %v", err)
	}
	named, ok := out.ToolChoice.(openai.ToolChoice)
	if !ok || named.Function.Name != "get_weather" {
		t.Errorf("named choice %+v", out.ToolChoice)
	}
}

func TestRequestToolUseAndResultRoundTrip(t *testing.T) {
	req := &models.MessagesRequest{
		Messages: []models.Message{
			{Role: models.RoleUser, Content: models.MessageContent{Text: "weather?"}},
			{Role: models.RoleAssistant, Content: models.MessageContent{Parts: []models.ContentPart{
				models.ToolUsePart("call_1", "get_weather", json.RawMessage(`{"city":"sf"}`)),
			}}},
			{Role: models.RoleUser, Content: models.MessageContent{Parts: []models.ContentPart{
				models.ToolResultPart("call_1", "sunny", false),
			}}},
		},
	}
	out, err := Request(req, "gpt-x")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if len(out.Messages) != 3 {
		t.Fatalf("got %d messages: %+v", len(out.Messages), out.Messages)
	}
	assistant := out.Messages[1]
	if len(assistant.ToolCalls) != 1 || assistant.ToolCalls[0].Function.Name != "get_weather" {
		t.Errorf("assistant tool call %+v", assistant.ToolCalls)
	}
	result := out.Messages[2]
	if result.Role != openai.ChatMessageRoleTool || result.ToolCallID != "call_1" || result.Content != "sunny" {
		t.Errorf("tool result message %+v", result)
	}
}
