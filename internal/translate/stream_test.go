package translate

import (
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/relay/pkg/models"
)

func textChunk(content string) *openai.ChatCompletionStreamResponse {
	return &openai.ChatCompletionStreamResponse{
		ID:    "chatcmpl-1",
		Model: "gpt-x",
		Choices: []openai.ChatCompletionStreamChoice{{
			Delta: openai.ChatCompletionStreamChoiceDelta{Content: content},
		}},
	}
}

func toolChunk(index int, id, name, args string) *openai.ChatCompletionStreamResponse {
	return &openai.ChatCompletionStreamResponse{
		ID:    "chatcmpl-1",
		Model: "gpt-x",
		Choices: []openai.ChatCompletionStreamChoice{{
			Delta: openai.ChatCompletionStreamChoiceDelta{
				ToolCalls: []openai.ToolCall{{
					Index:    &index,
					ID:       id,
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: name, Arguments: args},
				}},
			},
		}},
	}
}

func finishChunk(reason openai.FinishReason) *openai.ChatCompletionStreamResponse {
	return &openai.ChatCompletionStreamResponse{
		ID:    "chatcmpl-1",
		Model: "gpt-x",
		Choices: []openai.ChatCompletionStreamChoice{{
			FinishReason: reason,
		}},
	}
}

func collectTypes(events []models.StreamEvent) []string {
	types := make([]string, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func TestStreamTextOnly(t *testing.T) {
	tr := NewStreamTranslator(nil)

	var events []models.StreamEvent
	events = append(events, tr.Translate(textChunk("hel"))...)
	events = append(events, tr.Translate(textChunk("lo"))...)
	events = append(events, tr.Translate(finishChunk(openai.FinishReasonStop))...)
	events = append(events, tr.Finish()...)

	want := []string{
		models.EventMessageStart,
		models.EventContentBlockStart,
		models.EventContentBlockDelta,
		models.EventContentBlockDelta,
		models.EventContentBlockStop,
		models.EventMessageDelta,
		models.EventMessageStop,
	}
	got := collectTypes(events)
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: got %v, want %v", i, got, want)
		}
	}
	if events[1].ContentBlock.Type != models.PartText {
		t.Errorf("block type %s", events[1].ContentBlock.Type)
	}
	if events[5].Delta.StopReason != models.StopEndTurn {
		t.Errorf("stop reason %q", events[5].Delta.StopReason)
	}
}

func TestStreamToolCall(t *testing.T) {
	tr := NewStreamTranslator(nil)

	var events []models.StreamEvent
	events = append(events, tr.Translate(toolChunk(0, "call_1", "get_weather", ""))...)
	events = append(events, tr.Translate(toolChunk(0, "", "", `{"city":`))...)
	events = append(events, tr.Translate(toolChunk(0, "", "", `"sf"}`))...)
	events = append(events, tr.Translate(finishChunk(openai.FinishReasonToolCalls))...)
	events = append(events, tr.Finish()...)

	want := []string{
		models.EventMessageStart,
		models.EventContentBlockStart,
		models.EventContentBlockDelta,
		models.EventContentBlockDelta,
		models.EventContentBlockStop,
		models.EventMessageDelta,
		models.EventMessageStop,
	}
	got := collectTypes(events)
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	start := events[1]
	if start.ContentBlock.Type != models.PartToolUse || start.ContentBlock.Name != "get_weather" || start.ContentBlock.ID != "call_1" {
		t.Errorf("tool block start %+v", start.ContentBlock)
	}
	if *start.Index != 0 {
		t.Errorf("tool block index %d", *start.Index)
	}
	if events[2].Delta.Type != models.DeltaInputJSON || events[2].Delta.PartialJSON != `{"city":` {
		t.Errorf("first argument delta %+v", events[2].Delta)
	}
	if events[5].Delta.StopReason != models.StopToolUse {
		t.Errorf("stop reason %q", events[5].Delta.StopReason)
	}
}

func TestStreamTextThenToolClosesTextBlock(t *testing.T) {
	tr := NewStreamTranslator(nil)

	var events []models.StreamEvent
	events = append(events, tr.Translate(textChunk("thinking"))...)
	events = append(events, tr.Translate(toolChunk(1, "call_1", "lookup", `{}`))...)
	events = append(events, tr.Finish()...)

	got := collectTypes(events)
	// message_start, text start, text delta, text stop, tool start, tool
	// delta, tool stop, message_stop
	want := []string{
		models.EventMessageStart,
		models.EventContentBlockStart,
		models.EventContentBlockDelta,
		models.EventContentBlockStop,
		models.EventContentBlockStart,
		models.EventContentBlockDelta,
		models.EventContentBlockStop,
		models.EventMessageStop,
	}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: got %v, want %v", i, got, want)
		}
	}
	if *events[4].Index != 1 {
		t.Errorf("upstream tool index not preserved: %d", *events[4].Index)
	}
}

func TestStreamBlockPairingInvariant(t *testing.T) {
	tr := NewStreamTranslator(nil)

	var events []models.StreamEvent
	events = append(events, tr.Translate(textChunk("a"))...)
	events = append(events, tr.Translate(toolChunk(1, "c1", "t1", "{}"))...)
	events = append(events, tr.Translate(toolChunk(2, "c2", "t2", "{}"))...)
	events = append(events, tr.Translate(finishChunk(openai.FinishReasonToolCalls))...)
	events = append(events, tr.Finish()...)

	open := make(map[int]bool)
	for _, ev := range events {
		switch ev.Type {
		case models.EventContentBlockStart:
			open[*ev.Index] = true
		case models.EventContentBlockStop:
			if !open[*ev.Index] {
				t.Fatalf("stop without start for index %d", *ev.Index)
			}
			delete(open, *ev.Index)
		case models.EventMessageStop:
			if len(open) != 0 {
				t.Fatalf("message_stop with open blocks: %v", open)
			}
		}
	}
}
