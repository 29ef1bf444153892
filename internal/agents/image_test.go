package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/haasonsaas/relay/internal/config"
	"github.com/haasonsaas/relay/pkg/models"
)

func imageConfig() *config.Config {
	cfg := config.Default()
	cfg.Router.Image = "openai,gpt-vision"
	return cfg
}

func imageRequest() *models.MessagesRequest {
	return &models.MessagesRequest{
		Model: "claude-sonnet-4",
		Messages: []models.Message{
			{Role: models.RoleUser, Content: models.MessageContent{Parts: []models.ContentPart{
				models.TextPart("what is in these?"),
				{Type: models.PartImage, Source: &models.ImageSource{Type: "base64", MediaType: "image/png", Data: "aaa"}},
				{Type: models.PartImage, Source: &models.ImageSource{Type: "base64", MediaType: "image/png", Data: "bbb"}},
			}}},
		},
	}
}

func TestImageAgentActivation(t *testing.T) {
	a := NewImageAgent(NewImageCache(), nil)

	rc := &RequestContext{Config: imageConfig()}
	if !a.ShouldHandle(rc, imageRequest()) {
		t.Error("did not activate with images and image route")
	}

	noRoute := &RequestContext{Config: config.Default()}
	if a.ShouldHandle(noRoute, imageRequest()) {
		t.Error("activated without image route")
	}

	textOnly := &models.MessagesRequest{Messages: []models.Message{
		{Role: models.RoleUser, Content: models.MessageContent{Text: "no images"}},
	}}
	if a.ShouldHandle(rc, textOnly) {
		t.Error("activated without image parts")
	}
}

func TestImageAgentRewritesParts(t *testing.T) {
	ic := NewImageCache()
	a := NewImageAgent(ic, nil)
	req := imageRequest()
	rc := &RequestContext{RequestID: "req-1", Config: imageConfig()}

	if err := a.HandleRequest(context.Background(), rc, req); err != nil {
		t.Fatal(err)
	}

	parts := req.Messages[0].Content.Parts
	if len(parts) != 3 {
		t.Fatalf("parts %+v", parts)
	}
	want1 := fmt.Sprintf(imagePlaceholder, 1)
	if parts[1].Type != models.PartText || parts[1].Text != want1 {
		t.Errorf("placeholder 1: %+v", parts[1])
	}
	if parts[2].Text != fmt.Sprintf(imagePlaceholder, 2) {
		t.Errorf("placeholder 2: %+v", parts[2])
	}

	src, ok := ic.Get("req-1_Image#1")
	if !ok || src.Data != "aaa" {
		t.Errorf("cached image 1: %+v ok=%v", src, ok)
	}
	if _, ok := ic.Get("req-1_Image#2"); !ok {
		t.Error("image 2 not cached")
	}
	if !strings.Contains(req.System.Joined(), "analyzeImage") {
		t.Error("system instruction missing")
	}
}

func TestAnalyzeImageReentersGateway(t *testing.T) {
	ic := NewImageCache()
	a := NewImageAgent(ic, nil)
	ic.Put("req-1_Image#1", &models.ImageSource{Type: "base64", MediaType: "image/png", Data: "aaa"})

	var child *models.MessagesRequest
	rc := &RequestContext{
		RequestID: "req-1",
		Config:    imageConfig(),
		Reenter: func(ctx context.Context, req *models.MessagesRequest, headers map[string]string) (string, error) {
			child = req
			return "a red square", nil
		},
	}

	args := json.RawMessage(`{"imageIds":["req-1_Image#1"],"prompt":"what color?"}`)
	out, err := a.analyzeImage(context.Background(), rc, args)
	if err != nil {
		t.Fatal(err)
	}
	if out != "a red square" {
		t.Errorf("output %q", out)
	}
	if child.Model != "openai,gpt-vision" {
		t.Errorf("child model %q", child.Model)
	}
	parts := child.Messages[0].Content.Parts
	if len(parts) != 2 || parts[0].Type != models.PartImage || parts[1].Text != "what color?" {
		t.Errorf("child parts %+v", parts)
	}
}

func TestAnalyzeImageMissingIDs(t *testing.T) {
	a := NewImageAgent(NewImageCache(), nil)
	rc := &RequestContext{
		Config: imageConfig(),
		Reenter: func(ctx context.Context, req *models.MessagesRequest, headers map[string]string) (string, error) {
			return "ok", nil
		},
	}

	if _, err := a.analyzeImage(context.Background(), rc, json.RawMessage(`{"imageIds":["gone_Image#1"]}`)); err == nil {
		t.Error("missing ids accepted")
	}
	if _, err := a.analyzeImage(context.Background(), rc, json.RawMessage(`{"imageIds":[]}`)); err == nil {
		t.Error("empty ids accepted")
	}
}

func TestAnalyzeImageLenientArgs(t *testing.T) {
	ic := NewImageCache()
	a := NewImageAgent(ic, nil)
	ic.Put("r_Image#1", &models.ImageSource{Type: "base64", Data: "x"})
	rc := &RequestContext{
		Config: imageConfig(),
		Reenter: func(ctx context.Context, req *models.MessagesRequest, headers map[string]string) (string, error) {
			return "fine", nil
		},
	}

	// Trailing comma, json5-style.
	args := json.RawMessage(`{imageIds: ["r_Image#1",],}`)
	if _, err := a.analyzeImage(context.Background(), rc, args); err != nil {
		t.Errorf("lenient args rejected: %v", err)
	}
}
