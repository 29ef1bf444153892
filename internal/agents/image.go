package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"

	"github.com/haasonsaas/relay/internal/cache"
	"github.com/haasonsaas/relay/pkg/models"
)

const (
	imageCacheCapacity = 100
	imageCacheTTL      = 5 * time.Minute

	// imagePlaceholder replaces an image part; %d is the 1-based image number.
	imagePlaceholder = "[Image #%d]This is an image, if you need to view or analyze it, you need to extract the imageId"

	imageSystemBlock = "Some messages contain image placeholders like [Image #1]. " +
		"To view or analyze an image, call the analyzeImage tool with the image ids " +
		"(formatted as <requestId>_Image#<n>) and a prompt describing what to look for."
)

var analyzeImageSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"imageIds": {
			"type": "array",
			"items": {"type": "string"},
			"description": "Ids of the images to analyze, e.g. req-1_Image#1"
		},
		"prompt": {
			"type": "string",
			"description": "What to look for in the images"
		}
	},
	"required": ["imageIds"]
}`)

// ImageCache holds image sources stripped out of requests, keyed
// `<request-id>_Image#<n>`, until a tool call fetches them back.
type ImageCache struct {
	lru *cache.TTLCache[*models.ImageSource]
}

// NewImageCache builds the request-scoped image cache.
func NewImageCache() *ImageCache {
	return &ImageCache{lru: cache.New[*models.ImageSource](imageCacheCapacity, imageCacheTTL)}
}

// Put stores one image source under its id.
func (c *ImageCache) Put(id string, src *models.ImageSource) {
	c.lru.Put(id, src)
}

// Get fetches an image source by id.
func (c *ImageCache) Get(id string) (*models.ImageSource, bool) {
	return c.lru.Get(id)
}

// ImageAgent swaps inline images for placeholders and exposes the
// analyzeImage tool, which re-enters the gateway on the image route.
type ImageAgent struct {
	cache  *ImageCache
	logger *slog.Logger
}

// NewImageAgent builds the image agent over a shared cache.
func NewImageAgent(imageCache *ImageCache, logger *slog.Logger) *ImageAgent {
	if logger == nil {
		logger = slog.Default()
	}
	return &ImageAgent{
		cache:  imageCache,
		logger: logger.With("component", "agent.image"),
	}
}

func (a *ImageAgent) Name() string { return "image" }

// ShouldHandle activates when the latest user turn carries image parts and
// an image route exists to send them to.
func (a *ImageAgent) ShouldHandle(rc *RequestContext, req *models.MessagesRequest) bool {
	if rc.Config == nil || rc.Config.Router.Image == "" {
		return false
	}
	last := req.LastUserMessage()
	if last == nil {
		return false
	}
	for _, p := range last.Content.AllParts() {
		if p.Type == models.PartImage {
			return true
		}
	}
	return false
}

// HandleRequest rewrites each image part of the latest user message into a
// cached id plus text placeholder and teaches the model about analyzeImage.
func (a *ImageAgent) HandleRequest(ctx context.Context, rc *RequestContext, req *models.MessagesRequest) error {
	last := req.LastUserMessage()
	if last == nil {
		return nil
	}

	parts := last.Content.AllParts()
	rewritten := make([]models.ContentPart, 0, len(parts))
	n := 0
	for _, p := range parts {
		if p.Type != models.PartImage || p.Source == nil {
			rewritten = append(rewritten, p)
			continue
		}
		n++
		id := fmt.Sprintf("%s_Image#%d", rc.RequestID, n)
		a.cache.Put(id, p.Source)
		rewritten = append(rewritten, models.TextPart(fmt.Sprintf(imagePlaceholder, n)))
	}
	if n == 0 {
		return nil
	}
	last.Content = models.MessageContent{Parts: rewritten}

	blocks := append(req.System.AsBlocks(), models.SystemBlock{Type: "text", Text: imageSystemBlock})
	req.System.SetBlocks(blocks)

	a.logger.Debug("images cached", "request_id", rc.RequestID, "count", n)
	return nil
}

func (a *ImageAgent) Tools() map[string]Tool {
	return map[string]Tool{
		"analyzeImage": {
			Definition: models.Tool{
				Name:        "analyzeImage",
				Description: "Analyze previously provided images by their image ids.",
				InputSchema: analyzeImageSchema,
			},
			Handler: a.analyzeImage,
		},
	}
}

type analyzeImageArgs struct {
	ImageIDs []string `json:"imageIds"`
	Prompt   string   `json:"prompt"`
}

// analyzeImage resolves cached images and re-enters the gateway with a
// vision request on the image route.
func (a *ImageAgent) analyzeImage(ctx context.Context, rc *RequestContext, args json.RawMessage) (string, error) {
	var in analyzeImageArgs
	if err := json5.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("parse analyzeImage arguments: %w", err)
	}
	if len(in.ImageIDs) == 0 {
		return "", fmt.Errorf("analyzeImage requires at least one image id")
	}
	if rc.Reenter == nil {
		return "", fmt.Errorf("image analysis unavailable: no gateway re-entry")
	}

	parts := make([]models.ContentPart, 0, len(in.ImageIDs)+1)
	var missing []string
	for _, id := range in.ImageIDs {
		src, ok := a.cache.Get(id)
		if !ok {
			missing = append(missing, id)
			continue
		}
		parts = append(parts, models.ContentPart{Type: models.PartImage, Source: src})
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("no cached images for ids %s", strings.Join(missing, ", "))
	}
	prompt := in.Prompt
	if prompt == "" {
		prompt = "Describe these images in detail."
	}
	parts = append(parts, models.TextPart(prompt))

	child := &models.MessagesRequest{
		Model: rc.Config.Router.Image,
		Messages: []models.Message{
			{Role: models.RoleUser, Content: models.MessageContent{Parts: parts}},
		},
		MaxTokens: 1024,
	}
	text, err := rc.Reenter(ctx, child, nil)
	if err != nil {
		return "", fmt.Errorf("image analysis failed: %w", err)
	}
	if len(missing) > 0 {
		text += "\n(unavailable image ids: " + strings.Join(missing, ", ") + ")"
	}
	return text, nil
}
