package router

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haasonsaas/relay/internal/config"
	"github.com/haasonsaas/relay/internal/errdefs"
	"github.com/haasonsaas/relay/internal/usage"
	"github.com/haasonsaas/relay/pkg/models"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Providers = []config.Provider{
		{Name: "openai", APIBaseURL: "https://api.openai.com/v1", Models: []string{"gpt-x", "gpt-long", "gpt-mini", "gpt-think", "gpt-search"}},
	}
	cfg.Router = config.RouterConfig{
		Default:              "openai,gpt-x",
		Background:           "openai,gpt-mini",
		Think:                "openai,gpt-think",
		LongContext:          "openai,gpt-long",
		LongContextThreshold: 60000,
		WebSearch:            "openai,gpt-search",
	}
	return cfg
}

func testRequest(model, text string) *models.MessagesRequest {
	return &models.MessagesRequest{
		Model: model,
		Messages: []models.Message{
			{Role: models.RoleUser, Content: models.MessageContent{Text: text}},
		},
	}
}

func newTestRouter(cfg *config.Config, tracker *usage.Tracker, overridesDir string) *Router {
	// nil counter: estimates run on the char/4 fallback, keeping tests
	// independent of the BPE dictionary download.
	return New(cfg, nil, tracker, overridesDir, nil)
}

func resolve(t *testing.T, r *Router, req *models.MessagesRequest) Decision {
	t.Helper()
	d, err := r.Resolve(context.Background(), req, "", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	return d
}

func TestResolveDefault(t *testing.T) {
	r := newTestRouter(testConfig(), nil, "")
	d := resolve(t, r, testRequest("claude-sonnet-4", "hello"))
	if d.Route != RouteDefault || d.Model != "gpt-x" {
		t.Errorf("decision %+v", d)
	}
}

func TestResolveEmptyMessages(t *testing.T) {
	r := newTestRouter(testConfig(), nil, "")
	d, err := r.Resolve(context.Background(), &models.MessagesRequest{Model: "claude-sonnet-4"}, "", "")
	if err != nil {
		t.Fatalf("empty messages: %v", err)
	}
	if d.Route != RouteDefault {
		t.Errorf("decision %+v", d)
	}
}

func TestResolveClientPin(t *testing.T) {
	r := newTestRouter(testConfig(), nil, "")
	d := resolve(t, r, testRequest("openai,gpt-x", "hello"))
	if d.Route != RouteClientPin || d.Provider != "openai" || d.Model != "gpt-x" {
		t.Errorf("decision %+v", d)
	}

	// An unconfigured pin falls through to the default route.
	d = resolve(t, r, testRequest("openai,unknown-model", "hello"))
	if d.Route != RouteDefault {
		t.Errorf("unknown pin routed %+v", d)
	}
}

func TestResolveSubagentTag(t *testing.T) {
	r := newTestRouter(testConfig(), nil, "")
	req := testRequest("claude-sonnet-4", "hello")
	req.System.SetBlocks([]models.SystemBlock{
		{Type: "text", Text: "<CCR-SUBAGENT-MODEL>openai,gpt-mini</CCR-SUBAGENT-MODEL>You are a researcher."},
	})

	d := resolve(t, r, req)
	if d.Route != RouteSubAgent || d.Model != "gpt-mini" {
		t.Errorf("decision %+v", d)
	}
	if strings.Contains(req.System.Joined(), "CCR-SUBAGENT-MODEL") {
		t.Errorf("tag not stripped: %q", req.System.Joined())
	}
	if !strings.Contains(req.System.Joined(), "You are a researcher.") {
		t.Errorf("system text lost: %q", req.System.Joined())
	}
}

func TestResolveLongContextThresholdBoundary(t *testing.T) {
	r := newTestRouter(testConfig(), nil, "")

	// Exactly the threshold must not promote (char/4 estimate).
	at := testRequest("claude-sonnet-4", strings.Repeat("a", 60000*4))
	d := resolve(t, r, at)
	if d.Route == RouteLongContext {
		t.Errorf("token count equal to threshold promoted: %+v", d)
	}

	over := testRequest("claude-sonnet-4", strings.Repeat("a", 60001*4))
	d = resolve(t, r, over)
	if d.Route != RouteLongContext || d.Model != "gpt-long" {
		t.Errorf("decision %+v", d)
	}
}

func TestResolveLongContextSessionPromotion(t *testing.T) {
	tracker := usage.NewTracker()
	tracker.Record("sess-1", 70000, 500)
	r := newTestRouter(testConfig(), tracker, "")

	// Current request well under the threshold but over the 20k floor.
	req := testRequest("claude-sonnet-4", strings.Repeat("a", 21000*4))
	d, err := r.Resolve(context.Background(), req, "sess-1", "")
	if err != nil {
		t.Fatal(err)
	}
	if d.Route != RouteLongContext {
		t.Errorf("promoted session not routed long: %+v", d)
	}

	// Same request without the session history stays on default.
	d, err = r.Resolve(context.Background(), req, "sess-2", "")
	if err != nil {
		t.Fatal(err)
	}
	if d.Route != RouteDefault {
		t.Errorf("unpromoted session routed %+v", d)
	}
}

func TestResolveBackground(t *testing.T) {
	r := newTestRouter(testConfig(), nil, "")
	d := resolve(t, r, testRequest("claude-3-5-haiku-20241022", "quick task"))
	if d.Route != RouteBackground || d.Model != "gpt-mini" {
		t.Errorf("decision %+v", d)
	}
}

func TestResolveWebSearch(t *testing.T) {
	r := newTestRouter(testConfig(), nil, "")
	req := testRequest("claude-sonnet-4", "look this up")
	req.Tools = []models.Tool{{
		Name:        "web_search",
		Description: "search the web",
		Type:        "web_search_20250305",
		InputSchema: json.RawMessage(`{"type":"object"}`),
	}}
	d := resolve(t, r, req)
	if d.Route != RouteWebSearch || d.Model != "gpt-search" {
		t.Errorf("decision %+v", d)
	}
}

func TestResolveThink(t *testing.T) {
	r := newTestRouter(testConfig(), nil, "")
	req := testRequest("claude-sonnet-4", "hard problem")
	req.Thinking = json.RawMessage(`{"type":"enabled","budget_tokens":8000}`)
	d := resolve(t, r, req)
	if d.Route != RouteThink || d.Model != "gpt-think" {
		t.Errorf("decision %+v", d)
	}

	req.Thinking = json.RawMessage(`false`)
	d = resolve(t, r, req)
	if d.Route != RouteDefault {
		t.Errorf("falsy thinking routed %+v", d)
	}
}

func TestResolvePrecedenceClientPinOverLongContext(t *testing.T) {
	r := newTestRouter(testConfig(), nil, "")
	req := testRequest("openai,gpt-x", strings.Repeat("a", 61000*4))
	d := resolve(t, r, req)
	if d.Route != RouteClientPin {
		t.Errorf("long context outranked client pin: %+v", d)
	}
}

func TestResolveNoDefaultFails(t *testing.T) {
	cfg := testConfig()
	cfg.Router.Default = ""
	r := newTestRouter(cfg, nil, "")
	_, err := r.Resolve(context.Background(), testRequest("claude-sonnet-4", "hello"), "", "")
	if err == nil {
		t.Fatal("no error without default route")
	}
	if errdefs.CodeOf(err) != errdefs.RouterFailedSelection {
		t.Errorf("error code %v", errdefs.CodeOf(err))
	}
}

func TestSessionOverrideFile(t *testing.T) {
	dir := t.TempDir()
	override := `{"default": "openai,gpt-mini"}`
	if err := os.WriteFile(filepath.Join(dir, "session-sess-9.json"), []byte(override), 0o600); err != nil {
		t.Fatal(err)
	}

	r := newTestRouter(testConfig(), nil, dir)
	d, err := r.Resolve(context.Background(), testRequest("claude-sonnet-4", "hello"), "sess-9", "")
	if err != nil {
		t.Fatal(err)
	}
	if d.Model != "gpt-mini" {
		t.Errorf("override not applied: %+v", d)
	}

	// Other sessions keep the configured table.
	d, err = r.Resolve(context.Background(), testRequest("claude-sonnet-4", "hello"), "sess-other", "")
	if err != nil {
		t.Fatal(err)
	}
	if d.Model != "gpt-x" {
		t.Errorf("override leaked: %+v", d)
	}
}
