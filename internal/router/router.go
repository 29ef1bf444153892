// Package router resolves the target provider and model for each request.
// Resolution walks a fixed precedence: client pin, sub-agent tag, long
// context, background, web search, think, default. Per-project and
// per-session override files replace the routing table for one request.
package router

import (
	"context"
	"log/slog"
	"strings"

	"github.com/haasonsaas/relay/internal/config"
	"github.com/haasonsaas/relay/internal/errdefs"
	"github.com/haasonsaas/relay/internal/tokens"
	"github.com/haasonsaas/relay/internal/usage"
	"github.com/haasonsaas/relay/pkg/models"
)

const (
	// subagentTagOpen marks an explicit model pin injected by a parent
	// agent into the system prompt.
	subagentTagOpen  = "<CCR-SUBAGENT-MODEL>"
	subagentTagClose = "</CCR-SUBAGENT-MODEL>"

	// promotedSessionMinTokens is the current-request floor for promoting a
	// session whose previous request already exceeded the threshold.
	promotedSessionMinTokens = 20000
)

// Route names reported in decisions and metrics.
const (
	RouteClientPin   = "clientPin"
	RouteSubAgent    = "subagent"
	RouteLongContext = "longContext"
	RouteBackground  = "background"
	RouteWebSearch   = "webSearch"
	RouteThink       = "think"
	RouteDefault     = "default"
)

// Decision is a resolved routing outcome.
type Decision struct {
	Provider string
	Model    string
	// Route names the rule that matched.
	Route string
	// InputTokens is the estimate used for the long-context rules.
	InputTokens int
}

// ProviderModel renders the decision as a "provider,model" pair.
func (d Decision) ProviderModel() string {
	return d.Provider + "," + d.Model
}

// Router picks models. Construct with New.
type Router struct {
	cfg     *config.Config
	counter *tokens.Counter
	usage   *usage.Tracker
	// overridesDir holds per-project and per-session routing table files;
	// empty disables override probing.
	overridesDir string
	logger       *slog.Logger
}

// New creates a router. counter and tracker may be nil; the corresponding
// rules then degrade (estimates fall back, no session promotion).
func New(cfg *config.Config, counter *tokens.Counter, tracker *usage.Tracker, overridesDir string, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		cfg:          cfg,
		counter:      counter,
		usage:        tracker,
		overridesDir: overridesDir,
		logger:       logger.With("component", "router"),
	}
}

// Resolve picks the provider and model for a request. The request may be
// mutated: a sub-agent model tag is stripped from the system blocks.
func (r *Router) Resolve(ctx context.Context, req *models.MessagesRequest, sessionID, projectPath string) (Decision, error) {
	table := r.routingTable(sessionID, projectPath)

	// 1. Client-pinned provider,model.
	if provider, model, ok := config.ParseRoute(req.Model); ok {
		if r.cfg.HasModel(provider, model) {
			return Decision{Provider: provider, Model: model, Route: RouteClientPin}, nil
		}
	}

	// 2. Explicit sub-agent model tag in the system blocks.
	if pinned, found := extractSubagentModel(req); found {
		if provider, model, ok := config.ParseRoute(pinned); ok {
			return Decision{Provider: provider, Model: model, Route: RouteSubAgent}, nil
		}
		r.logger.Warn("unparseable subagent model tag", "model", pinned)
	}

	count := r.countTokens(req)

	// 3. Long context: either the previous request in this session was
	// already over the threshold and this one is substantial, or this
	// request alone exceeds the threshold. Equality does not promote.
	if table.LongContext != "" {
		threshold := table.LongContextThreshold
		if threshold <= 0 {
			threshold = 60000
		}
		promoted := false
		if r.usage != nil && sessionID != "" {
			if prev, ok := r.usage.Lookup(sessionID); ok {
				promoted = prev.InputTokens > threshold && count > promotedSessionMinTokens
			}
		}
		if promoted || count > threshold {
			return r.decide(table.LongContext, RouteLongContext, count)
		}
	}

	// 4. Background models by name convention.
	lowerModel := strings.ToLower(req.Model)
	if table.Background != "" && strings.Contains(lowerModel, "claude") && strings.Contains(lowerModel, "haiku") {
		return r.decide(table.Background, RouteBackground, count)
	}

	// 5. Web search tools.
	if table.WebSearch != "" && hasWebSearchTool(req.Tools) {
		return r.decide(table.WebSearch, RouteWebSearch, count)
	}

	// 6. Extended thinking.
	if table.Think != "" && thinkingEnabled(req.Thinking) {
		return r.decide(table.Think, RouteThink, count)
	}

	// 7. Default.
	if table.Default == "" {
		return Decision{}, errdefs.New(errdefs.RouterFailedSelection, "no default route configured").
			WithComponent("router").
			WithSuggestion("set Router.default to a provider,model pair")
	}
	return r.decide(table.Default, RouteDefault, count)
}

func (r *Router) decide(route, name string, count int) (Decision, error) {
	provider, model, ok := config.ParseRoute(route)
	if !ok {
		return Decision{}, errdefs.Newf(errdefs.RouterFailedSelection, "route %s is not a provider,model pair: %q", name, route).
			WithComponent("router")
	}
	return Decision{Provider: provider, Model: model, Route: name, InputTokens: count}, nil
}

func (r *Router) countTokens(req *models.MessagesRequest) int {
	if r.counter == nil {
		total := 0
		for i := range req.Messages {
			total += tokens.Estimate(req.Messages[i].Content.PlainText())
		}
		return total
	}
	return r.counter.CountRequest(req)
}

// extractSubagentModel finds and strips a <CCR-SUBAGENT-MODEL> tag from the
// request's system blocks. Only a tag at the start of a block counts.
func extractSubagentModel(req *models.MessagesRequest) (string, bool) {
	blocks := req.System.AsBlocks()
	for i := range blocks {
		text := blocks[i].Text
		if !strings.HasPrefix(text, subagentTagOpen) {
			continue
		}
		end := strings.Index(text, subagentTagClose)
		if end < 0 {
			continue
		}
		model := strings.TrimSpace(text[len(subagentTagOpen):end])
		blocks[i].Text = strings.TrimSpace(text[end+len(subagentTagClose):])
		req.System.SetBlocks(blocks)
		return model, true
	}
	return "", false
}

func hasWebSearchTool(tools []models.Tool) bool {
	for _, t := range tools {
		if strings.HasPrefix(t.Type, "web_search") {
			return true
		}
	}
	return false
}

// thinkingEnabled reports whether the request carries a truthy thinking
// field. Absent, null, and false are all falsy; objects and other values
// enable the think route.
func thinkingEnabled(raw []byte) bool {
	trimmed := strings.TrimSpace(string(raw))
	switch trimmed {
	case "", "null", "false":
		return false
	default:
		return true
	}
}
