// Package agents implements the request-side agent pipeline. Agents are
// consulted in registration order at request receipt; an agent that
// activates may mutate the request and contributes its tools to the
// request's tool list. Agent tools are handled inside the gateway rather
// than forwarded upstream.
package agents

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"github.com/haasonsaas/relay/internal/config"
	"github.com/haasonsaas/relay/pkg/models"
)

// ToolHandler executes one agent-owned tool call. The returned string
// becomes the tool_result content.
type ToolHandler func(ctx context.Context, rc *RequestContext, args json.RawMessage) (string, error)

// Tool pairs a wire definition with its in-process handler.
type Tool struct {
	Definition models.Tool
	Handler    ToolHandler
}

// Agent is one pipeline participant.
type Agent interface {
	Name() string
	// ShouldHandle decides activation for this request. Configuration and
	// request-scoped state (depth, ids) come through the context.
	ShouldHandle(rc *RequestContext, req *models.MessagesRequest) bool
	// HandleRequest may mutate the request before routing.
	HandleRequest(ctx context.Context, rc *RequestContext, req *models.MessagesRequest) error
	// Tools returns the agent's tool map, keyed by tool name.
	Tools() map[string]Tool
}

// Reenter re-invokes the gateway pipeline with a derived request and
// returns the model's concatenated text output. Extra headers ride along
// (sub-agent depth and id). The gateway injects this at startup.
type Reenter func(ctx context.Context, req *models.MessagesRequest, headers map[string]string) (string, error)

// RequestContext is the per-request state agents and tool handlers see.
type RequestContext struct {
	RequestID   string
	SessionID   string
	ProjectPath string
	// Depth is the sub-agent recursion depth, 0 for direct client requests.
	Depth int
	// Model is the model tag the client sent, before routing.
	Model  string
	Config *config.Config
	// ClientTools is the tool set the client declared on the request,
	// before any agent tools were unioned in. Sub-agents derive their
	// child tool sets from it.
	ClientTools []models.Tool
	Reenter     Reenter

	// tools is the union of active agents' tool maps.
	tools map[string]Tool
	// active records the agents that activated, in pipeline order.
	active []string
}

// Tool looks up an active agent tool by name.
func (rc *RequestContext) Tool(name string) (Tool, bool) {
	t, ok := rc.tools[name]
	return t, ok
}

// HasTools reports whether any agent tools are live on this request.
func (rc *RequestContext) HasTools() bool {
	return len(rc.tools) > 0
}

// ActiveAgents lists the agents that activated for this request.
func (rc *RequestContext) ActiveAgents() []string {
	return rc.active
}

// Registry holds agents in registration order.
type Registry struct {
	mu     sync.RWMutex
	agents []Agent
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger.With("component", "agents")}
}

// Register appends an agent to the pipeline.
func (r *Registry) Register(a Agent) {
	r.mu.Lock()
	r.agents = append(r.agents, a)
	r.mu.Unlock()
	r.logger.Debug("agent registered", "name", a.Name())
}

// List returns the pipeline in order.
func (r *Registry) List() []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Agent, len(r.agents))
	copy(out, r.agents)
	return out
}

// Prepare runs the pipeline over a request: consults each agent, applies
// the handlers of those that activate, and prepends the union of their
// tools to the request's tool list. On a name collision the agent tool
// wins and the caller's tool is dropped. An agent handler error aborts the
// request.
func (r *Registry) Prepare(ctx context.Context, rc *RequestContext, req *models.MessagesRequest) error {
	rc.tools = make(map[string]Tool)
	var agentTools []models.Tool

	for _, a := range r.List() {
		if !a.ShouldHandle(rc, req) {
			continue
		}
		if err := a.HandleRequest(ctx, rc, req); err != nil {
			return err
		}
		rc.active = append(rc.active, a.Name())

		names := make([]string, 0, len(a.Tools()))
		for name := range a.Tools() {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if _, dup := rc.tools[name]; dup {
				continue
			}
			tool := a.Tools()[name]
			rc.tools[name] = tool
			agentTools = append(agentTools, tool.Definition)
		}
		r.logger.Debug("agent activated", "name", a.Name(), "request_id", rc.RequestID)
	}

	if len(agentTools) == 0 {
		return nil
	}

	// Prepend agent tools; a shadowed caller tool is dropped.
	kept := make([]models.Tool, 0, len(req.Tools))
	for _, t := range req.Tools {
		if _, shadowed := rc.tools[t.Name]; !shadowed {
			kept = append(kept, t)
		}
	}
	req.Tools = append(agentTools, kept...)
	return nil
}
