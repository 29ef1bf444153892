package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"

	"github.com/haasonsaas/relay/internal/memory"
	"github.com/haasonsaas/relay/internal/store"
	"github.com/haasonsaas/relay/pkg/models"
)

var (
	rememberSchema = json.RawMessage(`{
		"type": "object",
		"properties": {
			"content": {"type": "string", "description": "The fact to remember"},
			"category": {"type": "string", "description": "preference, pattern, decision, architecture, knowledge, error, workflow, context, or code"},
			"scope": {"type": "string", "description": "global or project"},
			"importance": {"type": "number", "description": "0 to 1, defaults to 0.5"}
		},
		"required": ["content", "category"]
	}`)

	recallSchema = json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "What to search memories for"},
			"scope": {"type": "string", "description": "global, project, or both (default both)"},
			"limit": {"type": "integer", "description": "Max results, defaults to 5"}
		},
		"required": ["query"]
	}`)

	forgetSchema = json.RawMessage(`{
		"type": "object",
		"properties": {
			"id": {"type": "string", "description": "Id of the memory to delete"},
			"scope": {"type": "string", "description": "global or project"}
		},
		"required": ["id", "scope"]
	}`)
)

// MemoryAgent exposes the memory store to the model as tools.
type MemoryAgent struct {
	svc    *memory.Service
	logger *slog.Logger
}

// NewMemoryAgent builds the memory agent over a service.
func NewMemoryAgent(svc *memory.Service, logger *slog.Logger) *MemoryAgent {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryAgent{
		svc:    svc,
		logger: logger.With("component", "agent.memory"),
	}
}

func (a *MemoryAgent) Name() string { return "memory" }

// ShouldHandle activates whenever memory is enabled.
func (a *MemoryAgent) ShouldHandle(rc *RequestContext, req *models.MessagesRequest) bool {
	return rc.Config != nil && rc.Config.Memory.Enabled && a.svc != nil
}

// HandleRequest leaves the request untouched; the context builder handles
// memory injection separately.
func (a *MemoryAgent) HandleRequest(ctx context.Context, rc *RequestContext, req *models.MessagesRequest) error {
	return nil
}

func (a *MemoryAgent) Tools() map[string]Tool {
	return map[string]Tool{
		"ccr_remember": {
			Definition: models.Tool{
				Name:        "ccr_remember",
				Description: "Store a memory for future conversations.",
				InputSchema: rememberSchema,
			},
			Handler: a.remember,
		},
		"ccr_recall": {
			Definition: models.Tool{
				Name:        "ccr_recall",
				Description: "Search stored memories by semantic similarity.",
				InputSchema: recallSchema,
			},
			Handler: a.recall,
		},
		"ccr_forget": {
			Definition: models.Tool{
				Name:        "ccr_forget",
				Description: "Delete a stored memory by id.",
				InputSchema: forgetSchema,
			},
			Handler: a.forget,
		},
	}
}

type rememberArgs struct {
	Content    string  `json:"content"`
	Category   string  `json:"category"`
	Scope      string  `json:"scope"`
	Importance float64 `json:"importance"`
}

func (a *MemoryAgent) remember(ctx context.Context, rc *RequestContext, args json.RawMessage) (string, error) {
	var in rememberArgs
	if err := json5.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("parse ccr_remember arguments: %w", err)
	}
	scope := store.Scope(in.Scope)
	if scope == "" {
		scope = store.ScopeGlobal
	}
	if scope == store.ScopeProject && rc.ProjectPath == "" {
		scope = store.ScopeGlobal
	}
	importance := in.Importance
	if importance == 0 {
		importance = 0.5
	}

	rec, err := a.svc.Remember(ctx, memory.RememberInput{
		Scope:       scope,
		ProjectPath: projectPathFor(scope, rc.ProjectPath),
		Category:    in.Category,
		Content:     in.Content,
		Importance:  importance,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Remembered (%s, id %s).", rec.Scope, rec.ID), nil
}

type recallArgs struct {
	Query string `json:"query"`
	Scope string `json:"scope"`
	Limit int    `json:"limit"`
}

func (a *MemoryAgent) recall(ctx context.Context, rc *RequestContext, args json.RawMessage) (string, error) {
	var in recallArgs
	if err := json5.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("parse ccr_recall arguments: %w", err)
	}
	scope := memory.RecallScope(in.Scope)
	if scope == "" {
		scope = memory.RecallBoth
	}
	results, err := a.svc.Recall(ctx, memory.RecallQuery{
		Query:       in.Query,
		Scope:       scope,
		ProjectPath: rc.ProjectPath,
		Limit:       in.Limit,
	})
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "No matching memories.", nil
	}

	var b strings.Builder
	for i, res := range results {
		fmt.Fprintf(&b, "%d. [%s/%s] %s (id %s, score %.2f)\n",
			i+1, res.Record.Scope, res.Record.Category, res.Record.Content, res.Record.ID, res.Score)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

type forgetArgs struct {
	ID    string `json:"id"`
	Scope string `json:"scope"`
}

func (a *MemoryAgent) forget(ctx context.Context, rc *RequestContext, args json.RawMessage) (string, error) {
	var in forgetArgs
	if err := json5.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("parse ccr_forget arguments: %w", err)
	}
	if err := a.svc.Forget(ctx, in.ID, store.Scope(in.Scope), rc.ProjectPath); err != nil {
		return "", err
	}
	return fmt.Sprintf("Forgot memory %s.", in.ID), nil
}

func projectPathFor(scope store.Scope, projectPath string) string {
	if scope == store.ScopeProject {
		return projectPath
	}
	return ""
}
