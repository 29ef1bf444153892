package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"
	json5 "github.com/yosuke-furukawa/json5/encoding/json5"

	"github.com/haasonsaas/relay/internal/errdefs"
	"github.com/haasonsaas/relay/pkg/models"
)

// Sub-agent depth and identity ride on these headers between gateway hops.
const (
	HeaderSubagentDepth = "x-ccr-subagent-depth"
	HeaderSubagentID    = "x-ccr-subagent-id"
)

const subagentSystemBlock = "You can delegate focused work to an isolated sub-agent " +
	"with the spawn_subagent tool. Pick the agent type that fits the task: " +
	"research (read-only investigation), review (read-only critique), or code " +
	"(may edit files). The sub-agent sees only the task you give it."

var spawnSubagentSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"task": {
			"type": "string",
			"description": "The task for the sub-agent to perform"
		},
		"agent_type": {
			"type": "string",
			"description": "One of the configured agent types, e.g. research, code, review"
		},
		"context": {
			"type": "string",
			"description": "Optional extra context for the sub-agent"
		}
	},
	"required": ["task", "agent_type"]
}`)

// subagentPrompts specializes the child system prompt per agent type.
var subagentPrompts = map[string]string{
	"research": "You are a research sub-agent. Investigate the task thoroughly and report findings. Do not modify anything.",
	"review":   "You are a review sub-agent. Critique the given work: correctness, clarity, risks. Do not modify anything.",
	"code":     "You are a coding sub-agent. Complete the programming task and show the resulting code.",
}

// writeTools are excluded from read-only sub-agent types.
var writeTools = map[string]bool{
	"Write": true,
	"Edit":  true,
	"Bash":  true,
}

// SubAgent spawns bounded-depth child conversations through the gateway.
type SubAgent struct {
	logger *slog.Logger
}

// NewSubAgent builds the sub-agent.
func NewSubAgent(logger *slog.Logger) *SubAgent {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubAgent{logger: logger.With("component", "agent.subagent")}
}

func (a *SubAgent) Name() string { return "subagent" }

// ShouldHandle activates below the configured depth limit, so a request
// already at the limit is never offered the spawn tool.
func (a *SubAgent) ShouldHandle(rc *RequestContext, req *models.MessagesRequest) bool {
	cfg := rc.Config
	return cfg != nil && cfg.SubAgent.Enabled && rc.Depth < cfg.SubAgent.MaxDepth
}

// HandleRequest teaches the model about spawn_subagent.
func (a *SubAgent) HandleRequest(ctx context.Context, rc *RequestContext, req *models.MessagesRequest) error {
	blocks := append(req.System.AsBlocks(), models.SystemBlock{Type: "text", Text: subagentSystemBlock})
	req.System.SetBlocks(blocks)
	return nil
}

func (a *SubAgent) Tools() map[string]Tool {
	return map[string]Tool{
		"spawn_subagent": {
			Definition: models.Tool{
				Name:        "spawn_subagent",
				Description: "Delegate a task to an isolated sub-agent and return its result.",
				InputSchema: spawnSubagentSchema,
			},
			Handler: a.spawn,
		},
	}
}

type spawnArgs struct {
	Task      string `json:"task"`
	AgentType string `json:"agent_type"`
	Context   string `json:"context"`
}

func (a *SubAgent) spawn(ctx context.Context, rc *RequestContext, args json.RawMessage) (string, error) {
	var in spawnArgs
	if err := json5.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("parse spawn_subagent arguments: %w", err)
	}
	if in.Task == "" {
		return "", fmt.Errorf("spawn_subagent requires a task")
	}
	if !allowedType(rc.Config.SubAgent.AllowedTypes, in.AgentType) {
		return "", fmt.Errorf("agent type %q not allowed; configured types: %s",
			in.AgentType, strings.Join(rc.Config.SubAgent.AllowedTypes, ", "))
	}
	if rc.Depth+1 > rc.Config.SubAgent.MaxDepth {
		return "", errdefs.Newf(errdefs.SubAgentDepthExceeded,
			"sub-agent depth %d exceeds limit %d", rc.Depth+1, rc.Config.SubAgent.MaxDepth).
			WithComponent("agent.subagent")
	}
	if rc.Reenter == nil {
		return "", errdefs.New(errdefs.SubAgentExecutionFailed, "no gateway re-entry available").
			WithComponent("agent.subagent")
	}

	prompt, ok := subagentPrompts[in.AgentType]
	if !ok {
		prompt = "You are a " + in.AgentType + " sub-agent. Complete the task."
	}

	content := in.Task
	if in.Context != "" {
		content += "\n\nContext:\n" + in.Context
	}

	model := rc.Model
	if model == "" {
		model = "claude-sonnet-4"
	}
	child := &models.MessagesRequest{
		Model: model, // child goes through routing like any request
		Messages: []models.Message{
			{Role: models.RoleUser, Content: models.MessageContent{Text: content}},
		},
		MaxTokens: 4096,
		Tools:     FilterToolsForType(in.AgentType, rc.ClientTools),
	}
	child.System.SetText(prompt)

	id := uuid.NewString()
	headers := map[string]string{
		HeaderSubagentDepth: strconv.Itoa(rc.Depth + 1),
		HeaderSubagentID:    id,
	}

	a.logger.Info("spawning sub-agent",
		"type", in.AgentType, "depth", rc.Depth+1, "subagent_id", id)
	text, err := rc.Reenter(ctx, child, headers)
	if err != nil {
		return "", errdefs.Wrap(errdefs.SubAgentExecutionFailed, "sub-agent failed", err).
			WithComponent("agent.subagent").
			WithDetail("subagent_id", id)
	}
	return fmt.Sprintf("<subagent_result type=%q>%s</subagent_result>", in.AgentType, text), nil
}

// FilterToolsForType drops write-capable tools for read-only agent types.
func FilterToolsForType(agentType string, tools []models.Tool) []models.Tool {
	if agentType == "code" {
		return tools
	}
	kept := make([]models.Tool, 0, len(tools))
	for _, t := range tools {
		if writeTools[t.Name] {
			continue
		}
		kept = append(kept, t)
	}
	return kept
}

// ParseDepthHeader reads the sub-agent depth header, defaulting to 0.
func ParseDepthHeader(value string) int {
	if value == "" {
		return 0
	}
	depth, err := strconv.Atoi(value)
	if err != nil || depth < 0 {
		return 0
	}
	return depth
}

func allowedType(allowed []string, agentType string) bool {
	for _, t := range allowed {
		if t == agentType {
			return true
		}
	}
	return false
}
