package agents

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/haasonsaas/relay/internal/config"
	"github.com/haasonsaas/relay/internal/errdefs"
	"github.com/haasonsaas/relay/pkg/models"
)

func TestSubAgentActivationDepthGate(t *testing.T) {
	a := NewSubAgent(nil)
	cfg := config.Default() // maxDepth 3, enabled
	req := baseRequest()

	if !a.ShouldHandle(&RequestContext{Depth: 0, Config: cfg}, req) {
		t.Error("did not activate at depth 0")
	}
	if !a.ShouldHandle(&RequestContext{Depth: 2, Config: cfg}, req) {
		t.Error("did not activate below limit")
	}
	if a.ShouldHandle(&RequestContext{Depth: 3, Config: cfg}, req) {
		t.Error("activated at the depth limit")
	}

	cfg.SubAgent.Enabled = false
	if a.ShouldHandle(&RequestContext{Depth: 0, Config: cfg}, req) {
		t.Error("activated while disabled")
	}
}

func TestSpawnSubagent(t *testing.T) {
	a := NewSubAgent(nil)
	var child *models.MessagesRequest
	var headers map[string]string
	rc := &RequestContext{
		Depth:  1,
		Model:  "claude-sonnet-4",
		Config: config.Default(),
		Reenter: func(ctx context.Context, req *models.MessagesRequest, h map[string]string) (string, error) {
			child = req
			headers = h
			return "findings here", nil
		},
	}

	args := json.RawMessage(`{"task":"summarize the repo","agent_type":"research","context":"Go gateway"}`)
	out, err := a.spawn(context.Background(), rc, args)
	if err != nil {
		t.Fatal(err)
	}
	if out != `<subagent_result type="research">findings here</subagent_result>` {
		t.Errorf("output %q", out)
	}
	if headers[HeaderSubagentDepth] != "2" {
		t.Errorf("depth header %q", headers[HeaderSubagentDepth])
	}
	if headers[HeaderSubagentID] == "" {
		t.Error("missing subagent id header")
	}
	if !strings.Contains(child.System.Joined(), "research sub-agent") {
		t.Errorf("child system %q", child.System.Joined())
	}
	if !strings.Contains(child.Messages[0].Content.PlainText(), "Go gateway") {
		t.Errorf("context not forwarded: %q", child.Messages[0].Content.PlainText())
	}
	if child.Model != "claude-sonnet-4" {
		t.Errorf("child model %q", child.Model)
	}
}

func TestSpawnFiltersChildTools(t *testing.T) {
	a := NewSubAgent(nil)
	clientTools := []models.Tool{
		{Name: "Read"}, {Name: "Write"}, {Name: "Bash"}, {Name: "Grep"},
	}

	spawnFor := func(agentType string) *models.MessagesRequest {
		var child *models.MessagesRequest
		rc := &RequestContext{
			Config:      config.Default(),
			ClientTools: clientTools,
			Reenter: func(ctx context.Context, req *models.MessagesRequest, h map[string]string) (string, error) {
				child = req
				return "done", nil
			},
		}
		args := json.RawMessage(`{"task":"inspect","agent_type":"` + agentType + `"}`)
		if _, err := a.spawn(context.Background(), rc, args); err != nil {
			t.Fatalf("spawn %s: %v", agentType, err)
		}
		return child
	}

	research := spawnFor("research")
	if len(research.Tools) != 2 || research.Tools[0].Name != "Read" || research.Tools[1].Name != "Grep" {
		t.Errorf("research child tools %+v", research.Tools)
	}
	code := spawnFor("code")
	if len(code.Tools) != 4 {
		t.Errorf("code child tools %+v", code.Tools)
	}
}

func TestSpawnSubagentDepthExceeded(t *testing.T) {
	a := NewSubAgent(nil)
	rc := &RequestContext{
		Depth:  3,
		Config: config.Default(),
		Reenter: func(ctx context.Context, req *models.MessagesRequest, h map[string]string) (string, error) {
			t.Fatal("re-entered past the depth limit")
			return "", nil
		},
	}

	_, err := a.spawn(context.Background(), rc, json.RawMessage(`{"task":"x","agent_type":"research"}`))
	if errdefs.CodeOf(err) != errdefs.SubAgentDepthExceeded {
		t.Errorf("error %v", err)
	}
}

func TestSpawnSubagentDisallowedType(t *testing.T) {
	a := NewSubAgent(nil)
	rc := &RequestContext{Config: config.Default()}

	if _, err := a.spawn(context.Background(), rc, json.RawMessage(`{"task":"x","agent_type":"deploy"}`)); err == nil {
		t.Error("disallowed type accepted")
	}
	if _, err := a.spawn(context.Background(), rc, json.RawMessage(`{"agent_type":"research"}`)); err == nil {
		t.Error("missing task accepted")
	}
}

func TestFilterToolsForType(t *testing.T) {
	tools := []models.Tool{
		{Name: "Read"}, {Name: "Write"}, {Name: "Edit"}, {Name: "Bash"}, {Name: "Grep"},
	}

	readonly := FilterToolsForType("research", tools)
	if len(readonly) != 2 || readonly[0].Name != "Read" || readonly[1].Name != "Grep" {
		t.Errorf("research tools %+v", readonly)
	}
	if got := FilterToolsForType("review", tools); len(got) != 2 {
		t.Errorf("review tools %+v", got)
	}
	if got := FilterToolsForType("code", tools); len(got) != 5 {
		t.Errorf("code tools %+v", got)
	}
}

func TestParseDepthHeader(t *testing.T) {
	cases := map[string]int{
		"":    0,
		"0":   0,
		"2":   2,
		"-1":  0,
		"abc": 0,
	}
	for in, want := range cases {
		if got := ParseDepthHeader(in); got != want {
			t.Errorf("ParseDepthHeader(%q) = %d, want %d", in, got, want)
		}
	}
}
