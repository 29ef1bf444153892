package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
	json5 "github.com/yosuke-furukawa/json5/encoding/json5"

	"github.com/haasonsaas/relay/internal/agents"
	"github.com/haasonsaas/relay/internal/config"
	"github.com/haasonsaas/relay/internal/errdefs"
	"github.com/haasonsaas/relay/internal/hooks"
	"github.com/haasonsaas/relay/internal/memory"
	"github.com/haasonsaas/relay/internal/prompt"
	"github.com/haasonsaas/relay/internal/router"
	"github.com/haasonsaas/relay/internal/skills"
	"github.com/haasonsaas/relay/internal/translate"
	"github.com/haasonsaas/relay/pkg/models"
)

// handleMessages is the completion endpoint. The request runs through the
// agent pipeline, the context builder, the router, and the dialect
// translator before going upstream; the response comes back through the
// reverse translation and the tool-call loop.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	var req models.MessagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errdefs.Wrap(errdefs.ValidationError, "malformed request body", err))
		return
	}
	if len(req.Messages) == 0 {
		s.writeError(w, errdefs.New(errdefs.ValidationError, "messages must not be empty"))
		return
	}
	if err := req.ValidateToolRefs(); err != nil {
		s.writeError(w, errdefs.Wrap(errdefs.ToolValidationFailed, "tool reference validation", err))
		return
	}

	rc := s.newRequestContext(r, &req)
	logger := s.logger.With("request_id", rc.RequestID)
	start := time.Now()

	// Skills intercept the request before any routing happens. Only direct
	// client requests are eligible; sub-agent traffic is never a command.
	if s.skills != nil && rc.Depth == 0 {
		if handled := s.tryExecuteSkill(w, r, rc, &req); handled {
			return
		}
	}

	if req.Stream {
		s.streamMessages(w, r, rc, &req, start)
		return
	}

	resp, decision, err := s.complete(r.Context(), rc, &req)
	if err != nil {
		s.observeRequest(decision.Route, err, false, start)
		s.writeError(w, err)
		return
	}
	pre := s.fireHook(r.Context(), &hooks.Event{
		Type:      hooks.EventPreResponse,
		SessionID: rc.SessionID,
		RequestID: rc.RequestID,
		Route:     decision.Route,
	})
	if !pre.Continue {
		err := errdefs.New(errdefs.ValidationError, "response vetoed").
			WithDetail("hook", pre.VetoedBy).
			WithDetail("reason", pre.Reason)
		s.observeRequest(decision.Route, err, false, start)
		s.writeError(w, err)
		return
	}
	s.observeRequest(decision.Route, nil, false, start)
	logger.Info("request completed",
		"route", decision.Route,
		"provider", decision.Provider,
		"model", decision.Model,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"duration_ms", time.Since(start).Milliseconds())
	writeJSON(w, http.StatusOK, resp)
}

// newRequestContext assembles the per-request state the agent pipeline
// sees. Sub-agent depth rides in on a header set by the spawning side.
func (s *Server) newRequestContext(r *http.Request, req *models.MessagesRequest) *agents.RequestContext {
	return &agents.RequestContext{
		RequestID:   uuid.NewString(),
		SessionID:   req.Metadata.SessionIDValue(),
		ProjectPath: r.Header.Get(HeaderProjectPath),
		Depth:       agents.ParseDepthHeader(r.Header.Get(agents.HeaderSubagentDepth)),
		Model:       req.Model,
		Config:      s.cfg,
		ClientTools: req.Tools,
		Reenter:     s.reenter,
	}
}

// tryExecuteSkill matches the last user message against the skill registry
// and, on a hit, answers the request from the skill without touching any
// upstream. Reports whether the request was handled.
func (s *Server) tryExecuteSkill(w http.ResponseWriter, r *http.Request, rc *agents.RequestContext, req *models.MessagesRequest) bool {
	last := req.LastUserMessage()
	if last == nil {
		return false
	}
	input := strings.TrimSpace(last.Content.PlainText())
	if input == "" {
		return false
	}
	result, err := s.skills.Execute(r.Context(), input, rc.SessionID, rc.ProjectPath)
	if err != nil {
		s.writeError(w, err)
		return true
	}
	if result == nil {
		return false
	}
	s.logger.Info("skill handled request", "skill", result.Skill, "duration_ms", result.Duration.Milliseconds())

	resp := skillResponse(req.Model, result)
	if !req.Stream {
		writeJSON(w, http.StatusOK, resp)
		return true
	}
	s.writeSyntheticStream(w, resp)
	return true
}

// skillResponse wraps a skill result as a completed assistant message.
func skillResponse(model string, result *skills.Result) *models.MessagesResponse {
	return &models.MessagesResponse{
		ID:         "msg_" + uuid.NewString(),
		Type:       "message",
		Role:       models.RoleAssistant,
		Model:      model,
		Content:    []models.ContentPart{{Type: models.PartText, Text: result.Output}},
		StopReason: models.StopEndTurn,
	}
}

// prepared carries the outcome of the request-side pipeline stages shared
// by the streaming and non-streaming paths.
type prepared struct {
	decision router.Decision
	provider *config.Provider
	upstream *openai.ChatCompletionRequest
}

// prepare runs agents, context building, routing hooks, routing, and the
// outbound translation. The request is mutated in place.
func (s *Server) prepare(ctx context.Context, rc *agents.RequestContext, req *models.MessagesRequest) (prepared, error) {
	if s.agents != nil {
		if err := s.agents.Prepare(ctx, rc, req); err != nil {
			return prepared{}, err
		}
	}

	if s.builder != nil {
		memoryEnabled := s.memory != nil && s.cfg.Memory.Enabled
		if rc.Depth > 0 && !s.cfg.SubAgent.InheritMemory {
			memoryEnabled = false
		}
		built := s.builder.Build(ctx, prompt.Input{
			System:             req.System,
			Messages:           req.Messages,
			ProjectPath:        rc.ProjectPath,
			MaxTokens:          s.cfg.Router.LongContextThreshold,
			ReserveForResponse: req.MaxTokens,
			MemoryEnabled:      memoryEnabled,
			RecallLimit:        s.cfg.Memory.AutoInjectGlobalLimit + s.cfg.Memory.AutoInjectProjectLimit,
		})
		req.System = built.System
	}

	pre := s.fireHook(ctx, &hooks.Event{
		Type:      hooks.EventPreRoute,
		SessionID: rc.SessionID,
		RequestID: rc.RequestID,
		Data:      map[string]any{"model": req.Model},
	})
	if !pre.Continue {
		return prepared{}, errdefs.New(errdefs.ValidationError, "request vetoed").
			WithDetail("hook", pre.VetoedBy).
			WithDetail("reason", pre.Reason)
	}

	decision, err := s.router.Resolve(ctx, req, rc.SessionID, rc.ProjectPath)
	if err != nil {
		return prepared{}, err
	}
	if s.metrics != nil {
		s.metrics.RoutingDecisions.WithLabelValues(decision.Route, decision.Provider).Inc()
	}
	s.fireHook(ctx, &hooks.Event{
		Type:      hooks.EventPostRoute,
		SessionID: rc.SessionID,
		RequestID: rc.RequestID,
		Route:     decision.Route,
		Data:      map[string]any{"provider": decision.Provider, "model": decision.Model},
	})

	provider, ok := s.cfg.FindProvider(decision.Provider)
	if !ok {
		return prepared{}, errdefs.Newf(errdefs.RouterFailedSelection, "provider %q is not configured", decision.Provider)
	}
	upstreamReq, err := translate.Request(req, decision.Model)
	if err != nil {
		return prepared{}, err
	}
	return prepared{decision: decision, provider: provider, upstream: upstreamReq}, nil
}

// complete runs the full non-streaming pipeline, including one round of
// agent tool dispatch when the model requests it.
func (s *Server) complete(ctx context.Context, rc *agents.RequestContext, req *models.MessagesRequest) (*models.MessagesResponse, router.Decision, error) {
	prep, err := s.prepare(ctx, rc, req)
	if err != nil {
		return nil, prep.decision, err
	}
	prep.upstream.Stream = false

	resp, err := s.fetchCompletion(ctx, rc, &prep)
	if err != nil {
		return nil, prep.decision, err
	}

	if rc.HasTools() {
		resp, err = s.resolveToolCalls(ctx, rc, req, &prep, resp)
		if err != nil {
			return nil, prep.decision, err
		}
	}

	s.finishResponse(ctx, rc, resp)
	return resp, prep.decision, nil
}

// fetchCompletion issues one upstream call and translates the reply.
func (s *Server) fetchCompletion(ctx context.Context, rc *agents.RequestContext, prep *prepared) (*models.MessagesResponse, error) {
	httpResp, err := s.upstream.ChatCompletion(ctx, prep.provider, prep.upstream)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	var upstreamResp openai.ChatCompletionResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&upstreamResp); err != nil {
		return nil, errdefs.Wrap(errdefs.InternalError, "decode upstream response", err).
			WithComponent("gateway").WithOperation("fetch_completion")
	}
	return translate.Response(&upstreamResp, prep.decision.Model, s.logger), nil
}

// resolveToolCalls dispatches agent-owned tool calls in a completed
// response and, when any were handled, re-issues the upstream request once
// with the tool results appended. Tool calls in the follow-up response are
// returned to the client untouched.
func (s *Server) resolveToolCalls(ctx context.Context, rc *agents.RequestContext, req *models.MessagesRequest, prep *prepared, resp *models.MessagesResponse) (*models.MessagesResponse, error) {
	var results []models.ContentPart
	for _, part := range resp.Content {
		if part.Type != models.PartToolUse {
			continue
		}
		tool, ok := rc.Tool(part.Name)
		if !ok {
			continue
		}
		output, isError := s.dispatchTool(ctx, rc, part.Name, tool, part.Input)
		results = append(results, toolResultPart(part.ID, output, isError))
	}
	if len(results) == 0 {
		return resp, nil
	}

	req.Messages = append(req.Messages,
		models.Message{Role: models.RoleAssistant, Content: models.MessageContent{Parts: resp.Content}},
		models.Message{Role: models.RoleUser, Content: models.MessageContent{Parts: results}},
	)
	followUp, err := translate.Request(req, prep.decision.Model)
	if err != nil {
		return nil, err
	}
	followUp.Stream = false
	prep.upstream = followUp
	return s.fetchCompletion(ctx, rc, prep)
}

// dispatchTool runs one agent tool handler under the hook envelope. A
// handler failure becomes an error tool_result rather than failing the
// request.
func (s *Server) dispatchTool(ctx context.Context, rc *agents.RequestContext, name string, tool agents.Tool, args json.RawMessage) (string, bool) {
	pre := s.fireHook(ctx, &hooks.Event{
		Type:      hooks.EventPreToolUse,
		SessionID: rc.SessionID,
		RequestID: rc.RequestID,
		ToolName:  name,
	})
	if !pre.Continue {
		s.observeToolDispatch(name, "vetoed")
		reason := pre.Reason
		if reason == "" {
			reason = "tool call vetoed"
		}
		return reason, true
	}

	output, err := tool.Handler(ctx, rc, args)
	status := "ok"
	isError := false
	if err != nil {
		status = "error"
		isError = true
		output = toolErrorText(err)
		s.logger.Warn("tool handler failed", "tool", name, "error", err)
	}
	s.observeToolDispatch(name, status)

	s.fireHook(ctx, &hooks.Event{
		Type:      hooks.EventPostToolUse,
		SessionID: rc.SessionID,
		RequestID: rc.RequestID,
		ToolName:  name,
		Data:      map[string]any{"status": status},
	})
	return output, isError
}

// toolErrorText renders a handler error for the model to read.
func toolErrorText(err error) string {
	if ge, ok := errdefs.As(err); ok {
		return ge.UserFormat()
	}
	return err.Error()
}

// toolResultPart builds a tool_result content part with a string payload.
func toolResultPart(toolUseID, output string, isError bool) models.ContentPart {
	quoted, err := json.Marshal(output)
	if err != nil {
		quoted = []byte(`""`)
	}
	return models.ContentPart{
		Type:      models.PartToolResult,
		ToolUseID: toolUseID,
		Content:   json.RawMessage(quoted),
		IsError:   isError,
	}
}

// finishResponse handles the response-side bookkeeping shared by both
// transports: memory tag extraction, usage recording, and the response
// hooks. Memory failures are logged and swallowed; the reply is already
// committed.
func (s *Server) finishResponse(ctx context.Context, rc *agents.RequestContext, resp *models.MessagesResponse) {
	for i := range resp.Content {
		if resp.Content[i].Type != models.PartText {
			continue
		}
		stripped, tags := memory.ExtractAndStrip(resp.Content[i].Text)
		resp.Content[i].Text = stripped
		s.saveTags(ctx, rc, tags)
	}

	if s.usage != nil {
		s.usage.Record(rc.SessionID, resp.Usage.InputTokens, resp.Usage.OutputTokens)
	}
	if s.metrics != nil {
		s.metrics.TokensCounted.WithLabelValues("output").Add(float64(resp.Usage.OutputTokens))
	}
	s.fireHook(ctx, &hooks.Event{
		Type:      hooks.EventPostResponse,
		SessionID: rc.SessionID,
		RequestID: rc.RequestID,
		Data:      map[string]any{"stop_reason": resp.StopReason},
	})
}

// saveTags persists <remember> tags found in model output.
func (s *Server) saveTags(ctx context.Context, rc *agents.RequestContext, tags []memory.Tag) {
	if s.memory == nil || !s.cfg.Memory.Enabled {
		return
	}
	for _, tag := range tags {
		if _, err := s.memory.RememberTag(ctx, tag, rc.ProjectPath); err != nil {
			s.logger.Warn("remember tag failed", "error", err)
			s.observeMemoryOp("remember_tag", "error")
			continue
		}
		s.observeMemoryOp("remember_tag", "ok")
	}
}

// reenter is the Reenter implementation injected into agent request
// contexts. It runs the full pipeline again for a derived request and
// returns the concatenated text output.
func (s *Server) reenter(ctx context.Context, req *models.MessagesRequest, headers map[string]string) (string, error) {
	rc := &agents.RequestContext{
		RequestID:   uuid.NewString(),
		SessionID:   req.Metadata.SessionIDValue(),
		Depth:       agents.ParseDepthHeader(headers[agents.HeaderSubagentDepth]),
		Model:       req.Model,
		Config:      s.cfg,
		ClientTools: req.Tools,
		Reenter:     s.reenter,
	}
	req.Stream = false

	resp, _, err := s.complete(ctx, rc, req)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, part := range resp.Content {
		if part.Type == models.PartText {
			sb.WriteString(part.Text)
		}
	}
	return sb.String(), nil
}

// parseToolInput normalizes a collected tool-argument buffer into strict
// JSON. Models routinely emit trailing commas and other looseness, so the
// buffer goes through the lenient reader first.
func parseToolInput(buf string) json.RawMessage {
	trimmed := strings.TrimSpace(buf)
	if trimmed == "" {
		return json.RawMessage(`{}`)
	}
	var parsed any
	if err := json5.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return json.RawMessage(`{}`)
	}
	normalized, err := json.Marshal(parsed)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return normalized
}

// observeRequest feeds the request metrics.
func (s *Server) observeRequest(route string, err error, streaming bool, start time.Time) {
	if route == "" {
		route = "unresolved"
	}
	if s.metrics != nil {
		s.metrics.ObserveRequest(route, streaming, time.Since(start).Seconds(), err)
	}
}

func (s *Server) observeToolDispatch(tool, status string) {
	if s.metrics != nil {
		s.metrics.ToolDispatches.WithLabelValues(tool, status).Inc()
	}
}

func (s *Server) observeMemoryOp(op, status string) {
	if s.metrics != nil {
		s.metrics.MemoryOps.WithLabelValues(op, status).Inc()
	}
}
