package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/relay/internal/agents"
	"github.com/haasonsaas/relay/internal/errdefs"
	"github.com/haasonsaas/relay/internal/hooks"
	"github.com/haasonsaas/relay/internal/memory"
	"github.com/haasonsaas/relay/internal/sse"
	"github.com/haasonsaas/relay/internal/translate"
	"github.com/haasonsaas/relay/pkg/models"
)

// streamMessages runs the streaming pipeline: upstream SSE in, canonical
// events out, with the tool-call transform threaded between them.
func (s *Server) streamMessages(w http.ResponseWriter, r *http.Request, rc *agents.RequestContext, req *models.MessagesRequest, start time.Time) {
	ctx := r.Context()

	prep, err := s.prepare(ctx, rc, req)
	if err != nil {
		s.observeRequest(prep.decision.Route, err, true, start)
		s.writeError(w, err)
		return
	}
	prep.upstream.Stream = true

	httpResp, err := s.upstream.ChatCompletion(ctx, prep.provider, prep.upstream)
	if err != nil {
		s.observeRequest(prep.decision.Route, err, true, start)
		s.writeError(w, err)
		return
	}
	defer httpResp.Body.Close()

	pre := s.fireHook(ctx, &hooks.Event{
		Type:      hooks.EventPreResponse,
		SessionID: rc.SessionID,
		RequestID: rc.RequestID,
		Route:     prep.decision.Route,
	})
	if !pre.Continue {
		err := errdefs.New(errdefs.ValidationError, "response vetoed").
			WithDetail("hook", pre.VetoedBy).
			WithDetail("reason", pre.Reason)
		s.observeRequest(prep.decision.Route, err, true, start)
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	relay := &streamRelay{
		server:   s,
		rc:       rc,
		req:      req,
		prep:     &prep,
		writer:   sse.NewWriter(w),
		stripper: &memory.TagStripper{},
		captured: make(map[int]*capturedTool),
	}
	err = relay.run(ctx, httpResp.Body)
	relay.finalize(ctx)
	s.observeRequest(prep.decision.Route, err, true, start)
	if err != nil {
		s.logger.Warn("stream ended with error", "request_id", rc.RequestID, "error", err)
	}
}

// capturedTool buffers one withheld tool_use block while its argument
// fragments arrive.
type capturedTool struct {
	id   string
	name string
	args strings.Builder
}

// streamRelay applies the tool-call transform to one canonical event
// stream. Every event is passed through, captured, or triggers dispatch;
// captured blocks never leak partial fragments to the client.
type streamRelay struct {
	server   *Server
	rc       *agents.RequestContext
	req      *models.MessagesRequest
	prep     *prepared
	writer   *sse.Writer
	stripper *memory.TagStripper

	captured       map[int]*capturedTool
	pendingUse     []models.ContentPart
	pendingResults []models.ContentPart

	textBuf   strings.Builder
	textOpen  bool
	reentered bool
	childTags []memory.Tag

	inputTokens  int
	outputTokens int
}

// run decodes the upstream SSE stream and feeds the transform until the
// terminal marker or an error.
func (r *streamRelay) run(ctx context.Context, body io.Reader) error {
	translator := translate.NewStreamTranslator(r.server.logger)
	parser := sse.NewParser(body)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := parser.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			r.writeErrorEvent(errdefs.Wrap(errdefs.StreamPrematureClose, "upstream stream interrupted", err))
			return err
		}
		if raw.Done {
			break
		}
		if raw.IsEmpty() {
			continue
		}
		var chunk openai.ChatCompletionStreamResponse
		if err := json.Unmarshal(raw.Data, &chunk); err != nil {
			r.server.logger.Warn("undecodable upstream chunk, skipping", "error", err)
			continue
		}
		for _, ev := range translator.Translate(&chunk) {
			if err := r.handle(ctx, ev); err != nil {
				return err
			}
		}
	}

	for _, ev := range translator.Finish() {
		if err := r.handle(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// handle routes one canonical event through the transform.
func (r *streamRelay) handle(ctx context.Context, ev models.StreamEvent) error {
	switch ev.Type {
	case models.EventMessageStart:
		if ev.Message != nil {
			r.inputTokens = ev.Message.Usage.InputTokens
		}
		if r.reentered {
			return nil
		}
		return r.write(ev)

	case models.EventContentBlockStart:
		if ev.ContentBlock != nil && ev.ContentBlock.Type == models.PartToolUse && ev.Index != nil {
			if _, owned := r.rc.Tool(ev.ContentBlock.Name); owned {
				r.captured[*ev.Index] = &capturedTool{id: ev.ContentBlock.ID, name: ev.ContentBlock.Name}
				return nil
			}
		}
		if ev.ContentBlock != nil && ev.ContentBlock.Type == models.PartText {
			r.textOpen = true
		}
		return r.write(ev)

	case models.EventContentBlockDelta:
		if ev.Delta == nil {
			return r.write(ev)
		}
		// Text and captured tool blocks can share an index, so deltas are
		// routed by type: only argument fragments feed a capture buffer.
		switch ev.Delta.Type {
		case models.DeltaInputJSON:
			if ev.Index != nil {
				if ct, ok := r.captured[*ev.Index]; ok {
					ct.args.WriteString(ev.Delta.PartialJSON)
					return nil
				}
			}
		case models.DeltaText:
			visible := r.stripper.Feed(ev.Delta.Text)
			r.textBuf.WriteString(visible)
			if visible == "" {
				return nil
			}
			ev.Delta.Text = visible
		}
		return r.write(ev)

	case models.EventContentBlockStop:
		// The translator never has a text block and a tool block open at
		// the same index simultaneously, so an open text block claims the
		// stop before any capture at the same index does.
		if r.textOpen && ev.Index != nil && *ev.Index == 0 {
			r.textOpen = false
			if tail := r.stripper.Flush(); tail != "" {
				r.textBuf.WriteString(tail)
				if err := r.write(models.NewTextDelta(0, tail)); err != nil {
					return err
				}
			}
			return r.write(ev)
		}
		if ev.Index != nil {
			if ct, ok := r.captured[*ev.Index]; ok {
				delete(r.captured, *ev.Index)
				r.dispatch(ctx, ct)
				return nil
			}
		}
		return r.write(ev)

	case models.EventMessageDelta:
		if ev.Usage != nil {
			r.outputTokens += ev.Usage.OutputTokens
		}
		if len(r.pendingResults) > 0 && !r.reentered {
			return r.reenterStream(ctx)
		}
		return r.write(ev)

	case models.EventMessageStop:
		if r.reentered {
			// The synthetic stop was already emitted after the child
			// stream finished.
			return nil
		}
		return r.write(ev)

	default:
		return r.write(ev)
	}
}

// dispatch runs a captured tool call's handler and queues the tool_use and
// tool_result parts for the re-entry conversation.
func (r *streamRelay) dispatch(ctx context.Context, ct *capturedTool) {
	input := parseToolInput(ct.args.String())
	tool, ok := r.rc.Tool(ct.name)
	if !ok {
		return
	}
	output, isError := r.server.dispatchTool(ctx, r.rc, ct.name, tool, input)
	r.pendingUse = append(r.pendingUse, models.ContentPart{
		Type:  models.PartToolUse,
		ID:    ct.id,
		Name:  ct.name,
		Input: input,
	})
	r.pendingResults = append(r.pendingResults, toolResultPart(ct.id, output, isError))
}

// reenterStream appends the accumulated assistant turn and tool results to
// the conversation, re-invokes the pipeline, and relays the child stream
// with its message frames suppressed so the outer stream stays monotonic.
// At most one re-entry happens per outer message.
func (r *streamRelay) reenterStream(ctx context.Context) error {
	r.reentered = true

	var assistant []models.ContentPart
	if text := r.textBuf.String(); text != "" {
		assistant = append(assistant, models.ContentPart{Type: models.PartText, Text: text})
	}
	assistant = append(assistant, r.pendingUse...)
	r.req.Messages = append(r.req.Messages,
		models.Message{Role: models.RoleAssistant, Content: models.MessageContent{Parts: assistant}},
		models.Message{Role: models.RoleUser, Content: models.MessageContent{Parts: r.pendingResults}},
	)

	childReq, err := translate.Request(r.req, r.prep.decision.Model)
	if err != nil {
		r.writeErrorEvent(err)
		return err
	}
	childReq.Stream = true

	resp, err := r.server.upstream.ChatCompletion(ctx, r.prep.provider, childReq)
	if err != nil {
		r.writeErrorEvent(err)
		return err
	}
	defer resp.Body.Close()

	if err := r.relayChild(ctx, resp.Body); err != nil {
		return err
	}
	if err := r.write(models.NewMessageDelta(models.StopEndTurn, r.outputTokens)); err != nil {
		return err
	}
	return r.write(models.NewMessageStop())
}

// relayChild forwards a child response stream to the client. Child
// message_start/message_delta/message_stop frames are suppressed; block
// events pass through. Child text goes through its own tag stripper.
func (r *streamRelay) relayChild(ctx context.Context, body io.Reader) error {
	translator := translate.NewStreamTranslator(r.server.logger)
	parser := sse.NewParser(body)
	stripper := &memory.TagStripper{}
	textOpen := false

	emit := func(ev models.StreamEvent) error {
		switch ev.Type {
		case models.EventMessageStart, models.EventMessageStop:
			return nil
		case models.EventMessageDelta:
			if ev.Usage != nil {
				r.outputTokens += ev.Usage.OutputTokens
			}
			return nil
		case models.EventContentBlockStart:
			if ev.ContentBlock != nil && ev.ContentBlock.Type == models.PartText {
				textOpen = true
			}
			return r.write(ev)
		case models.EventContentBlockDelta:
			if ev.Delta != nil && ev.Delta.Type == models.DeltaText {
				visible := stripper.Feed(ev.Delta.Text)
				if visible == "" {
					return nil
				}
				ev.Delta.Text = visible
			}
			return r.write(ev)
		case models.EventContentBlockStop:
			// A dangling stripper tail belongs inside the text block, so
			// it is flushed before the stop goes out.
			if textOpen && ev.Index != nil && *ev.Index == 0 {
				textOpen = false
				if tail := stripper.Flush(); tail != "" {
					if err := r.write(models.NewTextDelta(0, tail)); err != nil {
						return err
					}
				}
			}
			return r.write(ev)
		default:
			return r.write(ev)
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := parser.Next()
		if errors.Is(err, io.EOF) || (err == nil && raw.Done) {
			break
		}
		if err != nil {
			r.writeErrorEvent(errdefs.Wrap(errdefs.StreamPrematureClose, "child stream interrupted", err))
			return err
		}
		if raw.IsEmpty() {
			continue
		}
		var chunk openai.ChatCompletionStreamResponse
		if err := json.Unmarshal(raw.Data, &chunk); err != nil {
			r.server.logger.Warn("undecodable child chunk, skipping", "error", err)
			continue
		}
		for _, ev := range translator.Translate(&chunk) {
			if err := emit(ev); err != nil {
				return err
			}
		}
	}
	for _, ev := range translator.Finish() {
		if err := emit(ev); err != nil {
			return err
		}
	}
	r.childTags = append(r.childTags, stripper.Tags()...)
	return nil
}

// finalize records usage, persists extracted memory tags, and fires the
// response hook. Runs whether or not the stream completed cleanly.
func (r *streamRelay) finalize(ctx context.Context) {
	s := r.server
	tags := append(r.stripper.Tags(), r.childTags...)
	s.saveTags(ctx, r.rc, tags)
	if s.usage != nil {
		s.usage.Record(r.rc.SessionID, r.inputTokens, r.outputTokens)
	}
	if s.metrics != nil {
		s.metrics.TokensCounted.WithLabelValues("output").Add(float64(r.outputTokens))
	}
	s.fireHook(ctx, &hooks.Event{
		Type:      hooks.EventPostResponse,
		SessionID: r.rc.SessionID,
		RequestID: r.rc.RequestID,
		Data:      map[string]any{"streaming": true, "reentered": r.reentered},
	})
}

func (r *streamRelay) write(ev models.StreamEvent) error {
	return r.writer.WriteJSON(ev.Type, ev)
}

// writeErrorEvent surfaces a mid-stream failure as a terminal error event.
// Write failures here are ignored; the stream is already broken.
func (r *streamRelay) writeErrorEvent(err error) {
	ge, ok := errdefs.As(err)
	if !ok {
		ge = errdefs.Wrap(errdefs.InternalError, "stream failed", err)
	}
	ev := models.NewErrorEvent(string(ge.Code), ge.Error())
	r.writer.WriteJSON(ev.Type, ev)
}

// writeSyntheticStream renders an already-complete response as a minimal
// canonical event stream. Used when a skill answers the request locally.
func (s *Server) writeSyntheticStream(w http.ResponseWriter, resp *models.MessagesResponse) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writer := sse.NewWriter(w)
	events := []models.StreamEvent{
		models.NewMessageStart(resp.ID, resp.Model, 0),
		models.NewTextBlockStart(0),
	}
	for _, part := range resp.Content {
		if part.Type == models.PartText && part.Text != "" {
			events = append(events, models.NewTextDelta(0, part.Text))
		}
	}
	events = append(events,
		models.NewContentBlockStop(0),
		models.NewMessageDelta(models.StopEndTurn, 0),
		models.NewMessageStop(),
	)
	for _, ev := range events {
		if err := writer.WriteJSON(ev.Type, ev); err != nil {
			return
		}
	}
}
