package sse

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func collect(t *testing.T, input string) []Event {
	t.Helper()
	p := NewParser(strings.NewReader(input))
	var events []Event
	for {
		ev, err := p.Next()
		if err == io.EOF {
			return events
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		events = append(events, ev)
	}
}

func TestParseBasicStream(t *testing.T) {
	input := "event: message_start\ndata: {\"type\":\"message_start\"}\n\n" +
		"data: {\"type\":\"ping\"}\n\n" +
		"data: [DONE]\n\n"
	events := collect(t, input)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Event != "message_start" || string(events[0].Data) != `{"type":"message_start"}` {
		t.Errorf("event 0 = %+v", events[0])
	}
	if events[1].Event != "" || string(events[1].Data) != `{"type":"ping"}` {
		t.Errorf("event 1 = %+v", events[1])
	}
	if !events[2].Done || len(events[2].Data) != 0 {
		t.Errorf("event 2 should be the done marker: %+v", events[2])
	}
}

func TestParseFlushesIncompleteTerminalEvent(t *testing.T) {
	events := collect(t, "event: message_stop\ndata: {\"type\":\"message_stop\"}")
	if len(events) != 1 {
		t.Fatalf("expected flushed terminal event, got %d", len(events))
	}
	if events[0].Event != "message_stop" {
		t.Errorf("flushed event = %+v", events[0])
	}
}

func TestParseSurfacesInvalidJSON(t *testing.T) {
	events := collect(t, "data: {not json\n\n")
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if !events[0].RawData || string(events[0].Data) != "{not json" {
		t.Errorf("invalid payload must surface as raw data: %+v", events[0])
	}
}

func TestParseExtraFields(t *testing.T) {
	events := collect(t, ": comment\nid: 7\nretry: 3000\ndata: {\"a\":1}\n\n")
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if ev.ID != "7" || ev.Retry == nil || *ev.Retry != 3000 {
		t.Errorf("id/retry not parsed: %+v", ev)
	}
}

func TestParseMultiLineData(t *testing.T) {
	events := collect(t, "data: \"line one\ndata: line two\"\n\n")
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if string(events[0].Data) != "\"line one\nline two\"" {
		t.Errorf("multi-line data join: %q", events[0].Data)
	}
}

func TestRoundTrip(t *testing.T) {
	input := "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":0}\n\n" +
		"id: 42\ndata: {\"type\":\"ping\"}\n\n" +
		"retry: 1500\ndata: {\"x\":true}\n\n" +
		"data: [DONE]\n\n"

	events := collect(t, input)
	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, ev := range events {
		if err := w.WriteEvent(ev); err != nil {
			t.Fatalf("WriteEvent: %v", err)
		}
	}
	if buf.String() != input {
		t.Errorf("round trip mismatch:\n got %q\nwant %q", buf.String(), input)
	}
}

func TestWriteJSONAndDone(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteJSON("ping", map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if err := w.WriteDone(); err != nil {
		t.Fatalf("WriteDone: %v", err)
	}
	want := "event: ping\ndata: {\"type\":\"ping\"}\n\ndata: [DONE]\n\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}
}

func TestParseCRLFLines(t *testing.T) {
	events := collect(t, "event: ping\r\ndata: {\"type\":\"ping\"}\r\n\r\n")
	if len(events) != 1 || events[0].Event != "ping" {
		t.Errorf("CRLF input mishandled: %+v", events)
	}
}
