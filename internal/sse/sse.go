// Package sse implements the server-sent-events wire format: a parser that
// turns a byte stream into typed event records and a writer that is its
// inverse. Parse then serialize is the identity on well-formed input.
package sse

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// doneMarker is the literal payload that terminates OpenAI-style streams.
const doneMarker = "[DONE]"

// Event is one SSE record. Data holds the payload bytes; Done is set when
// the payload was the literal [DONE] marker, in which case Data is empty.
// RawData marks a payload that failed JSON validation; it is surfaced to the
// consumer rather than dropped.
type Event struct {
	Event   string
	ID      string
	Retry   *int
	Data    []byte
	Done    bool
	RawData bool
}

// IsEmpty reports whether the record carries no fields at all.
func (e *Event) IsEmpty() bool {
	return e.Event == "" && e.ID == "" && e.Retry == nil && len(e.Data) == 0 && !e.Done
}

// Parser reads SSE events from a byte stream. Events are delimited by blank
// lines; an incomplete terminal event is flushed at end of stream.
type Parser struct {
	scanner *bufio.Scanner
	flushed bool
}

// NewParser wraps r. The line buffer starts at 64 KiB and grows to 1 MiB to
// accommodate large tool-argument chunks on a single data line.
func NewParser(r io.Reader) *Parser {
	s := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	s.Buffer(buf, 1<<20)
	return &Parser{scanner: s}
}

// Next returns the next event. It returns io.EOF after the final event; any
// partially accumulated event at end of stream is returned first.
func (p *Parser) Next() (Event, error) {
	var (
		ev        Event
		dataLines []string
		sawField  bool
	)

	for p.scanner.Scan() {
		line := strings.TrimRight(p.scanner.Text(), "\r")

		if line == "" {
			if !sawField {
				continue // stray blank line between events
			}
			finishEvent(&ev, dataLines)
			return ev, nil
		}
		if strings.HasPrefix(line, ":") {
			continue // comment line
		}

		field, value := splitField(line)
		switch field {
		case "event":
			ev.Event = value
			sawField = true
		case "id":
			ev.ID = value
			sawField = true
		case "retry":
			if n, err := strconv.Atoi(value); err == nil {
				ev.Retry = &n
				sawField = true
			}
		case "data":
			dataLines = append(dataLines, value)
			sawField = true
		}
	}

	if err := p.scanner.Err(); err != nil {
		return Event{}, fmt.Errorf("read sse stream: %w", err)
	}
	if sawField && !p.flushed {
		p.flushed = true
		finishEvent(&ev, dataLines)
		return ev, nil
	}
	return Event{}, io.EOF
}

// splitField divides "field: value", stripping at most one space after the
// colon per the SSE grammar.
func splitField(line string) (string, string) {
	idx := strings.Index(line, ":")
	if idx < 0 {
		return line, ""
	}
	field := line[:idx]
	value := line[idx+1:]
	value = strings.TrimPrefix(value, " ")
	return field, value
}

// finishEvent folds accumulated data lines into the event and classifies the
// payload. Multiple data lines join with a newline per the SSE grammar.
func finishEvent(ev *Event, dataLines []string) {
	if len(dataLines) == 0 {
		return
	}
	data := strings.Join(dataLines, "\n")
	if data == doneMarker {
		ev.Done = true
		return
	}
	ev.Data = []byte(data)
	if !json.Valid(ev.Data) {
		ev.RawData = true
	}
}

// Writer serializes events to an underlying stream, flushing after each
// record when the stream supports it.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

// NewWriter wraps w. If w implements http.Flusher each event is flushed as
// it is written so clients observe events promptly.
func NewWriter(w io.Writer) *Writer {
	sw := &Writer{w: w}
	if f, ok := w.(http.Flusher); ok {
		sw.flusher = f
	}
	return sw
}

// WriteEvent serializes one record: event, id and retry lines as present,
// then the data line, then a blank line.
func (w *Writer) WriteEvent(ev Event) error {
	var b strings.Builder
	if ev.Event != "" {
		fmt.Fprintf(&b, "event: %s\n", ev.Event)
	}
	if ev.ID != "" {
		fmt.Fprintf(&b, "id: %s\n", ev.ID)
	}
	if ev.Retry != nil {
		fmt.Fprintf(&b, "retry: %d\n", *ev.Retry)
	}
	switch {
	case ev.Done:
		b.WriteString("data: " + doneMarker + "\n")
	case len(ev.Data) > 0:
		for _, line := range strings.Split(string(ev.Data), "\n") {
			b.WriteString("data: " + line + "\n")
		}
	}
	b.WriteString("\n")

	if _, err := io.WriteString(w.w, b.String()); err != nil {
		return fmt.Errorf("write sse event: %w", err)
	}
	w.Flush()
	return nil
}

// WriteJSON marshals v and writes it as a named event.
func (w *Writer) WriteJSON(event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal sse payload: %w", err)
	}
	return w.WriteEvent(Event{Event: event, Data: data})
}

// WriteDone emits the terminal [DONE] record.
func (w *Writer) WriteDone() error {
	return w.WriteEvent(Event{Done: true})
}

// Flush forces buffered bytes to the client when supported.
func (w *Writer) Flush() {
	if w.flusher != nil {
		w.flusher.Flush()
	}
}
