// Package hooks provides event-driven interception around the request
// pipeline. Handlers subscribe to a closed set of events and run in
// priority order; any handler may veto the operation, and a slow handler is
// abandoned rather than allowed to stall the request.
package hooks

import (
	"context"
	"time"
)

// EventType identifies one interception point.
type EventType string

const (
	EventPreToolUse   EventType = "PreToolUse"
	EventPostToolUse  EventType = "PostToolUse"
	EventPreRoute     EventType = "PreRoute"
	EventPostRoute    EventType = "PostRoute"
	EventSessionStart EventType = "SessionStart"
	EventSessionEnd   EventType = "SessionEnd"
	EventPreResponse  EventType = "PreResponse"
	EventPostResponse EventType = "PostResponse"
	EventPreCompact   EventType = "PreCompact"
	EventNotification EventType = "Notification"
)

// EventTypes lists every event in a stable order for introspection.
func EventTypes() []EventType {
	return []EventType{
		EventPreToolUse,
		EventPostToolUse,
		EventPreRoute,
		EventPostRoute,
		EventSessionStart,
		EventSessionEnd,
		EventPreResponse,
		EventPostResponse,
		EventPreCompact,
		EventNotification,
	}
}

// ValidEventType reports whether t is a known event.
func ValidEventType(t EventType) bool {
	for _, known := range EventTypes() {
		if known == t {
			return true
		}
	}
	return false
}

// Event is the payload handed to handlers.
type Event struct {
	Type      EventType      `json:"type"`
	SessionID string         `json:"session_id,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	// ToolName is set on tool events.
	ToolName string `json:"tool_name,omitempty"`
	// Route is set on routing events.
	Route     string         `json:"route,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// HandlerResult is what a handler returns. A nil result means continue.
type HandlerResult struct {
	// Continue false vetoes the operation; later handlers do not run.
	Continue bool `json:"continue"`
	// Reason explains a veto for logs and error messages.
	Reason string `json:"reason,omitempty"`
	// Data is merged into the event for later handlers.
	Data map[string]any `json:"data,omitempty"`
}

// Handler processes one event. Handlers run inside the request path; slow
// work belongs in a goroutine.
type Handler func(ctx context.Context, event *Event) (*HandlerResult, error)

// Priority orders handlers; higher runs first.
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 50
	PriorityHigh   Priority = 100
)

// Registration is one subscribed handler.
type Registration struct {
	ID       string    `json:"id"`
	Event    EventType `json:"event"`
	Name     string    `json:"name,omitempty"`
	Source   string    `json:"source,omitempty"`
	Priority Priority  `json:"priority"`
	Enabled  bool      `json:"enabled"`
	Handler  Handler   `json:"-"`
	Timeout  time.Duration `json:"-"`
}
