package hooks

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/relay/internal/errdefs"
)

// defaultHandlerTimeout bounds a single handler invocation. A handler that
// exceeds it is abandoned: its goroutine keeps running but its result is
// discarded and dispatch moves on.
const defaultHandlerTimeout = 5 * time.Second

// DispatchResult summarizes one Fire call.
type DispatchResult struct {
	// Continue is false when a handler vetoed the operation.
	Continue bool
	// VetoedBy and Reason identify the vetoing handler, if any.
	VetoedBy string
	Reason   string
	// Ran counts handlers that completed (including errored ones).
	Ran int
}

// Registry holds handler registrations keyed by event.
type Registry struct {
	mu       sync.RWMutex
	handlers map[EventType][]*Registration
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		handlers: make(map[EventType][]*Registration),
		logger:   logger.With("component", "hooks"),
	}
}

// RegisterOption customizes a registration.
type RegisterOption func(*Registration)

// WithPriority sets the dispatch priority; higher runs first.
func WithPriority(p Priority) RegisterOption {
	return func(r *Registration) { r.Priority = p }
}

// WithName attaches a human-readable name for logs and the API.
func WithName(name string) RegisterOption {
	return func(r *Registration) { r.Name = name }
}

// WithSource records where the handler came from (e.g. a plugin name).
func WithSource(source string) RegisterOption {
	return func(r *Registration) { r.Source = source }
}

// WithTimeout overrides the per-invocation timeout.
func WithTimeout(d time.Duration) RegisterOption {
	return func(r *Registration) { r.Timeout = d }
}

// Register subscribes a handler and returns its registration ID.
func (reg *Registry) Register(event EventType, handler Handler, opts ...RegisterOption) (string, error) {
	if !ValidEventType(event) {
		return "", errdefs.Newf(errdefs.HookExecutionFailed, "unknown hook event %q", event).
			WithComponent("hooks")
	}
	if handler == nil {
		return "", errdefs.New(errdefs.HookExecutionFailed, "nil hook handler").
			WithComponent("hooks")
	}

	r := &Registration{
		ID:       uuid.NewString(),
		Event:    event,
		Priority: PriorityNormal,
		Enabled:  true,
		Handler:  handler,
		Timeout:  defaultHandlerTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}

	reg.mu.Lock()
	reg.handlers[event] = append(reg.handlers[event], r)
	// Stable sort keeps registration order within a priority tier.
	sort.SliceStable(reg.handlers[event], func(i, j int) bool {
		return reg.handlers[event][i].Priority > reg.handlers[event][j].Priority
	})
	reg.mu.Unlock()

	reg.logger.Debug("hook registered", "event", event, "id", r.ID, "name", r.Name, "priority", r.Priority)
	return r.ID, nil
}

// Unregister removes a handler by ID. Returns false if no handler matched.
func (reg *Registry) Unregister(id string) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	for event, list := range reg.handlers {
		for i, r := range list {
			if r.ID == id {
				reg.handlers[event] = append(list[:i:i], list[i+1:]...)
				return true
			}
		}
	}
	return false
}

// UnregisterSource removes every handler registered with the given source.
// Used when a plugin is disabled or unloaded.
func (reg *Registry) UnregisterSource(source string) int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	removed := 0
	for event, list := range reg.handlers {
		kept := list[:0]
		for _, r := range list {
			if r.Source == source {
				removed++
				continue
			}
			kept = append(kept, r)
		}
		reg.handlers[event] = kept
	}
	return removed
}

// SetEnabled toggles a handler without unregistering it.
func (reg *Registry) SetEnabled(id string, enabled bool) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	for _, list := range reg.handlers {
		for _, r := range list {
			if r.ID == id {
				r.Enabled = enabled
				return true
			}
		}
	}
	return false
}

// List returns registrations for one event, or all events if event is empty.
// Handlers are not included in the copies.
func (reg *Registry) List(event EventType) []Registration {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	var out []Registration
	appendEvent := func(t EventType) {
		for _, r := range reg.handlers[t] {
			c := *r
			c.Handler = nil
			out = append(out, c)
		}
	}
	if event != "" {
		appendEvent(event)
		return out
	}
	for _, t := range EventTypes() {
		appendEvent(t)
	}
	return out
}

// Fire dispatches an event to its handlers in priority order. A handler
// returning Continue=false short-circuits dispatch and vetoes the
// operation. Handler errors and timeouts are logged and skipped; they never
// fail the surrounding operation.
func (reg *Registry) Fire(ctx context.Context, event *Event) DispatchResult {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	reg.mu.RLock()
	list := make([]*Registration, 0, len(reg.handlers[event.Type]))
	for _, r := range reg.handlers[event.Type] {
		if r.Enabled {
			list = append(list, r)
		}
	}
	reg.mu.RUnlock()

	result := DispatchResult{Continue: true}
	for _, r := range list {
		hr, err := reg.invoke(ctx, r, event)
		if err != nil {
			reg.logger.Warn("hook handler failed",
				"event", event.Type, "id", r.ID, "name", r.Name, "error", err)
			result.Ran++
			continue
		}
		result.Ran++
		if hr == nil {
			continue
		}
		for k, v := range hr.Data {
			if event.Data == nil {
				event.Data = make(map[string]any)
			}
			event.Data[k] = v
		}
		if !hr.Continue {
			result.Continue = false
			result.VetoedBy = r.ID
			if r.Name != "" {
				result.VetoedBy = r.Name
			}
			result.Reason = hr.Reason
			reg.logger.Info("hook vetoed operation",
				"event", event.Type, "handler", result.VetoedBy, "reason", hr.Reason)
			return result
		}
	}
	return result
}

// invoke runs one handler under its timeout. On timeout the handler
// goroutine is abandoned; its eventual result is dropped.
func (reg *Registry) invoke(ctx context.Context, r *Registration, event *Event) (*HandlerResult, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = defaultHandlerTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		res *HandlerResult
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		res, err := r.Handler(ctx, event)
		ch <- outcome{res, err}
	}()

	select {
	case out := <-ch:
		return out.res, out.err
	case <-ctx.Done():
		return nil, errdefs.Newf(errdefs.HookExecutionFailed, "hook %s timed out after %s", r.ID, timeout).
			WithComponent("hooks")
	}
}
