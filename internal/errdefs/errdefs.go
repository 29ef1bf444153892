// Package errdefs defines the closed error taxonomy used across the gateway.
// Every operational failure is tagged with a stable code, a severity, a
// recoverable flag, and a context record, so callers can branch on the code
// and operators can read a uniform shape in logs and API bodies.
package errdefs

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Code identifies one failure class. The set is closed; new codes are added
// here, never ad hoc at call sites.
type Code string

const (
	// Storage layer
	DatabaseInit    Code = "DatabaseInit"
	DatabaseBusy    Code = "DatabaseBusy"
	DatabaseCorrupt Code = "DatabaseCorrupt"

	// Memory operations
	MemorySaveFailed   Code = "MemorySaveFailed"
	MemoryRecallFailed Code = "MemoryRecallFailed"

	// Embedding provider
	EmbeddingApiError     Code = "EmbeddingApiError"
	EmbeddingRateLimited  Code = "EmbeddingRateLimited"
	EmbeddingNetworkError Code = "EmbeddingNetworkError"

	// Context assembly
	ContextBudgetOverflow Code = "ContextBudgetOverflow"

	// Sub-agent execution
	SubAgentDepthExceeded   Code = "SubAgentDepthExceeded"
	SubAgentExecutionFailed Code = "SubAgentExecutionFailed"

	// Routing
	RouterFailedSelection Code = "RouterFailedSelection"

	// Upstream providers
	ApiRateLimited Code = "ApiRateLimited"
	ApiAuthFailed  Code = "ApiAuthFailed"
	ApiTimeout     Code = "ApiTimeout"

	// Tool pipeline
	ToolValidationFailed     Code = "ToolValidationFailed"
	ToolTransformationFailed Code = "ToolTransformationFailed"

	// Streaming
	StreamPrematureClose Code = "StreamPrematureClose"

	// Extensions
	HookExecutionFailed  Code = "HookExecutionFailed"
	SkillExecutionFailed Code = "SkillExecutionFailed"
	PluginLoadFailed     Code = "PluginLoadFailed"

	// General
	ValidationError Code = "ValidationError"
	InternalError   Code = "InternalError"
)

// Severity grades operational impact.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
	SeverityFatal  Severity = "fatal"
)

// classification holds the default severity and recoverability per code.
var classification = map[Code]struct {
	severity    Severity
	recoverable bool
}{
	DatabaseInit:             {SeverityFatal, false},
	DatabaseBusy:             {SeverityMedium, true},
	DatabaseCorrupt:          {SeverityFatal, false},
	MemorySaveFailed:         {SeverityMedium, true},
	MemoryRecallFailed:       {SeverityLow, true},
	EmbeddingApiError:        {SeverityMedium, true},
	EmbeddingRateLimited:     {SeverityLow, true},
	EmbeddingNetworkError:    {SeverityMedium, true},
	ContextBudgetOverflow:    {SeverityLow, true},
	SubAgentDepthExceeded:    {SeverityMedium, false},
	SubAgentExecutionFailed:  {SeverityMedium, true},
	RouterFailedSelection:    {SeverityHigh, false},
	ApiRateLimited:           {SeverityMedium, true},
	ApiAuthFailed:            {SeverityHigh, false},
	ApiTimeout:               {SeverityMedium, true},
	ToolValidationFailed:     {SeverityLow, false},
	ToolTransformationFailed: {SeverityHigh, false},
	StreamPrematureClose:     {SeverityLow, false},
	HookExecutionFailed:      {SeverityLow, true},
	SkillExecutionFailed:     {SeverityMedium, true},
	PluginLoadFailed:         {SeverityMedium, true},
	ValidationError:          {SeverityLow, false},
	InternalError:            {SeverityHigh, false},
}

// Context records where an error originated.
type Context struct {
	Component string         `json:"component,omitempty"`
	Operation string         `json:"operation,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Error is the gateway's structured error. Construct with New or Wrap and
// refine with the With* builders.
type Error struct {
	Code        Code     `json:"code"`
	Message     string   `json:"message"`
	Severity    Severity `json:"severity"`
	Recoverable bool     `json:"recoverable"`
	Context     Context  `json:"context,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
	Cause       error    `json:"-"`
}

// New creates an Error with the code's default severity and recoverability.
func New(code Code, message string) *Error {
	cls, ok := classification[code]
	if !ok {
		cls = classification[InternalError]
	}
	return &Error{
		Code:        code,
		Message:     message,
		Severity:    cls.severity,
		Recoverable: cls.recoverable,
	}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap creates an Error around a cause. The cause stays reachable through
// errors.Unwrap.
func Wrap(code Code, message string, cause error) *Error {
	e := New(code, message)
	e.Cause = cause
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Context.Component != "" {
		fmt.Fprintf(&b, " [%s", e.Context.Component)
		if e.Context.Operation != "" {
			fmt.Fprintf(&b, ".%s", e.Context.Operation)
		}
		b.WriteString("]")
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithComponent records the originating component.
func (e *Error) WithComponent(component string) *Error {
	e.Context.Component = component
	return e
}

// WithOperation records the failing operation.
func (e *Error) WithOperation(op string) *Error {
	e.Context.Operation = op
	return e
}

// WithDetail attaches one context detail.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Context.Details == nil {
		e.Context.Details = make(map[string]any)
	}
	e.Context.Details[key] = value
	return e
}

// WithSuggestion appends a recovery suggestion.
func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestions = append(e.Suggestions, s)
	return e
}

// WithSeverity overrides the default severity.
func (e *Error) WithSeverity(s Severity) *Error {
	e.Severity = s
	return e
}

// WithRecoverable overrides the default recoverable flag.
func (e *Error) WithRecoverable(v bool) *Error {
	e.Recoverable = v
	return e
}

// As extracts an *Error from an error chain.
func As(err error) (*Error, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

// CodeOf returns the taxonomy code of err, or InternalError for untyped errors.
func CodeOf(err error) Code {
	if ge, ok := As(err); ok {
		return ge.Code
	}
	return InternalError
}

// IsRecoverable reports whether err carries a recoverable classification.
// Untyped errors are treated as non-recoverable.
func IsRecoverable(err error) bool {
	if ge, ok := As(err); ok {
		return ge.Recoverable
	}
	return false
}

// HTTPStatus maps the code to the status returned to API clients.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case ValidationError, ToolValidationFailed:
		return http.StatusBadRequest
	case ApiAuthFailed:
		return http.StatusUnauthorized
	case ApiRateLimited, EmbeddingRateLimited, DatabaseBusy:
		return http.StatusTooManyRequests
	case ApiTimeout:
		return http.StatusGatewayTimeout
	case SubAgentDepthExceeded, ContextBudgetOverflow:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// UserFormat renders the error as a single XML element for tool-result
// contexts. Message and suggestions are escaped; details are omitted.
func (e *Error) UserFormat() string {
	var b strings.Builder
	fmt.Fprintf(&b, `<error code=%q>`, e.Code)
	fmt.Fprintf(&b, "<message>%s</message>", xmlEscape(e.Message))
	for _, s := range e.Suggestions {
		fmt.Fprintf(&b, "<suggestion>%s</suggestion>", xmlEscape(s))
	}
	b.WriteString("</error>")
	return b.String()
}

// apiBody is the JSON API error envelope.
type apiBody struct {
	Error apiBodyInner `json:"error"`
}

type apiBodyInner struct {
	Type    string         `json:"type"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// APIBody renders the canonical JSON error envelope.
func (e *Error) APIBody() []byte {
	body := apiBody{Error: apiBodyInner{
		Type:    string(e.Code),
		Message: e.Message,
		Details: e.Context.Details,
	}}
	out, err := json.Marshal(body)
	if err != nil {
		return []byte(`{"error":{"type":"InternalError","message":"error serialization failed"}}`)
	}
	return out
}

// LogArgs returns key-value pairs for structured logging.
func (e *Error) LogArgs() []any {
	args := []any{
		"code", string(e.Code),
		"severity", string(e.Severity),
		"recoverable", e.Recoverable,
	}
	if e.Context.Component != "" {
		args = append(args, "component", e.Context.Component)
	}
	if e.Context.Operation != "" {
		args = append(args, "operation", e.Context.Operation)
	}
	if e.Cause != nil {
		args = append(args, "cause", e.Cause.Error())
	}
	return args
}

func xmlEscape(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
	)
	return r.Replace(s)
}
