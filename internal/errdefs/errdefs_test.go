package errdefs

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestDefaultsPerCode(t *testing.T) {
	e := New(DatabaseCorrupt, "checksum mismatch")
	if e.Severity != SeverityFatal || e.Recoverable {
		t.Errorf("DatabaseCorrupt defaults wrong: %+v", e)
	}
	e = New(MemoryRecallFailed, "no results")
	if e.Severity != SeverityLow || !e.Recoverable {
		t.Errorf("MemoryRecallFailed defaults wrong: %+v", e)
	}
}

func TestErrorStringAndUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	e := Wrap(MemorySaveFailed, "insert failed", cause).
		WithComponent("memory").
		WithOperation("remember")

	msg := e.Error()
	if !strings.Contains(msg, "MemorySaveFailed") || !strings.Contains(msg, "memory.remember") || !strings.Contains(msg, "disk full") {
		t.Errorf("Error() = %q", msg)
	}
	if !errors.Is(e, cause) {
		t.Error("cause not reachable via errors.Is")
	}
}

func TestAsAndCodeOf(t *testing.T) {
	e := New(ApiTimeout, "upstream deadline")
	wrapped := fmt.Errorf("request failed: %w", e)

	got, ok := As(wrapped)
	if !ok || got.Code != ApiTimeout {
		t.Errorf("As() = %v, %v", got, ok)
	}
	if CodeOf(wrapped) != ApiTimeout {
		t.Errorf("CodeOf = %v", CodeOf(wrapped))
	}
	if CodeOf(errors.New("plain")) != InternalError {
		t.Error("untyped errors should map to InternalError")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{ToolValidationFailed, http.StatusBadRequest},
		{ValidationError, http.StatusBadRequest},
		{ApiAuthFailed, http.StatusUnauthorized},
		{ApiRateLimited, http.StatusTooManyRequests},
		{ApiTimeout, http.StatusGatewayTimeout},
		{SubAgentDepthExceeded, http.StatusUnprocessableEntity},
		{ToolTransformationFailed, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := New(tt.code, "x").HTTPStatus(); got != tt.want {
			t.Errorf("%s: HTTPStatus = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestUserFormat(t *testing.T) {
	e := New(SubAgentDepthExceeded, "depth 3 > max 2").
		WithSuggestion("raise subAgent.maxDepth")
	out := e.UserFormat()
	want := `<error code="SubAgentDepthExceeded"><message>depth 3 &gt; max 2</message><suggestion>raise subAgent.maxDepth</suggestion></error>`
	if out != want {
		t.Errorf("UserFormat:\n got %s\nwant %s", out, want)
	}
}

func TestAPIBody(t *testing.T) {
	e := New(ValidationError, "model is required").WithDetail("field", "model")
	body := string(e.APIBody())
	if !strings.Contains(body, `"type":"ValidationError"`) ||
		!strings.Contains(body, `"message":"model is required"`) ||
		!strings.Contains(body, `"field":"model"`) {
		t.Errorf("APIBody = %s", body)
	}
}

func TestLogArgsPairs(t *testing.T) {
	e := Wrap(EmbeddingNetworkError, "dial failed", errors.New("refused")).WithComponent("embeddings")
	args := e.LogArgs()
	if len(args)%2 != 0 {
		t.Fatalf("LogArgs must be key-value pairs, got %d items", len(args))
	}
	joined := fmt.Sprint(args...)
	if !strings.Contains(joined, "EmbeddingNetworkError") || !strings.Contains(joined, "refused") {
		t.Errorf("LogArgs = %v", args)
	}
}
