package prompt

import (
	"strings"
	"testing"

	"github.com/haasonsaas/relay/pkg/models"
)

func userMsg(text string) models.Message {
	return models.Message{Role: models.RoleUser, Content: models.MessageContent{Text: text}}
}

func assistantMsg(text string) models.Message {
	return models.Message{Role: models.RoleAssistant, Content: models.MessageContent{Text: text}}
}

func TestAnalyzeTaskType(t *testing.T) {
	tests := []struct {
		text string
		want TaskType
	}{
		{"fix this bug in the parser", TaskDebug},
		{"refactor the session manager", TaskRefactor},
		{"write unit tests for the router", TaskTest},
		{"review my pull request", TaskReview},
		{"explain what does this function do", TaskExplain},
		{"implement a rate limiter", TaskCode},
		{"hello there", TaskGeneral},
	}
	for _, tt := range tests {
		got := Analyze([]models.Message{userMsg(tt.text)})
		if got.TaskType != tt.want {
			t.Errorf("Analyze(%q).TaskType = %s, want %s", tt.text, got.TaskType, tt.want)
		}
	}
}

func TestAnalyzeComplexityBoundaries(t *testing.T) {
	at500 := strings.Repeat("a", 500)
	at501 := strings.Repeat("a", 501)

	if got := Analyze([]models.Message{userMsg(at500)}).Complexity; got != ComplexityModerate {
		t.Errorf("500-char message: %s, want moderate", got)
	}
	if got := Analyze([]models.Message{userMsg(at501)}).Complexity; got != ComplexityComplex {
		t.Errorf("501-char message: %s, want complex", got)
	}
	if got := Analyze([]models.Message{userMsg("hi")}).Complexity; got != ComplexitySimple {
		t.Errorf("short single turn: %s, want simple", got)
	}

	fourTurns := []models.Message{
		userMsg("one"), assistantMsg("two"), userMsg("three"), assistantMsg("four"),
	}
	if got := Analyze(fourTurns).Complexity; got != ComplexityModerate {
		t.Errorf("four turns: %s, want moderate", got)
	}
}

func TestAnalyzeKeywordsAndEntities(t *testing.T) {
	a := Analyze([]models.Message{userMsg("please update the RouterEngine logic in internal/router/router.go")})

	hasKeyword := func(k string) bool {
		for _, kw := range a.Keywords {
			if kw == k {
				return true
			}
		}
		return false
	}
	if !hasKeyword("update") || !hasKeyword("logic") {
		t.Errorf("keywords missing expected tokens: %v", a.Keywords)
	}
	if hasKeyword("the") || hasKeyword("please") {
		t.Errorf("stoplist or length filter leaked: %v", a.Keywords)
	}

	hasEntity := func(e string) bool {
		for _, en := range a.Entities {
			if en == e {
				return true
			}
		}
		return false
	}
	if !hasEntity("internal/router/router.go") {
		t.Errorf("file path not detected: %v", a.Entities)
	}
	if !hasEntity("RouterEngine") {
		t.Errorf("CamelCase identifier not detected: %v", a.Entities)
	}
}

func TestAnalyzeEmptyMessages(t *testing.T) {
	a := Analyze(nil)
	if a.TaskType != TaskGeneral || a.Complexity != ComplexitySimple {
		t.Errorf("empty conversation: %+v", a)
	}
}
