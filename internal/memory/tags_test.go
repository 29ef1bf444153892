package memory

import (
	"strings"
	"testing"

	"github.com/haasonsaas/relay/internal/store"
)

func TestExtractAndStrip(t *testing.T) {
	text := `Sure. <remember scope="global" category="preference">use tabs</remember>Done.`
	clean, tags := ExtractAndStrip(text)
	if clean != "Sure. Done." {
		t.Errorf("clean = %q", clean)
	}
	if len(tags) != 1 {
		t.Fatalf("tags = %d, want 1", len(tags))
	}
	if tags[0].Scope != store.ScopeGlobal || tags[0].Category != "preference" || tags[0].Content != "use tabs" {
		t.Errorf("tag = %+v", tags[0])
	}
}

func TestExtractFlexibleAttributes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Tag
	}{
		{
			"reversed order single quotes",
			`<remember category='decision' scope='project'>sqlite over postgres</remember>`,
			Tag{Scope: store.ScopeProject, Category: "decision", Content: "sqlite over postgres"},
		},
		{
			"unquoted values",
			`<remember scope=project category=error>nil deref in parser</remember>`,
			Tag{Scope: store.ScopeProject, Category: "error", Content: "nil deref in parser"},
		},
		{
			"attribute case and spacing",
			`<remember SCOPE = "GLOBAL"  Category="Pattern">builder pattern</remember>`,
			Tag{Scope: store.ScopeGlobal, Category: "pattern", Content: "builder pattern"},
		},
		{
			"missing attributes default",
			`<remember>plain fact</remember>`,
			Tag{Scope: store.ScopeGlobal, Category: "context", Content: "plain fact"},
		},
		{
			"unknown category falls back",
			`<remember category="feelings">x</remember>`,
			Tag{Scope: store.ScopeGlobal, Category: "context", Content: "x"},
		},
		{
			"multiline content trimmed",
			"<remember scope=\"global\" category=\"knowledge\">\n  line one\n  line two\n</remember>",
			Tag{Scope: store.ScopeGlobal, Category: "knowledge", Content: "line one\n  line two"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, tags := ExtractAndStrip(tt.in)
			if len(tags) != 1 {
				t.Fatalf("tags = %d, want 1", len(tags))
			}
			if tags[0] != tt.want {
				t.Errorf("tag = %+v, want %+v", tags[0], tt.want)
			}
		})
	}
}

func TestExtractSkipsEmptyContent(t *testing.T) {
	clean, tags := ExtractAndStrip(`before <remember scope="global">  </remember> after`)
	if len(tags) != 0 {
		t.Errorf("empty tag must not extract: %+v", tags)
	}
	if clean != "before  after" {
		t.Errorf("clean = %q", clean)
	}
}

func TestStripperWholeTagInOneDelta(t *testing.T) {
	var s TagStripper
	out := s.Feed(`Hello <remember scope="global" category="preference">use tabs</remember> world`)
	out += s.Flush()
	if out != "Hello  world" {
		t.Errorf("out = %q", out)
	}
	if len(s.Tags()) != 1 || s.Tags()[0].Content != "use tabs" {
		t.Errorf("tags = %+v", s.Tags())
	}
}

func TestStripperTagAcrossDeltas(t *testing.T) {
	var s TagStripper
	deltas := []string{
		"The answer is 42. <remem",
		"ber scope=\"global\" cat",
		"egory=\"knowledge\">answer is 42</rem",
		"ember> Anything else?",
	}
	var out strings.Builder
	for _, d := range deltas {
		out.WriteString(s.Feed(d))
	}
	out.WriteString(s.Flush())

	if got := out.String(); got != "The answer is 42.  Anything else?" {
		t.Errorf("out = %q", got)
	}
	if len(s.Tags()) != 1 || s.Tags()[0].Content != "answer is 42" {
		t.Errorf("tags = %+v", s.Tags())
	}
}

func TestStripperNeverEmitsPartialTag(t *testing.T) {
	var s TagStripper
	emitted := s.Feed("safe text <remember scope=\"global\">held")
	if strings.Contains(emitted, "<remember") || strings.Contains(emitted, "held") {
		t.Errorf("partial tag leaked: %q", emitted)
	}
	if emitted != "safe text " {
		t.Errorf("emitted = %q", emitted)
	}
}

func TestStripperFalseAlarmResolves(t *testing.T) {
	var s TagStripper
	out := s.Feed("a <rem")
	if out != "a " {
		t.Errorf("prefix hold: %q", out)
	}
	out += s.Feed("arkable thing")
	out += s.Flush()
	if out != "a <remarkable thing" {
		t.Errorf("false alarm must be released verbatim: %q", out)
	}
	if len(s.Tags()) != 0 {
		t.Errorf("no tags expected: %+v", s.Tags())
	}
}

func TestStripperDropsUnterminatedTagAtFlush(t *testing.T) {
	var s TagStripper
	out := s.Feed("text <remember scope=\"global\">never closed")
	out += s.Flush()
	if out != "text " {
		t.Errorf("unterminated tag must not be emitted: %q", out)
	}
	if s.Dropped() == 0 {
		t.Error("dropped bytes should be counted")
	}
}

func TestStripperMultipleTags(t *testing.T) {
	var s TagStripper
	out := s.Feed(`<remember category="preference">a</remember>mid<remember category="decision">b</remember>`)
	out += s.Flush()
	if out != "mid" {
		t.Errorf("out = %q", out)
	}
	if len(s.Tags()) != 2 || s.Tags()[0].Content != "a" || s.Tags()[1].Content != "b" {
		t.Errorf("tags = %+v", s.Tags())
	}
}

func TestStripperPlainAngleBrackets(t *testing.T) {
	var s TagStripper
	out := s.Feed("if a < b then <code>x</code>")
	out += s.Flush()
	if out != "if a < b then <code>x</code>" {
		t.Errorf("unrelated markup must pass through: %q", out)
	}
}
