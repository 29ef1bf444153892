package memory

import (
	"regexp"
	"strings"

	"github.com/haasonsaas/relay/internal/store"
)

// Tag is one <remember> element extracted from model output.
type Tag struct {
	Scope    store.Scope
	Category string
	Content  string
}

var (
	// tagRe matches a complete remember element. Attribute order, quoting
	// and case are flexible; content spans lines.
	tagRe           = regexp.MustCompile(`(?is)<remember\b([^>]*)>(.*?)</remember\s*>`)
	scopeAttrRe     = regexp.MustCompile(`(?i)scope\s*=\s*['"]?\s*(global|project)\s*['"]?`)
	categoryAttrRe  = regexp.MustCompile(`(?i)category\s*=\s*['"]?\s*([a-zA-Z]+)\s*['"]?`)
	defaultCategory = "context"
)

func parseTag(attrs, content string) Tag {
	t := Tag{Scope: store.ScopeGlobal, Category: defaultCategory, Content: strings.TrimSpace(content)}
	if m := scopeAttrRe.FindStringSubmatch(attrs); m != nil {
		t.Scope = store.Scope(strings.ToLower(m[1]))
	}
	if m := categoryAttrRe.FindStringSubmatch(attrs); m != nil {
		if c := strings.ToLower(m[1]); store.ValidCategory(c) {
			t.Category = c
		}
	}
	return t
}

// ExtractAndStrip removes every complete remember element from text and
// returns the cleaned text plus the extracted tags. Empty-bodied tags are
// stripped but not extracted.
func ExtractAndStrip(text string) (string, []Tag) {
	var tags []Tag
	clean := tagRe.ReplaceAllStringFunc(text, func(match string) string {
		sub := tagRe.FindStringSubmatch(match)
		if sub == nil {
			return ""
		}
		if t := parseTag(sub[1], sub[2]); t.Content != "" {
			tags = append(tags, t)
		}
		return ""
	})
	return clean, tags
}

// openToken is the prefix that marks a possible remember element.
const openToken = "<remember"

// TagStripper removes remember elements from a stream of text deltas. A tag
// may straddle delta boundaries, so text from a possible tag start onward is
// held back until the tag completes or is ruled out; no partial tag is ever
// emitted. Flush ends the block: complete tags are stripped whole and a
// dangling unterminated tag is dropped.
type TagStripper struct {
	pending string
	tags    []Tag
	dropped int
}

// Feed appends a delta and returns the text now safe to emit.
func (s *TagStripper) Feed(delta string) string {
	s.pending += delta
	return s.drain(true)
}

// Flush ends the block and returns the remaining emittable text.
func (s *TagStripper) Flush() string {
	return s.drain(false)
}

// Tags returns the tags extracted so far.
func (s *TagStripper) Tags() []Tag {
	return s.tags
}

// Dropped reports how many bytes of unterminated tag text were discarded.
func (s *TagStripper) Dropped() int {
	return s.dropped
}

func (s *TagStripper) drain(hold bool) string {
	var out strings.Builder
	for {
		i := candidateStart(s.pending)
		if i < 0 {
			out.WriteString(s.pending)
			s.pending = ""
			break
		}
		out.WriteString(s.pending[:i])
		s.pending = s.pending[i:]

		m := tagRe.FindStringSubmatchIndex(s.pending)
		if m == nil || m[0] != 0 {
			if hold {
				break // tag may complete with more input
			}
			s.dropped += len(s.pending)
			s.pending = ""
			break
		}
		s.collect(s.pending[:m[1]])
		s.pending = s.pending[m[1]:]
	}
	return out.String()
}

func (s *TagStripper) collect(match string) {
	sub := tagRe.FindStringSubmatch(match)
	if sub == nil {
		return
	}
	if t := parseTag(sub[1], sub[2]); t.Content != "" {
		s.tags = append(s.tags, t)
	}
}

// candidateStart finds the first position that could open a remember
// element: either a confirmed "<remember" followed by whitespace or '>', or
// a prefix of "<remember" truncated by the end of available text.
func candidateStart(text string) int {
	for i := 0; i < len(text); i++ {
		if text[i] != '<' {
			continue
		}
		tail := text[i:]
		if len(tail) < len(openToken) {
			if strings.EqualFold(tail, openToken[:len(tail)]) {
				return i
			}
			continue
		}
		if !strings.EqualFold(tail[:len(openToken)], openToken) {
			continue
		}
		if len(tail) == len(openToken) {
			return i // boundary exactly after "<remember"
		}
		switch tail[len(openToken)] {
		case ' ', '\t', '\n', '\r', '>':
			return i
		}
		// a longer word such as "<remembering"; not a tag
	}
	return -1
}
