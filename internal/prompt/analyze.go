// Package prompt rewrites the system prompt before routing: it analyzes the
// incoming conversation, assembles prioritized context sections (recalled
// memories, memory-tag instructions, engineering guidance, task emphasis),
// and trims them to the token budget. Output is deterministic for a fixed
// input so identical requests produce identical prompts.
package prompt

import (
	"regexp"
	"sort"
	"strings"

	"github.com/haasonsaas/relay/pkg/models"
)

// TaskType classifies what the user is asking for.
type TaskType string

const (
	TaskCode     TaskType = "code"
	TaskDebug    TaskType = "debug"
	TaskRefactor TaskType = "refactor"
	TaskTest     TaskType = "test"
	TaskReview   TaskType = "review"
	TaskExplain  TaskType = "explain"
	TaskGeneral  TaskType = "general"
)

// Complexity grades the conversation.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

const (
	// complexLengthThreshold promotes to complex when any message content
	// exceeds it; exactly this length stays moderate at most.
	complexLengthThreshold = 500
	// moderateTurnThreshold promotes to moderate at this many turns.
	moderateTurnThreshold = 4
	// minKeywordLength filters short tokens out of keyword extraction.
	minKeywordLength = 4
	// maxKeywords bounds the extracted keyword list.
	maxKeywords = 10
)

// Analysis is the request classification the builder and agents key off.
type Analysis struct {
	TaskType   TaskType   `json:"taskType"`
	Complexity Complexity `json:"complexity"`
	Keywords   []string   `json:"keywords,omitempty"`
	Entities   []string   `json:"entities,omitempty"`
}

// taskKeywords maps match terms to task types; earlier entries win.
var taskKeywords = []struct {
	task  TaskType
	terms []string
}{
	{TaskDebug, []string{"debug", "error", "bug", "fix", "crash", "broken", "fails", "failing", "exception", "stack trace"}},
	{TaskRefactor, []string{"refactor", "restructure", "clean up", "cleanup", "simplify", "extract", "rename"}},
	{TaskTest, []string{"test", "tests", "testing", "unit test", "coverage", "spec"}},
	{TaskReview, []string{"review", "feedback", "critique", "audit", "check my"}},
	{TaskExplain, []string{"explain", "what does", "what is", "how does", "why does", "understand", "describe"}},
	{TaskCode, []string{"implement", "write", "create", "add", "build", "function", "class", "method", "code"}},
}

var (
	// filePathRe matches path-shaped tokens with an extension.
	filePathRe = regexp.MustCompile(`[\w./-]+\.\w{1,10}\b`)
	// camelCaseRe matches CamelCase identifiers of at least two words.
	camelCaseRe = regexp.MustCompile(`\b[A-Z][a-z0-9]+(?:[A-Z][a-z0-9]+)+\b`)
	wordRe      = regexp.MustCompile(`[a-zA-Z_][a-zA-Z0-9_]*`)
)

// stoplist drops common English words from keyword extraction.
var stoplist = map[string]bool{
	"this": true, "that": true, "with": true, "from": true, "have": true,
	"what": true, "when": true, "where": true, "which": true, "would": true,
	"could": true, "should": true, "about": true, "there": true, "their": true,
	"them": true, "then": true, "than": true, "will": true, "your": true,
	"please": true, "need": true, "want": true, "like": true, "just": true,
	"some": true, "here": true, "into": true, "does": true, "make": true,
	"using": true, "also": true, "only": true, "very": true, "more": true,
}

// Analyze classifies the conversation from its last user message.
func Analyze(messages []models.Message) Analysis {
	a := Analysis{TaskType: TaskGeneral, Complexity: ComplexitySimple}

	var lastUser *models.Message
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleUser {
			lastUser = &messages[i]
			break
		}
	}
	if lastUser == nil {
		return a
	}
	text := lastUser.Content.PlainText()
	lower := strings.ToLower(text)

	a.TaskType = classifyTask(lower)
	a.Complexity = classifyComplexity(messages)
	a.Keywords = extractKeywords(lower)
	a.Entities = extractEntities(text)
	return a
}

func classifyTask(lower string) TaskType {
	for _, tk := range taskKeywords {
		for _, term := range tk.terms {
			if strings.Contains(lower, term) {
				return tk.task
			}
		}
	}
	return TaskGeneral
}

// classifyComplexity grades by turn count and longest message content.
// Length strictly over the threshold means complex; the turn threshold or
// exactly threshold-length content means moderate.
func classifyComplexity(messages []models.Message) Complexity {
	longest := 0
	for i := range messages {
		if n := len(messages[i].Content.PlainText()); n > longest {
			longest = n
		}
	}
	if longest > complexLengthThreshold {
		return ComplexityComplex
	}
	if len(messages) >= moderateTurnThreshold || longest == complexLengthThreshold {
		return ComplexityModerate
	}
	return ComplexitySimple
}

// extractKeywords returns lowercased tokens of at least four characters,
// stoplist excluded, deduplicated in first-seen order.
func extractKeywords(lower string) []string {
	seen := make(map[string]bool)
	var keywords []string
	for _, word := range wordRe.FindAllString(lower, -1) {
		if len(word) < minKeywordLength || stoplist[word] || seen[word] {
			continue
		}
		seen[word] = true
		keywords = append(keywords, word)
		if len(keywords) >= maxKeywords {
			break
		}
	}
	return keywords
}

// extractEntities returns file paths and CamelCase identifiers, deduplicated
// and sorted for determinism.
func extractEntities(text string) []string {
	seen := make(map[string]bool)
	var entities []string
	add := func(matches []string) {
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				entities = append(entities, m)
			}
		}
	}
	add(filePathRe.FindAllString(text, -1))
	add(camelCaseRe.FindAllString(text, -1))
	sort.Strings(entities)
	return entities
}
