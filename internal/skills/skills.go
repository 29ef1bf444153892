// Package skills implements trigger-matched user commands. A skill fires
// when the user's input matches its trigger, either a literal prefix or a
// regular expression. Matching walks skills in registration order and the
// first match wins.
package skills

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// defaultTimeout bounds one skill execution.
const defaultTimeout = 30 * time.Second

// Trigger decides whether a skill fires for a given input.
type Trigger struct {
	// Prefix matches when the input starts with this literal.
	Prefix string
	// Pattern matches by regex when Prefix is empty.
	Pattern *regexp.Regexp
}

// Matches reports whether input fires this trigger.
func (t Trigger) Matches(input string) bool {
	if t.Prefix != "" {
		return strings.HasPrefix(input, t.Prefix)
	}
	if t.Pattern != nil {
		return t.Pattern.MatchString(input)
	}
	return false
}

func (t Trigger) String() string {
	if t.Prefix != "" {
		return "prefix:" + t.Prefix
	}
	if t.Pattern != nil {
		return "regex:" + t.Pattern.String()
	}
	return "none"
}

// PrefixTrigger builds a literal-prefix trigger.
func PrefixTrigger(prefix string) Trigger {
	return Trigger{Prefix: prefix}
}

// RegexTrigger compiles a regex trigger.
func RegexTrigger(pattern string) (Trigger, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Trigger{}, fmt.Errorf("compile trigger %q: %w", pattern, err)
	}
	return Trigger{Pattern: re}, nil
}

// Invocation carries the matched input to the handler.
type Invocation struct {
	// Input is the full user input that matched.
	Input string
	// Args is the input with a literal prefix stripped, trimmed. For regex
	// triggers it equals Input.
	Args        string
	SessionID   string
	ProjectPath string
}

// Result is a skill's structured outcome.
type Result struct {
	Skill    string         `json:"skill"`
	Output   string         `json:"output,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	Duration time.Duration  `json:"duration_ns"`
}

// HandlerFunc executes one skill invocation.
type HandlerFunc func(ctx context.Context, inv Invocation) (*Result, error)

// Skill is one registered command.
type Skill struct {
	Name        string
	Description string
	Trigger     Trigger
	// Timeout defaults to 30s when zero.
	Timeout time.Duration
	Handler HandlerFunc
	// Source names where the skill came from (builtin, a plugin, a
	// directory path).
	Source string
	// Content is the markdown body for file-backed skills.
	Content string `json:"-"`
}
