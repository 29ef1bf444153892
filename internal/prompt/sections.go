package prompt

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/relay/internal/memory"
)

// Category places a section in the assembled prompt. Assembly order is the
// declaration order below, regardless of priority.
type Category int

const (
	CategoryMemory Category = iota
	CategoryInstruction
	CategoryEngineering
	CategoryEmphasis
	CategoryOriginal
)

func (c Category) String() string {
	switch c {
	case CategoryMemory:
		return "memory"
	case CategoryInstruction:
		return "instruction"
	case CategoryEngineering:
		return "engineering"
	case CategoryEmphasis:
		return "emphasis"
	case CategoryOriginal:
		return "original"
	default:
		return "unknown"
	}
}

// Priority controls which sections survive budget trimming. Lower priorities
// are trimmed first; Critical sections are never trimmed.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

// Section is one candidate block of the rewritten system prompt.
type Section struct {
	ID       string
	Category Category
	Priority Priority
	Tokens   int
	Text     string
}

// memoryInstructions teaches the model the <remember> tag protocol. The
// gateway strips the tags from the stream before they reach the client.
const memoryInstructions = `## Memory
When you learn a durable fact about the user or this project, record it by embedding a memory tag in your reply:
<remember scope="global" category="preference">the fact</remember>
Scopes: global (applies everywhere) or project (this codebase only).
Categories: preference, pattern, decision, architecture, knowledge, error, workflow, context, code.
Record sparingly; one tag per distinct fact. The tags are removed before the user sees your reply.`

// engineeringGuidance is the static engineering section.
const engineeringGuidance = `## Engineering practices
- Prefer small, verifiable changes over sweeping rewrites.
- State assumptions explicitly when the request is ambiguous.
- When editing code, preserve the surrounding style and conventions.`

// emphasisText holds per-task-type emphasis bodies.
var emphasisText = map[TaskType]string{
	TaskDebug:    "Focus on diagnosis before fixes: reproduce the failure, localize the fault, then propose the minimal correction.",
	TaskRefactor: "Preserve behavior exactly; call out any observable change. Keep each refactoring step independently verifiable.",
	TaskTest:     "Cover the boundary cases and failure paths, not just the happy path. Name tests after the behavior they pin.",
	TaskReview:   "Prioritize correctness and security findings over style. Point at specific lines and explain the consequence.",
	TaskExplain:  "Explain the why before the how. Ground the explanation in the specific code at hand, not generalities.",
	TaskCode:     "Write complete, working code matching the existing conventions. Handle the error paths.",
}

// buildMemorySection renders recalled memories into one section, or returns
// false when there is nothing to inject.
func buildMemorySection(results []memory.RecallResult) (Section, bool) {
	if len(results) == 0 {
		return Section{}, false
	}
	var b strings.Builder
	b.WriteString("## Relevant memories\n")
	for _, r := range results {
		fmt.Fprintf(&b, "- [%s] %s\n", r.Record.Category, r.Record.Content)
	}
	return Section{
		ID:       "memory.recall",
		Category: CategoryMemory,
		Priority: PriorityHigh,
		Text:     strings.TrimRight(b.String(), "\n"),
	}, true
}

func buildInstructionSection() Section {
	return Section{
		ID:       "instruction.memory-tags",
		Category: CategoryInstruction,
		Priority: PriorityMedium,
		Text:     memoryInstructions,
	}
}

func buildEngineeringSection() Section {
	return Section{
		ID:       "engineering.practices",
		Category: CategoryEngineering,
		Priority: PriorityLow,
		Text:     engineeringGuidance,
	}
}

// buildEmphasisSection returns task-type-conditioned emphasis; general
// requests get none.
func buildEmphasisSection(task TaskType) (Section, bool) {
	text, ok := emphasisText[task]
	if !ok {
		return Section{}, false
	}
	return Section{
		ID:       "emphasis." + string(task),
		Category: CategoryEmphasis,
		Priority: PriorityMedium,
		Text:     "## Current task\n" + text,
	}, true
}
