package prompt

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/haasonsaas/relay/internal/memory"
	"github.com/haasonsaas/relay/internal/tokens"
	"github.com/haasonsaas/relay/pkg/models"
)

// defaultReserve holds back budget for the model's response when the caller
// does not say how much to reserve.
const defaultReserve = 4096

// Builder assembles the rewritten system prompt. Memory may be nil; the
// builder then skips memory sections entirely.
type Builder struct {
	mem     *memory.Service
	counter *tokens.Counter
	logger  *slog.Logger
}

// NewBuilder creates a builder. counter may be nil, which degrades token
// estimates to the character heuristic.
func NewBuilder(mem *memory.Service, counter *tokens.Counter, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{mem: mem, counter: counter, logger: logger.With("component", "prompt")}
}

// Input is one build request.
type Input struct {
	System      models.SystemPrompt
	Messages    []models.Message
	ProjectPath string
	// MaxTokens is the model context budget; zero disables trimming.
	MaxTokens int
	// ReserveForResponse is subtracted from MaxTokens before trimming.
	ReserveForResponse int
	// MemoryEnabled gates recall and the memory-tag instruction section.
	MemoryEnabled bool
	// RecallLimit caps injected memories (default 5).
	RecallLimit int
}

// Result carries the rewritten prompt and what went into it.
type Result struct {
	System   models.SystemPrompt
	Analysis Analysis
	Sections []Section
	Trimmed  []string
	// Overflow is set when even the untrimmable sections exceed the budget;
	// the prompt is still returned.
	Overflow bool
}

// Build analyzes the conversation, gathers sections, applies the token
// budget, and assembles the final prompt in fixed category order.
func (b *Builder) Build(ctx context.Context, in Input) Result {
	analysis := Analyze(in.Messages)
	sections := b.gather(ctx, in, analysis)

	budget := 0
	if in.MaxTokens > 0 {
		reserve := in.ReserveForResponse
		if reserve <= 0 {
			reserve = defaultReserve
		}
		budget = in.MaxTokens - reserve
	}
	sections, trimmed, overflow := applyBudget(sections, budget)

	result := Result{
		Analysis: analysis,
		Sections: sections,
		Trimmed:  trimmed,
		Overflow: overflow,
	}
	result.System.SetText(assemble(sections))
	return result
}

// gather builds every candidate section. The original system prompt becomes
// a Critical section so trimming can never drop the caller's own prompt.
func (b *Builder) gather(ctx context.Context, in Input, analysis Analysis) []Section {
	var sections []Section

	if in.MemoryEnabled && b.mem != nil {
		if sec, ok := b.recallSection(ctx, in, analysis); ok {
			sections = append(sections, sec)
		}
		sections = append(sections, buildInstructionSection())
	}
	sections = append(sections, buildEngineeringSection())
	if sec, ok := buildEmphasisSection(analysis.TaskType); ok {
		sections = append(sections, sec)
	}
	if !in.System.IsEmpty() {
		sections = append(sections, Section{
			ID:       "original.system",
			Category: CategoryOriginal,
			Priority: PriorityCritical,
			Text:     in.System.Joined(),
		})
	}

	for i := range sections {
		sections[i].Tokens = b.estimate(sections[i].Text)
	}
	return sections
}

// recallSection queries memory with the analyzed keywords. Recall failures
// only log; a missing memory section must never fail the request.
func (b *Builder) recallSection(ctx context.Context, in Input, analysis Analysis) (Section, bool) {
	query := strings.Join(analysis.Keywords, " ")
	if query == "" {
		if last := lastUserText(in.Messages); last != "" {
			query = last
		} else {
			return Section{}, false
		}
	}
	limit := in.RecallLimit
	if limit <= 0 {
		limit = 5
	}
	scope := memory.RecallGlobal
	if in.ProjectPath != "" {
		scope = memory.RecallBoth
	}
	results, err := b.mem.Recall(ctx, memory.RecallQuery{
		Query:       query,
		Scope:       scope,
		ProjectPath: in.ProjectPath,
		Limit:       limit,
	})
	if err != nil {
		b.logger.Warn("memory recall failed, skipping section", "error", err)
		return Section{}, false
	}
	return buildMemorySection(results)
}

// applyBudget trims sections in ascending priority order until the total
// fits. Within a priority, later declarations are trimmed first. Critical
// sections survive regardless; if they alone exceed the budget the overflow
// flag is set.
func applyBudget(sections []Section, budget int) (kept []Section, trimmed []string, overflow bool) {
	if budget <= 0 {
		return sections, nil, false
	}
	total := 0
	for _, s := range sections {
		total += s.Tokens
	}
	if total <= budget {
		return sections, nil, false
	}

	// Trim order: priority ascending, then declaration order descending.
	order := make([]int, len(sections))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		pa, pb := sections[order[a]].Priority, sections[order[b]].Priority
		if pa != pb {
			return pa < pb
		}
		return order[a] > order[b]
	})

	drop := make(map[int]bool)
	for _, idx := range order {
		if total <= budget {
			break
		}
		if sections[idx].Priority == PriorityCritical {
			continue
		}
		drop[idx] = true
		trimmed = append(trimmed, sections[idx].ID)
		total -= sections[idx].Tokens
	}

	kept = make([]Section, 0, len(sections)-len(drop))
	for i, s := range sections {
		if !drop[i] {
			kept = append(kept, s)
		}
	}
	return kept, trimmed, total > budget
}

// assemble joins sections in category order, preserving declaration order
// within a category.
func assemble(sections []Section) string {
	var parts []string
	for _, cat := range []Category{CategoryMemory, CategoryInstruction, CategoryEngineering, CategoryEmphasis, CategoryOriginal} {
		for _, s := range sections {
			if s.Category == cat && s.Text != "" {
				parts = append(parts, s.Text)
			}
		}
	}
	return strings.Join(parts, "\n\n")
}

func (b *Builder) estimate(text string) int {
	if b.counter != nil {
		return b.counter.CountText(text)
	}
	return tokens.Estimate(text)
}

func lastUserText(messages []models.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleUser {
			return messages[i].Content.PlainText()
		}
	}
	return ""
}
