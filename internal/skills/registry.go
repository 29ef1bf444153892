package skills

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/relay/internal/errdefs"
)

// Registry holds skills in registration order.
type Registry struct {
	mu     sync.RWMutex
	skills []*Skill
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger.With("component", "skills")}
}

// Register appends a skill. Names must be unique; a duplicate name replaces
// the earlier registration in place, keeping its match position.
func (r *Registry) Register(s *Skill) error {
	if s.Name == "" {
		return errdefs.New(errdefs.SkillExecutionFailed, "skill name is required").
			WithComponent("skills")
	}
	if s.Handler == nil {
		return errdefs.Newf(errdefs.SkillExecutionFailed, "skill %s has no handler", s.Name).
			WithComponent("skills")
	}
	if s.Trigger.Prefix == "" && s.Trigger.Pattern == nil {
		return errdefs.Newf(errdefs.SkillExecutionFailed, "skill %s has no trigger", s.Name).
			WithComponent("skills")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.skills {
		if existing.Name == s.Name {
			r.skills[i] = s
			r.logger.Debug("skill replaced", "name", s.Name, "trigger", s.Trigger.String())
			return nil
		}
	}
	r.skills = append(r.skills, s)
	r.logger.Debug("skill registered", "name", s.Name, "trigger", s.Trigger.String())
	return nil
}

// Unregister removes a skill by name.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.skills {
		if s.Name == name {
			r.skills = append(r.skills[:i:i], r.skills[i+1:]...)
			return true
		}
	}
	return false
}

// UnregisterSource removes every skill from the given source.
func (r *Registry) UnregisterSource(source string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.skills[:0]
	removed := 0
	for _, s := range r.skills {
		if s.Source == source {
			removed++
			continue
		}
		kept = append(kept, s)
	}
	r.skills = kept
	return removed
}

// List returns the skills in registration order.
func (r *Registry) List() []*Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Skill, len(r.skills))
	copy(out, r.skills)
	return out
}

// Match returns the first skill whose trigger fires for input.
func (r *Registry) Match(input string) (*Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.skills {
		if s.Trigger.Matches(input) {
			return s, true
		}
	}
	return nil, false
}

// Execute matches input against the registry and runs the winning skill
// under its timeout. Returns (nil, nil) when no skill matches.
func (r *Registry) Execute(ctx context.Context, input, sessionID, projectPath string) (*Result, error) {
	s, ok := r.Match(input)
	if !ok {
		return nil, nil
	}

	inv := Invocation{
		Input:       input,
		Args:        input,
		SessionID:   sessionID,
		ProjectPath: projectPath,
	}
	if s.Trigger.Prefix != "" {
		inv.Args = strings.TrimSpace(strings.TrimPrefix(input, s.Trigger.Prefix))
	}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	res, err := s.Handler(ctx, inv)
	elapsed := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errdefs.Wrap(errdefs.SkillExecutionFailed, "skill "+s.Name+" timed out", err).
				WithComponent("skills").
				WithDetail("timeout", timeout.String())
		}
		return nil, errdefs.Wrap(errdefs.SkillExecutionFailed, "skill "+s.Name+" failed", err).
			WithComponent("skills")
	}
	if res == nil {
		res = &Result{}
	}
	res.Skill = s.Name
	res.Duration = elapsed
	r.logger.Debug("skill executed", "name", s.Name, "duration", elapsed)
	return res, nil
}
