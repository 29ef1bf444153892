package skills

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// skillFilename is the definition file expected in each skill directory.
const skillFilename = "SKILL.md"

// watchDebounce batches rapid filesystem events into one reload.
const watchDebounce = 250 * time.Millisecond

// frontmatter is the YAML header of a SKILL.md file.
type frontmatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	// Trigger is a literal prefix; TriggerRegex takes precedence when set.
	Trigger      string `yaml:"trigger"`
	TriggerRegex string `yaml:"triggerRegex"`
	TimeoutMs    int    `yaml:"timeoutMs"`
}

// ParseSkillFile reads a SKILL.md and builds a file-backed skill whose
// handler returns the markdown body with {baseDir} expanded.
func ParseSkillFile(path string) (*Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read skill: %w", err)
	}
	header, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	var fm frontmatter
	if err := yaml.Unmarshal(header, &fm); err != nil {
		return nil, fmt.Errorf("%s: parse frontmatter: %w", path, err)
	}
	if fm.Name == "" {
		return nil, fmt.Errorf("%s: skill name is required", path)
	}
	if err := validateName(fm.Name); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if fm.Description == "" {
		return nil, fmt.Errorf("%s: skill description is required", path)
	}

	var trigger Trigger
	switch {
	case fm.TriggerRegex != "":
		trigger, err = RegexTrigger(fm.TriggerRegex)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	case fm.Trigger != "":
		trigger = PrefixTrigger(fm.Trigger)
	default:
		// Fall back to a "/name" command prefix.
		trigger = PrefixTrigger("/" + fm.Name)
	}

	baseDir := filepath.Dir(path)
	content := strings.ReplaceAll(strings.TrimSpace(string(body)), "{baseDir}", baseDir)

	s := &Skill{
		Name:        fm.Name,
		Description: fm.Description,
		Trigger:     trigger,
		Timeout:     time.Duration(fm.TimeoutMs) * time.Millisecond,
		Source:      baseDir,
		Content:     content,
		Handler: func(ctx context.Context, inv Invocation) (*Result, error) {
			return &Result{Output: content}, nil
		},
	}
	return s, nil
}

func splitFrontmatter(data []byte) (header, body []byte, err error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	if !scanner.Scan() || strings.TrimSpace(scanner.Text()) != "---" {
		return nil, nil, fmt.Errorf("missing opening frontmatter delimiter")
	}
	var headerLines, bodyLines []string
	closed := false
	for scanner.Scan() {
		line := scanner.Text()
		if !closed && strings.TrimSpace(line) == "---" {
			closed = true
			continue
		}
		if closed {
			bodyLines = append(bodyLines, line)
		} else {
			headerLines = append(headerLines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	if !closed {
		return nil, nil, fmt.Errorf("missing closing frontmatter delimiter")
	}
	return []byte(strings.Join(headerLines, "\n")), []byte(strings.Join(bodyLines, "\n")), nil
}

func validateName(name string) error {
	for _, r := range name {
		if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-') {
			return fmt.Errorf("name must be lowercase alphanumeric with hyphens: got %q", name)
		}
	}
	return nil
}

// Loader discovers file-backed skills under a directory and keeps them
// registered, optionally reloading on filesystem changes.
type Loader struct {
	dir      string
	registry *Registry
	logger   *slog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewLoader builds a loader for dir feeding registry.
func NewLoader(dir string, registry *Registry, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		dir:      dir,
		registry: registry,
		logger:   logger.With("component", "skills"),
	}
}

// Load scans the skills directory once. Each immediate subdirectory holding
// a SKILL.md becomes one skill. Malformed skills are logged and skipped.
func (l *Loader) Load() error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read skills dir: %w", err)
	}
	loaded := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(l.dir, entry.Name(), skillFilename)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		s, err := ParseSkillFile(path)
		if err != nil {
			l.logger.Warn("skipping malformed skill", "path", path, "error", err)
			continue
		}
		if err := l.registry.Register(s); err != nil {
			l.logger.Warn("skill rejected", "name", s.Name, "error", err)
			continue
		}
		loaded++
	}
	l.logger.Info("skills loaded", "dir", l.dir, "count", loaded)
	return nil
}

// Watch reloads the directory on changes until ctx is cancelled or Close is
// called. Events are debounced.
func (l *Loader) Watch(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.watcher != nil {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(l.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", l.dir, err)
	}
	// Watch existing skill subdirectories too; SKILL.md edits land there.
	if entries, err := os.ReadDir(l.dir); err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				_ = watcher.Add(filepath.Join(l.dir, entry.Name()))
			}
		}
	}

	watchCtx, cancel := context.WithCancel(ctx)
	l.watcher = watcher
	l.cancel = cancel
	l.wg.Add(1)
	go l.watchLoop(watchCtx, watcher)
	return nil
}

// Close stops watching.
func (l *Loader) Close() error {
	l.mu.Lock()
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	watcher := l.watcher
	l.watcher = nil
	l.mu.Unlock()
	if watcher != nil {
		_ = watcher.Close()
	}
	l.wg.Wait()
	return nil
}

func (l *Loader) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer l.wg.Done()

	var mu sync.Mutex
	var timer *time.Timer
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(watchDebounce, func() {
			if err := l.Load(); err != nil {
				l.logger.Warn("skill reload failed", "error", err)
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = watcher.Add(event.Name)
				}
			}
			scheduleReload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.Warn("skill watch error", "error", err)
		}
	}
}
