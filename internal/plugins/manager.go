package plugins

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/relay/internal/errdefs"
	"github.com/haasonsaas/relay/internal/hooks"
	"github.com/haasonsaas/relay/internal/skills"
)

// Plugin is one loaded bundle.
type Plugin struct {
	Manifest Manifest  `json:"manifest"`
	Dir      string    `json:"dir"`
	Enabled  bool      `json:"enabled"`
	LoadedAt time.Time `json:"loaded_at"`
	// MissingDeps lists dependency names that resolved to nothing.
	MissingDeps []string `json:"missing_deps,omitempty"`
	// hookIDs tracks registrations for teardown on disable.
	hookIDs []string
}

// HookBinder resolves a declared hook spec to an executable handler. The
// manager has no hook runtime of its own; the caller supplies one.
// CommandBinder is the standard implementation.
type HookBinder func(plugin *Plugin, spec HookSpec) (hooks.Handler, error)

// Manager loads plugins and wires their pieces into the registries.
type Manager struct {
	dir      string
	hooks    *hooks.Registry
	skills   *skills.Registry
	binder   HookBinder
	logger   *slog.Logger

	mu      sync.Mutex
	plugins map[string]*Plugin
}

// NewManager builds a manager over dir. hookReg, skillReg, and binder may
// be nil; the corresponding declarations then load as inert metadata.
func NewManager(dir string, hookReg *hooks.Registry, skillReg *skills.Registry, binder HookBinder, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		dir:     dir,
		hooks:   hookReg,
		skills:  skillReg,
		binder:  binder,
		logger:  logger.With("component", "plugins"),
		plugins: make(map[string]*Plugin),
	}
}

// LoadAll scans the plugins directory, loads every valid manifest, enables
// the plugins, then validates cross-plugin dependencies. A broken plugin is
// logged and skipped; a missing directory loads nothing.
func (m *Manager) LoadAll() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errdefs.Wrap(errdefs.PluginLoadFailed, "read plugins directory", err).
			WithComponent("plugins")
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(m.dir, entry.Name())
		if _, err := os.Stat(filepath.Join(dir, ManifestFilename)); err != nil {
			continue
		}
		if err := m.Load(dir); err != nil {
			m.logger.Warn("skipping plugin", "dir", dir, "error", err)
		}
	}

	m.validateDependencies()
	return nil
}

// Load loads and enables a single plugin directory.
func (m *Manager) Load(dir string) error {
	manifest, err := ParseManifestFile(filepath.Join(dir, ManifestFilename))
	if err != nil {
		return errdefs.Wrap(errdefs.PluginLoadFailed, "load plugin", err).
			WithComponent("plugins").
			WithDetail("dir", dir)
	}
	if err := manifest.ValidateConfig(); err != nil {
		return errdefs.Wrap(errdefs.PluginLoadFailed, "plugin config rejected", err).
			WithComponent("plugins").
			WithDetail("plugin", manifest.Name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.plugins[manifest.Name]; exists {
		return errdefs.Newf(errdefs.PluginLoadFailed, "duplicate plugin name %q", manifest.Name).
			WithComponent("plugins")
	}

	p := &Plugin{
		Manifest: *manifest,
		Dir:      dir,
		LoadedAt: time.Now(),
	}
	m.plugins[manifest.Name] = p
	m.enableLocked(p)
	m.logger.Info("plugin loaded", "name", manifest.Name, "version", manifest.Version,
		"hooks", len(manifest.Hooks), "skills", len(manifest.Skills))
	return nil
}

// Enable wires a disabled plugin's hooks and skills back in.
func (m *Manager) Enable(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plugins[name]
	if !ok {
		return errdefs.Newf(errdefs.PluginLoadFailed, "unknown plugin %q", name).
			WithComponent("plugins")
	}
	if p.Enabled {
		return nil
	}
	m.enableLocked(p)
	return nil
}

// Disable unregisters a plugin's hooks and skills. The plugin stays loaded.
func (m *Manager) Disable(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plugins[name]
	if !ok {
		return errdefs.Newf(errdefs.PluginLoadFailed, "unknown plugin %q", name).
			WithComponent("plugins")
	}
	if !p.Enabled {
		return nil
	}
	if m.hooks != nil {
		for _, id := range p.hookIDs {
			m.hooks.Unregister(id)
		}
	}
	p.hookIDs = nil
	if m.skills != nil {
		m.skills.UnregisterSource(sourceName(p))
	}
	p.Enabled = false
	m.logger.Info("plugin disabled", "name", name)
	return nil
}

// Get returns a loaded plugin by name.
func (m *Manager) Get(name string) (*Plugin, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plugins[name]
	return p, ok
}

// List returns loaded plugins sorted by name.
func (m *Manager) List() []*Plugin {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Plugin, 0, len(m.plugins))
	for _, p := range m.plugins {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Manifest.Name < out[j].Manifest.Name })
	return out
}

// enableLocked registers the plugin's declarations. Failures on individual
// pieces are logged and skipped so one bad file never sinks the plugin.
func (m *Manager) enableLocked(p *Plugin) {
	source := sourceName(p)

	if m.hooks != nil {
		for _, spec := range p.Manifest.Hooks {
			handler, err := m.bindHook(p, spec)
			if err != nil {
				m.logger.Warn("plugin hook not bound",
					"plugin", p.Manifest.Name, "event", spec.Event, "error", err)
				continue
			}
			id, err := m.hooks.Register(spec.Event, handler,
				hooks.WithName(spec.Name),
				hooks.WithSource(source),
				hooks.WithPriority(spec.Priority))
			if err != nil {
				m.logger.Warn("plugin hook rejected",
					"plugin", p.Manifest.Name, "event", spec.Event, "error", err)
				continue
			}
			p.hookIDs = append(p.hookIDs, id)
		}
	}

	if m.skills != nil {
		for _, rel := range p.Manifest.Skills {
			path := filepath.Join(p.Dir, rel, "SKILL.md")
			s, err := skills.ParseSkillFile(path)
			if err != nil {
				m.logger.Warn("plugin skill not loaded",
					"plugin", p.Manifest.Name, "path", path, "error", err)
				continue
			}
			s.Source = source
			if err := m.skills.Register(s); err != nil {
				m.logger.Warn("plugin skill rejected",
					"plugin", p.Manifest.Name, "name", s.Name, "error", err)
			}
		}
	}

	p.Enabled = true
}

func (m *Manager) bindHook(p *Plugin, spec HookSpec) (hooks.Handler, error) {
	if m.binder == nil {
		return nil, fmt.Errorf("no hook binder configured")
	}
	return m.binder(p, spec)
}

// validateDependencies checks every plugin's dependency names against the
// loaded set. Unresolved names are recorded and logged, never fatal.
func (m *Manager) validateDependencies() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.plugins {
		p.MissingDeps = nil
		for _, dep := range p.Manifest.Dependencies {
			if _, ok := m.plugins[dep]; !ok {
				p.MissingDeps = append(p.MissingDeps, dep)
			}
		}
		if len(p.MissingDeps) > 0 {
			m.logger.Warn("plugin has unresolved dependencies",
				"plugin", p.Manifest.Name, "missing", p.MissingDeps)
		}
	}
}

func sourceName(p *Plugin) string {
	return "plugin:" + p.Manifest.Name
}
