// Package plugins loads extension bundles from the plugins directory. Each
// plugin is a directory with a manifest declaring the hooks, skills,
// commands, and agent files it provides; the manager wires declared pieces
// into the hook and skill registries when the plugin is enabled.
package plugins

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	json5 "github.com/yosuke-furukawa/json5/encoding/json5"

	"github.com/haasonsaas/relay/internal/hooks"
)

// ManifestFilename is the manifest file expected in each plugin directory.
const ManifestFilename = "plugin.json"

// Manifest describes one plugin bundle.
type Manifest struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`

	// Hooks declares handlers this plugin subscribes.
	Hooks []HookSpec `json:"hooks,omitempty"`
	// Skills lists skill directories relative to the plugin root, each
	// containing a SKILL.md.
	Skills []string `json:"skills,omitempty"`
	// Commands lists command files relative to the plugin root.
	Commands []string `json:"commands,omitempty"`
	// Agents lists agent definition files. Agents are surfaced through the
	// API but never auto-registered into the request pipeline.
	Agents []string `json:"agents,omitempty"`

	// Dependencies names other plugins this one needs. Unresolved names are
	// logged after load; they never abort startup.
	Dependencies []string `json:"dependencies,omitempty"`

	// ConfigSchema is a JSON Schema for the Config block.
	ConfigSchema json.RawMessage `json:"configSchema,omitempty"`
	// Config is the plugin's configuration, validated against ConfigSchema.
	Config map[string]any `json:"config,omitempty"`
}

// HookSpec declares one hook subscription.
type HookSpec struct {
	Event    hooks.EventType `json:"event"`
	Name     string          `json:"name,omitempty"`
	Priority hooks.Priority  `json:"priority,omitempty"`
	// Handler names the handler file or builtin this spec binds to.
	Handler string `json:"handler,omitempty"`
}

// ParseManifestFile reads and validates a manifest. The file is parsed
// leniently, so comments and trailing commas are fine.
func ParseManifestFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json5.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks structural requirements.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("plugin name is required")
	}
	if m.Version == "" {
		return fmt.Errorf("plugin %s: version is required", m.Name)
	}
	for _, h := range m.Hooks {
		if !hooks.ValidEventType(h.Event) {
			return fmt.Errorf("plugin %s: unknown hook event %q", m.Name, h.Event)
		}
	}
	return nil
}

// ValidateConfig checks the Config block against ConfigSchema. A manifest
// without a schema accepts any config.
func (m *Manifest) ValidateConfig() error {
	if len(m.ConfigSchema) == 0 {
		return nil
	}
	schema, err := compileSchema(m.ConfigSchema)
	if err != nil {
		return fmt.Errorf("plugin %s: compile config schema: %w", m.Name, err)
	}

	// Round-trip through JSON so the validator sees plain decoded values.
	payload, err := json.Marshal(m.Config)
	if err != nil {
		return fmt.Errorf("plugin %s: encode config: %w", m.Name, err)
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("plugin %s: decode config: %w", m.Name, err)
	}
	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("plugin %s: config invalid: %w", m.Name, err)
	}
	return nil
}

var schemaCache sync.Map

func compileSchema(schema []byte) (*jsonschema.Schema, error) {
	key := string(schema)
	if cached, ok := schemaCache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}
	compiled, err := jsonschema.CompileString("plugin.schema.json", key)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}
