// Package config owns the gateway configuration document: the provider
// list, the routing table, and the memory, sub-agent, and extension blocks.
// Field names mirror the on-disk config.json keys.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// AppDirName is the directory under the user home that holds all state.
const AppDirName = ".relay"

// Config is the full configuration document.
type Config struct {
	Host         string `json:"HOST,omitempty"`
	Port         int    `json:"PORT,omitempty"`
	APIKey       string `json:"APIKEY,omitempty"`
	APITimeoutMs int    `json:"API_TIMEOUT_MS,omitempty"`

	Providers []Provider     `json:"Providers,omitempty"`
	Router    RouterConfig   `json:"Router,omitempty"`
	Memory    MemoryConfig   `json:"Memory,omitempty"`
	SubAgent  SubAgentConfig `json:"SubAgent,omitempty"`
	Hooks     FeatureConfig  `json:"Hooks,omitempty"`
	Plugins   FeatureConfig  `json:"Plugins,omitempty"`
	Skills    FeatureConfig  `json:"Skills,omitempty"`
}

// Provider is one configured upstream endpoint.
type Provider struct {
	Name         string   `json:"name"`
	APIBaseURL   string   `json:"api_base_url"`
	APIKey       string   `json:"api_key,omitempty"`
	Models       []string `json:"models,omitempty"`
	Transformers []string `json:"transformers,omitempty"`
}

// RouterConfig is the routing table. Each route is a "provider,model" pair;
// empty routes fall through to the default.
type RouterConfig struct {
	Default              string `json:"default,omitempty"`
	Background           string `json:"background,omitempty"`
	Think                string `json:"think,omitempty"`
	LongContext          string `json:"longContext,omitempty"`
	LongContextThreshold int    `json:"longContextThreshold,omitempty"`
	WebSearch            string `json:"webSearch,omitempty"`
	Image                string `json:"image,omitempty"`
}

// MemoryConfig controls the memory subsystem.
type MemoryConfig struct {
	Enabled   bool            `json:"enabled,omitempty"`
	DBPath    string          `json:"dbPath,omitempty"`
	Embedding EmbeddingConfig `json:"embedding,omitempty"`
	// AutoInjectGlobalLimit caps recalled global memories per request.
	AutoInjectGlobalLimit int `json:"autoInjectGlobalLimit,omitempty"`
	// AutoInjectProjectLimit caps recalled project memories per request.
	AutoInjectProjectLimit int             `json:"autoInjectProjectLimit,omitempty"`
	Retention              RetentionConfig `json:"retention,omitempty"`
}

// EmbeddingConfig selects the embedding provider.
type EmbeddingConfig struct {
	Provider string `json:"provider,omitempty"`
	APIKey   string `json:"apiKey,omitempty"`
	BaseURL  string `json:"baseUrl,omitempty"`
	Model    string `json:"model,omitempty"`
}

// RetentionConfig tunes the cleanup sweep. Records are deleted only when
// importance, age, and access count all cross their thresholds.
type RetentionConfig struct {
	MinImportance float64 `json:"minImportance,omitempty"`
	MaxAgeDays    int     `json:"maxAgeDays,omitempty"`
	// Schedule is a cron expression; empty disables the sweep.
	Schedule string `json:"schedule,omitempty"`
}

// SubAgentConfig controls recursive sub-agent spawning.
type SubAgentConfig struct {
	Enabled          bool     `json:"enabled,omitempty"`
	MaxDepth         int      `json:"maxDepth,omitempty"`
	InheritMemory    bool     `json:"inheritMemory,omitempty"`
	DefaultTimeoutMs int      `json:"defaultTimeout,omitempty"`
	AllowedTypes     []string `json:"allowedTypes,omitempty"`
}

// FeatureConfig is the shared shape of the hook, plugin, and skill blocks.
type FeatureConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Dir     string `json:"dir,omitempty"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Host:         "127.0.0.1",
		Port:         3456,
		APITimeoutMs: 120000,
		Router: RouterConfig{
			LongContextThreshold: 60000,
		},
		Memory: MemoryConfig{
			AutoInjectGlobalLimit:  5,
			AutoInjectProjectLimit: 5,
			Retention: RetentionConfig{
				MinImportance: 0.3,
				MaxAgeDays:    90,
			},
		},
		SubAgent: SubAgentConfig{
			Enabled:          true,
			MaxDepth:         3,
			InheritMemory:    true,
			DefaultTimeoutMs: 120000,
			AllowedTypes:     []string{"research", "code", "review"},
		},
	}
}

// applyDefaults fills zero-valued fields after load.
func (c *Config) applyDefaults() {
	def := Default()
	if c.Host == "" {
		c.Host = def.Host
	}
	if c.Port == 0 {
		c.Port = def.Port
	}
	if c.APITimeoutMs == 0 {
		c.APITimeoutMs = def.APITimeoutMs
	}
	if c.Router.LongContextThreshold == 0 {
		c.Router.LongContextThreshold = def.Router.LongContextThreshold
	}
	if c.Memory.AutoInjectGlobalLimit == 0 {
		c.Memory.AutoInjectGlobalLimit = def.Memory.AutoInjectGlobalLimit
	}
	if c.Memory.AutoInjectProjectLimit == 0 {
		c.Memory.AutoInjectProjectLimit = def.Memory.AutoInjectProjectLimit
	}
	if c.Memory.Retention.MinImportance == 0 {
		c.Memory.Retention.MinImportance = def.Memory.Retention.MinImportance
	}
	if c.Memory.Retention.MaxAgeDays == 0 {
		c.Memory.Retention.MaxAgeDays = def.Memory.Retention.MaxAgeDays
	}
	if c.SubAgent.MaxDepth == 0 {
		c.SubAgent.MaxDepth = def.SubAgent.MaxDepth
	}
	if c.SubAgent.DefaultTimeoutMs == 0 {
		c.SubAgent.DefaultTimeoutMs = def.SubAgent.DefaultTimeoutMs
	}
	if len(c.SubAgent.AllowedTypes) == 0 {
		c.SubAgent.AllowedTypes = def.SubAgent.AllowedTypes
	}
}

// FindProvider returns the provider with the given name.
func (c *Config) FindProvider(name string) (*Provider, bool) {
	for i := range c.Providers {
		if c.Providers[i].Name == name {
			return &c.Providers[i], true
		}
	}
	return nil, false
}

// HasModel reports whether the named provider lists the model.
func (c *Config) HasModel(provider, model string) bool {
	p, ok := c.FindProvider(provider)
	if !ok {
		return false
	}
	for _, m := range p.Models {
		if m == model {
			return true
		}
	}
	return false
}

// ParseRoute splits a "provider,model" route value. The model part may
// itself contain commas.
func ParseRoute(route string) (provider, model string, ok bool) {
	idx := strings.Index(route, ",")
	if idx <= 0 || idx == len(route)-1 {
		return "", "", false
	}
	return route[:idx], route[idx+1:], true
}

// AppDir returns the state directory, creating nothing.
func AppDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, AppDirName), nil
}

// Paths inside the app directory.
func ConfigPath(appDir string) string   { return filepath.Join(appDir, "config.json") }
func MemoryDBPath(appDir string) string { return filepath.Join(appDir, "memory.db") }
func PluginsDir(appDir string) string   { return filepath.Join(appDir, "plugins") }
func SkillsDir(appDir string) string    { return filepath.Join(appDir, "skills") }
func HooksDir(appDir string) string     { return filepath.Join(appDir, "hooks") }
func CommandsDir(appDir string) string  { return filepath.Join(appDir, "commands") }
func LogsDir(appDir string) string      { return filepath.Join(appDir, "logs") }
func PIDPath(appDir string) string      { return filepath.Join(appDir, "relay.pid") }
func OverridesDir(appDir string) string { return filepath.Join(appDir, "router-overrides") }
