package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadJSON5(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
		// local dev setup
		"PORT": 4000,
		"APIKEY": "secret",
		"Providers": [
			{"name": "openai", "api_base_url": "https://api.openai.com/v1", "models": ["gpt-x"],},
		],
		"Router": {"default": "openai,gpt-x", "longContextThreshold": 100000},
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 4000 || cfg.APIKey != "secret" {
		t.Errorf("top-level fields %+v", cfg)
	}
	if !cfg.HasModel("openai", "gpt-x") {
		t.Error("provider model list not parsed")
	}
	if cfg.Router.LongContextThreshold != 100000 {
		t.Errorf("threshold %d", cfg.Router.LongContextThreshold)
	}
	if cfg.Host != "127.0.0.1" {
		t.Errorf("host default not applied: %q", cfg.Host)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("RELAY_TEST_KEY", "from-env")
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"APIKEY": "${RELAY_TEST_KEY}"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIKey != "from-env" {
		t.Errorf("APIKEY %q", cfg.APIKey)
	}
}

func TestSaveBacksUpExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	if err := Save(path, Default()); err != nil {
		t.Fatalf("first save: %v", err)
	}
	cfg := Default()
	cfg.Port = 9999
	if err := Save(path, cfg); err != nil {
		t.Fatalf("second save: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	backups := 0
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "config.json.bak.") {
			backups++
		}
	}
	if backups != 1 {
		t.Errorf("got %d backups, want 1", backups)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Port != 9999 {
		t.Errorf("reloaded port %d", loaded.Port)
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
	if cfg.Port != Default().Port {
		t.Errorf("defaults not returned: %+v", cfg)
	}
}

func TestParseRoute(t *testing.T) {
	provider, model, ok := ParseRoute("openai,gpt-x")
	if !ok || provider != "openai" || model != "gpt-x" {
		t.Errorf("got %q %q %v", provider, model, ok)
	}
	if _, _, ok := ParseRoute("no-comma"); ok {
		t.Error("accepted route without separator")
	}
	if _, _, ok := ParseRoute(",model"); ok {
		t.Error("accepted route with empty provider")
	}
}
