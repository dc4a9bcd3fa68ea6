package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/capstan/capstan/pkg/config"
	"github.com/capstan/capstan/pkg/types"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

// Tests

func TestLoadConfig_JSON(t *testing.T) {
	tmpDir := t.TempDir()
	path := writeFile(t, tmpDir, "capstan.config.json", `{
		"version": "1.0",
		"project": "shop",
		"connections": [
			{"name": "web", "host": "web.example.com", "user": "deploy", "root": "/var/www/shop"},
			{"name": "local", "local": true}
		],
		"stages": ["staging", "production"],
		"defaultStage": "staging",
		"tasks": {"uptime": "uptime"},
		"hooks": {
			"before": {"deploy": ["echo preparing"]},
			"after": {"deploy": ["echo done", "uptime"]}
		}
	}`)

	cfg, err := config.NewManager().LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Project != "shop" {
		t.Errorf("project = %q", cfg.Project)
	}
	if len(cfg.Connections) != 2 {
		t.Fatalf("expected 2 connections, got %d", len(cfg.Connections))
	}
	if cfg.Connections[0].Addr() != "web.example.com:22" {
		t.Errorf("expected the SSH port to default, got %s", cfg.Connections[0].Addr())
	}
	if cfg.DefaultStage != "staging" {
		t.Errorf("defaultStage = %q", cfg.DefaultStage)
	}
	if got := cfg.Hooks[types.HookAfter]["deploy"]; len(got) != 2 {
		t.Errorf("expected 2 after listeners, got %v", got)
	}
}

func TestLoadConfig_YAML(t *testing.T) {
	tmpDir := t.TempDir()
	path := writeFile(t, tmpDir, "capstan.config.yaml", `
version: "1.0"
connections:
  - name: web
    host: web.example.com
    user: deploy
stages:
  - staging
`)

	cfg, err := config.NewManager().LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Connections) != 1 || cfg.Connections[0].Name != "web" {
		t.Errorf("unexpected connections: %+v", cfg.Connections)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tmpDir := t.TempDir()

	cases := map[string]string{
		"unsupported version": `{"version": "2.0", "connections": [{"name": "local", "local": true}]}`,
		"no connections":      `{"version": "1.0", "connections": []}`,
		"missing host":        `{"version": "1.0", "connections": [{"name": "web", "user": "deploy"}]}`,
		"missing user":        `{"version": "1.0", "connections": [{"name": "web", "host": "h"}]}`,
		"missing name":        `{"version": "1.0", "connections": [{"host": "h", "user": "u"}]}`,
		"duplicate names":     `{"version": "1.0", "connections": [{"name": "web", "local": true}, {"name": "web", "local": true}]}`,
		"bad default stage":   `{"version": "1.0", "connections": [{"name": "local", "local": true}], "stages": ["staging"], "defaultStage": "prod"}`,
		"bad hook event":      `{"version": "1.0", "connections": [{"name": "local", "local": true}], "hooks": {"during": {"deploy": ["echo hi"]}}}`,
		"not a config":        `just some text`,
	}

	for name, content := range cases {
		path := writeFile(t, tmpDir, "bad.json", content)
		if _, err := config.NewManager().LoadConfig(path); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
}

func TestFindConfig_PrefersJSON(t *testing.T) {
	tmpDir := t.TempDir()
	writeFile(t, tmpDir, "capstan.config.yaml", "version: \"1.0\"\n")
	jsonPath := writeFile(t, tmpDir, "capstan.config.json", `{"version": "1.0"}`)

	found, err := config.NewManager().FindConfig(tmpDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found != jsonPath {
		t.Errorf("expected %s, got %s", jsonPath, found)
	}
}

func TestFindConfig_NotFound(t *testing.T) {
	if _, err := config.NewManager().FindConfig(t.TempDir()); err == nil {
		t.Error("expected an error for an empty project")
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	m := config.NewManager()
	cfg := m.GetDefaultConfig()
	if err := m.ValidateConfig(cfg); err != nil {
		t.Errorf("default config must validate: %v", err)
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "capstan.config.json")

	m := config.NewManager()
	original := m.GetDefaultConfig()
	if err := m.SaveConfig(path, original); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	loaded, err := m.LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.DefaultStage != original.DefaultStage {
		t.Errorf("defaultStage = %q, want %q", loaded.DefaultStage, original.DefaultStage)
	}
	if len(loaded.Connections) != len(original.Connections) {
		t.Errorf("connections = %d, want %d", len(loaded.Connections), len(original.Connections))
	}
}
