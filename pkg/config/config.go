// Package config handles configuration loading and management
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/capstan/capstan/pkg/types"
)

// DefaultFileName is searched in the project root when no explicit config
// path is given
const DefaultFileName = "capstan.config.json"

// Manager handles configuration operations
type Manager struct{}

// NewManager creates a new configuration manager
func NewManager() *Manager {
	return &Manager{}
}

// LoadConfig loads configuration from a file
func (m *Manager) LoadConfig(path string) (*types.CapstanConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg types.CapstanConfig

	// Try JSON first
	if err := json.Unmarshal(data, &cfg); err == nil {
		return m.validateConfig(&cfg)
	}

	// Try YAML - converted through JSON to share struct tags
	var yamlData map[string]interface{}
	if err := yaml.Unmarshal(data, &yamlData); err == nil {
		jsonData, err := json.Marshal(yamlData)
		if err == nil {
			if err := json.Unmarshal(jsonData, &cfg); err == nil {
				return m.validateConfig(&cfg)
			}
		}
	}

	return nil, fmt.Errorf("failed to parse config as JSON or YAML")
}

// FindConfig locates the config file in a project root, preferring JSON
// over YAML
func (m *Manager) FindConfig(projectRoot string) (string, error) {
	candidates := []string{
		DefaultFileName,
		"capstan.config.yaml",
		"capstan.config.yml",
	}

	for _, name := range candidates {
		path := filepath.Join(projectRoot, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no capstan config found in %s", projectRoot)
}

// ValidateConfig validates a configuration
func (m *Manager) ValidateConfig(cfg *types.CapstanConfig) error {
	if cfg.Version != "1.0" {
		return fmt.Errorf("unsupported config version: %s", cfg.Version)
	}

	if len(cfg.Connections) == 0 {
		return fmt.Errorf("no connections defined")
	}

	names := make(map[string]bool)
	for i, conn := range cfg.Connections {
		if err := m.validateConnection(conn); err != nil {
			return fmt.Errorf("connection %d: %w", i, err)
		}
		if names[conn.Name] {
			return fmt.Errorf("duplicate connection name: %s", conn.Name)
		}
		names[conn.Name] = true
	}

	if cfg.DefaultStage != "" && !containsStage(cfg.Stages, cfg.DefaultStage) {
		return fmt.Errorf("default stage %q is not in the stage set", cfg.DefaultStage)
	}

	for event := range cfg.Hooks {
		if !event.Valid() {
			return fmt.Errorf("unknown hook event: %s", event)
		}
	}

	return nil
}

// GetDefaultConfig returns a starter configuration
func (m *Manager) GetDefaultConfig() *types.CapstanConfig {
	enabled := true

	return &types.CapstanConfig{
		Version: "1.0",
		Connections: []types.ConnectionConfig{
			{Name: "local", Local: true},
		},
		Stages:       []string{"staging", "production"},
		DefaultStage: "staging",
		Tasks: map[string]string{
			"uptime": "uptime",
		},
		Hooks: types.HookTable{
			types.HookBefore: {"deploy": {"echo preparing release"}},
			types.HookAfter:  {"deploy": {"echo release activated"}},
		},
		Engine: types.DefaultEngineConfig(),
		Notifications: &types.NotificationConfig{
			Enabled: &enabled,
		},
	}
}

// SaveConfig writes a configuration as indented JSON
func (m *Manager) SaveConfig(path string, cfg *types.CapstanConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Private methods

func (m *Manager) validateConfig(cfg *types.CapstanConfig) (*types.CapstanConfig, error) {
	if err := m.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (m *Manager) validateConnection(conn types.ConnectionConfig) error {
	if conn.Name == "" {
		return fmt.Errorf("missing name")
	}

	if conn.Local {
		return nil
	}

	if conn.Host == "" {
		return fmt.Errorf("missing host")
	}
	if conn.User == "" {
		return fmt.Errorf("missing user")
	}

	return nil
}

func containsStage(stages []string, stage string) bool {
	for _, s := range stages {
		if s == stage {
			return true
		}
	}
	return false
}
