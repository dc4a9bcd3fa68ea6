// Package types defines shared configuration and domain types for Capstan
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// HookEvent identifies when a hook listener fires relative to its anchor task
type HookEvent string

const (
	HookBefore HookEvent = "before"
	HookAfter  HookEvent = "after"
)

// Valid reports whether the event is one of the known hook events
func (e HookEvent) Valid() bool {
	return e == HookBefore || e == HookAfter
}

// RunStatus represents the deployment status of a connection
type RunStatus string

const (
	RunStatusIdle      RunStatus = "idle"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// HookTable is the declared hook configuration:
// event -> task slug -> listener descriptors (task names or shell commands)
type HookTable map[HookEvent]map[string][]string

// CapstanConfig represents the capstan.config.{json,yaml} file
type CapstanConfig struct {
	Version       string              `json:"version"`
	Project       string              `json:"project,omitempty"`
	Connections   []ConnectionConfig  `json:"connections"`
	Stages        []string            `json:"stages,omitempty"`
	DefaultStage  string              `json:"defaultStage,omitempty"`
	Tasks         map[string]string   `json:"tasks,omitempty"` // name -> shell command
	Hooks         HookTable           `json:"hooks,omitempty"`
	Engine        *EngineConfig       `json:"engine,omitempty"`
	Notifications *NotificationConfig `json:"notifications,omitempty"`
	Logging       *LoggingConfig      `json:"logging,omitempty"`
}

// ConnectionConfig describes a deployment target
type ConnectionConfig struct {
	Name     string `json:"name"`
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	User     string `json:"user,omitempty"`
	KeyFile  string `json:"keyFile,omitempty"`
	Root     string `json:"root,omitempty"` // remote working directory
	Local    bool   `json:"local,omitempty"`
	Timeout  int    `json:"timeout,omitempty"` // seconds, per command
}

// Addr returns the host:port dial address, defaulting the SSH port
func (c ConnectionConfig) Addr() string {
	port := c.Port
	if port == 0 {
		port = 22
	}
	return fmt.Sprintf("%s:%d", c.Host, port)
}

// EngineConfig tunes queue execution
type EngineConfig struct {
	// Parallel runs per-connection passes concurrently. Default is
	// strictly sequential execution in declaration order.
	Parallel bool `json:"parallel,omitempty"`

	// MaxParallel caps concurrent connections when Parallel is set
	MaxParallel int `json:"maxParallel,omitempty"`

	// HookDepth bounds hook-of-hook expansion. Depth 1 (the default)
	// interleaves each task's listeners but does not expand the
	// listeners' own hooks.
	HookDepth int `json:"hookDepth,omitempty"`
}

// NotificationConfig controls desktop notifications
type NotificationConfig struct {
	Enabled      *bool  `json:"enabled,omitempty"`
	SuccessSound string `json:"successSound,omitempty"`
	FailureSound string `json:"failureSound,omitempty"`
}

// LoggingConfig controls log output
type LoggingConfig struct {
	File  string `json:"file,omitempty"`
	Level string `json:"level,omitempty"`
}

// RunRecord is the persisted state of the last run against a connection
type RunRecord struct {
	RunID        string        `json:"runId"`
	Connection   string        `json:"connection"`
	Status       RunStatus     `json:"status"`
	StartedAt    time.Time     `json:"startedAt"`
	FinishedAt   time.Time     `json:"finishedAt,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
	TaskCount    int           `json:"taskCount"`
	FailureCount int           `json:"failureCount"`
	LastError    string        `json:"lastError,omitempty"`
	ProcessID    int           `json:"processId"`
	Heartbeat    time.Time     `json:"heartbeat"`
}

// DefaultEngineConfig returns engine defaults
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		Parallel:    false,
		MaxParallel: 4,
		HookDepth:   1,
	}
}

// Clone returns a deep copy of the hook table
func (t HookTable) Clone() HookTable {
	out := make(HookTable, len(t))
	for event, byTask := range t {
		out[event] = make(map[string][]string, len(byTask))
		for slug, listeners := range byTask {
			cp := make([]string, len(listeners))
			copy(cp, listeners)
			out[event][slug] = cp
		}
	}
	return out
}

// UnmarshalJSON validates hook events while decoding
func (t *HookTable) UnmarshalJSON(data []byte) error {
	var raw map[HookEvent]map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for event := range raw {
		if !event.Valid() {
			return fmt.Errorf("unknown hook event: %s", event)
		}
	}
	*t = raw
	return nil
}
