// Package connection provides the remote command transport for Capstan
package connection

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/capstan/capstan/pkg/types"
)

// Connection runs shell commands against a deployment target.
// Run blocks until the command completes; err reports transport failures
// only, a non-zero exit is conveyed through the status.
type Connection interface {
	Name() string
	Run(ctx context.Context, command string, withOutput bool) (output string, status int, err error)
	Close() error
}

// Dialer turns connection configs into live connections
type Dialer interface {
	Dial(ctx context.Context, cfg types.ConnectionConfig) (Connection, error)
}

// DefaultDialer dials SSH connections, or local ones for configs
// flagged local
type DefaultDialer struct{}

// Dial implements Dialer
func (DefaultDialer) Dial(ctx context.Context, cfg types.ConnectionConfig) (Connection, error) {
	if cfg.Local {
		return NewLocal(cfg.Name, cfg.Root), nil
	}
	return DialSSH(ctx, cfg)
}

// Local runs commands on the local machine through the shell
type Local struct {
	name string
	dir  string
}

// NewLocal creates a local connection
func NewLocal(name, dir string) *Local {
	if name == "" {
		name = "local"
	}
	return &Local{name: name, dir: dir}
}

// Name returns the connection name
func (l *Local) Name() string { return l.name }

// Run executes the command locally
func (l *Local) Run(ctx context.Context, command string, withOutput bool) (string, int, error) {
	cmd := buildCommand(ctx, command)
	cmd.Dir = l.dir

	var buf bytes.Buffer
	if withOutput {
		cmd.Stdout = &buf
		cmd.Stderr = &buf
	} else {
		cmd.Stdout = io.Discard
		cmd.Stderr = io.Discard
	}

	err := cmd.Run()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return strings.TrimRight(buf.String(), "\n"), exitErr.ExitCode(), nil
		}
		return "", -1, fmt.Errorf("run command: %w", err)
	}

	return strings.TrimRight(buf.String(), "\n"), 0, nil
}

// Close is a no-op for local connections
func (l *Local) Close() error { return nil }

// buildCommand creates an exec.Cmd from a command string
func buildCommand(ctx context.Context, command string) *exec.Cmd {
	if strings.ContainsAny(command, "&|;<>$`\"'*?~") || strings.Contains(command, "\n") {
		// Shell metacharacters - delegate to the shell
		return exec.CommandContext(ctx, "sh", "-c", command)
	}

	parts := strings.Fields(command)
	if len(parts) == 0 {
		return exec.CommandContext(ctx, "sh", "-c", command)
	}
	return exec.CommandContext(ctx, parts[0], parts[1:]...)
}
