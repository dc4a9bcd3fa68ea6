// Package checks verifies that a connection satisfies the requirements a
// deployment depends on before any task touches it.
package checks

import (
	"fmt"
	"strings"

	"github.com/capstan/capstan/pkg/logger"
	"github.com/capstan/capstan/pkg/task"
)

// Check probes a single requirement on the connection bound to the task
// context. Name identifies the requirement in reports.
type Check interface {
	Name() string
	Probe(ctx *task.Context) error
}

// BinaryCheck verifies that an executable is available on the remote PATH.
type BinaryCheck struct {
	binary string
}

// NewBinaryCheck creates a check for the given executable name.
func NewBinaryCheck(binary string) *BinaryCheck {
	return &BinaryCheck{binary: binary}
}

func (c *BinaryCheck) Name() string {
	return c.binary
}

func (c *BinaryCheck) Probe(ctx *task.Context) error {
	_, status, err := ctx.Connection.Run(ctx, fmt.Sprintf("command -v %s", c.binary), false)
	if err != nil {
		return err
	}
	if status != 0 {
		return fmt.Errorf("%s not found on PATH", c.binary)
	}
	return nil
}

// CommandCheck runs an arbitrary probe command and requires a zero exit.
type CommandCheck struct {
	name    string
	command string
}

// NewCommandCheck creates a check that passes when command exits zero.
func NewCommandCheck(name, command string) *CommandCheck {
	return &CommandCheck{name: name, command: command}
}

func (c *CommandCheck) Name() string {
	return c.name
}

func (c *CommandCheck) Probe(ctx *task.Context) error {
	_, status, err := ctx.Connection.Run(ctx, c.command, false)
	if err != nil {
		return err
	}
	if status != 0 {
		return fmt.Errorf("probe %q exited %d", c.command, status)
	}
	return nil
}

// Task runs a set of checks against a connection. Any failed requirement,
// including a probe that cannot run, soft-fails the pass so remaining
// connections still get checked.
type Task struct {
	task.Base
	checks []Check
}

// NewTask creates a check task over the given requirements.
func NewTask(checks ...Check) *Task {
	return &Task{
		Base:   task.NewBase("check", false),
		checks: checks,
	}
}

// Add appends further checks to the task.
func (t *Task) Add(checks ...Check) *Task {
	t.checks = append(t.checks, checks...)
	return t
}

// Checks returns the configured requirement probes.
func (t *Task) Checks() []Check {
	return t.checks
}

func (t *Task) Execute(ctx *task.Context) (interface{}, error) {
	var failed []string
	for _, c := range t.checks {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if err := c.Probe(ctx); err != nil {
			ctx.Log().Warn("Requirement check failed",
				logger.WithField("check", c.Name()),
				logger.WithField("reason", err.Error()))
			failed = append(failed, c.Name())
		}
	}

	if len(failed) > 0 {
		ctx.Log().Warn("Connection does not satisfy requirements",
			logger.WithField("failed", strings.Join(failed, ", ")))
		return false, nil
	}

	ctx.Log().Success("All requirement checks passed")
	return fmt.Sprintf("%d check(s) passed", len(t.checks)), nil
}

// FromBinaries is a convenience constructor probing a list of executables.
func FromBinaries(binaries ...string) *Task {
	t := NewTask()
	for _, b := range binaries {
		t.Add(NewBinaryCheck(b))
	}
	return t
}
