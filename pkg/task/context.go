package task

import (
	"context"
	"fmt"

	"github.com/capstan/capstan/pkg/connection"
	"github.com/capstan/capstan/pkg/logger"
)

// Options carries the originating command's options (e.g. the requested
// stage) through to tasks for introspection.
type Options map[string]string

// Stage returns the requested stage option, if any
func (o Options) Stage() string {
	return o["stage"]
}

// Context is the execution context threaded into every Execute call. It is
// a value owned by the executor, never shared mutable state: each
// (connection, stage) pass constructs fresh contexts, which keeps tasks
// safe to reuse across passes.
type Context struct {
	context.Context

	// Connection is the active deployment target
	Connection connection.Connection

	// Stage is the active stage, or "" for stage-unaware tasks and
	// stage-less runs
	Stage string

	// Options are the originating command's options
	Options Options

	// Logger is scoped to the active connection
	Logger logger.Logger
}

// Run executes a shell command against the active connection, capturing
// output. Blocks until the command completes.
func (c *Context) Run(command string) (string, int, error) {
	if c.Connection == nil {
		return "", -1, fmt.Errorf("no active connection")
	}
	return c.Connection.Run(c.Context, command, true)
}

// Log returns the context logger, falling back to a console-quiet logger
// so tasks never need nil checks.
func (c *Context) Log() logger.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return nopLogger{}
}

type nopLogger struct{}

func (nopLogger) Info(string, ...logger.Field)    {}
func (nopLogger) Error(string, ...logger.Field)   {}
func (nopLogger) Warn(string, ...logger.Field)    {}
func (nopLogger) Debug(string, ...logger.Field)   {}
func (nopLogger) Success(string, ...logger.Field) {}
func (n nopLogger) WithConnection(string) logger.Logger {
	return n
}
