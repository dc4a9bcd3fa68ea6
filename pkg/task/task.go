// Package task defines the unit of orchestration work and the resolver
// that turns heterogeneous descriptors into executable tasks.
package task

import (
	"strings"
	"unicode"

	"github.com/capstan/capstan/pkg/logger"
)

// Task is a unit of orchestration work. Slug is the stable identity used
// for hook lookup. Execute returns the task's result value; returning the
// boolean false signals a soft failure that aborts the current pass, while
// a non-nil error aborts the whole run.
type Task interface {
	Slug() string
	UsesStages() bool
	Execute(ctx *Context) (interface{}, error)
}

// Func is the closure descriptor form accepted by the resolver
type Func func(ctx *Context) (interface{}, error)

// Base provides slug and stage-awareness plumbing for concrete tasks
type Base struct {
	slug       string
	usesStages bool
}

// NewBase creates the embeddable task base
func NewBase(slug string, usesStages bool) Base {
	return Base{slug: slug, usesStages: usesStages}
}

// Slug returns the task identity
func (b Base) Slug() string { return b.slug }

// UsesStages reports whether stage context applies to this task
func (b Base) UsesStages() bool { return b.usesStages }

// ClosureTask wraps a closure or a literal shell command as a Task
type ClosureTask struct {
	Base
	fn      Func
	command string
}

// NewClosureTask wraps a closure. Slug defaults to "closure".
func NewClosureTask(slug string, fn Func) *ClosureTask {
	if slug == "" {
		slug = "closure"
	}
	return &ClosureTask{Base: NewBase(slug, false), fn: fn}
}

// NewCommandTask wraps a literal shell command. The original string stays
// retrievable via Command for hook flattening and display.
func NewCommandTask(slug, command string) *ClosureTask {
	if slug == "" {
		slug = "command"
	}
	t := &ClosureTask{Base: NewBase(slug, false), command: command}
	t.fn = func(ctx *Context) (interface{}, error) {
		out, status, err := ctx.Run(command)
		if err != nil {
			return nil, err
		}
		if status != 0 {
			ctx.Log().Warn("command exited non-zero",
				logger.WithField("command", command),
				logger.WithField("status", status))
			return false, nil
		}
		return out, nil
	}
	return t
}

// Command returns the original literal command, or "" for closure-backed tasks
func (t *ClosureTask) Command() string { return t.command }

// Execute invokes the wrapped closure
func (t *ClosureTask) Execute(ctx *Context) (interface{}, error) {
	return t.fn(ctx)
}

// Slugify derives a stable lowercase kebab-case identity from a task or
// type name: "CheckEnvironment" -> "check-environment".
func Slugify(name string) string {
	var b strings.Builder
	b.Grow(len(name) + 4)

	prevLower := false
	for _, r := range name {
		switch {
		case unicode.IsUpper(r):
			if prevLower {
				b.WriteByte('-')
			}
			b.WriteRune(unicode.ToLower(r))
			prevLower = false
		case r == '_' || r == ' ' || r == '.':
			b.WriteByte('-')
			prevLower = false
		default:
			b.WriteRune(r)
			prevLower = unicode.IsLower(r) || unicode.IsDigit(r)
		}
	}

	return strings.Trim(b.String(), "-")
}
