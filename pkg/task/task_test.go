package task_test

import (
	"context"
	"errors"
	"testing"

	"github.com/capstan/capstan/pkg/task"
)

// Mock implementations

type fakeConnection struct {
	name string
	ran  []string

	// script maps a command to its canned result
	script map[string]fakeResult
	err    error
}

type fakeResult struct {
	output string
	status int
}

func (f *fakeConnection) Name() string { return f.name }

func (f *fakeConnection) Run(ctx context.Context, command string, withOutput bool) (string, int, error) {
	f.ran = append(f.ran, command)
	if f.err != nil {
		return "", -1, f.err
	}
	if r, ok := f.script[command]; ok {
		return r.output, r.status, nil
	}
	return "", 0, nil
}

func (f *fakeConnection) Close() error { return nil }

func newContext(conn *fakeConnection) *task.Context {
	return &task.Context{
		Context:    context.Background(),
		Connection: conn,
	}
}

// Tests

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"CheckEnvironment":  "check-environment",
		"deploy":            "deploy",
		"Deploy":            "deploy",
		"clear_cache":       "clear-cache",
		"warm cache":        "warm-cache",
		"app.restart":       "app-restart",
		"HTTPCheck":         "httpcheck",
		"":                  "",
		"RestartPHPWorkers": "restart-phpworkers",
	}

	for input, want := range cases {
		if got := task.Slugify(input); got != want {
			t.Errorf("Slugify(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestCommandTask_CapturesOutput(t *testing.T) {
	conn := &fakeConnection{
		name:   "web",
		script: map[string]fakeResult{"echo hello": {output: "hello"}},
	}

	ct := task.NewCommandTask("", "echo hello")
	if ct.Slug() != "command" {
		t.Errorf("expected default slug %q, got %q", "command", ct.Slug())
	}
	if ct.Command() != "echo hello" {
		t.Errorf("expected original command to be retrievable, got %q", ct.Command())
	}

	value, err := ct.Execute(newContext(conn))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != "hello" {
		t.Errorf("expected command output as value, got %v", value)
	}
}

func TestCommandTask_NonZeroExitSoftFails(t *testing.T) {
	conn := &fakeConnection{
		name:   "web",
		script: map[string]fakeResult{"migrate": {status: 1}},
	}

	ct := task.NewCommandTask("", "migrate")
	value, err := ct.Execute(newContext(conn))
	if err != nil {
		t.Fatalf("non-zero exit must not be a hard failure: %v", err)
	}
	if b, ok := value.(bool); !ok || b {
		t.Errorf("expected literal false on non-zero exit, got %v", value)
	}
}

func TestCommandTask_TransportErrorIsHardFailure(t *testing.T) {
	transport := errors.New("connection reset")
	conn := &fakeConnection{name: "web", err: transport}

	ct := task.NewCommandTask("", "echo hi")
	_, err := ct.Execute(newContext(conn))
	if !errors.Is(err, transport) {
		t.Errorf("expected transport error to propagate, got %v", err)
	}
}

func TestClosureTask_DefaultSlug(t *testing.T) {
	ct := task.NewClosureTask("", func(ctx *task.Context) (interface{}, error) {
		return "done", nil
	})

	if ct.Slug() != "closure" {
		t.Errorf("expected default slug %q, got %q", "closure", ct.Slug())
	}
	if ct.UsesStages() {
		t.Error("closure tasks are stage-unaware by default")
	}
	if ct.Command() != "" {
		t.Errorf("closure tasks carry no literal command, got %q", ct.Command())
	}
}

func TestContext_RunWithoutConnection(t *testing.T) {
	ctx := &task.Context{Context: context.Background()}
	if _, _, err := ctx.Run("echo hi"); err == nil {
		t.Error("expected an error when no connection is bound")
	}
}
