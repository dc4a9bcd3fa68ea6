package queue_test

import (
	"reflect"
	"testing"

	"github.com/capstan/capstan/pkg/hooks"
	"github.com/capstan/capstan/pkg/queue"
	"github.com/capstan/capstan/pkg/task"
	"github.com/capstan/capstan/pkg/types"
)

// Mock implementations

type namedTask struct {
	task.Base
}

func newNamedTask(slug string) *namedTask {
	return &namedTask{Base: task.NewBase(slug, false)}
}

func (n *namedTask) Execute(ctx *task.Context) (interface{}, error) {
	return n.Slug(), nil
}

type fixture struct {
	registry *task.Registry
	resolver *task.Resolver
	hooks    *hooks.Registry
	builder  *queue.Builder
}

func newFixture() *fixture {
	registry := task.NewRegistry()
	registry.Register("deploy", func() task.Task { return newNamedTask("deploy") })
	registry.Register("cleanup", func() task.Task { return newNamedTask("cleanup") })

	resolver := task.NewResolver(registry)
	hookRegistry := hooks.NewRegistry(resolver)
	return &fixture{
		registry: registry,
		resolver: resolver,
		hooks:    hookRegistry,
		builder:  queue.NewBuilder(resolver, hookRegistry),
	}
}

// Tests

func TestBuilder_BuildPreservesOrder(t *testing.T) {
	f := newFixture()

	q, err := f.builder.Build([]interface{}{
		"deploy",
		"echo migrating",
		func(ctx *task.Context) (interface{}, error) { return nil, nil },
		"cleanup",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"deploy", "command", "closure", "cleanup"}
	if !reflect.DeepEqual(q.Slugs(), want) {
		t.Errorf("queue = %v, want %v", q.Slugs(), want)
	}
}

func TestBuilder_BuildWrapsUnknownStringsAsCommands(t *testing.T) {
	f := newFixture()

	q, err := f.builder.Build([]interface{}{"systemctl reload nginx"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ct, ok := q[0].(*task.ClosureTask)
	if !ok {
		t.Fatalf("expected a command task, got %T", q[0])
	}
	if ct.Command() != "systemctl reload nginx" {
		t.Errorf("command not preserved: %q", ct.Command())
	}
}

func TestBuilder_BuildFailsOnUnknownTypeName(t *testing.T) {
	f := newFixture()

	q, err := f.builder.Build([]interface{}{"deploy", "NoSuchTaskXYZ"})
	if err == nil {
		t.Fatal("expected an error")
	}
	if q != nil {
		t.Errorf("expected no partial queue, got %v", q.Slugs())
	}
}

func TestBuilder_ExpandInterleavesHooks(t *testing.T) {
	f := newFixture()

	mustRegister(t, f.hooks, "deploy", types.HookBefore, []interface{}{newNamedTask("backup")})
	mustRegister(t, f.hooks, "deploy", types.HookAfter, []interface{}{newNamedTask("notify")})

	q, err := f.builder.Build([]interface{}{"cleanup", "deploy"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expanded := f.builder.Expand(q)
	want := []string{"cleanup", "backup", "deploy", "notify"}
	if !reflect.DeepEqual(expanded.Slugs(), want) {
		t.Errorf("expanded queue = %v, want %v", expanded.Slugs(), want)
	}
}

func TestBuilder_DefaultDepthDoesNotExpandListenerHooks(t *testing.T) {
	f := newFixture()

	listener := newNamedTask("backup")
	mustRegister(t, f.hooks, "deploy", types.HookBefore, []interface{}{listener})
	// The listener has hooks of its own
	mustRegister(t, f.hooks, listener, types.HookBefore, []interface{}{newNamedTask("mount")})

	q, err := f.builder.Build([]interface{}{"deploy"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expanded := f.builder.Expand(q)
	want := []string{"backup", "deploy"}
	if !reflect.DeepEqual(expanded.Slugs(), want) {
		t.Errorf("expanded queue = %v, want %v", expanded.Slugs(), want)
	}
}

func TestBuilder_DeeperExpansionIsOptIn(t *testing.T) {
	f := newFixture()
	f.builder.ExpandDepth = 2

	listener := newNamedTask("backup")
	mustRegister(t, f.hooks, "deploy", types.HookBefore, []interface{}{listener})
	mustRegister(t, f.hooks, listener, types.HookBefore, []interface{}{newNamedTask("mount")})

	q, err := f.builder.Build([]interface{}{"deploy"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expanded := f.builder.Expand(q)
	want := []string{"mount", "backup", "deploy"}
	if !reflect.DeepEqual(expanded.Slugs(), want) {
		t.Errorf("expanded queue = %v, want %v", expanded.Slugs(), want)
	}
}

func TestBuilder_ExpandWithoutHooksIsIdentity(t *testing.T) {
	f := newFixture()

	q, err := f.builder.Build([]interface{}{"deploy", "cleanup"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expanded := f.builder.Expand(q)
	if !reflect.DeepEqual(expanded.Slugs(), q.Slugs()) {
		t.Errorf("expanded queue = %v, want %v", expanded.Slugs(), q.Slugs())
	}
}

func mustRegister(t *testing.T, r *hooks.Registry, identity interface{}, event types.HookEvent, listeners []interface{}) {
	t.Helper()
	if err := r.Register(identity, event, listeners, 0); err != nil {
		t.Fatalf("register: %v", err)
	}
}
