package hooks_test

import (
	"errors"
	"testing"

	"github.com/capstan/capstan/pkg/hooks"
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

func newHookRegistry() *hooks.Registry {
	return hooks.NewRegistry(task.NewResolver(task.NewRegistry()))
}

func slugs(tasks []task.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.Slug()
	}
	return out
}

// Tests

func TestRegistry_PriorityOrdering(t *testing.T) {
	r := newHookRegistry()

	// Registered out of priority order on purpose
	mustRegister(t, r, "deploy", types.HookBefore, []interface{}{newNamedTask("low")}, 1)
	mustRegister(t, r, "deploy", types.HookBefore, []interface{}{newNamedTask("high")}, 10)
	mustRegister(t, r, "deploy", types.HookBefore, []interface{}{newNamedTask("mid")}, 5)

	got := slugs(r.Listeners("deploy", types.HookBefore))
	want := []string{"high", "mid", "low"}
	if len(got) != len(want) {
		t.Fatalf("listener order = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("listener order = %v, want %v", got, want)
		}
	}
}

func TestRegistry_EqualPriorityKeepsRegistrationOrder(t *testing.T) {
	r := newHookRegistry()

	mustRegister(t, r, "deploy", types.HookAfter, []interface{}{newNamedTask("first")}, 0)
	mustRegister(t, r, "deploy", types.HookAfter, []interface{}{newNamedTask("second")}, 0)
	mustRegister(t, r, "deploy", types.HookAfter, []interface{}{newNamedTask("third")}, 0)

	got := slugs(r.Listeners("deploy", types.HookAfter))
	want := []string{"first", "second", "third"}
	if len(got) != len(want) {
		t.Fatalf("listener order = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("listener order = %v, want %v", got, want)
		}
	}
}

func TestRegistry_PseudoSlugForUnknownTask(t *testing.T) {
	r := newHookRegistry()

	// The anchor task does not exist anywhere yet; registration still works
	mustRegister(t, r, "FutureTask", types.HookBefore, []interface{}{"echo pre"}, 0)

	if got := r.Listeners("future-task", types.HookBefore); len(got) != 1 {
		t.Fatalf("expected 1 listener under the pseudo-slug, got %d", len(got))
	}
}

func TestRegistry_TaskIdentity(t *testing.T) {
	r := newHookRegistry()
	anchor := newNamedTask("restart-workers")

	mustRegister(t, r, anchor, types.HookAfter, []interface{}{"echo done"}, 0)

	if got := r.Listeners("restart-workers", types.HookAfter); len(got) != 1 {
		t.Fatalf("expected listener registered under the task's slug, got %d", len(got))
	}
}

func TestRegistry_SliceIdentityFansOut(t *testing.T) {
	r := newHookRegistry()

	mustRegister(t, r, []string{"deploy", "rollback"}, types.HookBefore, []interface{}{"echo shared"}, 0)

	for _, slug := range []string{"deploy", "rollback"} {
		if got := r.Listeners(slug, types.HookBefore); len(got) != 1 {
			t.Errorf("expected listener on %q, got %d", slug, len(got))
		}
	}
}

func TestRegistry_InvalidEvent(t *testing.T) {
	r := newHookRegistry()

	err := r.Register("deploy", types.HookEvent("during"), []interface{}{"echo hi"}, 0)
	if err == nil {
		t.Fatal("expected an error for an unknown event")
	}
}

func TestRegistry_UnresolvableListenerRejected(t *testing.T) {
	r := newHookRegistry()

	err := r.Register("deploy", types.HookBefore, []interface{}{"NoSuchTaskXYZ"}, 0)
	var unresolvable *task.UnresolvableTaskError
	if !errors.As(err, &unresolvable) {
		t.Fatalf("expected UnresolvableTaskError, got %v", err)
	}
}

func TestRegistry_SealFreezesRegistration(t *testing.T) {
	r := newHookRegistry()

	mustRegister(t, r, "deploy", types.HookBefore, []interface{}{"echo pre"}, 0)
	r.Seal()

	if !r.Sealed() {
		t.Fatal("expected registry to report sealed")
	}

	err := r.Register("deploy", types.HookBefore, []interface{}{"echo late"}, 0)
	if !errors.Is(err, hooks.ErrSealed) {
		t.Fatalf("expected ErrSealed, got %v", err)
	}

	// Existing listeners survive sealing
	if got := r.Listeners("deploy", types.HookBefore); len(got) != 1 {
		t.Fatalf("expected 1 listener after sealing, got %d", len(got))
	}
}

func TestRegistry_ResetUnsealsAndClears(t *testing.T) {
	r := newHookRegistry()

	mustRegister(t, r, "deploy", types.HookBefore, []interface{}{"echo pre"}, 0)
	r.Seal()
	r.Reset()

	if r.Sealed() {
		t.Fatal("reset must unseal the registry")
	}
	if got := r.Listeners("deploy", types.HookBefore); len(got) != 0 {
		t.Fatalf("reset must clear listeners, got %d", len(got))
	}

	mustRegister(t, r, "deploy", types.HookBefore, []interface{}{"echo again"}, 0)
}

func TestRegistry_FlattenReturnsOriginalCommands(t *testing.T) {
	r := newHookRegistry()
	anchor := newNamedTask("notify")

	mustRegister(t, r, "deploy", types.HookAfter, []interface{}{"php artisan cache:clear", anchor}, 0)

	flat := r.Flatten("deploy", types.HookAfter)
	if len(flat) != 2 {
		t.Fatalf("expected 2 flattened listeners, got %d", len(flat))
	}
	if flat[0] != interface{}("php artisan cache:clear") {
		t.Errorf("expected the literal command string back, got %v", flat[0])
	}
	if flat[1] != interface{}(task.Task(anchor)) {
		t.Errorf("expected the task instance back, got %v", flat[1])
	}
}

func TestRegistry_LoadTable(t *testing.T) {
	r := newHookRegistry()

	table := types.HookTable{
		types.HookBefore: {
			"deploy": {"echo pre-one", "echo pre-two"},
		},
		types.HookAfter: {
			"deploy": {"echo post"},
		},
	}

	if err := r.LoadTable(table); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := r.Listeners("deploy", types.HookBefore); len(got) != 2 {
		t.Errorf("expected 2 before listeners, got %d", len(got))
	}
	if got := r.Listeners("deploy", types.HookAfter); len(got) != 1 {
		t.Errorf("expected 1 after listener, got %d", len(got))
	}
}

func mustRegister(t *testing.T, r *hooks.Registry, identity interface{}, event types.HookEvent, listeners []interface{}, priority int) {
	t.Helper()
	if err := r.Register(identity, event, listeners, priority); err != nil {
		t.Fatalf("register: %v", err)
	}
}
