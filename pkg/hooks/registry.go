// Package hooks maps task identities to before/after listener tasks
package hooks

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/capstan/capstan/pkg/task"
	"github.com/capstan/capstan/pkg/types"
)

// ErrSealed is returned when registering on a sealed registry
var ErrSealed = errors.New("hook registry is sealed")

// Listener associates a listener task with an anchor task identity
type Listener struct {
	Slug     string
	Event    types.HookEvent
	Priority int
	Task     task.Task

	seq int
}

type key struct {
	slug  string
	event types.HookEvent
}

// Registry owns listener associations across runs. Registration is
// expected during initialization; Seal freezes the registry before the
// first run so concurrent registration during execution cannot happen.
type Registry struct {
	resolver *task.Resolver

	mu      sync.RWMutex
	entries map[key][]*Listener
	sealed  bool
	seq     int
}

// NewRegistry creates an empty hook registry
func NewRegistry(resolver *task.Resolver) *Registry {
	return &Registry{
		resolver: resolver,
		entries:  make(map[key][]*Listener),
	}
}

// Register resolves each listener descriptor and stores it against the
// identity's slug. Identity may be a string (pseudo-slugs for not-yet-known
// tasks are fine), a Task, or a slice of identities applied to each.
func (r *Registry) Register(identity interface{}, event types.HookEvent, listeners []interface{}, priority int) error {
	if !event.Valid() {
		return fmt.Errorf("unknown hook event: %s", event)
	}

	switch ids := identity.(type) {
	case []interface{}:
		for _, id := range ids {
			if err := r.Register(id, event, listeners, priority); err != nil {
				return err
			}
		}
		return nil
	case []string:
		for _, id := range ids {
			if err := r.Register(id, event, listeners, priority); err != nil {
				return err
			}
		}
		return nil
	}

	slug, err := slugOf(identity)
	if err != nil {
		return err
	}

	resolved, err := r.resolver.ResolveAll(listeners)
	if err != nil {
		return fmt.Errorf("register %s hook for %s: %w", event, slug, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return ErrSealed
	}

	k := key{slug: slug, event: event}
	for _, t := range resolved {
		r.seq++
		r.entries[k] = append(r.entries[k], &Listener{
			Slug:     slug,
			Event:    event,
			Priority: priority,
			Task:     t,
			seq:      r.seq,
		})
	}

	return nil
}

// Listeners returns the listener tasks for an identity and event, in
// descending priority order, ties broken by registration order.
func (r *Registry) Listeners(identity interface{}, event types.HookEvent) []task.Task {
	ordered := r.ordered(identity, event)

	tasks := make([]task.Task, len(ordered))
	for i, l := range ordered {
		tasks[i] = l.Task
	}
	return tasks
}

// Flatten returns the listeners with command-wrapper tasks replaced by
// their original literal strings. Display only, never for execution.
func (r *Registry) Flatten(identity interface{}, event types.HookEvent) []interface{} {
	ordered := r.ordered(identity, event)

	out := make([]interface{}, len(ordered))
	for i, l := range ordered {
		if ct, ok := l.Task.(*task.ClosureTask); ok && ct.Command() != "" {
			out[i] = ct.Command()
			continue
		}
		out[i] = l.Task
	}
	return out
}

// Seal freezes the registry; later Register calls return ErrSealed
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Sealed reports whether the registry is frozen
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// LoadTable registers a declared hook table (config shape:
// event -> task identity -> listener descriptors) at default priority.
func (r *Registry) LoadTable(table types.HookTable) error {
	for event, byTask := range table {
		for identity, listeners := range byTask {
			descriptors := make([]interface{}, len(listeners))
			for i, l := range listeners {
				descriptors[i] = l
			}
			if err := r.Register(identity, event, descriptors, 0); err != nil {
				return err
			}
		}
	}
	return nil
}

// Reset clears all listeners and unseals the registry. Only safe between
// runs; the config reload path uses it before re-applying a hook table.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[key][]*Listener)
	r.sealed = false
	r.seq = 0
}

// ordered returns a sorted snapshot of the listeners for one key
func (r *Registry) ordered(identity interface{}, event types.HookEvent) []*Listener {
	slug, err := slugOf(identity)
	if err != nil {
		return nil
	}

	r.mu.RLock()
	stored := r.entries[key{slug: slug, event: event}]
	snapshot := make([]*Listener, len(stored))
	copy(snapshot, stored)
	r.mu.RUnlock()

	sort.SliceStable(snapshot, func(i, j int) bool {
		if snapshot[i].Priority != snapshot[j].Priority {
			return snapshot[i].Priority > snapshot[j].Priority
		}
		return snapshot[i].seq < snapshot[j].seq
	})

	return snapshot
}

func slugOf(identity interface{}) (string, error) {
	switch id := identity.(type) {
	case string:
		return task.Slugify(id), nil
	case task.Task:
		return id.Slug(), nil
	default:
		return "", fmt.Errorf("unsupported hook identity type %T", identity)
	}
}
