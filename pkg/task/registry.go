package task

import (
	"sync"
)

// Factory constructs a fresh task instance per queue build
type Factory func() Task

// Registry maps task names to factories. Short-name aliases resolve
// through a secondary namespace, so "deploy" can stand in for
// "capstan-deploy".
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	aliases   map[string]string
}

// NewRegistry creates an empty task registry
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		aliases:   make(map[string]string),
	}
}

// Register adds a task factory under the slugified name
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[Slugify(name)] = factory
}

// Alias registers a short name for an existing task name
func (r *Registry) Alias(alias, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[Slugify(alias)] = Slugify(name)
}

// Lookup returns the factory for a name, following the alias namespace
func (r *Registry) Lookup(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	slug := Slugify(name)
	if f, ok := r.factories[slug]; ok {
		return f, true
	}
	if target, ok := r.aliases[slug]; ok {
		f, ok := r.factories[target]
		return f, ok
	}
	return nil, false
}

// Known reports whether a name resolves to a registered factory
func (r *Registry) Known(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

// Names returns the registered task slugs, aliases excluded
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}
