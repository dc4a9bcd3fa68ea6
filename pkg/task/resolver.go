package task

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"unicode"
)

// UnresolvableTaskError reports a descriptor that cannot be turned into a
// task: unknown task name, unknown callable target, or malformed descriptor.
type UnresolvableTaskError struct {
	Descriptor interface{}
	Reason     string
}

// Error implements error
func (e *UnresolvableTaskError) Error() string {
	return fmt.Sprintf("unresolvable task descriptor %v: %s", e.Descriptor, e.Reason)
}

// Callable references a method on an object or on a named service. Target
// may be the object itself or a service name registered on the resolver.
type Callable struct {
	Target interface{}
	Method string
}

// Resolver converts task descriptors into Task instances. Accepted
// descriptor forms, in resolution order:
//
//  1. a Task (identity passthrough)
//  2. a string naming a registered task or alias
//  3. a Callable, or a "service::Method" string
//  4. a Func closure
//  5. any other string, wrapped as a literal shell command
//
// Resolution never executes anything.
type Resolver struct {
	registry *Registry

	mu       sync.RWMutex
	services map[string]interface{}
}

// NewResolver creates a resolver backed by a task registry
func NewResolver(registry *Registry) *Resolver {
	return &Resolver{
		registry: registry,
		services: make(map[string]interface{}),
	}
}

// Registry exposes the backing task registry
func (r *Resolver) Registry() *Registry {
	return r.registry
}

// RegisterService names an instance for Callable lookup
func (r *Resolver) RegisterService(name string, service interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[name] = service
}

// Known reports whether a string descriptor names a registered task
func (r *Resolver) Known(name string) bool {
	return r.registry.Known(name)
}

// Resolve turns a descriptor into a Task
func (r *Resolver) Resolve(descriptor interface{}) (Task, error) {
	switch d := descriptor.(type) {
	case nil:
		return nil, &UnresolvableTaskError{Descriptor: descriptor, Reason: "nil descriptor"}

	case Task:
		return d, nil

	case Func:
		return NewClosureTask("", d), nil

	case func(ctx *Context) (interface{}, error):
		return NewClosureTask("", Func(d)), nil

	case Callable:
		return r.resolveCallable(d)

	case string:
		return r.resolveString(d)

	default:
		return nil, &UnresolvableTaskError{
			Descriptor: descriptor,
			Reason:     fmt.Sprintf("unsupported descriptor type %T", descriptor),
		}
	}
}

// ResolveAll resolves a descriptor list, failing on the first offender
func (r *Resolver) ResolveAll(descriptors []interface{}) ([]Task, error) {
	tasks := make([]Task, 0, len(descriptors))
	for _, d := range descriptors {
		t, err := r.Resolve(d)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (r *Resolver) resolveString(s string) (Task, error) {
	if factory, ok := r.registry.Lookup(s); ok {
		return factory(), nil
	}

	// Only identifier pairs are callables; rsync-style "host::path"
	// strings stay literal shell commands.
	if target, method, ok := strings.Cut(s, "::"); ok && isIdentifier(target) && isIdentifier(method) {
		return r.resolveCallable(Callable{Target: target, Method: method})
	}

	// A bare CamelCase identifier can only have been meant as a task
	// type name; anything else is a literal shell command.
	if isTypeName(s) {
		return nil, &UnresolvableTaskError{Descriptor: s, Reason: "unknown task name"}
	}

	return NewCommandTask("", s), nil
}

func (r *Resolver) resolveCallable(c Callable) (Task, error) {
	target := c.Target

	if name, ok := target.(string); ok {
		r.mu.RLock()
		service, found := r.services[name]
		r.mu.RUnlock()
		if !found {
			return nil, &UnresolvableTaskError{
				Descriptor: c,
				Reason:     fmt.Sprintf("unknown service %q", name),
			}
		}
		target = service
	}

	if target == nil {
		return nil, &UnresolvableTaskError{Descriptor: c, Reason: "nil callable target"}
	}

	m := reflect.ValueOf(target).MethodByName(c.Method)
	if !m.IsValid() {
		return nil, &UnresolvableTaskError{
			Descriptor: c,
			Reason:     fmt.Sprintf("no method %q on %T", c.Method, target),
		}
	}

	fn, ok := m.Interface().(func(ctx *Context) (interface{}, error))
	if !ok {
		return nil, &UnresolvableTaskError{
			Descriptor: c,
			Reason:     fmt.Sprintf("method %q has unsupported signature %s", c.Method, m.Type()),
		}
	}

	return NewClosureTask(Slugify(c.Method), fn), nil
}

// isIdentifier reports whether s is a plain identifier: letters, digits and
// underscores with a non-digit lead.
func isIdentifier(s string) bool {
	for i, r := range s {
		if unicode.IsLetter(r) || r == '_' || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return false
	}
	return s != ""
}

// isTypeName reports whether s looks like a task type identifier: a single
// token starting with an uppercase letter, letters and digits only.
func isTypeName(s string) bool {
	if s == "" {
		return false
	}

	runes := []rune(s)
	if !unicode.IsUpper(runes[0]) {
		return false
	}
	for _, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
