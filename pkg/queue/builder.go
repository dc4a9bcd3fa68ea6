// Package queue expands task descriptors into a flat, hook-interleaved
// execution queue.
package queue

import (
	"fmt"

	"github.com/capstan/capstan/pkg/hooks"
	"github.com/capstan/capstan/pkg/task"
	"github.com/capstan/capstan/pkg/types"
)

// Queue is the ordered task sequence for one run. Once built it is
// treated as immutable during execution.
type Queue []task.Task

// Slugs returns the queue's task identities in order
func (q Queue) Slugs() []string {
	slugs := make([]string, len(q))
	for i, t := range q {
		slugs[i] = t.Slug()
	}
	return slugs
}

// Builder resolves descriptor lists into queues and interleaves hook
// listeners around their anchor tasks.
type Builder struct {
	resolver *task.Resolver
	hooks    *hooks.Registry

	// ExpandDepth bounds hook-of-hook expansion. At the default depth 1
	// each task's listeners are interleaved but the listeners' own hooks
	// are not expanded; deeper expansion is an explicit opt-in.
	ExpandDepth int
}

// NewBuilder creates a queue builder
func NewBuilder(resolver *task.Resolver, registry *hooks.Registry) *Builder {
	return &Builder{
		resolver:    resolver,
		hooks:       registry,
		ExpandDepth: 1,
	}
}

// Build turns an ordered descriptor list into a resolved queue. Literal
// command strings and closures are held through the partition pass and
// wrapped afterwards; everything else resolves immediately. Any
// unresolvable descriptor aborts the build, no partial queue is returned.
func (b *Builder) Build(descriptors []interface{}) (Queue, error) {
	// Partition pass: resolve task names, Tasks and callables now, keep
	// literals and closures as-is for the wrapping pass.
	partitioned := make([]interface{}, len(descriptors))
	for i, d := range descriptors {
		switch v := d.(type) {
		case task.Func:
			partitioned[i] = v
		case func(ctx *task.Context) (interface{}, error):
			partitioned[i] = task.Func(v)
		case string:
			if b.resolver.Known(v) {
				t, err := b.resolver.Resolve(v)
				if err != nil {
					return nil, fmt.Errorf("build queue: %w", err)
				}
				partitioned[i] = t
			} else {
				partitioned[i] = v
			}
		default:
			t, err := b.resolver.Resolve(d)
			if err != nil {
				return nil, fmt.Errorf("build queue: %w", err)
			}
			partitioned[i] = t
		}
	}

	// Wrapping pass: whatever is not yet a Task becomes a closure task
	q := make(Queue, 0, len(partitioned))
	for _, d := range partitioned {
		if t, ok := d.(task.Task); ok {
			q = append(q, t)
			continue
		}
		t, err := b.resolver.Resolve(d)
		if err != nil {
			return nil, fmt.Errorf("build queue: %w", err)
		}
		q = append(q, t)
	}

	return q, nil
}

// Expand interleaves registered before/after listeners around each task.
// Ordering is preserved from the input, hooks anchored at their task.
func (b *Builder) Expand(q Queue) Queue {
	depth := b.ExpandDepth
	if depth < 1 {
		depth = 1
	}

	out := make(Queue, 0, len(q)*2)
	for _, t := range q {
		out = append(out, b.expand(t, depth)...)
	}
	return out
}

func (b *Builder) expand(t task.Task, depth int) Queue {
	if depth < 1 {
		return Queue{t}
	}

	before := b.hooks.Listeners(t, types.HookBefore)
	after := b.hooks.Listeners(t, types.HookAfter)

	out := make(Queue, 0, len(before)+len(after)+1)
	for _, l := range before {
		out = append(out, b.expand(l, depth-1)...)
	}
	out = append(out, t)
	for _, l := range after {
		out = append(out, b.expand(l, depth-1)...)
	}
	return out
}
