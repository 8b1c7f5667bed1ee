// Package tasks provides the task-function registry shared by the executor
// and the scheduler. The registry is an explicitly constructed object passed
// to both at construction time; there is no ambient global state.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Func is an opaque task function. The orchestrator never inspects what a
// task does; it only observes success/failure and duration.
type Func func(ctx context.Context, args map[string]any) (any, error)

var (
	// ErrUnknownTask is returned when a task name has not been registered.
	ErrUnknownTask = errors.New("task not registered")

	// ErrInvalidTask is returned when registering a nil or unnamed task.
	ErrInvalidTask = errors.New("invalid task")
)

// Registry maps task names to functions.
// Safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	fns map[string]Func
}

// NewRegistry creates an empty task registry.
func NewRegistry() *Registry {
	return &Registry{fns: make(map[string]Func)}
}

// Register adds a task function under the given name.
// Re-registering a name replaces the previous function.
func (r *Registry) Register(name string, fn Func) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidTask)
	}
	if fn == nil {
		return fmt.Errorf("%w: nil function for %q", ErrInvalidTask, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.fns[name] = fn
	return nil
}

// Lookup returns the task function registered under name.
func (r *Registry) Lookup(name string) (Func, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.fns[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTask, name)
	}
	return fn, nil
}

// Has returns true if a task is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.fns[name]
	return ok
}

// Names returns all registered task names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.fns))
	for name := range r.fns {
		names = append(names, name)
	}
	return names
}
