package flow

import (
	"context"
	"sort"
	"sync"
)

// Transformer is the single capability a node function implements: take the
// current state, return the replacement state.
//
// Contract expected by the engine (not enforced):
//   - The returned state fully replaces the previous one; there is no
//     implicit merge. Returning nil signals "unchanged" and the engine keeps
//     the prior state.
//   - A function must be side-effect-complete when it returns, because the
//     engine checkpoints immediately afterwards and will never re-execute a
//     checkpointed step on recovery.
//   - Functions should be deterministic and total; a hanging function blocks
//     its run indefinitely since no per-node timeout is enforced.
type Transformer interface {
	Transform(ctx context.Context, state State) (State, error)
}

// TransformerFunc adapts a plain function to the Transformer interface.
type TransformerFunc func(ctx context.Context, state State) (State, error)

// Transform implements Transformer.
func (f TransformerFunc) Transform(ctx context.Context, state State) (State, error) {
	return f(ctx, state)
}

// Registry is the process-wide node function table mapping names to
// transformers.
//
// It is an explicit, injectable object rather than a package-level global so
// isolated engine instances can coexist, each with its own table (tests rely
// on this). Populate it once at startup; it is treated as read-only during
// execution.
type Registry struct {
	mu  sync.RWMutex
	fns map[string]Transformer
}

// NewRegistry creates an empty function table.
func NewRegistry() *Registry {
	return &Registry{fns: make(map[string]Transformer)}
}

// Register adds a named function to the table.
//
// Returns an error when the name is empty, the function is nil, or the name
// is already taken. Registration never overwrites silently.
func (r *Registry) Register(name string, fn Transformer) error {
	if name == "" {
		return &EngineError{Code: CodeFunctionNotRegistered, Message: "function name cannot be empty"}
	}
	if fn == nil {
		return &EngineError{Code: CodeFunctionNotRegistered, Message: "function " + name + " cannot be nil"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.fns[name]; exists {
		return &EngineError{Code: CodeFunctionNotRegistered, Message: "duplicate function name: " + name}
	}
	r.fns[name] = fn
	return nil
}

// Get looks up a function by name.
func (r *Registry) Get(name string) (Transformer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.fns[name]
	return fn, ok
}

// Names returns the registered function names in sorted order.
// Diagnostic only; exposed by the /tools endpoint.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.fns))
	for name := range r.fns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
