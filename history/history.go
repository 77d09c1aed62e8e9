// Package history runs reversible operations and keeps the undo/redo stack.
package history

import (
	"context"
	"sort"
	"sync"

	"github.com/stevemurr/cosmoscope/errs"
)

// Context is the state an operation's forward step records for its undo step.
type Context map[string]any

// Scope sets the lifetime of an operation's Context.
type Scope int

const (
	// PerInvocation gives every invocation a fresh Context.
	PerInvocation Scope = iota
	// PerDefinition shares one Context across every invocation of the
	// operation on a stack. Forward must reset what it relies on.
	PerDefinition
)

// ForwardFunc performs an operation and records what undo needs in opctx.
type ForwardFunc func(ctx context.Context, args []any, opctx Context) (any, error)

// UndoFunc reverses a forward step using the Context it recorded.
type UndoFunc func(ctx context.Context, opctx Context) error

// Operation is a named, possibly reversible action. An Operation without
// Undo can be invoked but undoing it reports ErrNoUndo.
type Operation struct {
	Name    string
	Label   string
	Forward ForwardFunc
	Undo    UndoFunc
	Scope   Scope
}

// Registry maps operation names to definitions. Safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	ops map[string]*Operation
}

func NewRegistry() *Registry {
	return &Registry{ops: make(map[string]*Operation)}
}

// Register adds op. Names are unique.
func (r *Registry) Register(op *Operation) error {
	if op == nil || op.Name == "" {
		return errs.Invalid("operation has no name")
	}
	if op.Forward == nil {
		return errs.Invalid("operation %s has no forward step", op.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.ops[op.Name]; exists {
		return errs.Conflict("operation %s is already registered", op.Name)
	}
	if op.Label == "" {
		op.Label = op.Name
	}
	r.ops[op.Name] = op
	return nil
}

// Lookup returns the operation registered under name.
func (r *Registry) Lookup(name string) (*Operation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	op, ok := r.ops[name]
	if !ok {
		return nil, errs.NotFound("no operation named %s", name)
	}
	return op, nil
}

// Names returns the registered operation names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ops))
	for name := range r.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
