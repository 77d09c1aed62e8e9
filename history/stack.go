package history

import (
	"context"
	"fmt"
	"sync"

	"github.com/golang/glog"

	"github.com/stevemurr/cosmoscope/errs"
)

// Entry is one completed invocation.
type Entry struct {
	Op      *Operation
	Args    []any
	Context Context
	Result  any
}

// Label is the operation's display label.
func (e Entry) Label() string { return e.Op.Label }

// Stack records invocations for undo and redo. A single mutex serializes
// every call, including the operation steps it runs.
type Stack struct {
	mu     sync.Mutex
	done   []*Entry
	undone []*Entry
	shared map[*Operation]Context
}

func NewStack() *Stack {
	return &Stack{shared: make(map[*Operation]Context)}
}

func (s *Stack) contextFor(op *Operation) Context {
	if op.Scope != PerDefinition {
		return Context{}
	}
	c, ok := s.shared[op]
	if !ok {
		c = Context{}
		s.shared[op] = c
	}
	return c
}

// Invoke runs op forward. On success the invocation is pushed and anything
// previously undone can no longer be redone. A failed forward step leaves the
// stack untouched.
func (s *Stack) Invoke(ctx context.Context, op *Operation, args ...any) (any, error) {
	if op == nil || op.Forward == nil {
		return nil, errs.Invalid("nothing to invoke")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	opctx := s.contextFor(op)
	result, err := op.Forward(ctx, args, opctx)
	if err != nil {
		return nil, err
	}
	s.done = append(s.done, &Entry{Op: op, Args: args, Context: opctx, Result: result})
	s.undone = nil
	glog.V(2).Infof("history: invoked %s (depth %d)", op.Name, len(s.done))
	return result, nil
}

// Undo reverses the most recent invocation. An operation with no undo step is
// popped and dropped, and ErrNoUndo is returned. If the undo step fails the
// entry goes back on the stack.
func (s *Stack) Undo(ctx context.Context) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.done) == 0 {
		return Entry{}, fmt.Errorf("nothing to undo: %w", errs.ErrEmptyHistory)
	}
	top := s.done[len(s.done)-1]
	s.done = s.done[:len(s.done)-1]

	if top.Op.Undo == nil {
		glog.Errorf("history: no undo registered for %s", top.Op.Name)
		return *top, fmt.Errorf("%s: %w", top.Op.Name, errs.ErrNoUndo)
	}
	if err := top.Op.Undo(ctx, top.Context); err != nil {
		s.done = append(s.done, top)
		return *top, fmt.Errorf("undo %s: %w", top.Op.Name, err)
	}
	s.undone = append(s.undone, top)
	glog.V(2).Infof("history: undid %s (depth %d)", top.Op.Name, len(s.done))
	return *top, nil
}

// Redo re-runs the forward step of the most recently undone invocation with
// its original arguments and recorded Context.
func (s *Stack) Redo(ctx context.Context) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.undone) == 0 {
		return Entry{}, fmt.Errorf("nothing to redo: %w", errs.ErrEmptyHistory)
	}
	last := s.undone[len(s.undone)-1]
	result, err := last.Op.Forward(ctx, last.Args, last.Context)
	if err != nil {
		return *last, fmt.Errorf("redo %s: %w", last.Op.Name, err)
	}
	s.undone = s.undone[:len(s.undone)-1]
	last.Result = result
	s.done = append(s.done, last)
	glog.V(2).Infof("history: redid %s (depth %d)", last.Op.Name, len(s.done))
	return *last, nil
}

// Entries returns the labels of the undoable invocations, oldest first.
func (s *Stack) Entries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.done))
	for i, e := range s.done {
		out[i] = e.Label()
	}
	return out
}

// Len is the number of undoable invocations.
func (s *Stack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.done)
}

// Redoable is the number of invocations that can be redone.
func (s *Stack) Redoable() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.undone)
}

// Clear forgets all history. Shared contexts are kept.
func (s *Stack) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = nil
	s.undone = nil
}

// Reset runs replace while holding the stack's lock and clears the history
// once it succeeds, so no undo or redo can interleave with the replacement.
// On error the history is left as it was.
func (s *Stack) Reset(replace func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := replace(); err != nil {
		return err
	}
	s.done = nil
	s.undone = nil
	return nil
}
