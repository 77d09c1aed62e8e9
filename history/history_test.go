package history_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevemurr/cosmoscope/errs"
	"github.com/stevemurr/cosmoscope/history"
)

// counter is a reversible operation over a shared integer.
func counter(total *int) *history.Operation {
	return &history.Operation{
		Name: "add",
		Forward: func(_ context.Context, args []any, opctx history.Context) (any, error) {
			n := args[0].(int)
			opctx["n"] = n
			*total += n
			return *total, nil
		},
		Undo: func(_ context.Context, opctx history.Context) error {
			*total -= opctx["n"].(int)
			return nil
		},
	}
}

func TestRegistry(t *testing.T) {
	reg := history.NewRegistry()
	var total int
	require.NoError(t, reg.Register(counter(&total)))
	require.NoError(t, reg.Register(&history.Operation{Name: "noop", Label: "No-op", Forward: func(context.Context, []any, history.Context) (any, error) { return nil, nil }}))

	assert.ErrorIs(t, reg.Register(counter(&total)), errs.ErrConflict)
	assert.ErrorIs(t, reg.Register(&history.Operation{Name: "x"}), errs.ErrInvalid)
	assert.ErrorIs(t, reg.Register(&history.Operation{}), errs.ErrInvalid)

	op, err := reg.Lookup("add")
	require.NoError(t, err)
	assert.Equal(t, "add", op.Label)

	_, err = reg.Lookup("missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.Equal(t, []string{"add", "noop"}, reg.Names())
}

func TestUndoEmpty(t *testing.T) {
	s := history.NewStack()
	_, err := s.Undo(context.Background())
	assert.ErrorIs(t, err, errs.ErrEmptyHistory)
	_, err = s.Redo(context.Background())
	assert.ErrorIs(t, err, errs.ErrEmptyHistory)
}

func TestFullReversibility(t *testing.T) {
	ctx := context.Background()
	var total int
	op := counter(&total)
	s := history.NewStack()

	for _, n := range []int{1, 2, 3, 4} {
		_, err := s.Invoke(ctx, op, n)
		require.NoError(t, err)
	}
	assert.Equal(t, 10, total)
	assert.Equal(t, []string{"add", "add", "add", "add"}, s.Entries())

	for i := 0; i < 4; i++ {
		_, err := s.Undo(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, 0, total)
	_, err := s.Undo(ctx)
	assert.ErrorIs(t, err, errs.ErrEmptyHistory)
}

func TestRedoAfterUndo(t *testing.T) {
	ctx := context.Background()
	var total int
	op := counter(&total)
	s := history.NewStack()

	_, err := s.Invoke(ctx, op, 5)
	require.NoError(t, err)
	_, err = s.Invoke(ctx, op, 7)
	require.NoError(t, err)

	_, err = s.Undo(ctx)
	require.NoError(t, err)
	_, err = s.Undo(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Equal(t, 2, s.Redoable())

	e, err := s.Redo(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Equal(t, 5, e.Result)

	_, err = s.Redo(ctx)
	require.NoError(t, err)
	assert.Equal(t, 12, total)
	assert.Equal(t, 2, s.Len())
}

func TestInvokeClearsRedo(t *testing.T) {
	ctx := context.Background()
	var total int
	op := counter(&total)
	s := history.NewStack()

	_, err := s.Invoke(ctx, op, 1)
	require.NoError(t, err)
	_, err = s.Undo(ctx)
	require.NoError(t, err)
	_, err = s.Invoke(ctx, op, 2)
	require.NoError(t, err)

	_, err = s.Redo(ctx)
	assert.ErrorIs(t, err, errs.ErrEmptyHistory)
	assert.Equal(t, 2, total)
}

func TestFailedForwardPushesNothing(t *testing.T) {
	s := history.NewStack()
	boom := errors.New("boom")
	op := &history.Operation{
		Name:    "fail",
		Forward: func(context.Context, []any, history.Context) (any, error) { return nil, boom },
	}
	_, err := s.Invoke(context.Background(), op)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, s.Len())
}

func TestNoUndoRegistered(t *testing.T) {
	ctx := context.Background()
	s := history.NewStack()
	op := &history.Operation{
		Name:    "oneway",
		Forward: func(context.Context, []any, history.Context) (any, error) { return "ok", nil },
	}
	_, err := s.Invoke(ctx, op)
	require.NoError(t, err)

	e, err := s.Undo(ctx)
	assert.ErrorIs(t, err, errs.ErrNoUndo)
	assert.Equal(t, "oneway", e.Label())
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 0, s.Redoable())
}

func TestFailedUndoRestoresEntry(t *testing.T) {
	ctx := context.Background()
	s := history.NewStack()
	op := &history.Operation{
		Name:    "stuck",
		Forward: func(context.Context, []any, history.Context) (any, error) { return nil, nil },
		Undo:    func(context.Context, history.Context) error { return errs.NotFound("gone") },
	}
	_, err := s.Invoke(ctx, op)
	require.NoError(t, err)

	_, err = s.Undo(ctx)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.Equal(t, 1, s.Len())
}

func TestContextScope(t *testing.T) {
	ctx := context.Background()
	var seen []int
	mk := func(scope history.Scope) *history.Operation {
		return &history.Operation{
			Name:  "count",
			Scope: scope,
			Forward: func(_ context.Context, _ []any, opctx history.Context) (any, error) {
				n, _ := opctx["calls"].(int)
				opctx["calls"] = n + 1
				seen = append(seen, n+1)
				return nil, nil
			},
		}
	}

	s := history.NewStack()
	per := mk(history.PerInvocation)
	for i := 0; i < 3; i++ {
		_, err := s.Invoke(ctx, per)
		require.NoError(t, err)
	}
	assert.Equal(t, []int{1, 1, 1}, seen)

	seen = nil
	shared := mk(history.PerDefinition)
	for i := 0; i < 3; i++ {
		_, err := s.Invoke(ctx, shared)
		require.NoError(t, err)
	}
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	var total int
	s := history.NewStack()
	_, err := s.Invoke(ctx, counter(&total), 1)
	require.NoError(t, err)
	s.Clear()
	assert.Equal(t, 0, s.Len())
	_, err = s.Undo(ctx)
	assert.ErrorIs(t, err, errs.ErrEmptyHistory)
}

func TestResetClearsOnlyOnSuccess(t *testing.T) {
	ctx := context.Background()
	var total int
	s := history.NewStack()
	_, err := s.Invoke(ctx, counter(&total), 1)
	require.NoError(t, err)

	boom := errors.New("boom")
	assert.ErrorIs(t, s.Reset(func() error { return boom }), boom)
	assert.Equal(t, 1, s.Len())

	require.NoError(t, s.Reset(func() error { return nil }))
	assert.Equal(t, 0, s.Len())
}

func TestResetExcludesUndo(t *testing.T) {
	ctx := context.Background()
	var total int
	s := history.NewStack()
	_, err := s.Invoke(ctx, counter(&total), 5)
	require.NoError(t, err)

	undone := make(chan error, 1)
	require.NoError(t, s.Reset(func() error {
		go func() {
			_, err := s.Undo(ctx)
			undone <- err
		}()
		// The undo cannot run while the replacement holds the stack.
		select {
		case err := <-undone:
			t.Errorf("undo ran during reset: %v", err)
		case <-time.After(50 * time.Millisecond):
		}
		total = 100
		return nil
	}))

	assert.ErrorIs(t, <-undone, errs.ErrEmptyHistory)
	assert.Equal(t, 100, total)
}
