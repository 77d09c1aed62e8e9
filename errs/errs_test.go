package errs_test

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stevemurr/cosmoscope/errs"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want errs.Kind
	}{
		{"nil", nil, ""},
		{"not found", errs.NotFound("dataset %q", "a1"), errs.KindNotFound},
		{"conflict", errs.Conflict("dataset %q", "a1"), errs.KindConflict},
		{"wrapped twice", fmt.Errorf("outer: %w", errs.Invalid("bad")), errs.KindInvalid},
		{"io", errs.IO(os.ErrPermission, "write %s", "x"), errs.KindIO},
		{"plain", errors.New("boom"), errs.KindInternal},
		{"sentinel", errs.ErrEmptyHistory, errs.KindEmptyHistory},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, errs.KindOf(tc.err))
		})
	}
}

func TestIOKeepsCause(t *testing.T) {
	err := errs.IO(os.ErrNotExist, "read %s", "s.csm")
	assert.ErrorIs(t, err, errs.ErrIO)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Contains(t, err.Error(), "read s.csm")
	assert.Nil(t, errs.IO(nil, "noop"))
}

func TestSentinel(t *testing.T) {
	assert.Equal(t, errs.ErrNoUndo, errs.Sentinel(errs.KindNoUndo))
	assert.Equal(t, errs.ErrInternal, errs.Sentinel("Bogus"))
}
