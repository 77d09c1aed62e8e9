// Package errs defines the error kinds shared by the store, the operation
// history, the codec and the RPC boundary.
package errs

import (
	"errors"
	"fmt"
)

// Kind names a class of failure. Kinds travel over the wire as strings.
type Kind string

const (
	KindNotFound      Kind = "NotFound"
	KindConflict      Kind = "Conflict"
	KindEmptyHistory  Kind = "EmptyHistory"
	KindNoUndo        Kind = "NoUndoRegistered"
	KindSerialization Kind = "SerializationError"
	KindIO            Kind = "IOError"
	KindInvalid       Kind = "InvalidArgument"
	KindInternal      Kind = "Internal"
)

var (
	ErrNotFound      = &kindError{kind: KindNotFound, msg: "not found"}
	ErrConflict      = &kindError{kind: KindConflict, msg: "conflict"}
	ErrEmptyHistory  = &kindError{kind: KindEmptyHistory, msg: "empty history"}
	ErrNoUndo        = &kindError{kind: KindNoUndo, msg: "no undo registered"}
	ErrSerialization = &kindError{kind: KindSerialization, msg: "serialization error"}
	ErrIO            = &kindError{kind: KindIO, msg: "i/o error"}
	ErrInvalid       = &kindError{kind: KindInvalid, msg: "invalid argument"}
	ErrInternal      = &kindError{kind: KindInternal, msg: "internal error"}
)

var sentinels = []*kindError{
	ErrNotFound,
	ErrConflict,
	ErrEmptyHistory,
	ErrNoUndo,
	ErrSerialization,
	ErrIO,
	ErrInvalid,
	ErrInternal,
}

type kindError struct {
	kind Kind
	msg  string
}

func (e *kindError) Error() string { return e.msg }

// Kind returns the kind carried by the sentinel.
func (e *kindError) Kind() Kind { return e.kind }

// Sentinel returns the sentinel error for k, or ErrInternal for unknown kinds.
func Sentinel(k Kind) error {
	for _, s := range sentinels {
		if s.kind == k {
			return s
		}
	}
	return ErrInternal
}

// KindOf classifies err. Errors that wrap none of the sentinels are Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.kind
		}
	}
	return KindInternal
}

// NotFound wraps ErrNotFound with a formatted message.
func NotFound(format string, args ...any) error {
	return wrap(ErrNotFound, format, args...)
}

// Conflict wraps ErrConflict with a formatted message.
func Conflict(format string, args ...any) error {
	return wrap(ErrConflict, format, args...)
}

// Invalid wraps ErrInvalid with a formatted message.
func Invalid(format string, args ...any) error {
	return wrap(ErrInvalid, format, args...)
}

// Serialization wraps ErrSerialization with a formatted message.
func Serialization(format string, args ...any) error {
	return wrap(ErrSerialization, format, args...)
}

// IO wraps ErrIO around a lower-level error.
func IO(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", fmt.Sprintf(format, args...), ErrIO, err)
}

func wrap(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), sentinel)
}
