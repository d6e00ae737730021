package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so that callers can react without
// string matching. Every error crossing a package boundary in this
// module is (or wraps) an *Error.
type ErrorKind int

const (
	// ErrIO means an underlying read or write failed, a file is
	// missing, or permissions were denied.
	ErrIO ErrorKind = iota
	// ErrFormatMalformed means a changeset stream could not be parsed.
	// The error carries the byte offset of the failure.
	ErrFormatMalformed
	// ErrSchemaMismatch means the table sets or a structural attribute
	// of a table differ between the compared databases.
	ErrSchemaMismatch
	// ErrUnsupported means the operation cannot be performed on this
	// input: schema evolution, a required primary key is missing, or
	// rebase on a database with triggers or foreign keys.
	ErrUnsupported
	// ErrConflict means applyChangeset detected at least one per-row
	// conflict; ConflictCount carries the total.
	ErrConflict
	// ErrBackend means the database backend reported a constraint
	// violation, integrity error or connection loss outside of the
	// per-row conflict accounting.
	ErrBackend
	// ErrOutOfMemory means an allocation failed.
	ErrOutOfMemory
)

func (k ErrorKind) String() string {
	switch k {
	case ErrIO:
		return "io"
	case ErrFormatMalformed:
		return "format-malformed"
	case ErrSchemaMismatch:
		return "schema-mismatch"
	case ErrUnsupported:
		return "unsupported"
	case ErrConflict:
		return "conflict"
	case ErrBackend:
		return "backend"
	case ErrOutOfMemory:
		return "out-of-memory"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the single typed error of the module: a kind, a message,
// and for reader failures the byte offset at which they occurred.
type Error struct {
	Kind ErrorKind
	Msg  string
	// Offset is the byte position for format errors, -1 otherwise.
	Offset int64
	// ConflictCount is set for ErrConflict.
	ConflictCount int
	// Err is the wrapped cause, if any.
	Err error
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.Offset >= 0 {
		msg = fmt.Sprintf("%s (at offset %d)", msg, e.Offset)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an *Error without an offset or cause.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Offset: -1}
}

// WrapError attaches a cause to a new *Error.
func WrapError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Offset: -1, Err: err}
}

// FormatError reports a malformed changeset stream at the given byte
// offset.
func FormatError(offset int64, format string, args ...any) *Error {
	return &Error{Kind: ErrFormatMalformed, Msg: fmt.Sprintf(format, args...), Offset: offset}
}

// ConflictError reports n per-row conflicts detected during apply.
func ConflictError(n int) *Error {
	return &Error{
		Kind:          ErrConflict,
		Msg:           fmt.Sprintf("conflicts encountered while applying changes, total %d", n),
		Offset:        -1,
		ConflictCount: n,
	}
}

// IsKind reports whether err is (or wraps) an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
