// Package taberr defines the error taxonomy of the ingestion pipeline.
package taberr

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind int

const (
	// Stream is an I/O failure reading the input.
	Stream Kind = iota
	// Parse is malformed JSON or a non-object top-level value.
	Parse
	// Schema is a field rejected by the explicit schema or a wrong-length
	// fixed-size-list value.
	Schema
	// TypeConflict is two observed types that cannot unify, or a value
	// that cannot be losslessly converted to a declared type.
	TypeConflict
	// Allocation is a failure to obtain array storage.
	Allocation
)

func (k Kind) String() string {
	switch k {
	case Stream:
		return "stream"
	case Parse:
		return "parse"
	case Schema:
		return "schema"
	case TypeConflict:
		return "type conflict"
	case Allocation:
		return "allocation"
	default:
		return "unknown"
	}
}

// Error is a classified pipeline error. Block is the sequence number of the
// failing block, or -1 when the failure is not tied to one block.
type Error struct {
	Kind  Kind
	Block int
	Err   error
}

func (e *Error) Error() string {
	if e.Block >= 0 {
		return fmt.Sprintf("%s error in block %d: %v", e.Kind, e.Block, e.Err)
	}
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error from a format string.
func New(k Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: k, Block: -1, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies an existing error. If err is already classified its kind
// is preserved.
func Wrap(k Kind, err error) *Error {
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	return &Error{Kind: k, Block: -1, Err: err}
}

// WithBlock attaches a block sequence number to a classified error. An
// unclassified error is wrapped with the given default kind.
func WithBlock(err error, k Kind, block int) *Error {
	te := Wrap(k, err)
	if te.Block < 0 {
		te = &Error{Kind: te.Kind, Block: block, Err: te.Err}
	}
	return te
}

// KindOf returns the kind of a classified error.
func KindOf(err error) (Kind, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind, true
	}
	return 0, false
}

// IsKind reports whether err is classified with the given kind.
func IsKind(err error, k Kind) bool {
	got, ok := KindOf(err)
	return ok && got == k
}
