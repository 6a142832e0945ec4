// File path: internal/xerrors/errors.go

// Package xerrors implements the error taxonomy that every subsystem wraps
// its failures in: transient I/O, extraction failures, programmer errors,
// consistency violations, unavailable externals, and fatal startup errors.
package xerrors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for telemetry and propagation-policy purposes.
type Kind string

const (
	// TransientIO covers disk-full, locked-file, and similar conditions that
	// may succeed on a later attempt but are not retried automatically.
	TransientIO Kind = "transient_io"
	// ExtractionFailure covers malformed or unsupported file variants.
	ExtractionFailure Kind = "extraction_failure"
	// ProgrammerError covers signature mismatches and invalid payload types.
	// It must propagate; it is never logged-and-swallowed.
	ProgrammerError Kind = "programmer_error"
	// ConsistencyViolation covers catalog/vector store divergence detected
	// outside of the startup reconciliation pass.
	ConsistencyViolation Kind = "consistency_violation"
	// ExternalUnavailable covers an optional external capability (GPU probe,
	// network-backed vision provider) being unreachable.
	ExternalUnavailable Kind = "external_unavailable"
	// Fatal covers conditions the daemon cannot start with.
	Fatal Kind = "fatal"
)

// Error wraps an underlying cause with a Kind and a component tag.
type Error struct {
	Kind      Kind
	Component string
	Err       error
}

func (e *Error) Error() string {
	if e.Component != "" {
		return fmt.Sprintf("%s: %s: %v", e.Component, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with the given kind and component.
func New(kind Kind, component string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Component: component, Err: err}
}

// Newf is like New but formats the underlying error.
func Newf(kind Kind, component, format string, args ...interface{}) error {
	return New(kind, component, fmt.Errorf(format, args...))
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var xe *Error
	for err != nil {
		if errors.As(err, &xe) {
			if xe.Kind == kind {
				return true
			}
			err = xe.Err
			continue
		}
		return false
	}
	return false
}

// KindOf extracts the Kind from err, if any was attached.
func KindOf(err error) (Kind, bool) {
	var xe *Error
	if errors.As(err, &xe) {
		return xe.Kind, true
	}
	return "", false
}

// ProgrammerErrorf constructs a ProgrammerError. Callers must propagate the
// result, never log-and-continue: a historically recurring bug swallowed
// exactly this class of error for multimedia side-metadata signature drift.
func ProgrammerErrorf(component, format string, args ...interface{}) error {
	return Newf(ProgrammerError, component, format, args...)
}
