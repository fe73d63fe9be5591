// Package errors provides error handling for asimov.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Structured detail attachment
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrNotFound) {
//	    // handle not found
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint      = crdb.WithHint
	WithHintf     = crdb.WithHintf
	WithDetail    = crdb.WithDetail
	WithDetailf   = crdb.WithDetailf
	GetAllDetails = crdb.GetAllDetails
	GetAllHints   = crdb.GetAllHints
)

// Error inspection
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
)

// Common sentinel errors for use across asimov.
// Use these with errors.Is() for type-safe error checking.
// Wrap these with errors.Wrap() to add context while preserving the type.
var (
	// ErrNotFound indicates the requested subject, production, or analysis
	// does not exist in the ledger.
	ErrNotFound = New("not found")

	// ErrConflict indicates a name collision on add (e.g., duplicate
	// production name within a subject).
	ErrConflict = New("resource conflict")

	// ErrSchedulerUnreachable indicates the batch scheduler could not be
	// contacted. Fatal for the current monitor cycle.
	ErrSchedulerUnreachable = New("scheduler unreachable")

	// ErrLockTimeout indicates the ledger file lock could not be acquired
	// within the configured timeout. No save is performed.
	ErrLockTimeout = New("ledger lock timeout")

	// ErrCorrupt indicates a persisted store could not be parsed on load.
	ErrCorrupt = New("persistence corrupt")

	// ErrNotSupported indicates a pipeline hook or scheduler operation is
	// not implemented by the selected backend.
	ErrNotSupported = New("operation not supported")
)

// IsNotFound checks if an error is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsConflict checks if an error is or wraps ErrConflict.
func IsConflict(err error) bool {
	return err != nil && Is(err, ErrConflict)
}

// IsSchedulerUnreachable checks if an error is or wraps ErrSchedulerUnreachable.
func IsSchedulerUnreachable(err error) bool {
	return err != nil && Is(err, ErrSchedulerUnreachable)
}

// IsLockTimeout checks if an error is or wraps ErrLockTimeout.
func IsLockTimeout(err error) bool {
	return err != nil && Is(err, ErrLockTimeout)
}

// IsNotSupported checks if an error is or wraps ErrNotSupported.
func IsNotSupported(err error) bool {
	return err != nil && Is(err, ErrNotSupported)
}

// NewNotFound creates a not-found error with a formatted message.
func NewNotFound(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewConflict creates a conflict error with a formatted message.
func NewConflict(format string, args ...interface{}) error {
	return Wrap(ErrConflict, Newf(format, args...).Error())
}
