// Package domainerrors provides coded domain errors. Services return these so
// callers can branch on the failure class without string matching; stores
// return sentinel errors instead and services translate.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error.
type Code string

const (
	// CodeInvalidInput marks bad caller input (zero amounts, self transfers,
	// malformed ids).
	CodeInvalidInput Code = "INVALID_INPUT"

	// CodeNotFound marks an unknown citizen, account, pool or group.
	CodeNotFound Code = "NOT_FOUND"

	// CodeMembership marks a failed membership proof.
	CodeMembership Code = "MEMBERSHIP"

	// CodeInsufficientFunds marks a source balance short of the requested amount.
	CodeInsufficientFunds Code = "INSUFFICIENT_FUNDS"

	// CodeConfiguration marks missing or unresolved system configuration,
	// such as an unknown reserve account or an already-initialized pool.
	CodeConfiguration Code = "CONFIGURATION"

	// CodeExternalLedger marks a failed or timed-out external ledger publish.
	CodeExternalLedger Code = "EXTERNAL_LEDGER"

	// CodeConflict marks an operation that lost a uniqueness race.
	CodeConflict Code = "CONFLICT"

	// CodeInternal marks unexpected infrastructure failures.
	CodeInternal Code = "INTERNAL"
)

// Error is a coded domain error, optionally wrapping a cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error with no cause.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying cause.
func Wrap(err error, code Code, message string) error {
	return &Error{Code: code, Message: message, cause: err}
}

// CodeOf returns the code carried by err, or CodeInternal when err carries none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	return errors.As(err, &de) && de.Code == code
}
