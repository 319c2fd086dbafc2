// Package errors defines the structured error kinds the coordination core
// raises per its error handling design (argument errors, unsupported
// operations, storage failures, and the two warning classes that are logged
// rather than returned).
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an AppError for callers that need to branch on it.
type Kind string

const (
	KindArgument         Kind = "argument"
	KindNotSupported     Kind = "not_supported"
	KindStorage          Kind = "storage"
	KindProtocolWarning  Kind = "protocol_warning"
	KindCapacityWarning  Kind = "capacity_warning"
)

// AppError is a structured error carrying a Kind and an optional cause.
type AppError struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

func NewArgumentError(code, message string) *AppError {
	return &AppError{Kind: KindArgument, Code: code, Message: message}
}

func NewNotSupportedError(code, message string) *AppError {
	return &AppError{Kind: KindNotSupported, Code: code, Message: message}
}

func NewStorageError(message string, cause error) *AppError {
	return &AppError{Kind: KindStorage, Code: "STORAGE_ERROR", Message: message, Cause: cause}
}

// Predefined errors referenced directly by coordinator, storage and txn code.
var (
	ErrBothAtAndBefore = NewArgumentError("BOTH_AT_AND_BEFORE", "at most one of at/before may be given")
	ErrFutureSnapshot  = NewArgumentError("FUTURE_SNAPSHOT", "before is beyond the storage's last transaction")
	ErrDuplicateName   = NewArgumentError("DUPLICATE_DATABASE_NAME", "a database with this name is already registered")
	ErrUndoNotSupported = NewNotSupportedError("UNDO_NOT_SUPPORTED", "storage does not support undo")
	ErrDatabaseClosed  = NewArgumentError("DATABASE_CLOSED", "database is closed")
	ErrCircuitOpen     = &AppError{Kind: KindStorage, Code: "CIRCUIT_OPEN", Message: "storage circuit breaker is open"}
)

// Wrap wraps err with a message using %w, preserving Unwrap/errors.Is chains.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsKind reports whether err is an *AppError of the given kind.
func IsKind(err error, kind Kind) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}

// IsNotFound reports whether err represents the storage's "not found" case,
// which bootstrap relies on to distinguish "no root yet" from a real failure.
func IsNotFound(err error) bool {
	var nf interface{ NotFound() bool }
	if errors.As(err, &nf) {
		return nf.NotFound()
	}
	return false
}
