// Package apperrors defines the error taxonomy shared by the service layers.
// The HTTP layer maps these onto status codes; everything else just wraps.
package apperrors

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// ValidationError reports a rejected client input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// NewValidation builds a ValidationError with a formatted message.
func NewValidation(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// StateConflictError reports an operation attempted against a record whose
// current status does not allow it.
type StateConflictError struct {
	CurrentStatus string
	Message       string
}

func (e *StateConflictError) Error() string { return e.Message }

// NewStateConflict builds a StateConflictError for the given status.
func NewStateConflict(status, format string, args ...any) *StateConflictError {
	return &StateConflictError{CurrentStatus: status, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsStateConflict reports whether err is (or wraps) a StateConflictError.
func IsStateConflict(err error) bool {
	var se *StateConflictError
	return errors.As(err, &se)
}
