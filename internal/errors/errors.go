// Package errors provides typed, code-carrying errors for the quotes service.
// Handlers map codes to transport status; services construct them.
package errors

import (
	"errors"
	"fmt"
)

// Error codes.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeSequenceViolation = "SEQUENCE_VIOLATION"
	ErrCodeInvalidState      = "INVALID_STATE"
	ErrCodeChainIntegrity    = "CHAIN_INTEGRITY_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

// Error is a typed service error with an optional wrapped cause and
// optional structured details for the transport layer.
type Error struct {
	Code    string
	Message string
	Details map[string]interface{}
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// New creates a typed error with a code and message.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap annotates an underlying error with a code and message.
func Wrap(err error, code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// InvalidInput builds a validation error for a specific field.
// Validation errors are rejected before any state change.
func InvalidInput(field, message string) *Error {
	return &Error{
		Code:    ErrCodeValidation,
		Message: fmt.Sprintf("%s: %s", field, message),
		Details: map[string]interface{}{"field": field},
	}
}

// NotFound builds a not-found error for a resource.
func NotFound(resource, id string) *Error {
	return &Error{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{"resource": resource, "id": id},
	}
}

// SequenceViolation is returned when a decision is attempted out of the
// required approver order. It carries the full ordered list of required
// roles and the next role eligible to act, so callers can render guidance.
func SequenceViolation(requiredOrder []string, nextRequired string) *Error {
	return &Error{
		Code:    ErrCodeSequenceViolation,
		Message: fmt.Sprintf("cannot record decision: %s must decide first", nextRequired),
		Details: map[string]interface{}{
			"required_sequence": requiredOrder,
			"next_required":     nextRequired,
		},
	}
}

// InvalidState is returned when an operation is not valid for the current
// quote or approval state. Callers should refresh and retry.
func InvalidState(reason string) *Error {
	return &Error{Code: ErrCodeInvalidState, Message: reason}
}

// ChainIntegrity is returned when version-chain traversal encounters a
// cyclic previous-version reference. Fatal for that traversal.
func ChainIntegrity(message string) *Error {
	return &Error{Code: ErrCodeChainIntegrity, Message: message}
}

// Code extracts the error code, or ErrCodeInternal for untyped errors.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// Details extracts structured details from a typed error, or nil.
func Details(err error) map[string]interface{} {
	var e *Error
	if errors.As(err, &e) {
		return e.Details
	}
	return nil
}

// IsNotFound reports whether err carries the not-found code.
func IsNotFound(err error) bool {
	return Code(err) == ErrCodeNotFound
}
