package ecs

import (
	"errors"
	"fmt"
)

// Error represents a failure detected by the world or the notification core.
//
// Errors include:
//   - Invalid argument: malformed event descriptor, unknown entity, bad id
//   - Internal: an invariant of the store was violated (e.g. observers
//     still registered at teardown)
//   - Not found / already exists: name and entity lookups
//   - Invalid operation: structural change attempted during emission
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Details contains additional context.
	Details map[string]string
}

// ErrorCode categorizes errors.
type ErrorCode string

const (
	// ErrCodeInvalidArgument indicates a malformed call. Nothing was changed.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"

	// ErrCodeInternal indicates an internal consistency failure.
	ErrCodeInternal ErrorCode = "INTERNAL"

	// ErrCodeNotFound indicates an unknown entity or name.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeAlreadyExists indicates a duplicate name.
	ErrCodeAlreadyExists ErrorCode = "ALREADY_EXISTS"

	// ErrCodeInvalidOperation indicates an operation that is not allowed in
	// the current state of the world.
	ErrCodeInvalidOperation ErrorCode = "INVALID_OPERATION"
)

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidArgument creates an Error with ErrCodeInvalidArgument.
func NewInvalidArgument(format string, args ...any) *Error {
	return &Error{Code: ErrCodeInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

// NewInternal creates an Error with ErrCodeInternal.
func NewInternal(format string, args ...any) *Error {
	return &Error{Code: ErrCodeInternal, Message: fmt.Sprintf(format, args...)}
}

func newNotFound(format string, args ...any) *Error {
	return &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf(format, args...)}
}

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsInvalidArgument returns true if the error is an invalid argument error.
// Uses errors.As to handle wrapped errors.
func IsInvalidArgument(err error) bool {
	return hasCode(err, ErrCodeInvalidArgument)
}

// IsInternal returns true if the error is an internal consistency error.
func IsInternal(err error) bool {
	return hasCode(err, ErrCodeInternal)
}

// IsNotFound returns true if the error is a not-found error.
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

// IsAlreadyExists returns true if the error is a duplicate-name error.
func IsAlreadyExists(err error) bool {
	return hasCode(err, ErrCodeAlreadyExists)
}

// IsInvalidOperation returns true if the error reports an operation that
// the world refused in its current state.
func IsInvalidOperation(err error) bool {
	return hasCode(err, ErrCodeInvalidOperation)
}
