package errors

import "errors"

// Sentinel errors for common error conditions
var (
	// ErrNotFound indicates that a requested resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that input validation failed
	ErrInvalidInput = errors.New("invalid input")

	// ErrToolNotFound indicates that no registered tool matches the name
	ErrToolNotFound = errors.New("tool not found")

	// ErrStoreUnavailable indicates the conversation store cannot be reached
	ErrStoreUnavailable = errors.New("conversation store unavailable")

	// ErrInternal indicates an internal server error
	ErrInternal = errors.New("internal error")
)
