// Package apperror defines the error taxonomy of the ingestion pipeline.
package apperror

import (
	"errors"
	"fmt"
)

var (
	// ErrProvider marks a recoverable storefront failure: network, timeout or bad payload.
	ErrProvider = errors.New("provider error")
	// ErrUnresolved marks a candidate whose game or store could not be resolved.
	ErrUnresolved = errors.New("unresolved")
	// ErrInvalid marks a candidate or request that failed validation.
	ErrInvalid = errors.New("invalid")
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	// ErrFatal aborts a whole stage; the scheduler retries on the next interval.
	ErrFatal = errors.New("fatal")
)

type AppError struct {
	Err     error  // sentinel
	Message string // human-readable message
	Field   string // optional: field or provider involved
	Cause   error  // optional underlying error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap exposes both the sentinel and the cause to errors.Is / errors.As.
func (e *AppError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

// Provider wraps a storefront failure.
func Provider(provider string, cause error) *AppError {
	return &AppError{
		Err:     ErrProvider,
		Message: fmt.Sprintf("provider %s failed", provider),
		Field:   provider,
		Cause:   cause,
	}
}

func Unresolved(what, key string) *AppError {
	return &AppError{
		Err:     ErrUnresolved,
		Message: fmt.Sprintf("no %s mapped for %s", what, key),
		Field:   what,
	}
}

func Invalid(field, message string) *AppError {
	return &AppError{
		Err:     ErrInvalid,
		Message: message,
		Field:   field,
	}
}

func NotFound(resource string, id any) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %v", resource, id),
	}
}

func Conflict(resource string, id any) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %v", resource, id),
	}
}

// Fatal wraps a stage-level failure such as an unreachable database.
func Fatal(stage string, cause error) *AppError {
	return &AppError{
		Err:     ErrFatal,
		Message: fmt.Sprintf("stage %s aborted", stage),
		Field:   stage,
		Cause:   cause,
	}
}
