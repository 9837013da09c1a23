// Package errors defines the error taxonomy shared across the ranking
// engine, the memoization cache, and the HTTP layer, plus a lightweight
// AppError wrapper that carries an HTTP status code.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound indicates a venue, index, or index member is absent.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput indicates a malformed or out-of-range attribute value.
	ErrInvalidInput = errors.New("invalid input")
	// ErrStoreUnavailable indicates a backing-store connection or timeout
	// failure. The engine performs no automatic retry; retry policy is a
	// caller concern.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrCorrupted indicates an undecodable cache payload. It is always
	// recovered locally (treated as a cache miss) and never surfaced to
	// callers of GetOrCompute.
	ErrCorrupted = errors.New("corrupted cache payload")
)

// AppError attaches a human-readable message and an HTTP status code to a
// sentinel error.
type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New wraps a sentinel error with a status code and message.
func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Newf wraps a sentinel error with a status code and formatted message.
func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// HTTPStatusCode maps an error to the HTTP status code handlers should
// return for it.
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
