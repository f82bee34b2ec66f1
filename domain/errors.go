package domain

import (
	"errors"
	"net/http"
)

// HTTPError defines errors that can be mapped to HTTP status codes.
type HTTPError interface {
	error
	StatusCode() int
}

type (
	// NotFoundError indicates a resource was not found (or is not visible to the caller).
	NotFoundError struct {
		Message string
	}

	// ValidationError indicates invalid input.
	ValidationError struct {
		Message string
	}

	// UnauthorizedError indicates authentication failure.
	UnauthorizedError struct {
		Message string
	}

	// ForbiddenError indicates the resource exists but belongs to someone else.
	ForbiddenError struct {
		Message string
	}

	// ConflictError indicates a uniqueness violation.
	ConflictError struct {
		Message string
	}
)

func (e *NotFoundError) Error() string     { return e.Message }
func (e *ValidationError) Error() string   { return e.Message }
func (e *UnauthorizedError) Error() string { return e.Message }
func (e *ForbiddenError) Error() string    { return e.Message }
func (e *ConflictError) Error() string     { return e.Message }

func (e *NotFoundError) StatusCode() int     { return http.StatusNotFound }
func (e *ValidationError) StatusCode() int   { return http.StatusBadRequest }
func (e *UnauthorizedError) StatusCode() int { return http.StatusUnauthorized }
func (e *ForbiddenError) StatusCode() int    { return http.StatusForbidden }
func (e *ConflictError) StatusCode() int     { return http.StatusConflict }

func (e *NotFoundError) Is(target error) bool     { return target == ErrNotFound }
func (e *ValidationError) Is(target error) bool   { return target == ErrValidation }
func (e *UnauthorizedError) Is(target error) bool { return target == ErrUnauthorized }
func (e *ForbiddenError) Is(target error) bool    { return target == ErrForbidden }
func (e *ConflictError) Is(target error) bool     { return target == ErrConflict }

// Sentinel errors - use with errors.Is()
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("already exists")
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrGeneration   = errors.New("generation failed")
)

// GenerationError normalizes every failure of the text-generation provider
// (network, quota, malformed response) into one error carrying a readable message.
type GenerationError struct {
	Message string
	Err     error
}

func (e *GenerationError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *GenerationError) Unwrap() error        { return e.Err }
func (e *GenerationError) StatusCode() int      { return http.StatusBadGateway }
func (e *GenerationError) Is(target error) bool { return target == ErrGeneration }

// PublicMessage returns the message that is safe to show to a client.
// Typed domain errors carry their own message; anything else yields fallback.
func PublicMessage(err error, fallback string) string {
	var gen *GenerationError
	if errors.As(err, &gen) {
		return gen.Message
	}
	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Error()
	}
	return fallback
}
