// Package common defines shared constants and sentinel errors used across
// server and client layers of mintydoc. Callers should use errors.Is to
// match these values.
package common

import (
	"errors"
	"net/http"
)

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict")

	// Service-level errors.
	ErrorUnauthorized = errors.New("unauthorized")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// APIError is an error that knows how it is rendered on the wire: the HTTP
// status and the stable machine-readable code clients switch on.
type APIError struct {
	Status int
	Code   string
	Err    error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Err.Error()
	}
	return e.Code
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Validation is a malformed-input error (400). Never retried server-side.
func Validation(code string) *APIError {
	return &APIError{Status: http.StatusBadRequest, Code: code}
}

// NotFound is returned when the addressed resource does not exist (404).
func NotFound(code string) *APIError {
	return &APIError{Status: http.StatusNotFound, Code: code}
}

// Conflict means the operation is not valid for the current state (409).
// The caller must re-fetch state before retrying.
func Conflict(code string) *APIError {
	return &APIError{Status: http.StatusConflict, Code: code}
}

// RateLimited means the caller must back off (429).
func RateLimited(code string) *APIError {
	return &APIError{Status: http.StatusTooManyRequests, Code: code}
}

// Internal wraps an external-dependency or consistency failure (500).
func Internal(code string, err error) *APIError {
	return &APIError{Status: http.StatusInternalServerError, Code: code, Err: err}
}

// Misconfigured reports missing required configuration (500).
func Misconfigured(err error) *APIError {
	return &APIError{Status: http.StatusInternalServerError, Code: "server_misconfigured", Err: err}
}

// Unauthorized rejects a request without valid operator credentials (401).
func Unauthorized(code string) *APIError {
	return &APIError{Status: http.StatusUnauthorized, Code: code, Err: ErrorUnauthorized}
}

// CodeOf returns the wire code of err, or "" when err is not an APIError.
func CodeOf(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}
