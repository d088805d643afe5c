// Package cdoerr defines the service error taxonomy. Every failure that
// crosses a component boundary carries a stable machine-readable code so
// API callers never see raw internal errors.
package cdoerr

import (
	"errors"
	"fmt"
)

// Error codes returned in structured error responses.
const (
	CodeConfig          = "CONFIG_ERROR"
	CodeAuth            = "AUTH_ERROR"
	CodeConnection      = "CONNECTION_ERROR"
	CodeTimeout         = "TIMEOUT_ERROR"
	CodeRateLimit       = "RATE_LIMIT_ERROR"
	CodeParsing         = "PARSING_ERROR"
	CodeStorage         = "STORAGE_ERROR"
	CodeSessionNotFound = "SESSION_NOT_FOUND"
	CodeEmptyInput      = "EMPTY_INPUT"
	CodeInputTooLong    = "INPUT_TOO_LONG"
	CodeInternal        = "INTERNAL_ERROR"
)

// Error is a coded error with optional detail tags.
type Error struct {
	Code    string
	Message string
	Details map[string]string
	wrapped error
}

func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.wrapped)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.wrapped }

// Is matches two coded errors by code alone, so sentinel comparisons like
// errors.Is(err, cdoerr.Auth("")) work regardless of message text.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// New creates a coded error.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a coded error around an underlying cause.
func Wrap(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, wrapped: err}
}

// WithDetail attaches a detail tag and returns the error for chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = map[string]string{}
	}
	e.Details[key] = value
	return e
}

// Config reports a missing or invalid setting; fatal at startup.
func Config(message string) *Error { return New(CodeConfig, message) }

// Auth reports a failed token acquisition; fatal for the in-flight call
// but the token cache survives for subsequent callers.
func Auth(message string) *Error { return New(CodeAuth, message) }

// Connection reports a transport or HTTP failure after retry exhaustion.
func Connection(message string, err error) *Error {
	return Wrap(CodeConnection, message, err)
}

// Timeout reports an exceeded per-request budget.
func Timeout(message string) *Error { return New(CodeTimeout, message) }

// RateLimit reports provider back-pressure.
func RateLimit(message string) *Error { return New(CodeRateLimit, message) }

// Parsing reports malformed classifier output. Always recovered locally,
// never surfaced to API callers.
func Parsing(message string, err error) *Error {
	return Wrap(CodeParsing, message, err)
}

// Storage reports a database fault tagged with the failing operation and
// logical table.
func Storage(operation, table string, err error) *Error {
	e := Wrap(CodeStorage, fmt.Sprintf("storage operation %q failed", operation), err)
	e.WithDetail("operation", operation)
	if table != "" {
		e.WithDetail("table", table)
	}
	return e
}

// SessionNotFound reports an unknown session id.
func SessionNotFound(sessionID string) *Error {
	return New(CodeSessionNotFound, "session not found: "+sessionID).
		WithDetail("session_id", sessionID)
}

// CodeOf extracts the error code, defaulting to INTERNAL_ERROR for
// uncoded errors.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
