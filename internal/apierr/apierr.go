// Package apierr defines the closed error taxonomy shared across the gateway,
// flow manager, cache, registry and collaboration coordinator. Every error a
// client can observe carries one of these codes; nothing else leaks to the
// wire.
package apierr

import "fmt"

// Code is one of the taxonomy entries from the system's error handling design.
type Code string

const (
	AuthFailed         Code = "AUTH_FAILED"
	ConnLimit          Code = "CONN_LIMIT"
	RateLimit          Code = "RATE_LIMIT"
	ValidationError    Code = "VALIDATION_ERROR"
	NotFound           Code = "NOT_FOUND"
	NotInProject       Code = "NOT_IN_PROJECT"
	SizeLimit          Code = "SIZE_LIMIT"
	KVUnavailable      Code = "KV_UNAVAILABLE"
	ServiceUnavailable Code = "SERVICE_UNAVAILABLE"
	ProcessingError    Code = "PROCESSING_ERROR"
)

// Error is a taxonomy-coded error. Message is safe to surface to a client
// verbatim; it must never contain internals (stack traces, raw driver
// errors, file paths).
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a taxonomy error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a taxonomy error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches an internal cause to a taxonomy code without leaking the
// cause's text into Message; the cause remains available via errors.Unwrap
// for logging.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// As returns err as one of ours (*Error) and true, or nil and false for
// any other error. CodeOf builds on it to fall back to ProcessingError.
func As(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	if e, ok := err.(*Error); ok {
		return e, true
	}
	return nil, false
}

// CodeOf returns the taxonomy code of err, defaulting to ProcessingError for
// uncategorized errors so every failure path still produces a valid client
// frame.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return ProcessingError
}
