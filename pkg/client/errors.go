package client

import (
	"errors"
	"fmt"
)

// ErrorClass classifies a failed search request.
type ErrorClass string

const (
	// ErrorClassMalformed is an undecodable body or missing required fields/headers.
	ErrorClassMalformed ErrorClass = "malformed_response"

	// ErrorClassTimeout is a request that ran out of time.
	ErrorClassTimeout ErrorClass = "timeout"

	// ErrorClassHTTPStatus is a response with a non-2xx status.
	ErrorClassHTTPStatus ErrorClass = "http_status"

	// ErrorClassTransport is any other failure of the round trip.
	ErrorClassTransport ErrorClass = "transport"

	// ErrorClassUnknown is anything unexpected, such as a failure to build the request.
	ErrorClassUnknown ErrorClass = "unknown"
)

// Retryable reports whether the same request may simply be sent again.
func (c ErrorClass) Retryable() bool {
	return c == ErrorClassTimeout
}

// Resumable reports whether a run stopped by this class should leave a
// checkpoint for a later resume.
func (c ErrorClass) Resumable() bool {
	switch c {
	case ErrorClassMalformed, ErrorClassHTTPStatus, ErrorClassTransport, ErrorClassTimeout:
		return true
	default:
		return false
	}
}

// Error is a classified search failure.
type Error struct {
	Class      ErrorClass
	StatusCode int
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("search %s error (status %d): %s: %v", e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("search %s error (status %d): %s", e.Class, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// ClassOf returns the class of err. Errors that did not come from the client
// are unknown.
func ClassOf(err error) ErrorClass {
	if err == nil {
		return ""
	}
	var searchErr *Error
	if errors.As(err, &searchErr) {
		return searchErr.Class
	}
	return ErrorClassUnknown
}

// StatusCodeOf returns the HTTP status attached to err, or 0 when no response
// was received.
func StatusCodeOf(err error) int {
	var searchErr *Error
	if errors.As(err, &searchErr) {
		return searchErr.StatusCode
	}
	return 0
}
