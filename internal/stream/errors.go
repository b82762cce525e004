// errors.go defines the failure taxonomy shared by the streaming calls.
// Every error a streaming call returns is one of these types (or wraps one),
// so callers can tell a slow server from a dead one with errors.As.
package stream

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoBody is returned when a successful streaming response carries no body.
var ErrNoBody = errors.New("response has no body")

// ConnectionError is a transport-level failure: the request could not be
// sent, or the connection broke while the body was being read.
type ConnectionError struct {
	Phase Phase
	Err   error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error while %s: %v", e.Phase, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ErrorPayload is the structured error body returned by the platform on a
// non-success status.
type ErrorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

// text returns the most descriptive message the payload carries.
func (p *ErrorPayload) text() string {
	switch {
	case p.Message != "" && p.Error != "":
		return p.Error + ": " + p.Message
	case p.Message != "":
		return p.Message
	default:
		return p.Error
	}
}

// StatusError is returned when the server answers with a non-2xx status
// before any streaming begins.
type StatusError struct {
	StatusCode int
	Status     string

	// Payload is nil when the body was not a recognizable error payload.
	Payload *ErrorPayload

	// Body holds the raw (possibly truncated) response body.
	Body string

	// ReadErr is set when the error body could not be read to the end,
	// for example because the call was cancelled while it arrived.
	ReadErr error
}

func (e *StatusError) Error() string {
	if e.Payload != nil {
		return fmt.Sprintf("server returned %s: %s", e.Status, e.Payload.text())
	}
	return fmt.Sprintf("server returned %s", e.Status)
}

func (e *StatusError) Unwrap() error { return e.ReadErr }

// RequestTimeoutError means the response status did not arrive within the
// connect budget.
type RequestTimeoutError struct {
	Timeout time.Duration
}

func (e *RequestTimeoutError) Error() string {
	return fmt.Sprintf("request timed out after %s waiting for response headers", e.Timeout)
}

// BodyTimeoutError means the body was not read to completion within the
// stream budget.
type BodyTimeoutError struct {
	Timeout time.Duration
}

func (e *BodyTimeoutError) Error() string {
	return fmt.Sprintf("stream timed out after %s reading response body", e.Timeout)
}

// AbortedError means the caller cancelled the call. It is never produced by
// one of the timeout budgets.
type AbortedError struct {
	Phase Phase
	Cause error
}

func (e *AbortedError) Error() string {
	return fmt.Sprintf("call aborted while %s: %v", e.Phase, e.Cause)
}

func (e *AbortedError) Unwrap() error { return e.Cause }

// IsTimeout reports whether err is one of the two budget timeouts.
func IsTimeout(err error) bool {
	var reqErr *RequestTimeoutError
	var bodyErr *BodyTimeoutError
	return errors.As(err, &reqErr) || errors.As(err, &bodyErr)
}
