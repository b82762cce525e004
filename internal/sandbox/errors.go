package sandbox

import (
	"errors"
	"fmt"
	"time"

	"github.com/valyent/valyent-go/internal/stream"
)

var (
	// ErrMalformedEvent means a line was not a JSON object with exactly one
	// recognized event field of the right type.
	ErrMalformedEvent = errors.New("malformed execution event")

	// ErrEventAfterTerminal means an event arrived after the result or error
	// that ends an execution.
	ErrEventAfterTerminal = errors.New("event after terminal event")

	// ErrUnterminatedStream means the body ended before a result or error
	// event was received.
	ErrUnterminatedStream = errors.New("stream ended without a terminal event")

	// ErrNoNamespace is returned when sandboxes are used with a client that
	// has no namespace.
	ErrNoNamespace = errors.New("sandboxes require a namespace")
)

// ProtocolViolationError is returned when the execution stream breaks the
// event protocol. It wraps one of ErrMalformedEvent, ErrEventAfterTerminal
// or ErrUnterminatedStream.
type ProtocolViolationError struct {
	// Line is the offending line; empty for ErrUnterminatedStream.
	Line string
	Err  error
}

func (e *ProtocolViolationError) Error() string {
	if e.Line == "" {
		return fmt.Sprintf("protocol violation: %v", e.Err)
	}
	return fmt.Sprintf("protocol violation: %v (line %q)", e.Err, e.Line)
}

func (e *ProtocolViolationError) Unwrap() error { return e.Err }

// ExecutionTimeoutError is returned when the stream budget expires while
// the execution output is being read. Partial holds the output folded
// before the deadline; it is never a successful result.
type ExecutionTimeoutError struct {
	Timeout time.Duration
	Partial *Execution

	err *stream.BodyTimeoutError
}

func (e *ExecutionTimeoutError) Error() string {
	return fmt.Sprintf("execution timed out after %s", e.Timeout)
}

func (e *ExecutionTimeoutError) Unwrap() error { return e.err }
