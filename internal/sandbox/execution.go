package sandbox

import (
	"encoding/json"
	"errors"
	"strings"
)

// ExecutionError is the error raised by the executed code itself. It ends
// the execution normally: the call succeeded, the code did not.
type ExecutionError struct {
	Message string `json:"message"`
}

func (e *ExecutionError) Error() string {
	return e.Message
}

// Execution accumulates the events of one code execution in arrival order.
// It is owned by a single call and is not safe for concurrent use.
type Execution struct {
	Stdout []string `json:"stdout"`
	Stderr []string `json:"stderr"`

	// Result is the raw JSON value of the result event, nil when the code
	// ended with an error.
	Result json.RawMessage `json:"result,omitempty"`

	// Error is set when the code ended with an error event.
	Error *ExecutionError `json:"error,omitempty"`

	completed bool
}

// NewExecution returns an empty accumulator.
func NewExecution() *Execution {
	return &Execution{Stdout: []string{}, Stderr: []string{}}
}

// Completed reports whether a terminal event has been folded in.
func (e *Execution) Completed() bool {
	return e.completed
}

// Fold parses line and applies the event. Blank lines are ignored until a
// terminal event has been folded; after that every line is rejected. Any
// failure is a *ProtocolViolationError.
func (e *Execution) Fold(line string) error {
	if e.completed {
		return &ProtocolViolationError{Line: line, Err: ErrEventAfterTerminal}
	}
	if strings.TrimSpace(line) == "" {
		return nil
	}

	ev, err := ParseEvent(line)
	if err != nil {
		return &ProtocolViolationError{Line: line, Err: err}
	}
	if err := e.Apply(ev); err != nil {
		return &ProtocolViolationError{Line: line, Err: err}
	}
	return nil
}

// Apply folds an already parsed event. It returns ErrEventAfterTerminal
// once the execution has completed.
func (e *Execution) Apply(ev Event) error {
	if e.completed {
		return ErrEventAfterTerminal
	}

	switch ev.Kind {
	case EventStdout:
		e.Stdout = append(e.Stdout, ev.Text)
	case EventStderr:
		e.Stderr = append(e.Stderr, ev.Text)
	case EventResult:
		e.Result = ev.Value
		e.completed = true
	case EventError:
		e.Error = &ExecutionError{Message: ev.Text}
		e.completed = true
	default:
		return ErrMalformedEvent
	}
	return nil
}

// Text returns the concatenated stdout.
func (e *Execution) Text() string {
	return strings.Join(e.Stdout, "")
}

// DecodeResult unmarshals the result value into v.
func (e *Execution) DecodeResult(v any) error {
	if e.Result == nil {
		return errors.New("execution has no result")
	}
	return json.Unmarshal(e.Result, v)
}
