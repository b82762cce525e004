package sandbox

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EventKind discriminates execution events.
type EventKind int

const (
	EventStdout EventKind = iota
	EventStderr
	EventResult
	EventError
)

var eventKeys = map[string]EventKind{
	"stdout": EventStdout,
	"stderr": EventStderr,
	"result": EventResult,
	"error":  EventError,
}

func (k EventKind) String() string {
	switch k {
	case EventStdout:
		return "stdout"
	case EventStderr:
		return "stderr"
	case EventResult:
		return "result"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is one line of the execution stream.
type Event struct {
	Kind EventKind

	// Text is set for stdout, stderr and error events.
	Text string

	// Value is the raw JSON of a result event.
	Value json.RawMessage
}

// Terminal reports whether the event ends the execution.
func (e Event) Terminal() bool {
	return e.Kind == EventResult || e.Kind == EventError
}

// ParseEvent decodes one line of the execution stream. The line must be a
// JSON object carrying exactly one of stdout, stderr, result or error;
// other keys are ignored. stdout, stderr and error must be strings, result
// may be any JSON value including null.
func ParseEvent(line string) (Event, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(line), &fields); err != nil {
		return Event{}, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	// "null" decodes into a nil map without error
	if fields == nil {
		return Event{}, fmt.Errorf("%w: not an object", ErrMalformedEvent)
	}

	var (
		ev    Event
		found int
	)
	for key, raw := range fields {
		kind, ok := eventKeys[key]
		if !ok {
			continue
		}
		found++
		ev.Kind = kind
		if kind == EventResult {
			ev.Value = bytes.Clone(raw)
			continue
		}
		if bytes.Equal(raw, []byte("null")) || json.Unmarshal(raw, &ev.Text) != nil {
			return Event{}, fmt.Errorf("%w: %s is not a string", ErrMalformedEvent, key)
		}
	}

	switch found {
	case 0:
		return Event{}, fmt.Errorf("%w: no event field", ErrMalformedEvent)
	case 1:
		return ev, nil
	default:
		return Event{}, fmt.Errorf("%w: %d event fields", ErrMalformedEvent, found)
	}
}
