// Package logtail follows the live log stream of a machine.
//
// A follow call holds one long-lived connection and yields records lazily
// as the server writes them. Lines that do not parse are logged and skipped;
// only transport failures end the sequence with an error. The package never
// reconnects: when the stream ends the caller decides whether to follow
// again, optionally resuming with WithSkipBefore.
package logtail

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/valyent/valyent-go/internal/client"
)

// Record is one log line of a machine.
type Record = client.LogEntry

// ErrMissingTimestamp is returned by ParseRecord for an object without a
// timestamp field.
var ErrMissingTimestamp = errors.New("log record has no timestamp")

// wireRecord distinguishes a missing timestamp from a zero one.
type wireRecord struct {
	Timestamp  *int64 `json:"timestamp"`
	InstanceID string `json:"instance_id"`
	Source     string `json:"source"`
	Level      string `json:"level"`
	Message    string `json:"message"`
}

// ParseRecord decodes one NDJSON line into a Record. Unknown fields are
// ignored.
func ParseRecord(line string) (Record, error) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") {
		return Record{}, fmt.Errorf("log line is not a JSON object")
	}

	var w wireRecord
	if err := json.Unmarshal([]byte(trimmed), &w); err != nil {
		return Record{}, fmt.Errorf("invalid log record: %w", err)
	}
	if w.Timestamp == nil {
		return Record{}, ErrMissingTimestamp
	}

	return Record{
		Timestamp:  *w.Timestamp,
		InstanceID: w.InstanceID,
		Source:     w.Source,
		Level:      w.Level,
		Message:    w.Message,
	}, nil
}
