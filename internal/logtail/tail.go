package logtail

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"github.com/valyent/valyent-go/internal/client"
	"github.com/valyent/valyent-go/internal/metrics"
	"github.com/valyent/valyent-go/internal/stream"
)

// ErrConsumed is yielded when a follow sequence is iterated a second time.
// Each Follow call owns exactly one connection; call Follow again to
// reconnect.
var ErrConsumed = errors.New("log sequence already consumed")

// maxLoggedLine bounds how much of a malformed line ends up in the logs.
const maxLoggedLine = 256

// Option configures a single Follow call.
type Option func(*followConfig)

type followConfig struct {
	skipBefore    int64
	hasSkipBefore bool
}

// WithSkipBefore drops records whose timestamp is strictly lower than ts.
// Records at ts itself are kept, so resuming from a checkpoint may repeat
// the last record but never loses one.
func WithSkipBefore(ts int64) Option {
	return func(c *followConfig) {
		c.skipBefore = ts
		c.hasSkipBefore = true
	}
}

// Tailer follows machine logs through the API client.
type Tailer struct {
	client *client.Client
	logger *slog.Logger
}

// NewTailer creates a Tailer. A nil logger means slog.Default().
func NewTailer(c *client.Client, logger *slog.Logger) *Tailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tailer{
		client: c,
		logger: logger.With(slog.String("component", "logtail")),
	}
}

// Follow returns the live log sequence of a machine. Nothing is sent until
// the sequence is iterated. Iteration ends without an error when the server
// closes the stream, with one error on a transport or status failure, and
// with a *stream.AbortedError when ctx is cancelled. Breaking out of the
// loop closes the connection.
//
// No timeout budget applies: a follow stream may stay open indefinitely.
func (t *Tailer) Follow(ctx context.Context, fleet, machine string, opts ...Option) iter.Seq2[Record, error] {
	var cfg followConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	var consumed atomic.Bool
	return func(yield func(Record, error) bool) {
		if !consumed.CompareAndSwap(false, true) {
			yield(Record{}, ErrConsumed)
			return
		}
		t.follow(ctx, fleet, machine, cfg, yield)
	}
}

func (t *Tailer) follow(ctx context.Context, fleet, machine string, cfg followConfig, yield func(Record, error) bool) {
	logger := t.logger.With(slog.String("fleet", fleet), slog.String("machine", machine))

	// Budgets are disabled; the controller only supplies the cancellation
	// signal and phase classification.
	ctrl := stream.NewController(ctx, stream.Budgets{})
	defer ctrl.Stop()

	req, err := t.client.NewRequest(ctrl.Context(), http.MethodGet, client.LogsPath(fleet, machine), url.Values{"follow": {"true"}}, nil)
	if err != nil {
		yield(Record{}, err)
		return
	}

	logger.Debug("opening log stream")
	resp, err := t.client.Stream(req)
	if err != nil {
		yield(Record{}, ctrl.Classify(err))
		return
	}
	defer resp.Body.Close()

	if err := stream.CheckResponse(resp); err != nil {
		if ctrl.Context().Err() != nil {
			err = ctrl.Classify(err)
		}
		yield(Record{}, err)
		return
	}
	if err := stream.RequireBody(resp); err != nil {
		yield(Record{}, err)
		return
	}
	if err := ctrl.BeginStreaming(); err != nil {
		yield(Record{}, err)
		return
	}

	metrics.LogStreamsActive.Inc()
	defer metrics.LogStreamsActive.Dec()

	framer := stream.NewFramer(resp.Body, stream.DiscardTrailing)
	for {
		line, err := framer.Next()
		if errors.Is(err, io.EOF) {
			logger.Debug("log stream closed by server")
			return
		}
		if err != nil {
			yield(Record{}, ctrl.Classify(err))
			return
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		rec, err := ParseRecord(line)
		if err != nil {
			logger.Warn("skipping malformed log line",
				slog.String("error", err.Error()),
				slog.String("line", truncate(line, maxLoggedLine)),
			)
			metrics.LogLinesMalformedTotal.WithLabelValues(fleet).Inc()
			continue
		}
		if cfg.hasSkipBefore && rec.Timestamp < cfg.skipBefore {
			continue
		}

		metrics.LogRecordsTotal.WithLabelValues(fleet).Inc()
		if !yield(rec, nil) {
			return
		}
	}
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
