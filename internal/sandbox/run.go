package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/valyent/valyent-go/internal/metrics"
	"github.com/valyent/valyent-go/internal/stream"
)

// State is a step of an execution call. Completed, Failed, TimedOut and
// Aborted are terminal and mutually exclusive.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateErrorChecking
	StateStreaming
	StateCompleted
	StateFailed
	StateTimedOut
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateErrorChecking:
		return "error_checking"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed_out"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether s ends the call.
func (s State) Terminal() bool {
	return s >= StateCompleted
}

// RunOption configures a single RunCode call.
type RunOption func(*runConfig)

type runConfig struct {
	language string
	budgets  stream.Budgets
}

// WithLanguage selects the interpreter. The sandbox default applies when
// unset.
func WithLanguage(language string) RunOption {
	return func(c *runConfig) {
		c.language = language
	}
}

// WithBudgets overrides the connect and stream budgets for one call.
func WithBudgets(b stream.Budgets) RunOption {
	return func(c *runConfig) {
		c.budgets = b
	}
}

type executeRequest struct {
	Code     string `json:"code"`
	Language string `json:"language,omitempty"`
}

// RunCode submits code to the sandbox and waits for the execution to end.
//
// On success the returned Execution holds the whole output and either a
// result or the code's own error. Every other outcome is an error:
//   - *stream.StatusError when the server rejects the request
//   - *stream.RequestTimeoutError when the response headers are late
//   - *ExecutionTimeoutError when the body is late, with partial output
//   - *ProtocolViolationError when the event stream is malformed
//   - *stream.AbortedError when ctx is cancelled
//   - *stream.ConnectionError on transport failures
func (s *Sandbox) RunCode(ctx context.Context, code string, opts ...RunOption) (*Execution, error) {
	cfg := runConfig{budgets: s.budgets}
	for _, opt := range opts {
		opt(&cfg)
	}

	start := time.Now()
	r := &run{sandbox: s, logger: s.logger}
	exec, err := r.execute(ctx, code, cfg)

	metrics.ExecutionsTotal.WithLabelValues(r.state.String()).Inc()
	metrics.ExecutionDuration.Observe(time.Since(start).Seconds())

	return exec, err
}

// run tracks the state of one execution call.
type run struct {
	sandbox *Sandbox
	logger  *slog.Logger
	state   State
}

func (r *run) transition(to State) {
	r.logger.Debug("execution state changed",
		slog.String("from", r.state.String()),
		slog.String("to", to.String()),
	)
	r.state = to
}

// fail moves to the terminal state matching err and returns err.
func (r *run) fail(err error) error {
	r.transition(StateOf(err))
	return err
}

// StateOf returns the terminal state a RunCode error ends in. A nil error
// is StateCompleted.
func StateOf(err error) State {
	var abortErr *stream.AbortedError
	switch {
	case err == nil:
		return StateCompleted
	case stream.IsTimeout(err):
		return StateTimedOut
	case errors.As(err, &abortErr):
		return StateAborted
	default:
		return StateFailed
	}
}

func (r *run) execute(ctx context.Context, code string, cfg runConfig) (*Execution, error) {
	endpoint, err := executeURL(r.sandbox.URL)
	if err != nil {
		return nil, r.fail(err)
	}
	body, err := json.Marshal(executeRequest{Code: code, Language: cfg.language})
	if err != nil {
		return nil, r.fail(fmt.Errorf("failed to marshal execute request: %w", err))
	}

	ctrl := stream.NewController(ctx, cfg.budgets)
	defer ctrl.Stop()

	r.transition(StateConnecting)
	req, err := http.NewRequestWithContext(ctrl.Context(), http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, r.fail(fmt.Errorf("failed to create request: %w", err))
	}
	r.sandbox.client.Authorize(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.sandbox.client.Stream(req)
	if err != nil {
		return nil, r.fail(ctrl.Classify(err))
	}
	defer resp.Body.Close()

	r.transition(StateErrorChecking)
	if err := stream.CheckResponse(resp); err != nil {
		if ctrl.Context().Err() != nil {
			// The connect budget is still armed while the error body is read.
			return nil, r.fail(ctrl.Classify(err))
		}
		return nil, r.fail(err)
	}
	if err := stream.RequireBody(resp); err != nil {
		return nil, r.fail(err)
	}
	if err := ctrl.BeginStreaming(); err != nil {
		return nil, r.fail(err)
	}

	r.transition(StateStreaming)
	exec := NewExecution()
	framer := stream.NewFramer(resp.Body, stream.EmitTrailing)
	for {
		line, err := framer.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, r.fail(r.streamError(ctrl.Classify(err), exec))
		}
		if err := exec.Fold(line); err != nil {
			return nil, r.fail(err)
		}
	}

	if !exec.Completed() {
		return nil, r.fail(&ProtocolViolationError{Err: ErrUnterminatedStream})
	}

	r.transition(StateCompleted)
	return exec, nil
}

// streamError attaches the partial output to a stream budget timeout.
func (r *run) streamError(err error, partial *Execution) error {
	var bodyErr *stream.BodyTimeoutError
	if errors.As(err, &bodyErr) {
		return &ExecutionTimeoutError{Timeout: bodyErr.Timeout, Partial: partial, err: bodyErr}
	}
	return err
}

// executeURL resolves the execution endpoint against the sandbox URL.
func executeURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid sandbox url %q: %w", base, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid sandbox url %q: scheme and host are required", base)
	}
	return u.ResolveReference(&url.URL{Path: "/execute"}).String(), nil
}
