// Package sandbox runs code in ephemeral execution sandboxes.
//
// A Sandbox is a machine in the "sandboxes" fleet with an execution
// endpoint. RunCode submits code and folds the NDJSON event stream into an
// Execution under two timeout budgets: one for the response headers, one for
// the body. Machine operations and log following are delegated to the
// client and logtail packages.
//
// Usage:
//
//	sandboxes := sandbox.NewSandboxes(c, logger)
//	sb, err := sandboxes.Create(ctx, sandbox.TypeCodeInterpreter)
//	exec, err := sb.RunCode(ctx, `print("hi")`, sandbox.WithLanguage("python"))
package sandbox

import (
	"context"
	"iter"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/valyent/valyent-go/internal/client"
	"github.com/valyent/valyent-go/internal/logtail"
	"github.com/valyent/valyent-go/internal/stream"
)

// Fleet is the fleet every sandbox machine belongs to.
const Fleet = "sandboxes"

// Type selects the sandbox image.
type Type string

const (
	TypeCodeInterpreter Type = "code-interpreter"
	TypeComputerUse     Type = "computer-use"
)

// Record is the platform's description of a sandbox.
type Record struct {
	ID        string `json:"id"`
	StartedAt int64  `json:"startedAt"`
	EndedAt   int64  `json:"endedAt"`
	Type      Type   `json:"type"`
	URL       string `json:"url"`
}

// Sandboxes creates and looks up sandboxes.
type Sandboxes struct {
	client  *client.Client
	tailer  *logtail.Tailer
	budgets stream.Budgets
	logger  *slog.Logger
}

// NewSandboxes creates the sandbox service. A nil logger means
// slog.Default().
func NewSandboxes(c *client.Client, logger *slog.Logger) *Sandboxes {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sandboxes{
		client:  c,
		tailer:  logtail.NewTailer(c, logger),
		budgets: stream.DefaultBudgets(),
		logger:  logger.With(slog.String("component", "sandbox")),
	}
}

// SetBudgets changes the default budgets of sandboxes returned from now on.
func (s *Sandboxes) SetBudgets(b stream.Budgets) {
	s.budgets = b
}

func (s *Sandboxes) path() (string, error) {
	ns := s.client.Namespace()
	if ns == "" {
		return "", ErrNoNamespace
	}
	return "/organizations/" + url.PathEscape(ns) + "/ai/sandboxes", nil
}

// Create starts a new sandbox of the given type.
func (s *Sandboxes) Create(ctx context.Context, typ Type) (*Sandbox, error) {
	path, err := s.path()
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := s.client.Call(ctx, http.MethodPost, path, map[string]Type{"type": typ}, &rec); err != nil {
		return nil, err
	}
	s.logger.Info("sandbox created", slog.String("sandbox", rec.ID), slog.String("type", string(rec.Type)))
	return s.Attach(rec), nil
}

// Get looks up an existing sandbox.
func (s *Sandboxes) Get(ctx context.Context, id string) (*Sandbox, error) {
	path, err := s.path()
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := s.client.Call(ctx, http.MethodGet, path+"/"+url.PathEscape(id), nil, &rec); err != nil {
		return nil, err
	}
	return s.Attach(rec), nil
}

// Attach wraps a known record without calling the API.
func (s *Sandboxes) Attach(rec Record) *Sandbox {
	return &Sandbox{
		Record:   rec,
		client:   s.client,
		machines: s.client.Machines,
		tailer:   s.tailer,
		budgets:  s.budgets,
		logger:   s.logger.With(slog.String("sandbox", rec.ID)),
	}
}

// Sandbox is a running execution sandbox.
type Sandbox struct {
	Record

	client   *client.Client
	machines *client.Machines
	tailer   *logtail.Tailer
	budgets  stream.Budgets
	logger   *slog.Logger
}

// Machine returns the machine backing the sandbox.
func (s *Sandbox) Machine(ctx context.Context) (*client.Machine, error) {
	return s.machines.Get(ctx, Fleet, s.ID)
}

// Delete destroys the sandbox machine.
func (s *Sandbox) Delete(ctx context.Context) error {
	return s.machines.Delete(ctx, Fleet, s.ID)
}

// Logs returns the buffered log entries of the sandbox machine.
func (s *Sandbox) Logs(ctx context.Context) ([]client.LogEntry, error) {
	return s.machines.Logs(ctx, Fleet, s.ID)
}

// FollowLogs follows the live log stream of the sandbox machine.
func (s *Sandbox) FollowLogs(ctx context.Context, opts ...logtail.Option) iter.Seq2[logtail.Record, error] {
	return s.tailer.Follow(ctx, Fleet, s.ID, opts...)
}
