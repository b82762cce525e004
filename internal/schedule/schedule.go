// Package schedule runs sandbox code on cron schedules and records each
// outcome in the run history.
//
// Expressions are standard 5-field cron with descriptors ("@hourly",
// "@every 10m"). A job whose previous run is still in progress skips its
// tick.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/valyent/valyent-go/internal/sandbox"
	"github.com/valyent/valyent-go/internal/store"
)

// Retention decides which runs are written to the history.
type Retention string

const (
	RetainAlways    Retention = "always"
	RetainOnFailure Retention = "on_failure"
	RetainNever     Retention = "never"
)

// ParseRetention validates a retention policy name. Empty means
// RetainAlways.
func ParseRetention(s string) (Retention, error) {
	switch r := Retention(s); r {
	case "":
		return RetainAlways, nil
	case RetainAlways, RetainOnFailure, RetainNever:
		return r, nil
	default:
		return "", fmt.Errorf("unknown retention policy %q", s)
	}
}

// Runner executes code in a sandbox. *sandbox.Sandbox implements it.
type Runner interface {
	RunCode(ctx context.Context, code string, opts ...sandbox.RunOption) (*sandbox.Execution, error)
}

// History stores run outcomes. *store.Store implements it.
type History interface {
	AppendRun(r *store.RunRecord) error
	TrimRuns(keep int) error
}

// Job is one scheduled execution.
type Job struct {
	Expression string
	Code       string
	Language   string
	Retention  Retention
}

// Parser parses 5-field cron expressions with descriptors.
var Parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate checks a cron expression.
func Validate(expression string) error {
	_, err := Parser.Parse(expression)
	return err
}

// NextRun returns the first activation of expression after t.
func NextRun(expression string, after time.Time) (time.Time, error) {
	schedule, err := Parser.Parse(expression)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(after), nil
}

// Scheduler runs jobs against one sandbox.
type Scheduler struct {
	cron      *cron.Cron
	runner    Runner
	sandboxID string
	history   History
	keep      int
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates a Scheduler. history may be nil; keep bounds the stored
// history, 0 meaning unbounded.
func New(runner Runner, sandboxID string, history History, keep int, logger *slog.Logger) *Scheduler {
	logger = logger.With(slog.String("component", "schedule"), slog.String("sandbox_id", sandboxID))
	ctx, cancel := context.WithCancel(context.Background())
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(Parser),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		runner:    runner,
		sandboxID: sandboxID,
		history:   history,
		keep:      keep,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Add registers job. It must be called before Run.
func (s *Scheduler) Add(job Job) error {
	if job.Code == "" {
		return errors.New("job has no code")
	}
	if job.Retention == "" {
		job.Retention = RetainAlways
	}
	_, err := s.cron.AddFunc(job.Expression, func() {
		s.RunOnce(s.ctx, job)
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", job.Expression, err)
	}
	return nil
}

// Run starts the cron loop and blocks until ctx is cancelled. Running
// jobs are cancelled and awaited before Run returns.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started", slog.Int("jobs", len(s.cron.Entries())))
	s.cron.Start()
	select {
	case <-ctx.Done():
	case <-s.ctx.Done():
	}
	s.stop()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) stop() {
	stopped := s.cron.Stop()
	s.cancel()
	<-stopped.Done()
}

// Shutdown stops scheduling and waits for running jobs, bounded by ctx.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.stop()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce executes job immediately and records its outcome.
func (s *Scheduler) RunOnce(ctx context.Context, job Job) *store.RunRecord {
	startedAt := time.Now()
	exec, err := s.runner.RunCode(ctx, job.Code, sandbox.WithLanguage(job.Language))

	rec := &store.RunRecord{
		SandboxID:  s.sandboxID,
		StartedAt:  startedAt.UTC(),
		DurationMs: time.Since(startedAt).Milliseconds(),
		Outcome:    sandbox.StateOf(err).String(),
	}

	var timeoutErr *sandbox.ExecutionTimeoutError
	if errors.As(err, &timeoutErr) && timeoutErr.Partial != nil {
		exec = timeoutErr.Partial
	}
	if exec != nil {
		rec.Stdout = exec.Text()
		rec.Stderr = strings.Join(exec.Stderr, "")
		if exec.Result != nil {
			rec.Result = string(exec.Result)
		}
		if exec.Error != nil {
			rec.Error = exec.Error.Message
		}
	}
	if err != nil {
		rec.Error = err.Error()
	}

	failed := err != nil || rec.Error != ""
	logger := s.logger.With(
		slog.String("outcome", rec.Outcome),
		slog.Int64("duration_ms", rec.DurationMs),
	)
	if failed {
		logger.Warn("scheduled execution failed", slog.String("error", rec.Error))
	} else {
		logger.Info("scheduled execution complete")
	}

	if s.history == nil || !shouldStore(job.Retention, failed) {
		return rec
	}
	if err := s.history.AppendRun(rec); err != nil {
		s.logger.Error("failed to record run", slog.String("error", err.Error()))
		return rec
	}
	if s.keep > 0 {
		if err := s.history.TrimRuns(s.keep); err != nil {
			s.logger.Error("failed to trim run history", slog.String("error", err.Error()))
		}
	}
	return rec
}

func shouldStore(policy Retention, failed bool) bool {
	switch policy {
	case RetainNever:
		return false
	case RetainOnFailure:
		return failed
	default:
		return true
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
