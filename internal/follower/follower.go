// Package follower keeps a set of machine log streams open for the log
// daemon. Each target gets its own loop: follow until the stream ends,
// wait the reconnect delay plus a random jitter, then follow again from
// the stored checkpoint.
//
// Records are forwarded before their checkpoint is written, so a crash or
// a failed publish repeats records on the next connection instead of
// losing them.
//
// Usage:
//
//	f := follower.New(tailer, st, fwd, targets, 5*time.Second, 5*time.Second, logger)
//	go f.Run(ctx)
//	// ... on shutdown:
//	f.Shutdown(shutdownCtx)
package follower

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyent/valyent-go/internal/logtail"
	"github.com/valyent/valyent-go/internal/store"
	"github.com/valyent/valyent-go/internal/stream"
)

// Source opens live log streams. *logtail.Tailer implements it.
type Source interface {
	Follow(ctx context.Context, fleet, machine string, opts ...logtail.Option) iter.Seq2[logtail.Record, error]
}

// Checkpoints persists the last timestamp seen per machine. *store.Store
// implements it.
type Checkpoints interface {
	Checkpoint(fleet, machine string) (store.Checkpoint, bool, error)
	SetCheckpoint(fleet, machine string, ts int64) error
}

// Publisher receives every followed record. *forward.Forwarder implements it.
type Publisher interface {
	Publish(ctx context.Context, fleet, machine string, rec logtail.Record) error
}

// Target names one followed machine.
type Target struct {
	Fleet   string
	Machine string
}

// Follower runs one follow loop per target.
type Follower struct {
	source      Source
	checkpoints Checkpoints
	publisher   Publisher
	targets     []Target
	delay       time.Duration
	jitter      time.Duration
	logger      *slog.Logger

	// Synchronization for graceful shutdown
	wg      sync.WaitGroup
	running atomic.Bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped bool
}

// New creates a Follower. publisher may be nil, in which case records are
// only checkpointed.
func New(source Source, checkpoints Checkpoints, publisher Publisher, targets []Target, delay, jitter time.Duration, logger *slog.Logger) *Follower {
	return &Follower{
		source:      source,
		checkpoints: checkpoints,
		publisher:   publisher,
		targets:     targets,
		delay:       delay,
		jitter:      jitter,
		logger:      logger.With(slog.String("component", "follower")),
	}
}

// Run starts the follow loops and blocks until ctx is cancelled or
// Shutdown is called. Run returns immediately if Shutdown already ran.
func (f *Follower) Run(ctx context.Context) {
	internalCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// wg.Add happens under mu so that Shutdown either sees the loops
	// registered or stops Run from starting them.
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	f.cancel = cancel
	f.wg.Add(len(f.targets))
	f.mu.Unlock()

	f.running.Store(true)
	defer f.running.Store(false)

	f.logger.Info("follower starting",
		slog.Int("targets", len(f.targets)),
		slog.Duration("reconnect_delay", f.delay),
		slog.Duration("reconnect_jitter", f.jitter),
	)

	for _, target := range f.targets {
		go func() {
			defer f.wg.Done()
			f.loop(internalCtx, target)
		}()
	}

	<-internalCtx.Done()
	f.wg.Wait()
	f.logger.Info("follower stopped")
}

func (f *Follower) loop(ctx context.Context, target Target) {
	logger := f.logger.With(
		slog.String("fleet", target.Fleet),
		slog.String("machine", target.Machine),
	)

	for {
		f.followOnce(ctx, target, logger)

		// Use Timer instead of Ticker for variable intervals
		wait := f.delay
		if f.jitter > 0 {
			wait += rand.N(f.jitter)
		}
		logger.Debug("waiting before reconnect", slog.Duration("wait", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// followOnce consumes a single log stream until it ends.
func (f *Follower) followOnce(ctx context.Context, target Target, logger *slog.Logger) {
	var opts []logtail.Option
	cp, ok, err := f.checkpoints.Checkpoint(target.Fleet, target.Machine)
	if err != nil {
		logger.Error("failed to read checkpoint", slog.String("error", err.Error()))
		return
	}
	if ok {
		opts = append(opts, logtail.WithSkipBefore(cp.Timestamp))
		logger.Debug("resuming from checkpoint", slog.Int64("timestamp", cp.Timestamp))
	}

	count := 0
	for rec, err := range f.source.Follow(ctx, target.Fleet, target.Machine, opts...) {
		if err != nil {
			var aborted *stream.AbortedError
			if errors.As(err, &aborted) && ctx.Err() != nil {
				return
			}
			logger.Warn("log stream failed", slog.String("error", err.Error()))
			return
		}

		if f.publisher != nil {
			if err := f.publisher.Publish(ctx, target.Fleet, target.Machine, rec); err != nil {
				// Leave the checkpoint behind the record; the next
				// connection picks it up again.
				logger.Warn("failed to forward record, reconnecting",
					slog.Int64("timestamp", rec.Timestamp),
					slog.String("error", err.Error()),
				)
				return
			}
		}

		if err := f.checkpoints.SetCheckpoint(target.Fleet, target.Machine, rec.Timestamp); err != nil {
			logger.Error("failed to store checkpoint", slog.String("error", err.Error()))
			return
		}
		count++
	}

	logger.Info("log stream ended", slog.Int("records", count))
}

// Shutdown stops the follow loops and waits for them to exit.
// It respects the shutdown context's deadline/timeout.
func (f *Follower) Shutdown(ctx context.Context) error {
	f.logger.Info("follower shutting down")

	f.mu.Lock()
	f.stopped = true
	cancel := f.cancel
	f.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		f.logger.Info("follower shutdown complete")
		return nil
	case <-ctx.Done():
		f.logger.Warn("follower shutdown timed out")
		return ctx.Err()
	}
}

// IsHealthy reports whether the follow loops are running. The systemd
// watchdog uses it.
func (f *Follower) IsHealthy() bool {
	return f.running.Load()
}
