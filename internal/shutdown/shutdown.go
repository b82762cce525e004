// Package shutdown provides coordinated shutdown for the log daemon's
// components. Components stop in reverse order of registration, so a
// follower stops writing before the checkpoint store and forwarder it
// writes to are closed.
//
// Usage:
//
//	coord := shutdown.NewCoordinator(logger)
//	coord.Register("checkpoints", shutdown.Func(store.Close))
//	coord.Register("forwarder", forwarder)
//	coord.Register("followers", followers)
//	coord.Shutdown(ctx) // followers, forwarder, then checkpoints
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Shutdowner is implemented by components that take part in coordinated
// shutdown. Shutdown should respect the context's deadline and return
// ctx.Err() if it cannot complete in time.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// Func adapts a close function, such as (*bbolt.DB).Close, to Shutdowner.
type Func func() error

// Shutdown calls f.
func (f Func) Shutdown(context.Context) error {
	return f()
}

type component struct {
	name       string
	shutdowner Shutdowner
}

// Coordinator stops registered components in LIFO order.
type Coordinator struct {
	components []component
	logger     *slog.Logger
}

// NewCoordinator creates a new shutdown coordinator.
func NewCoordinator(logger *slog.Logger) *Coordinator {
	return &Coordinator{
		logger: logger.With(slog.String("component", "shutdown")),
	}
}

// Register adds a component to be shut down.
func (c *Coordinator) Register(name string, s Shutdowner) {
	c.components = append(c.components, component{name: name, shutdowner: s})
	c.logger.Debug("registered shutdown handler", slog.String("handler", name))
}

// Len returns the number of registered components.
func (c *Coordinator) Len() int {
	return len(c.components)
}

// Shutdown stops every registered component in reverse order and returns
// all failures joined. A component that fails does not prevent the others
// from stopping. Once ctx expires the remaining components are skipped.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.logger.Info("starting coordinated shutdown", slog.Int("components", len(c.components)))

	var errs []error
	for i := len(c.components) - 1; i >= 0; i-- {
		comp := c.components[i]

		if err := ctx.Err(); err != nil {
			c.logger.Error("shutdown deadline exceeded", slog.String("remaining_component", comp.name))
			errs = append(errs, fmt.Errorf("shutdown deadline exceeded at %s: %w", comp.name, err))
			break
		}

		start := time.Now()
		err := comp.shutdowner.Shutdown(ctx)
		duration := time.Since(start)

		if err != nil {
			c.logger.Error("component shutdown failed",
				slog.String("handler", comp.name),
				slog.Duration("duration", duration),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("failed to shutdown %s: %w", comp.name, err))
			continue
		}
		c.logger.Info("component shutdown complete",
			slog.String("handler", comp.name),
			slog.Duration("duration", duration),
		)
	}

	if len(errs) > 0 {
		c.logger.Warn("coordinated shutdown completed with errors", slog.Int("errors", len(errs)))
		return errors.Join(errs...)
	}
	c.logger.Info("coordinated shutdown complete")
	return nil
}
