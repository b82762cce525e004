package shutdown

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"
)

// nopLogger returns a logger that discards all output, suitable for tests.
func nopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCoordinator_ReverseOrder(t *testing.T) {
	var order []string
	record := func(name string) Func {
		return func() error {
			order = append(order, name)
			return nil
		}
	}

	coord := NewCoordinator(nopLogger())
	coord.Register("checkpoints", record("checkpoints"))
	coord.Register("forwarder", record("forwarder"))
	coord.Register("followers", record("followers"))

	if coord.Len() != 3 {
		t.Fatalf("Len = %d, want 3", coord.Len())
	}
	if err := coord.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	want := []string{"followers", "forwarder", "checkpoints"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
}

func TestCoordinator_ContinuesAfterFailure(t *testing.T) {
	errA := errors.New("a failed")
	errC := errors.New("c failed")
	var ranB bool

	coord := NewCoordinator(nopLogger())
	coord.Register("a", Func(func() error { return errA }))
	coord.Register("b", Func(func() error { ranB = true; return nil }))
	coord.Register("c", Func(func() error { return errC }))

	err := coord.Shutdown(context.Background())
	if !errors.Is(err, errA) || !errors.Is(err, errC) {
		t.Errorf("error = %v, want both failures joined", err)
	}
	if !ranB {
		t.Error("component b was skipped after c failed")
	}
}

func TestCoordinator_DeadlineStopsRemaining(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var ranFirst bool

	coord := NewCoordinator(nopLogger())
	coord.Register("first", Func(func() error { ranFirst = true; return nil }))
	coord.Register("last", Func(func() error { cancel(); return nil }))

	err := coord.Shutdown(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if ranFirst {
		t.Error("component ran after the deadline")
	}
}
