package stream

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultBudget is the default length of both the connect and the stream
// budget.
const DefaultBudget = 60 * time.Second

// Phase identifies which timeout budget is active. It is used to classify
// errors, never to drive control flow.
type Phase int

const (
	// PhaseConnecting lasts from the start of the call until the response
	// status and headers are available.
	PhaseConnecting Phase = iota

	// PhaseStreaming lasts from the start of body reading until the body
	// has been read to completion.
	PhaseStreaming
)

func (p Phase) String() string {
	switch p {
	case PhaseConnecting:
		return "connecting"
	case PhaseStreaming:
		return "streaming"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Budgets holds the two timeout budgets of a streaming call. A zero value
// disables the corresponding budget.
type Budgets struct {
	Connect time.Duration
	Stream  time.Duration
}

// DefaultBudgets returns DefaultBudget for both phases.
func DefaultBudgets() Budgets {
	return Budgets{Connect: DefaultBudget, Stream: DefaultBudget}
}

// timeoutCause is the cancellation cause set by a budget timer.
type timeoutCause struct {
	phase  Phase
	budget time.Duration
}

func (c *timeoutCause) Error() string {
	return fmt.Sprintf("%s budget of %s exceeded", c.phase, c.budget)
}

// Controller runs two sequential timeout budgets over a single cancellable
// context. Only one budget timer is armed at a time: the connect timer from
// creation until BeginStreaming, then the stream timer until Stop.
//
// The context returned by Context must be used for the request so that a
// firing timer makes the pending read fail. Controller is owned by one call
// and is not safe for concurrent use; the timers themselves only touch the
// context's cancel function.
type Controller struct {
	parent  context.Context
	ctx     context.Context
	cancel  context.CancelCauseFunc
	budgets Budgets
	phase   Phase
	timer   *time.Timer
}

// NewController creates a Controller derived from parent and arms the
// connect budget.
func NewController(parent context.Context, budgets Budgets) *Controller {
	ctx, cancel := context.WithCancelCause(parent)
	c := &Controller{
		parent:  parent,
		ctx:     ctx,
		cancel:  cancel,
		budgets: budgets,
	}
	c.arm(PhaseConnecting, budgets.Connect)
	return c
}

// Context returns the cancellation signal for the call.
func (c *Controller) Context() context.Context {
	return c.ctx
}

// Phase returns the active phase.
func (c *Controller) Phase() Phase {
	return c.phase
}

// Budgets returns the budgets the controller was created with.
func (c *Controller) Budgets() Budgets {
	return c.budgets
}

// BeginStreaming ends the connect phase and arms the stream budget. If the
// connect timer already fired, or the caller cancelled, the classified
// error is returned and no stream timer is armed.
func (c *Controller) BeginStreaming() error {
	if c.timer != nil && !c.timer.Stop() {
		// The timer fired before we could disarm it; the context is
		// already cancelled with its cause.
		return c.Classify(context.Cause(c.ctx))
	}
	c.timer = nil
	if err := c.ctx.Err(); err != nil {
		return c.Classify(err)
	}
	c.arm(PhaseStreaming, c.budgets.Stream)
	return nil
}

// Stop disarms the active timer and releases the context. It is safe to
// call more than once.
func (c *Controller) Stop() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.cancel(nil)
}

// Classify maps a failure observed during the call to the error taxonomy.
// A budget timeout wins over everything else, then external cancellation;
// anything left is a transport failure in the active phase.
func (c *Controller) Classify(err error) error {
	if err == nil {
		return nil
	}

	var cause *timeoutCause
	if errors.As(context.Cause(c.ctx), &cause) {
		if cause.phase == PhaseConnecting {
			return &RequestTimeoutError{Timeout: cause.budget}
		}
		return &BodyTimeoutError{Timeout: cause.budget}
	}

	if c.parent.Err() != nil {
		return &AbortedError{Phase: c.phase, Cause: context.Cause(c.parent)}
	}

	return &ConnectionError{Phase: c.phase, Err: err}
}

// arm starts the timer for phase. A non-positive budget leaves the phase
// unbounded.
func (c *Controller) arm(phase Phase, budget time.Duration) {
	c.phase = phase
	if budget <= 0 {
		return
	}
	cause := &timeoutCause{phase: phase, budget: budget}
	c.timer = time.AfterFunc(budget, func() {
		c.cancel(cause)
	})
}
