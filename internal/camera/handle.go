package camera

import (
	"context"

	"github.com/google/uuid"
)

// Handle is the caller-visible token for a submitted command. The worker
// signals it exactly once, after the command has run (or after the worker
// refused or abandoned it). Callers may wait on it or walk away; abandoning
// a handle does not affect execution.
type Handle struct {
	id   string
	name string
	done chan struct{}
	err  error // written before done is closed, read only after
}

func newHandle(name string) *Handle {
	return &Handle{
		id:   uuid.NewString(),
		name: name,
		done: make(chan struct{}),
	}
}

// ID returns the unique identifier of this command submission.
func (h *Handle) ID() string { return h.id }

// Name returns the command name (e.g. "capture", "autofocus").
func (h *Handle) Name() string { return h.name }

// Done returns a channel closed when the command has completed.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the command's error. Valid only after Done is closed.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Wait blocks until the command completes or ctx is cancelled. Cancelling
// the wait abandons the handle; the worker still executes the command.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// settle records the outcome and releases waiters. Called exactly once.
func (h *Handle) settle(err error) {
	h.err = err
	close(h.done)
}
