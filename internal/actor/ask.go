package actor

import (
	"context"
	"fmt"
	"reflect"
	"time"
)

// AskOption adjusts a single Ask.
type AskOption func(*askConfig)

type askConfig struct {
	timeout time.Duration
}

// WithTimeout overrides the system's ask timeout for one call.
func WithTimeout(d time.Duration) AskOption {
	return func(c *askConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// Ask sends msg to target and waits for the handler's reply.
//
// The handler's own error comes back unchanged. Runtime failures come back
// as one of the package's sentinel errors: ErrDeviceNotFound,
// ErrDeviceUnavailable, ErrMailboxFull, ErrUnknownMessage or ErrAskTimeout.
// If ctx ends first, ctx.Err() is returned; the handler may still run and
// its reply is discarded.
//
//	count, err := actor.Ask[uint32](ctx, sys, actor.Name("ticker"), GetTick{})
func Ask[Out any, M Message[Out]](ctx context.Context, sys *System, target Target, msg M, opts ...AskOption) (Out, error) {
	var zero Out

	cfg := askConfig{timeout: sys.askTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	msgType := reflect.TypeFor[M]()
	h, err := sys.resolve(target, msgType)
	if err != nil {
		sys.metrics.observeMessage("ask", err)
		return zero, err
	}

	askCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	slot := newReplySlot()
	env := envelope{msg: msg, msgType: msgType, reply: slot, enqueued: time.Now()}
	if err := sys.send(askCtx, h, env); err != nil {
		err = askError(ctx, askCtx, h, err)
		sys.metrics.observeMessage("ask", err)
		return zero, err
	}

	select {
	case r := <-slot.ch:
		sys.metrics.observeMessage("ask", r.err)
		if r.err != nil {
			return zero, r.err
		}
		out, ok := r.value.(Out)
		if !ok && r.value != nil {
			return zero, fmt.Errorf("actor: %s replied %T, want %T", h.id, r.value, zero)
		}
		return out, nil
	case <-askCtx.Done():
		err := askError(ctx, askCtx, h, askCtx.Err())
		sys.metrics.observeMessage("ask", err)
		return zero, err
	}
}

// askError tells caller cancellation apart from the ask deadline.
func askError(parent, askCtx context.Context, h *Handle, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if askCtx.Err() != nil {
		return fmt.Errorf("%w: %s", ErrAskTimeout, h.id)
	}
	return err
}

// Tell enqueues msg for target without waiting for it to be handled.
// The only errors are resolution and enqueue failures; handler errors are
// logged by the actor.
func Tell(ctx context.Context, sys *System, target Target, msg AnyMessage) error {
	msgType := reflect.TypeOf(msg)
	h, err := sys.resolve(target, msgType)
	if err != nil {
		sys.metrics.observeMessage("tell", err)
		return err
	}

	env := envelope{msg: msg, msgType: msgType, enqueued: time.Now()}
	err = sys.send(ctx, h, env)
	sys.metrics.observeMessage("tell", err)
	return err
}
