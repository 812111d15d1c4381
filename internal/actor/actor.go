package actor

import (
	"context"
	"fmt"
	"reflect"
	"runtime/debug"
	"time"

	"github.com/nerrad567/gray-logic-runtime/internal/device"
)

// Device is what a device type's Run body receives: its identity, its
// mailbox, and the System it lives in.
type Device struct {
	handle *Handle
	system *System
	logger Logger
}

// ID returns the device ID.
func (d *Device) ID() device.ID {
	return d.handle.ID()
}

// Name returns the device's display name.
func (d *Device) Name() string {
	return d.handle.Name()
}

// Type returns the device type key.
func (d *Device) Type() string {
	return d.handle.Type()
}

// System returns the actor system, for asking other devices.
func (d *Device) System() *System {
	return d.system
}

// Self targets this device. Background goroutines use it to feed results
// back through the mailbox instead of touching state directly.
func (d *Device) Self() Target {
	return ID(d.handle.ID())
}

// Logger returns a logger tagged with the device's id and type.
func (d *Device) Logger() Logger {
	return d.logger
}

// handlerFunc is a registered handler with its message type erased.
type handlerFunc[S any] func(ctx context.Context, state *S, msg any) (any, error)

// Actor binds handlers to one device's mailbox. S is the actor's state;
// only the goroutine running Execute ever touches it.
type Actor[S any] struct {
	dev      *Device
	handlers map[reflect.Type]handlerFunc[S]
	watch    []<-chan error
}

// New starts building the actor for dev.
func New[S any](dev *Device) *Actor[S] {
	return &Actor[S]{
		dev:      dev,
		handlers: make(map[reflect.Type]handlerFunc[S]),
	}
}

// On registers fn as the handler for message type M. Each message type
// may be bound once per actor; binding it twice panics. Handlers must be
// registered before Execute.
//
//	actor.On(a, func(ctx context.Context, s *counter, _ GetTick) (uint32, error) {
//	    return s.count, nil
//	})
func On[S any, Out any, M Message[Out]](a *Actor[S], fn func(ctx context.Context, state *S, msg M) (Out, error)) *Actor[S] {
	t := reflect.TypeFor[M]()
	if _, exists := a.handlers[t]; exists {
		panic(fmt.Sprintf("actor: duplicate handler for %s", t))
	}
	a.handlers[t] = func(ctx context.Context, state *S, msg any) (any, error) {
		return fn(ctx, state, msg.(M))
	}
	a.dev.handle.addHandler(t)
	return a
}

// Watch makes Execute return when ch yields a value or is closed. Devices
// use it to end the actor when a background resource goes away.
func (a *Actor[S]) Watch(ch <-chan error) *Actor[S] {
	a.watch = append(a.watch, ch)
	return a
}

// Execute consumes the mailbox until ctx is cancelled or a watched channel
// fires, dispatching each envelope to its handler with exclusive access to
// state. Handlers run one at a time, in arrival order.
func (a *Actor[S]) Execute(ctx context.Context, state *S) error {
	mb := a.dev.handle.mailbox
	watched := mergeWatch(ctx, a.watch)

	// The handler set is final from here; Start is waiting on this.
	a.dev.handle.markReady()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-watched:
			return err
		case env := <-mb.receive():
			if mb.IsClosed() {
				env.fail(fmt.Errorf("%w: %s is stopping", ErrDeviceUnavailable, a.dev.ID()))
				continue
			}
			a.dispatch(ctx, state, env)
		}
	}
}

func (a *Actor[S]) dispatch(ctx context.Context, state *S, env envelope) {
	h, ok := a.handlers[env.msgType]
	if !ok {
		env.fail(fmt.Errorf("%w: %s has no handler for %s", ErrUnknownMessage, a.dev.ID(), env.msgType))
		return
	}

	start := time.Now()
	value, err := invoke(ctx, h, state, env.msg)
	a.dev.system.metrics.observeHandler(a.dev.Type(), env.msgType.Name(), time.Since(start), err)

	a.dev.handle.processed.Add(1)
	if err != nil {
		a.dev.handle.failures.Add(1)
	}

	if env.reply != nil {
		env.reply.send(result{value: value, err: err})
		return
	}
	if err != nil {
		a.dev.logger.Warn("tell handler failed",
			"message", env.msgType.String(),
			"error", err,
		)
	}
}

// invoke runs one handler, converting a panic into a PanicError.
func invoke[S any](ctx context.Context, h handlerFunc[S], state *S, msg any) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return h(ctx, state, msg)
}

// mergeWatch fans the watched channels into one. It returns nil (never
// ready) when there is nothing to watch.
func mergeWatch(ctx context.Context, chans []<-chan error) <-chan error {
	if len(chans) == 0 {
		return nil
	}
	if len(chans) == 1 {
		return chans[0]
	}

	out := make(chan error, len(chans))
	for _, ch := range chans {
		go func(ch <-chan error) {
			select {
			case err := <-ch:
				out <- err
			case <-ctx.Done():
			}
		}(ch)
	}
	return out
}
