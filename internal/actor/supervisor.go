package actor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/nerrad567/gray-logic-runtime/internal/device"
)

// DefaultDrainTimeout bounds how long Stop waits for an actor to exit.
const DefaultDrainTimeout = 5 * time.Second

// Supervisor owns the lifecycle of actors: it validates descriptors, starts
// actor goroutines, stops them, and cleans up when they exit on their own.
//
// There is no implicit restart. An actor whose body returns an error or
// panics ends Failed and is removed from the registry.
type Supervisor struct {
	system       *System
	types        *Types
	logger       Logger
	drainTimeout time.Duration
	hook         func(StatusChange)

	wg sync.WaitGroup
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithDrainTimeout sets how long Stop waits for an actor to exit.
func WithDrainTimeout(d time.Duration) SupervisorOption {
	return func(s *Supervisor) {
		if d > 0 {
			s.drainTimeout = d
		}
	}
}

// WithStatusHook registers fn to be called on every lifecycle transition.
// fn runs on the actor's goroutine and must not block.
func WithStatusHook(fn func(StatusChange)) SupervisorOption {
	return func(s *Supervisor) {
		s.hook = fn
	}
}

// NewSupervisor creates a supervisor that starts actors into system using
// the implementations in types.
func NewSupervisor(system *System, types *Types, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		system:       system,
		types:        types,
		logger:       system.logger,
		drainTimeout: DefaultDrainTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// System returns the registry actors are started into.
func (s *Supervisor) System() *System {
	return s.system
}

// Types returns the device type table.
func (s *Supervisor) Types() *Types {
	return s.types
}

// Validate runs the type's validator for desc without starting anything.
func (s *Supervisor) Validate(desc device.Descriptor) (Type, any, error) {
	typ, err := s.types.Lookup(desc.Type)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := typ.Validate(desc.Params)
	if err != nil {
		return nil, nil, err
	}
	return typ, cfg, nil
}

// Start validates desc and, if valid, starts its actor under id.
//
// desc must already have variables resolved. Start returns once the body
// has reached Execute, so the handler set is known before the handle is
// Running. If ctx ends first the actor is stopped. After Start the
// actor's lifetime is not tied to ctx; it runs until Stop or until its
// body returns.
func (s *Supervisor) Start(ctx context.Context, id device.ID, desc device.Descriptor) (*Handle, error) {
	typ, cfg, err := s.Validate(desc)
	if err != nil {
		s.emit(StatusChange{
			ID:         id,
			Name:       desc.Name,
			DeviceType: desc.Type,
			Status:     StatusFailed,
			Err:        err,
			At:         time.Now(),
		})
		return nil, err
	}

	h := newHandle(id, desc, s.system.mailboxCapacity)
	if err := s.system.register(h); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h.setCancel(cancel)

	dev := &Device{
		handle: h,
		system: s.system,
		logger: withTags(s.logger, "device_id", id.String(), "device_type", desc.Type),
	}

	s.wg.Add(1)
	go s.run(runCtx, h, dev, typ, cfg)

	select {
	case <-h.ready:
	case <-h.exited:
	case <-ctx.Done():
		close(h.started)
		_ = s.Stop(context.WithoutCancel(ctx), h)
		return nil, ctx.Err()
	}

	select {
	case <-h.ready:
		if h.setRunning() {
			s.notify(h)
		}
		close(h.started)
		s.logger.Info("actor started",
			"device_id", id.String(),
			"device_name", desc.Name,
			"device_type", desc.Type,
		)
		return h, nil
	default:
	}

	// The body returned without ever reaching Execute.
	close(h.started)
	<-h.done
	if err := h.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %s returned before accepting messages", ErrDeviceUnavailable, id)
}

func (s *Supervisor) run(ctx context.Context, h *Handle, dev *Device, typ Type, cfg any) {
	defer s.wg.Done()

	runErr := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = &PanicError{Value: r, Stack: debug.Stack()}
			}
		}()
		return typ.Run(ctx, dev, cfg)
	}()
	close(h.exited)
	// Start publishes Running before anything terminal is recorded.
	<-h.started

	// Anything still queued will never be handled.
	for _, env := range h.mailbox.close() {
		env.fail(fmt.Errorf("%w: %s has stopped", ErrDeviceUnavailable, h.id))
	}
	h.cancelRun()

	status := h.finish(runErr)
	s.system.unregister(h)

	if status == StatusFailed {
		s.logger.Error("actor failed",
			"device_id", h.id.String(),
			"device_type", h.Type(),
			"error", runErr,
		)
	} else {
		s.logger.Info("actor stopped",
			"device_id", h.id.String(),
			"device_type", h.Type(),
		)
	}
	s.notify(h)
	close(h.done)
}

// Stop drains h: its mailbox stops accepting messages, pending senders get
// ErrDeviceUnavailable, and the actor's context is cancelled. Stop waits
// for the actor to exit, up to the drain timeout.
//
// Stopping an actor that is already stopping, stopped or failed is not an
// error.
func (s *Supervisor) Stop(ctx context.Context, h *Handle) error {
	if h.beginDrain() {
		s.notify(h)
		for _, env := range h.mailbox.close() {
			env.fail(fmt.Errorf("%w: %s is stopping", ErrDeviceUnavailable, h.id))
		}
		h.cancelRun()
	}

	timer := time.NewTimer(s.drainTimeout)
	defer timer.Stop()

	select {
	case <-h.done:
		return nil
	case <-timer.C:
		// The goroutine is abandoned; make sure nothing can reach it.
		s.system.unregister(h)
		s.logger.Warn("actor did not drain in time",
			"device_id", h.id.String(),
			"timeout", s.drainTimeout.String(),
		)
		return fmt.Errorf("%w: %s", ErrDrainTimeout, h.id)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reconfigure validates desc against h's type and delivers the new
// configuration as an UpdateParams message. It returns ErrUnknownMessage
// if the actor does not accept live updates; the caller then restarts it.
func (s *Supervisor) Reconfigure(ctx context.Context, h *Handle, desc device.Descriptor) error {
	if desc.Type != h.Type() {
		return fmt.Errorf("%w: cannot change device_type of %s in place", device.ErrInvalidDescriptor, h.id)
	}
	_, cfg, err := s.Validate(desc)
	if err != nil {
		return err
	}
	if !h.Handles(typeOfUpdateParams) {
		return fmt.Errorf("%w: %s does not accept parameter updates", ErrUnknownMessage, h.id)
	}

	if _, err := Ask[struct{}](ctx, s.system, ID(h.id), UpdateParams{Config: cfg}); err != nil {
		return err
	}
	h.setDescriptor(desc)
	return nil
}

// Shutdown stops every registered actor concurrently and waits for their
// goroutines. Individual stop failures are combined with multierr.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.system.mu.RLock()
	handles := make([]*Handle, 0, len(s.system.handles))
	for _, h := range s.system.handles {
		handles = append(handles, h)
	}
	s.system.mu.RUnlock()

	var (
		mu   sync.Mutex
		errs error
		wg   sync.WaitGroup
	)
	for _, h := range handles {
		wg.Add(1)
		go func(h *Handle) {
			defer wg.Done()
			if err := s.Stop(ctx, h); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("stop %s: %w", h.id, err))
				mu.Unlock()
			}
		}(h)
	}
	wg.Wait()
	return errs
}

// Wait blocks until every actor goroutine started by s has returned.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

func (s *Supervisor) notify(h *Handle) {
	s.emit(h.change(time.Now()))
}

func (s *Supervisor) emit(change StatusChange) {
	s.system.metrics.observeLifecycle(change.DeviceType, change.Status)
	if s.hook != nil {
		s.hook(change)
	}
}
