package actor

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-runtime/internal/device"
)

// Status is the lifecycle state of one actor.
type Status string

// Actor lifecycle states. Stopped and Failed are terminal.
const (
	StatusValidating Status = "validating"
	StatusRunning    Status = "running"
	StatusDraining   Status = "draining"
	StatusStopped    Status = "stopped"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions can happen from s.
func (s Status) Terminal() bool {
	return s == StatusStopped || s == StatusFailed
}

// StatusChange is emitted to the supervisor's lifecycle hook on every
// transition.
type StatusChange struct {
	ID         device.ID
	Name       string
	DeviceType string
	Status     Status
	Err        error
	At         time.Time
}

// Handle is the runtime instance of one actor: its mailbox, cancellation
// signal, descriptor, and lifecycle state.
//
// Handles are created by the Supervisor. Callers never touch the actor's
// state through a Handle; they send it messages.
type Handle struct {
	id      device.ID
	mailbox *Mailbox
	done    chan struct{}

	// ready is closed when the body reaches Execute, exited when the body
	// returns, started when Start has finished with the handle.
	ready     chan struct{}
	readyOnce sync.Once
	exited    chan struct{}
	started   chan struct{}

	mu        sync.RWMutex
	desc      device.Descriptor
	status    Status
	err       error
	cancel    context.CancelFunc
	startedAt time.Time
	stoppedAt time.Time
	handlers  map[reflect.Type]struct{}

	processed atomic.Uint64
	failures  atomic.Uint64
}

func newHandle(id device.ID, desc device.Descriptor, capacity int) *Handle {
	return &Handle{
		id:       id,
		desc:     desc.Clone(),
		mailbox:  NewMailbox(capacity),
		done:     make(chan struct{}),
		ready:    make(chan struct{}),
		exited:   make(chan struct{}),
		started:  make(chan struct{}),
		status:   StatusValidating,
		handlers: make(map[reflect.Type]struct{}),
	}
}

// ID returns the device ID.
func (h *Handle) ID() device.ID {
	return h.id
}

// Name returns the device's display name.
func (h *Handle) Name() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.desc.Name
}

// Type returns the device type key.
func (h *Handle) Type() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.desc.Type
}

// Descriptor returns a copy of the descriptor the actor is running with,
// params already resolved.
func (h *Handle) Descriptor() device.Descriptor {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.desc.Clone()
}

// Status returns the current lifecycle state.
func (h *Handle) Status() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

// Err returns the error that moved the actor to Failed, if any.
func (h *Handle) Err() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.err
}

// Done is closed once the actor's goroutine has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Mailbox returns the actor's mailbox.
func (h *Handle) Mailbox() *Mailbox {
	return h.mailbox
}

// Handles reports whether the actor registered a handler for msgType.
func (h *Handle) Handles(msgType reflect.Type) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.handlers[msgType]
	return ok
}

// Live reports whether the actor is validating or running.
func (h *Handle) Live() bool {
	s := h.Status()
	return s == StatusValidating || s == StatusRunning
}

func (h *Handle) addHandler(msgType reflect.Type) {
	h.mu.Lock()
	h.handlers[msgType] = struct{}{}
	h.mu.Unlock()
}

func (h *Handle) setDescriptor(desc device.Descriptor) {
	h.mu.Lock()
	h.desc = desc.Clone()
	h.mu.Unlock()
}

func (h *Handle) markReady() {
	h.readyOnce.Do(func() { close(h.ready) })
}

func (h *Handle) setCancel(cancel context.CancelFunc) {
	h.mu.Lock()
	h.cancel = cancel
	h.mu.Unlock()
}

// setRunning moves a validating actor to Running. It returns false when a
// Stop got there first.
func (h *Handle) setRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status != StatusValidating {
		return false
	}
	h.status = StatusRunning
	h.startedAt = time.Now()
	return true
}

// beginDrain moves a running actor to Draining. It returns false when the
// actor was already draining or terminal.
func (h *Handle) beginDrain() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status != StatusRunning && h.status != StatusValidating {
		return false
	}
	h.status = StatusDraining
	return true
}

// finish records the terminal state after the actor goroutine returned.
// A drained actor ends Stopped whatever its run body returned.
func (h *Handle) finish(runErr error) Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stoppedAt = time.Now()
	if h.status == StatusDraining || runErr == nil {
		h.status = StatusStopped
		return h.status
	}
	h.status = StatusFailed
	h.err = runErr
	return h.status
}

func (h *Handle) cancelRun() {
	h.mu.RLock()
	cancel := h.cancel
	h.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

func (h *Handle) change(at time.Time) StatusChange {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return StatusChange{
		ID:         h.id,
		Name:       h.desc.Name,
		DeviceType: h.desc.Type,
		Status:     h.status,
		Err:        h.err,
		At:         at,
	}
}

// HandleInfo is a read-only snapshot of one handle.
type HandleInfo struct {
	ID          device.ID `json:"id"`
	Name        string    `json:"device_name"`
	DeviceType  string    `json:"device_type"`
	Status      Status    `json:"status"`
	Error       string    `json:"error,omitempty"`
	MailboxLen  int       `json:"mailbox_len"`
	MailboxCap  int       `json:"mailbox_cap"`
	Processed   uint64    `json:"processed"`
	Failures    uint64    `json:"handler_failures"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	StoppedAt   time.Time `json:"stopped_at,omitzero"`
	UptimeMilli int64     `json:"uptime_ms,omitempty"`
}

// Info returns a snapshot of the handle.
func (h *Handle) Info() HandleInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	info := HandleInfo{
		ID:         h.id,
		Name:       h.desc.Name,
		DeviceType: h.desc.Type,
		Status:     h.status,
		MailboxLen: h.mailbox.Len(),
		MailboxCap: h.mailbox.Cap(),
		Processed:  h.processed.Load(),
		Failures:   h.failures.Load(),
		StartedAt:  h.startedAt,
		StoppedAt:  h.stoppedAt,
	}
	if h.err != nil {
		info.Error = h.err.Error()
	}
	if h.status == StatusRunning && !h.startedAt.IsZero() {
		info.UptimeMilli = time.Since(h.startedAt).Milliseconds()
	}
	return info
}
