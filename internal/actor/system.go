package actor

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-runtime/internal/device"
)

// Default timeouts.
const (
	DefaultAskTimeout     = 5 * time.Second
	DefaultEnqueueTimeout = 1 * time.Second
)

// System is the actor registry: the set of live handles, looked up by ID,
// by name, or by the message types they handle.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type System struct {
	mu      sync.RWMutex
	handles map[device.ID]*Handle

	mailboxCapacity int
	askTimeout      time.Duration
	enqueueTimeout  time.Duration
	logger          Logger
	metrics         *Metrics
}

// Option configures a System.
type Option func(*System)

// WithMailboxCapacity sets the capacity of every new actor's mailbox.
func WithMailboxCapacity(n int) Option {
	return func(s *System) {
		if n > 0 {
			s.mailboxCapacity = n
		}
	}
}

// WithAskTimeout sets the default time an Ask waits for its reply.
func WithAskTimeout(d time.Duration) Option {
	return func(s *System) {
		if d > 0 {
			s.askTimeout = d
		}
	}
}

// WithEnqueueTimeout sets how long a send waits on a full mailbox before
// failing with ErrMailboxFull.
func WithEnqueueTimeout(d time.Duration) Option {
	return func(s *System) {
		if d > 0 {
			s.enqueueTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(s *System) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(s *System) {
		s.metrics = m
	}
}

// NewSystem creates an empty registry.
func NewSystem(opts ...Option) *System {
	s := &System{
		handles:         make(map[device.ID]*Handle),
		mailboxCapacity: DefaultMailboxCapacity,
		askTimeout:      DefaultAskTimeout,
		enqueueTimeout:  DefaultEnqueueTimeout,
		logger:          noopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Logger returns the system logger.
func (s *System) Logger() Logger {
	return s.logger
}

type targetKind uint8

const (
	targetID targetKind = iota + 1
	targetName
	targetSingle
)

// Target addresses a message: a device ID, a device name, or "the one actor
// that handles this message type".
type Target struct {
	kind targetKind
	id   device.ID
	name string
}

// ID targets the actor with the given device ID.
func ID(id device.ID) Target {
	return Target{kind: targetID, id: id}
}

// Name targets the live actor whose device_name is name.
func Name(name string) Target {
	return Target{kind: targetName, name: name}
}

// Single targets the only live actor with a handler for the message type.
// Resolution fails with ErrAmbiguousHandler if there is more than one.
func Single() Target {
	return Target{kind: targetSingle}
}

// ParseTarget interprets ref as a device ID if it parses as one, and as a
// device name otherwise.
func ParseTarget(ref string) Target {
	if id, err := device.ParseID(ref); err == nil {
		return ID(id)
	}
	return Name(ref)
}

func (t Target) String() string {
	switch t.kind {
	case targetID:
		return t.id.String()
	case targetName:
		return fmt.Sprintf("name=%q", t.name)
	case targetSingle:
		return "single"
	default:
		return "invalid"
	}
}

// Resolve returns the live handle t designates. Single targets cannot be
// resolved without a message type and return ErrInvalidTarget.
func (s *System) Resolve(t Target) (*Handle, error) {
	if t.kind == targetSingle {
		return nil, fmt.Errorf("%w: single target needs a message type", ErrInvalidTarget)
	}
	return s.resolve(t, nil)
}

// resolve never blocks on an actor; it only reads the registry.
func (s *System) resolve(t Target, msgType reflect.Type) (*Handle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch t.kind {
	case targetID:
		h, ok := s.handles[t.id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, t.id)
		}
		if !h.Live() {
			return nil, fmt.Errorf("%w: %s is %s", ErrDeviceUnavailable, t.id, h.Status())
		}
		return h, nil

	case targetName:
		var found *Handle
		unavailable := false
		for _, h := range s.handles {
			if h.Name() != t.name {
				continue
			}
			if !h.Live() {
				unavailable = true
				continue
			}
			if found != nil {
				return nil, fmt.Errorf("%w: %q", ErrAmbiguousName, t.name)
			}
			found = h
		}
		if found == nil {
			if unavailable {
				return nil, fmt.Errorf("%w: %q", ErrDeviceUnavailable, t.name)
			}
			return nil, fmt.Errorf("%w: %q", ErrDeviceNotFound, t.name)
		}
		return found, nil

	case targetSingle:
		if msgType == nil {
			return nil, fmt.Errorf("%w: single target needs a message type", ErrInvalidTarget)
		}
		var found *Handle
		for _, h := range s.handles {
			if !h.Live() || !h.Handles(msgType) {
				continue
			}
			if found != nil {
				return nil, fmt.Errorf("%w: %s", ErrAmbiguousHandler, msgType)
			}
			found = h
		}
		if found == nil {
			return nil, fmt.Errorf("%w: nothing handles %s", ErrDeviceNotFound, msgType)
		}
		return found, nil

	default:
		return nil, ErrInvalidTarget
	}
}

// Lookup returns the handle registered under id, in any lifecycle state.
func (s *System) Lookup(id device.ID) (*Handle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handles[id]
	return h, ok
}

// Len returns the number of registered handles.
func (s *System) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handles)
}

// Snapshot returns info for every registered handle, ordered by name then ID.
func (s *System) Snapshot() []HandleInfo {
	s.mu.RLock()
	infos := make([]HandleInfo, 0, len(s.handles))
	for _, h := range s.handles {
		infos = append(infos, h.Info())
	}
	s.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Name != infos[j].Name {
			return infos[i].Name < infos[j].Name
		}
		return infos[i].ID.String() < infos[j].ID.String()
	})
	return infos
}

func (s *System) register(h *Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.handles[h.id]; ok && !existing.Status().Terminal() {
		return fmt.Errorf("%w: %s", ErrDeviceExists, h.id)
	}
	s.handles[h.id] = h
	s.metrics.setRegistered(len(s.handles))
	return nil
}

// unregister removes h only if it is still the handle bound to its ID, so a
// replacement started under the same ID is left alone.
func (s *System) unregister(h *Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.handles[h.id]; ok && current == h {
		delete(s.handles, h.id)
		s.metrics.setRegistered(len(s.handles))
	}
}

// send enqueues env on h's mailbox, giving up after the enqueue timeout.
func (s *System) send(ctx context.Context, h *Handle, env envelope) error {
	enqCtx, cancel := context.WithTimeout(ctx, s.enqueueTimeout)
	defer cancel()

	err := h.mailbox.enqueue(enqCtx, env)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrDeviceUnavailable):
		return fmt.Errorf("%w: %s is stopping", ErrDeviceUnavailable, h.id)
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s", ErrMailboxFull, h.id)
	default:
		return err
	}
}
