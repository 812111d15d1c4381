package actor

import (
	"context"
	"sync"
)

// DefaultMailboxCapacity is used when a capacity of zero or less is requested.
const DefaultMailboxCapacity = 10

// Mailbox is the bounded FIFO queue in front of one actor.
//
// Any number of goroutines may enqueue; exactly one goroutine (the actor)
// receives. Once closed, enqueue fails with ErrDeviceUnavailable and the
// envelopes still queued are handed back to the owner to be failed.
type Mailbox struct {
	queue  chan envelope
	closed chan struct{}
	once   sync.Once

	// mu is held shared by enqueuers and exclusively by close, so close
	// can wait for in-flight sends before it collects what is left.
	mu sync.RWMutex
}

// NewMailbox creates a mailbox holding at most capacity pending envelopes.
func NewMailbox(capacity int) *Mailbox {
	if capacity <= 0 {
		capacity = DefaultMailboxCapacity
	}
	return &Mailbox{
		queue:  make(chan envelope, capacity),
		closed: make(chan struct{}),
	}
}

// enqueue appends env, waiting while the mailbox is full.
//
// Returns ErrDeviceUnavailable once the mailbox is closed and ctx.Err() if
// ctx ends first.
func (m *Mailbox) enqueue(ctx context.Context, env envelope) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	select {
	case <-m.closed:
		return ErrDeviceUnavailable
	default:
	}

	select {
	case m.queue <- env:
		return nil
	case <-m.closed:
		return ErrDeviceUnavailable
	case <-ctx.Done():
		return ctx.Err()
	}
}

// receive returns the channel the owning actor consumes.
func (m *Mailbox) receive() <-chan envelope {
	return m.queue
}

// close stops accepting envelopes and returns those still pending, in
// arrival order. Safe to call more than once.
func (m *Mailbox) close() []envelope {
	m.once.Do(func() {
		close(m.closed)
	})

	m.mu.Lock()
	defer m.mu.Unlock()

	var pending []envelope
	for {
		select {
		case env := <-m.queue:
			pending = append(pending, env)
		default:
			return pending
		}
	}
}

// Closed returns a channel that is closed once the mailbox stops accepting
// envelopes.
func (m *Mailbox) Closed() <-chan struct{} {
	return m.closed
}

// IsClosed reports whether the mailbox has been closed.
func (m *Mailbox) IsClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

// Len returns the number of pending envelopes.
func (m *Mailbox) Len() int {
	return len(m.queue)
}

// Cap returns the mailbox capacity.
func (m *Mailbox) Cap() int {
	return cap(m.queue)
}
