package actor

import (
	"reflect"
	"sync"
	"time"
)

// AnyMessage is implemented by every message type. Use it where the reply
// type does not matter, as in Tell.
type AnyMessage interface {
	actorMessage()
}

// Message is a request whose successful reply is an Out.
//
// A type becomes a Message by embedding Returns[Out]:
//
//	type GetTick struct {
//	    actor.Returns[uint32]
//	}
type Message[Out any] interface {
	AnyMessage
	replyType(Out)
}

// Returns declares the reply type of a message. Embed it by value.
type Returns[Out any] struct{}

func (Returns[Out]) actorMessage() {}
func (Returns[Out]) replyType(Out) {}

// UpdateParams carries a freshly validated configuration to a running
// actor. Config holds whatever the device type's validator returned.
// Actors that do not handle it are restarted instead.
type UpdateParams struct {
	Returns[struct{}]
	Config any
}

// result is what a handler produced for one envelope.
type result struct {
	value any
	err   error
}

// replySlot is a single-use reply channel.
//
// The channel is buffered so the writer never blocks, and the write happens
// at most once. A caller that gave up simply never reads it.
type replySlot struct {
	ch   chan result
	once sync.Once
}

func newReplySlot() *replySlot {
	return &replySlot{ch: make(chan result, 1)}
}

func (s *replySlot) send(r result) {
	s.once.Do(func() {
		s.ch <- r
	})
}

// envelope is one queued message.
type envelope struct {
	msg      any
	msgType  reflect.Type
	reply    *replySlot // nil for Tell
	enqueued time.Time
}

// fail answers the envelope with err. No-op for Tell envelopes.
func (e envelope) fail(err error) {
	if e.reply != nil {
		e.reply.send(result{err: err})
	}
}

var typeOfUpdateParams = reflect.TypeFor[UpdateParams]()
