// Package actor is the runtime every device runs on: a bounded mailbox per
// actor, typed request/reply messaging, a registry of live actors, and a
// supervisor that owns their lifecycle.
//
// Each actor is one goroutine consuming its own mailbox. Handlers get
// exclusive access to the actor's state, so device code needs no locks.
// Other goroutines, including an actor's own background work, reach that
// state only by sending messages.
//
// Messages declare their reply type by embedding Returns:
//
//	type GetTick struct {
//	    actor.Returns[uint32]
//	}
//
// A device type registers handlers and runs the loop:
//
//	func run(ctx context.Context, dev *actor.Device, cfg Config) error {
//	    a := actor.New[counter](dev)
//	    actor.On(a, func(ctx context.Context, s *counter, _ GetTick) (uint32, error) {
//	        return s.count, nil
//	    })
//	    return a.Execute(ctx, &counter{})
//	}
//
// Callers ask by ID, by name, or by message type:
//
//	n, err := actor.Ask[uint32](ctx, sys, actor.Single(), GetTick{})
//
// Lifecycle:
//
//	validating -> running -> draining -> stopped
//	                  \-> failed
//
// Failed and Stopped are terminal. The supervisor never restarts an actor
// on its own; a new instance comes only from an explicit Start.
package actor
