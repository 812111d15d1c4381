package actor

import (
	"errors"
	"fmt"
)

// Runtime errors.
//
// Handler errors are never wrapped in these; they reach the caller verbatim.
var (
	// ErrDeviceNotFound is returned when a target does not resolve to a live actor.
	ErrDeviceNotFound = errors.New("actor: device not found")

	// ErrDeviceUnavailable is returned when the target is draining or has stopped.
	ErrDeviceUnavailable = errors.New("actor: device unavailable")

	// ErrAmbiguousName is returned when more than one live actor carries the requested name.
	ErrAmbiguousName = errors.New("actor: ambiguous device name")

	// ErrAmbiguousHandler is returned by Single() targets when several actors handle the message type.
	ErrAmbiguousHandler = errors.New("actor: more than one device handles message")

	// ErrInvalidTarget is returned when a target cannot be resolved without a message type.
	ErrInvalidTarget = errors.New("actor: invalid target")

	// ErrAskTimeout is returned when no reply arrived within the ask timeout.
	ErrAskTimeout = errors.New("actor: ask timed out")

	// ErrMailboxFull is returned when the mailbox stayed full for the whole enqueue timeout.
	ErrMailboxFull = errors.New("actor: mailbox full")

	// ErrUnknownMessage is returned when the actor has no handler for the message type.
	ErrUnknownMessage = errors.New("actor: no handler for message")

	// ErrUnknownType is returned when a descriptor names an unregistered device type.
	ErrUnknownType = errors.New("actor: unknown device type")

	// ErrTypeExists is returned when a device type name is registered twice.
	ErrTypeExists = errors.New("actor: device type already registered")

	// ErrDeviceExists is returned when an ID is already bound to a live actor.
	ErrDeviceExists = errors.New("actor: device already running")

	// ErrDrainTimeout is returned when an actor did not wind down within the drain timeout.
	ErrDrainTimeout = errors.New("actor: drain timed out")
)

// PanicError is returned to the caller when a handler panics.
// The actor keeps running.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("actor: handler panicked: %v", e.Value)
}
