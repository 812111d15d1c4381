package events

import "errors"

var (
	// ErrUnknownCommand is returned for a command topic with no handler.
	ErrUnknownCommand = errors.New("events: unknown command")

	// ErrInvalidCommand is returned for a command payload that does not decode.
	ErrInvalidCommand = errors.New("events: invalid command payload")
)
