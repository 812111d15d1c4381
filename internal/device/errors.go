package device

import (
	"errors"
	"fmt"
)

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrInvalidParams) {
//	    // reject the descriptor
//	}
var (
	// ErrInvalidID is returned when a device ID cannot be parsed.
	ErrInvalidID = errors.New("device: invalid id")

	// ErrInvalidDescriptor is returned when a descriptor is structurally invalid.
	ErrInvalidDescriptor = errors.New("device: invalid descriptor")

	// ErrInvalidParams is returned when params fail a device type's validator.
	ErrInvalidParams = errors.New("device: invalid params")
)

// ValidationError describes why a device type rejected its params.
//
// It is local to one device: the runtime records it against that device and
// carries on with the others.
type ValidationError struct {
	DeviceType string
	Field      string
	Reason     string
	Err        error
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(deviceType, field, reason string) *ValidationError {
	return &ValidationError{DeviceType: deviceType, Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("device: invalid params for %q", e.DeviceType)
	if e.Field != "" {
		msg += ": " + e.Field
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying decode error, if any.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Is reports ErrInvalidParams so callers can match without errors.As.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidParams
}
