package device

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Descriptor limits.
const (
	maxTypeLength = 64
	maxNameLength = 100
)

// ID is the identity of one device instance.
//
// IDs are random (UUID v4), created when a descriptor is first added to a
// recipe, and never reused. They marshal as canonical UUID text so they can
// be used as JSON object keys.
type ID uuid.UUID

// NilID is the zero ID. It never identifies a device.
var NilID ID

// NewID returns a fresh random ID.
func NewID() ID {
	return ID(uuid.New())
}

// ParseID parses the canonical textual form of an ID.
func ParseID(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return NilID, fmt.Errorf("%w: %q: %w", ErrInvalidID, s, err)
	}
	return ID(u), nil
}

// MustParseID is like ParseID but panics on error. Intended for tests and
// constants.
func MustParseID(s string) ID {
	id, err := ParseID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the canonical UUID text.
func (id ID) String() string {
	return uuid.UUID(id).String()
}

// IsZero reports whether id is the zero ID.
func (id ID) IsZero() bool {
	return id == NilID
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(b []byte) error {
	parsed, err := ParseID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Descriptor is the static configuration of one device.
//
// Type selects the implementation from the runtime's type table. Name is a
// display alias and does not have to be unique. Params is opaque here; its
// shape is defined by the device type's validator.
type Descriptor struct {
	Type   string          `json:"device_type"`
	Name   string          `json:"device_name"`
	Params json.RawMessage `json:"params"`
}

// NewDescriptor builds a descriptor from any JSON-encodable params value.
func NewDescriptor(deviceType, name string, params any) (Descriptor, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return Descriptor{}, fmt.Errorf("encoding params for %q: %w", deviceType, err)
	}
	return Descriptor{Type: deviceType, Name: name, Params: raw}, nil
}

// Clone returns a copy whose Params does not share memory with d.
func (d Descriptor) Clone() Descriptor {
	c := d
	if d.Params != nil {
		c.Params = append(json.RawMessage(nil), d.Params...)
	}
	return c
}

// WithParams returns a copy of d with params replaced.
func (d Descriptor) WithParams(params json.RawMessage) Descriptor {
	c := d.Clone()
	c.Params = append(json.RawMessage(nil), params...)
	return c
}

// Equal reports whether two descriptors configure the same device.
// Params are compared by JSON value, so whitespace and key order are ignored.
func (d Descriptor) Equal(other Descriptor) bool {
	if d.Type != other.Type || d.Name != other.Name {
		return false
	}
	return paramsEqual(d.Params, other.Params)
}

// Validate checks the structural rules shared by all device types.
// Type-specific params validation is the device type's job.
func (d Descriptor) Validate() error {
	if d.Type == "" {
		return fmt.Errorf("%w: device_type is required", ErrInvalidDescriptor)
	}
	if len(d.Type) > maxTypeLength {
		return fmt.Errorf("%w: device_type exceeds %d characters", ErrInvalidDescriptor, maxTypeLength)
	}
	if strings.TrimSpace(d.Type) != d.Type {
		return fmt.Errorf("%w: device_type has surrounding whitespace", ErrInvalidDescriptor)
	}
	if utf8.RuneCountInString(d.Name) > maxNameLength {
		return fmt.Errorf("%w: device_name exceeds %d characters", ErrInvalidDescriptor, maxNameLength)
	}
	if len(d.Params) > 0 && !json.Valid(d.Params) {
		return fmt.Errorf("%w: params is not valid JSON", ErrInvalidDescriptor)
	}
	return nil
}

// paramsEqual compares two raw JSON documents by value. Empty and null are
// treated as the same absent value.
func paramsEqual(a, b json.RawMessage) bool {
	a, b = bytes.TrimSpace(a), bytes.TrimSpace(b)
	if isAbsent(a) || isAbsent(b) {
		return isAbsent(a) && isAbsent(b)
	}
	if bytes.Equal(a, b) {
		return true
	}
	av, errA := decodeValue(a)
	bv, errB := decodeValue(b)
	if errA != nil || errB != nil {
		return false
	}
	return reflect.DeepEqual(av, bv)
}

func isAbsent(raw []byte) bool {
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func decodeValue(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
