package device

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// DecodeParams decodes raw params into dst, rejecting unknown fields.
//
// Empty or null params leave dst untouched, so callers can pre-populate
// defaults. Decode failures are returned as *ValidationError.
func DecodeParams(deviceType string, raw json.RawMessage, dst any) error {
	raw = bytes.TrimSpace(raw)
	if isAbsent(raw) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &ValidationError{DeviceType: deviceType, Field: fieldOf(err), Err: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return NewValidationError(deviceType, "", "trailing data after params object")
	}
	return nil
}

// EncodeParams is the inverse of DecodeParams for typed configurations.
func EncodeParams(v any) (json.RawMessage, error) {
	return json.Marshal(v)
}

// fieldOf extracts the offending field from a decode error when the
// standard library exposes one.
func fieldOf(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return typeErr.Field
	}
	return ""
}
