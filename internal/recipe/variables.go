package recipe

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

// varKey marks a variable reference inside device params:
//
//	{"interval": {"__var": "tick_interval"}}
const varKey = "__var"

// Variables are named values shared by all recipes. Only JSON numbers and
// strings are legal values.
type Variables map[string]json.RawMessage

// Clone returns a deep copy. The result is never nil.
func (v Variables) Clone() Variables {
	c := make(Variables, len(v))
	for name, raw := range v {
		c[name] = slices.Clone(raw)
	}
	return c
}

// Names returns the variable names, sorted.
func (v Variables) Names() []string {
	names := slices.Collect(maps.Keys(v))
	slices.Sort(names)
	return names
}

// Patch returns a copy of v with patch applied over it.
func (v Variables) Patch(patch Variables) Variables {
	c := v.Clone()
	for name, raw := range patch {
		c[name] = slices.Clone(raw)
	}
	return c
}

// Validate checks every value is a number or a string.
func (v Variables) Validate() error {
	for _, name := range v.Names() {
		if err := validateValue(name, v[name]); err != nil {
			return err
		}
	}
	return nil
}

func validateValue(name string, raw json.RawMessage) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidVariable)
	}
	val, err := decodeJSON(raw)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidVariable, name, err)
	}
	switch val.(type) {
	case json.Number, string:
		return nil
	default:
		return fmt.Errorf("%w: %s must be a number or a string", ErrInvalidVariable, name)
	}
}

// Resolve replaces every variable reference in params with the variable's
// value. Params without references come back unchanged; absent params stay
// absent.
func (v Variables) Resolve(params json.RawMessage) (json.RawMessage, error) {
	if isAbsentParams(params) || !bytes.Contains(params, []byte(varKey)) {
		return params, nil
	}
	doc, err := decodeJSON(params)
	if err != nil {
		return nil, fmt.Errorf("%w: params: %v", ErrInvalidVariable, err)
	}
	resolved, err := v.resolveValue(doc)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(resolved)
	if err != nil {
		return nil, fmt.Errorf("encoding resolved params: %w", err)
	}
	return out, nil
}

func (v Variables) resolveValue(val any) (any, error) {
	switch x := val.(type) {
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			r, err := v.resolveValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil

	case map[string]any:
		if ref, ok := x[varKey]; ok {
			name, err := referenceName(x, ref)
			if err != nil {
				return nil, err
			}
			raw, ok := v[name]
			if !ok {
				return nil, fmt.Errorf("%w: %q", ErrUnknownVariable, name)
			}
			return json.RawMessage(raw), nil
		}
		out := make(map[string]any, len(x))
		for k, item := range x {
			r, err := v.resolveValue(item)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil

	default:
		return val, nil
	}
}

// References returns the names of all variables params refers to, sorted
// and de-duplicated.
func References(params json.RawMessage) ([]string, error) {
	if isAbsentParams(params) || !bytes.Contains(params, []byte(varKey)) {
		return nil, nil
	}
	doc, err := decodeJSON(params)
	if err != nil {
		return nil, fmt.Errorf("%w: params: %v", ErrInvalidVariable, err)
	}
	var names []string
	if err := collectReferences(doc, &names); err != nil {
		return nil, err
	}
	slices.Sort(names)
	return slices.Compact(names), nil
}

func collectReferences(val any, names *[]string) error {
	switch x := val.(type) {
	case []any:
		for _, item := range x {
			if err := collectReferences(item, names); err != nil {
				return err
			}
		}
	case map[string]any:
		if ref, ok := x[varKey]; ok {
			name, err := referenceName(x, ref)
			if err != nil {
				return err
			}
			*names = append(*names, name)
			return nil
		}
		for _, item := range x {
			if err := collectReferences(item, names); err != nil {
				return err
			}
		}
	}
	return nil
}

// referenceName checks a {"__var": "name"} object is well formed.
func referenceName(obj map[string]any, ref any) (string, error) {
	if len(obj) != 1 {
		return "", fmt.Errorf("%w: objects with %q must not contain other keys", ErrInvalidVariable, varKey)
	}
	name, ok := ref.(string)
	if !ok {
		return "", fmt.Errorf("%w: %q must hold a string", ErrInvalidVariable, varKey)
	}
	return name, nil
}

func decodeJSON(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func isAbsentParams(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
