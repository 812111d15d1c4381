package actor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Type is one device implementation: a pure validator plus the body that
// runs the actor.
//
// Validate turns raw params into a typed configuration. It must not have
// side effects; the runtime calls it before committing to start a device
// and again for live parameter updates.
//
// Run is the actor's execute body. It builds an Actor over dev, registers
// handlers and calls Execute; Supervisor.Start waits until it does.
// Returning nil means the device finished; returning an error moves it to
// Failed.
type Type interface {
	Name() string
	Validate(params json.RawMessage) (any, error)
	Run(ctx context.Context, dev *Device, cfg any) error
}

// NewType adapts typed validator and run functions to the Type interface.
//
//	actor.NewType("manual_tick", validateManual, runManual)
func NewType[C any](
	name string,
	validate func(params json.RawMessage) (C, error),
	run func(ctx context.Context, dev *Device, cfg C) error,
) Type {
	return typedType[C]{name: name, validate: validate, run: run}
}

type typedType[C any] struct {
	name     string
	validate func(json.RawMessage) (C, error)
	run      func(context.Context, *Device, C) error
}

func (t typedType[C]) Name() string { return t.name }

func (t typedType[C]) Validate(params json.RawMessage) (any, error) {
	cfg, err := t.validate(params)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func (t typedType[C]) Run(ctx context.Context, dev *Device, cfg any) error {
	typed, ok := cfg.(C)
	if !ok {
		return fmt.Errorf("actor: %s: unexpected config type %T", t.name, cfg)
	}
	return t.run(ctx, dev, typed)
}

// Types is the registration table mapping device_type keys to
// implementations. It is filled at process start, before any recipe is
// loaded.
type Types struct {
	mu    sync.RWMutex
	types map[string]Type
}

// NewTypes creates a table holding the given types.
// It panics on duplicate names, which is a wiring bug.
func NewTypes(types ...Type) *Types {
	t := &Types{types: make(map[string]Type, len(types))}
	for _, typ := range types {
		if err := t.Register(typ); err != nil {
			panic(err)
		}
	}
	return t
}

// Register adds typ to the table.
func (t *Types) Register(typ Type) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	name := typ.Name()
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrUnknownType)
	}
	if _, exists := t.types[name]; exists {
		return fmt.Errorf("%w: %s", ErrTypeExists, name)
	}
	t.types[name] = typ
	return nil
}

// Lookup returns the type registered under name.
func (t *Types) Lookup(name string) (Type, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	typ, ok := t.types[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, name)
	}
	return typ, nil
}

// Has reports whether name is registered.
func (t *Types) Has(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.types[name]
	return ok
}

// Names returns the registered type names, sorted.
func (t *Types) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := make([]string, 0, len(t.types))
	for name := range t.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
