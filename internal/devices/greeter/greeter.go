// Package greeter provides the greeter device type. A greeter answers
// Greet with a salutation in its configured language and the current count
// of the one ticker in the system.
package greeter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nerrad567/gray-logic-runtime/internal/actor"
	"github.com/nerrad567/gray-logic-runtime/internal/device"
	"github.com/nerrad567/gray-logic-runtime/internal/devices/ticker"
)

// Type is the device type key.
const Type = "greeter"

// Language selects the salutation.
type Language string

// Supported languages.
const (
	English Language = "English"
	German  Language = "German"
)

// Params configures a greeter.
type Params struct {
	Lang Language `json:"lang"`
}

// Greet asks for a greeting addressed to Name.
type Greet struct {
	actor.Returns[string]
	Name string
}

// New returns the greeter device type.
func New() actor.Type {
	return actor.NewType(Type, Validate, run)
}

// Validate decodes greeter params. The language defaults to English.
func Validate(raw json.RawMessage) (Params, error) {
	p := Params{Lang: English}
	if err := device.DecodeParams(Type, raw, &p); err != nil {
		return Params{}, err
	}
	switch p.Lang {
	case English, German:
		return p, nil
	default:
		return Params{}, device.NewValidationError(Type, "lang", fmt.Sprintf("unsupported language %q", p.Lang))
	}
}

type state struct {
	params Params
	system *actor.System
}

func run(ctx context.Context, dev *actor.Device, p Params) error {
	a := actor.New[state](dev)
	actor.On(a, func(_ context.Context, s *state, m actor.UpdateParams) (struct{}, error) {
		s.params = m.Config.(Params)
		return struct{}{}, nil
	})
	actor.On(a, func(ctx context.Context, s *state, m Greet) (string, error) {
		tick, err := actor.Ask[uint32](ctx, s.system, actor.Single(), ticker.GetTick{})
		if err != nil {
			return "", fmt.Errorf("reading tick: %w", err)
		}
		return fmt.Sprintf("%s %s (generation: %d)", salutation(s.params.Lang), m.Name, tick), nil
	})
	return a.Execute(ctx, &state{params: p, system: dev.System()})
}

func salutation(lang Language) string {
	if lang == German {
		return "Hallo"
	}
	return "Hello"
}
