package recipe

import (
	"fmt"
	"maps"
	"slices"

	"github.com/nerrad567/gray-logic-runtime/internal/device"
)

// TypeSet reports which device types the runtime can run.
// *actor.Types satisfies it.
type TypeSet interface {
	Has(deviceType string) bool
}

// State is the whole persisted document: every recipe, which one is
// active, the last configuration that ran successfully, and the shared
// variables.
type State struct {
	ActiveID     string            `json:"active_id"`
	ActiveBackup Recipe            `json:"active_backup"`
	All          map[string]Recipe `json:"all"`
	Variables    Variables         `json:"variables"`
}

// NewState creates the state for a fresh installation: one empty recipe
// named DefaultID, active and committed.
func NewState() State {
	r := New()
	return State{
		ActiveID:     DefaultID,
		ActiveBackup: r.Clone(),
		All:          map[string]Recipe{DefaultID: r},
		Variables:    Variables{},
	}
}

// Clone returns a deep copy.
func (s State) Clone() State {
	c := State{
		ActiveID:     s.ActiveID,
		ActiveBackup: s.ActiveBackup.Clone(),
		All:          make(map[string]Recipe, len(s.All)),
		Variables:    s.Variables.Clone(),
	}
	for id, r := range s.All {
		c.All[id] = r.Clone()
	}
	return c
}

// Active returns the active recipe.
func (s State) Active() Recipe {
	return s.All[s.ActiveID]
}

// RecipeIDs returns all recipe ids, sorted.
func (s State) RecipeIDs() []string {
	ids := slices.Collect(maps.Keys(s.All))
	slices.Sort(ids)
	return ids
}

// HasUncommittedChanges reports whether the active recipe differs from the
// last configuration that was applied successfully.
func (s State) HasUncommittedChanges() bool {
	return !s.Active().Equal(s.ActiveBackup)
}

// Validate checks the structural rules of the document. types may be nil,
// in which case device types are not checked.
func (s State) Validate(types TypeSet) error {
	if err := ValidateID(s.ActiveID); err != nil {
		return &ValidationError{Err: fmt.Errorf("active_id: %w", err)}
	}
	if _, ok := s.All[s.ActiveID]; !ok {
		return &ValidationError{Err: fmt.Errorf("%w: active_id %q is not a known recipe", ErrInvalidState, s.ActiveID)}
	}
	if err := s.Variables.Validate(); err != nil {
		return &ValidationError{Err: err}
	}

	for _, id := range s.RecipeIDs() {
		if err := ValidateID(id); err != nil {
			return &ValidationError{RecipeID: id, Err: err}
		}
		if err := s.validateRecipe(id, s.All[id], types); err != nil {
			return err
		}
	}
	return nil
}

// validateRecipe checks every device in r, including that its variable
// references resolve.
func (s State) validateRecipe(id string, r Recipe, types TypeSet) error {
	for _, devID := range r.DeviceIDs() {
		if err := s.validateDevice(devID, r.Devices[devID], types); err != nil {
			return &ValidationError{RecipeID: id, DeviceID: devID, Err: err}
		}
	}
	return nil
}

func (s State) validateDevice(id device.ID, desc device.Descriptor, types TypeSet) error {
	if id.IsZero() {
		return fmt.Errorf("%w: nil device id", ErrInvalidState)
	}
	if err := desc.Validate(); err != nil {
		return err
	}
	if types != nil && !types.Has(desc.Type) {
		return fmt.Errorf("%w: %q", ErrUnknownDeviceType, desc.Type)
	}
	if _, err := s.Variables.Resolve(desc.Params); err != nil {
		return err
	}
	return nil
}

// Resolved returns recipe id's devices with variable references replaced.
func (s State) Resolved(id string) (map[device.ID]device.Descriptor, error) {
	r, ok := s.All[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrRecipeNotFound, id)
	}
	out := make(map[device.ID]device.Descriptor, len(r.Devices))
	for devID, desc := range r.Devices {
		params, err := s.Variables.Resolve(desc.Params)
		if err != nil {
			return nil, &ValidationError{RecipeID: id, DeviceID: devID, Err: err}
		}
		out[devID] = desc.WithParams(params)
	}
	return out, nil
}

// usersOf returns the ids of recipes whose params reference any of names.
func (s State) usersOf(names []string) []string {
	var ids []string
	for _, id := range s.RecipeIDs() {
	devices:
		for _, desc := range s.All[id].Devices {
			refs, err := References(desc.Params)
			if err != nil {
				continue
			}
			for _, ref := range refs {
				if slices.Contains(names, ref) {
					ids = append(ids, id)
					break devices
				}
			}
		}
	}
	return ids
}
