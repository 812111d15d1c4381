package recipe

import (
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-runtime/internal/device"
)

// Domain errors for the recipe package.
var (
	// ErrRecipeNotFound is returned when no recipe has the requested id.
	ErrRecipeNotFound = errors.New("recipe: not found")

	// ErrRecipeExists is returned when a rename or create would collide with an existing id.
	ErrRecipeExists = errors.New("recipe: already exists")

	// ErrActiveRecipe is returned when deleting the active recipe.
	ErrActiveRecipe = errors.New("recipe: cannot delete the active recipe")

	// ErrInvalidRecipeID is returned for empty, over-long, or malformed recipe ids.
	ErrInvalidRecipeID = errors.New("recipe: invalid recipe id")

	// ErrUnknownVariable is returned when params reference an undefined variable.
	ErrUnknownVariable = errors.New("recipe: unknown variable")

	// ErrInvalidVariable is returned for malformed variable references or values.
	ErrInvalidVariable = errors.New("recipe: invalid variable")

	// ErrUnknownDeviceType is returned when a descriptor names an unregistered device type.
	ErrUnknownDeviceType = errors.New("recipe: unknown device type")

	// ErrDeviceNotInRecipe is returned when a device id is not part of the recipe.
	ErrDeviceNotInRecipe = errors.New("recipe: device not in recipe")

	// ErrInvalidState is returned when the persisted state violates a structural rule.
	ErrInvalidState = errors.New("recipe: invalid state")
)

// PersistenceError reports an I/O or encoding failure on the recipe file.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("recipe: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// ValidationError locates a rule violation inside the state: which recipe,
// and which device when the problem is device-specific.
type ValidationError struct {
	RecipeID string
	DeviceID device.ID
	Err      error
}

func (e *ValidationError) Error() string {
	switch {
	case e.RecipeID != "" && !e.DeviceID.IsZero():
		return fmt.Sprintf("recipe %q device %s: %v", e.RecipeID, e.DeviceID, e.Err)
	case e.RecipeID != "":
		return fmt.Sprintf("recipe %q: %v", e.RecipeID, e.Err)
	default:
		return fmt.Sprintf("recipe state: %v", e.Err)
	}
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
