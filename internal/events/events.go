package events

import (
	"time"

	"github.com/nerrad567/gray-logic-runtime/internal/actor"
	"github.com/nerrad567/gray-logic-runtime/internal/recipe"
)

// Event types, also used as WebSocket channel names.
const (
	TypeTransitionApplied   = "transition.applied"
	TypeDeviceStatusChanged = "device.status_changed"
	TypeRecipeFileChanged   = "recipe.file_changed"
)

// DeviceStatus is the payload of a device.status_changed event.
type DeviceStatus struct {
	ID         string       `json:"id"`
	Name       string       `json:"device_name"`
	DeviceType string       `json:"device_type"`
	Status     actor.Status `json:"status"`
	Error      string       `json:"error,omitempty"`
	At         time.Time    `json:"at"`
}

// NewDeviceStatus converts a supervisor status change.
func NewDeviceStatus(c actor.StatusChange) DeviceStatus {
	s := DeviceStatus{
		ID:         c.ID.String(),
		Name:       c.Name,
		DeviceType: c.DeviceType,
		Status:     c.Status,
		At:         c.At.UTC(),
	}
	if c.Err != nil {
		s.Error = c.Err.Error()
	}
	return s
}

// FileChange is the payload of a recipe.file_changed event.
type FileChange struct {
	Path    string    `json:"path"`
	Removed bool      `json:"removed"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

// NewFileChange converts a watcher notification.
func NewFileChange(c recipe.ExternalChange, at time.Time) FileChange {
	fc := FileChange{Path: c.Path, Removed: c.Removed, At: at.UTC()}
	if c.Err != nil {
		fc.Error = c.Err.Error()
	}
	return fc
}
