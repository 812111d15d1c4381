package transition

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-runtime/internal/device"
)

// ErrTransitionPartialFailure matches any *PartialFailureError.
var ErrTransitionPartialFailure = errors.New("transition: some devices failed")

// Outcome is what a transition did to one device.
type Outcome string

// Per-device outcomes.
const (
	OutcomeStarted   Outcome = "started"
	OutcomeRestarted Outcome = "restarted"
	OutcomeStopped   Outcome = "stopped"
	OutcomeFailed    Outcome = "failed"
	OutcomeUnchanged Outcome = "unchanged"
)

// DeviceResult is the outcome for one device.
type DeviceResult struct {
	ID         device.ID `json:"id"`
	Name       string    `json:"device_name"`
	DeviceType string    `json:"device_type"`
	Outcome    Outcome   `json:"outcome"`
	// Phase is "stop" or "start" for failures.
	Phase string `json:"phase,omitempty"`
	Error string `json:"error,omitempty"`

	err error
}

// Err returns the underlying failure, if any.
func (r DeviceResult) Err() error {
	return r.err
}

// Report describes one transition.
type Report struct {
	ID         string         `json:"id"`
	RecipeID   string         `json:"recipe_id"`
	PreviousID string         `json:"previous_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Devices    []DeviceResult `json:"devices"`
	// Committed is true when the recipe became the active, committed one.
	Committed bool `json:"committed"`
	// Persisted is false when committing succeeded in memory but the
	// recipe file could not be written.
	Persisted bool `json:"persisted"`
}

// Duration returns how long the transition took.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Count returns the number of devices with outcome o.
func (r *Report) Count(o Outcome) int {
	n := 0
	for _, d := range r.Devices {
		if d.Outcome == o {
			n++
		}
	}
	return n
}

// Failed returns the failed devices.
func (r *Report) Failed() []DeviceResult {
	var failed []DeviceResult
	for _, d := range r.Devices {
		if d.Outcome == OutcomeFailed {
			failed = append(failed, d)
		}
	}
	return failed
}

// Err returns a *PartialFailureError if any device failed, nil otherwise.
func (r *Report) Err() error {
	failed := r.Failed()
	if len(failed) == 0 {
		return nil
	}
	return &PartialFailureError{RecipeID: r.RecipeID, Failed: failed}
}

// PartialFailureError lists the devices a transition could not bring to
// their target state. Every other device was handled normally.
type PartialFailureError struct {
	RecipeID string
	Failed   []DeviceResult
}

func (e *PartialFailureError) Error() string {
	parts := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		parts = append(parts, fmt.Sprintf("%s (%s): %s", f.ID, f.Name, f.Error))
	}
	return fmt.Sprintf("transition to %q: %d device(s) failed: %s",
		e.RecipeID, len(e.Failed), strings.Join(parts, "; "))
}

// Is reports ErrTransitionPartialFailure.
func (e *PartialFailureError) Is(target error) bool {
	return target == ErrTransitionPartialFailure
}

// Unwrap returns the per-device errors.
func (e *PartialFailureError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, f := range e.Failed {
		if f.err != nil {
			errs = append(errs, f.err)
		}
	}
	return errs
}
