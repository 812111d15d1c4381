package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementDeviceStatus = "device_status"
	MeasurementTransition   = "recipe_transition"
)

// TransitionPoint summarises one recipe transition.
type TransitionPoint struct {
	RecipeID  string
	Committed bool
	Persisted bool
	// Outcomes counts devices per outcome, e.g. "started": 2.
	Outcomes map[string]int
	Duration time.Duration
	At       time.Time
}

// WriteTransition records a transition. Outcome counts become integer
// fields; the recipe id and commit flag are tags.
func (c *Client) WriteTransition(p TransitionPoint) {
	fields := map[string]any{
		"duration_ms": p.Duration.Milliseconds(),
		"persisted":   p.Persisted,
	}
	for outcome, n := range p.Outcomes {
		fields[outcome] = n
	}
	c.WritePointWithTime(MeasurementTransition,
		map[string]string{
			"recipe_id": p.RecipeID,
			"committed": boolTag(p.Committed),
		},
		fields,
		p.At,
	)
}

// WriteDeviceStatus records a device lifecycle change.
func (c *Client) WriteDeviceStatus(deviceID, deviceType, status string, at time.Time) {
	c.WritePointWithTime(MeasurementDeviceStatus,
		map[string]string{
			"device_id":   deviceID,
			"device_type": deviceType,
		},
		map[string]any{"status": status},
		at,
	)
}

// WritePoint writes a point stamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a point at the given time. Points written
// while disconnected are dropped.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}

func boolTag(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
