package transition

import (
	"slices"
	"strings"

	"github.com/nerrad567/gray-logic-runtime/internal/device"
)

// Plan is the difference between what runs and what should run.
// Every slice is sorted by DeviceID.
type Plan struct {
	Stop      []device.ID
	Start     []device.ID
	Restart   []device.ID
	Unchanged []device.ID
}

// Diff compares the running descriptors with the target ones. A device
// present in both is restarted when its type, name, or resolved params
// differ.
func Diff(current, target map[device.ID]device.Descriptor) Plan {
	var p Plan
	for id, cur := range current {
		tgt, ok := target[id]
		switch {
		case !ok:
			p.Stop = append(p.Stop, id)
		case cur.Equal(tgt):
			p.Unchanged = append(p.Unchanged, id)
		default:
			p.Restart = append(p.Restart, id)
		}
	}
	for id := range target {
		if _, ok := current[id]; !ok {
			p.Start = append(p.Start, id)
		}
	}
	sortIDs(p.Stop)
	sortIDs(p.Start)
	sortIDs(p.Restart)
	sortIDs(p.Unchanged)
	return p
}

// Empty reports whether the plan changes nothing.
func (p Plan) Empty() bool {
	return len(p.Stop) == 0 && len(p.Start) == 0 && len(p.Restart) == 0
}

func sortIDs(ids []device.ID) {
	slices.SortFunc(ids, func(a, b device.ID) int {
		return strings.Compare(a.String(), b.String())
	})
}
