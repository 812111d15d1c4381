package recipe

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-runtime/internal/device"
)

// DefaultID is the id of the recipe created for a fresh installation.
const DefaultID = "default"

const maxIDLength = 64

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Recipe is a named configuration: the set of devices that should run
// together.
type Recipe struct {
	Created time.Time                       `json:"created"`
	Tags    []string                        `json:"tags"`
	Devices map[device.ID]device.Descriptor `json:"devices"`
}

// New creates an empty recipe stamped with the current time.
func New(tags ...string) Recipe {
	return Recipe{
		Created: time.Now().UTC(),
		Tags:    normaliseTags(tags),
		Devices: make(map[device.ID]device.Descriptor),
	}
}

// Clone returns a deep copy.
func (r Recipe) Clone() Recipe {
	c := Recipe{
		Created: r.Created,
		Tags:    slices.Clone(r.Tags),
		Devices: make(map[device.ID]device.Descriptor, len(r.Devices)),
	}
	if c.Tags == nil {
		c.Tags = []string{}
	}
	for id, d := range r.Devices {
		c.Devices[id] = d.Clone()
	}
	return c
}

// Equal reports whether two recipes hold the same tags and devices.
// Device params are compared by JSON value.
func (r Recipe) Equal(other Recipe) bool {
	if !r.Created.Equal(other.Created) || !slices.Equal(r.Tags, other.Tags) {
		return false
	}
	if len(r.Devices) != len(other.Devices) {
		return false
	}
	for id, d := range r.Devices {
		o, ok := other.Devices[id]
		if !ok || !d.Equal(o) {
			return false
		}
	}
	return true
}

// DeviceIDs returns the recipe's device ids in string order.
func (r Recipe) DeviceIDs() []device.ID {
	ids := slices.Collect(maps.Keys(r.Devices))
	slices.SortFunc(ids, func(a, b device.ID) int {
		return strings.Compare(a.String(), b.String())
	})
	return ids
}

// ValidateID checks that id is usable as a recipe id.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidRecipeID)
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("%w: %q exceeds %d characters", ErrInvalidRecipeID, id, maxIDLength)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: %q may only contain letters, digits, '_' and '-'", ErrInvalidRecipeID, id)
	}
	return nil
}

// suggestions yields successive candidates for a unique id derived from
// id: a trailing _N is incremented, otherwise _1 is appended.
//
//	default   -> default_1, default_2, ...
//	default_1 -> default_2, default_3, ...
//	x_test    -> x_test_1, x_test_2, ...
func suggestions(id string) func() string {
	base, n := id, 0
	if i := strings.LastIndexByte(id, '_'); i > 0 {
		if v, err := strconv.Atoi(id[i+1:]); err == nil && v >= 0 && id[i+1:] == strconv.Itoa(v) {
			base, n = id[:i], v
		}
	}
	return func() string {
		n++
		return base + "_" + strconv.Itoa(n)
	}
}

// uniqueID returns id if it is free, otherwise the first free suggestion.
func uniqueID(id string, taken func(string) bool) string {
	next := suggestions(id)
	for taken(id) {
		id = next()
	}
	return id
}

// normaliseTags trims, de-duplicates and sorts tags. The result is never nil.
func normaliseTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t != "" {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
