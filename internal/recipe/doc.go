// Package recipe persists the set of device configurations the runtime can
// run.
//
// A recipe maps DeviceIDs to descriptors. The state document holds every
// recipe, the id of the active one, a backup of the active recipe as it was
// last applied successfully, and variables that params can reference:
//
//	{"interval": {"__var": "tick_interval"}}
//
// The document is one JSON file. Writes go to a temporary file in the same
// directory which is synced and renamed over the original, so a crash never
// leaves a half-written file behind.
//
// The store never starts or stops devices. Applying a recipe is the
// transition engine's job; it calls Commit once the new configuration runs.
package recipe
