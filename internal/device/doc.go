// Package device defines the identity and static configuration of a device.
//
// A device is one long-lived worker in the runtime. Its configuration lives
// in a recipe as a Descriptor keyed by ID; the actor package turns a
// Descriptor into a running actor and the recipe package persists it.
//
// # Key Types
//
//   - ID: opaque 128-bit identity of one device instance (UUID text on the wire)
//   - Descriptor: device_type, device_name and untyped params
//   - ValidationError: structured failure returned by a device type's validator
//
// # Params
//
// Params are kept as raw JSON until a device type validates them. Validators
// usually decode into a typed struct with DecodeParams, which rejects unknown
// fields:
//
//	var p timerParams
//	if err := device.DecodeParams("timer_tick", raw, &p); err != nil {
//	    return timerParams{}, err
//	}
//
// # Thread Safety
//
// ID and Descriptor are values. Clone a Descriptor before handing it to code
// that may retain it, since Params shares its backing array.
package device
