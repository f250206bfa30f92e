// Package pairing turns a controller's configuration snapshot into registry
// entries: the controller, its valves, amplifier, steamer, light zones and
// per-outlet zones.
package pairing
