// Package devices implements the logical devices a controller exposes:
// valves, single outlets, the amplifier, the steamer, light zones and the
// controller itself.
//
// Each device is a hub subscriber. Status and configuration snapshots update
// its capability state; writing a capability sends the matching controller
// command and then asks the hub for an extra status poll so the new state
// is confirmed quickly. Shower commands are built with the composer so a
// device never switches off water that another device started.
//
// The Manager creates devices from registry entries and keeps each one
// subscribed to its current address.
package devices
