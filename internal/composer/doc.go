// Package composer turns one device's intended change into a full compound
// shower command.
//
// The controller only accepts shower writes that describe both valves, so a
// device changing its own valve must restate the other one. The composer
// reads the other valve from the last status snapshot and decides between a
// compound command and a plain stop. It does no I/O.
package composer
