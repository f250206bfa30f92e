// Package hub keeps one shared, periodically refreshed view of each DTV+
// controller and fans it out to the logical devices subscribed to it.
//
// The controller copes badly with load, so no matter how many devices point
// at an address there is exactly one status poll every 30 seconds and one
// configuration poll every 5 minutes. Polling exists only while an address
// has subscribers: the first Subscribe starts it with an immediate poll of
// each kind, and the last Unsubscribe stops it and forgets the cached
// snapshots.
//
// After sending a command, a device calls RequestExtraPoll so the result
// shows up two seconds later instead of at the next tick. Requests made
// while one is pending collapse into it.
//
// Each poll takes a per-address sequence number when it starts and its
// result is applied only if no later poll has been applied already.
// Subscribers are called synchronously in registration order; an error or
// panic in one is logged and does not affect the others.
package hub
