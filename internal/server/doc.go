// Package server exposes the bridge over HTTP.
//
// The API is a small JSON surface on top of the device manager and the
// polling hub:
//
//	GET  /healthz
//	GET  /metrics
//	GET  /api/controllers
//	GET  /api/controllers/{address}/snapshot
//	GET  /api/devices
//	GET  /api/devices/{id}
//	GET  /api/devices/{id}/capabilities/{capability}
//	POST /api/devices/{id}/capabilities/{capability}   {"value": ...}
//	GET  /api/stream                                    (websocket)
//
// Capability writes return the device's state after the command. Errors are
// reported as {"error": "...", "type": "...", "hints": [...]} with:
//
//   - 404 for an unknown device
//   - 400 for an unknown capability, a malformed body or a value out of range
//   - 409 when the controller answered but rejected the command
//   - 504 when the controller did not answer in time
//   - 502 for any other controller failure
//
// The stream sends one {"type":"state","device":{...}} event per device state
// change. Clients that fall behind are disconnected.
package server
