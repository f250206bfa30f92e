// Package mqttbridge mirrors device state to an MQTT broker and applies
// capability writes received from it.
//
// Topics, under a configurable prefix:
//
//	<prefix>/bridge/status     "online" / "offline" (retained)
//	<prefix>/<device-id>/state device view as JSON (retained)
//	<prefix>/<device-id>/set   {"capability": "onoff", "value": true}
//	<prefix>/<device-id>/error {"capability": "...", "error": "..."}
package mqttbridge
