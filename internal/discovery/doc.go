// Package discovery announces the bridge on the local network over mDNS and
// finds running bridges from the CLI.
//
// Bridges register as "_dtvplus._tcp" in "local." with TXT records:
//
//	api=/api
//	devices=<number of configured devices>
//	version=<bridge version>
//
// Shower controllers themselves are never browsed for; their addresses come
// from the device registry.
//
// # Network Requirements
//
// - Requires multicast support on the network interface
// - Clients must be on the same local network segment
// - Firewall must allow mDNS (UDP port 5353)
package discovery
