package discovery

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Bridge is a dtvplus bridge found on the local network
type Bridge struct {
	// Instance is the advertised instance name (e.g. "DTV+ Bridge")
	Instance string

	// Hostname is the mDNS hostname (e.g. "nas.local.")
	Hostname string

	// IP is the first IPv4 address, falling back to IPv6
	IP string

	// Port is the bridge API port
	Port int

	// Metadata holds the TXT records: "version", "api", "devices"
	Metadata map[string]string

	// DiscoveredAt is when the bridge answered
	DiscoveredAt time.Time
}

// String returns a human-readable description of the bridge
func (b *Bridge) String() string {
	return fmt.Sprintf("%s (%s) at %s", b.Instance, b.Hostname, net.JoinHostPort(b.IP, strconv.Itoa(b.Port)))
}

// BaseURL returns the bridge API base URL
func (b *Bridge) BaseURL() string {
	return "http://" + net.JoinHostPort(b.IP, strconv.Itoa(b.Port))
}

// GetMetadata retrieves a TXT value by key, or returns empty string if not found
func (b *Bridge) GetMetadata(key string) string {
	if b.Metadata == nil {
		return ""
	}
	return b.Metadata[key]
}
