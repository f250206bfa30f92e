package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

// DefaultScanTimeout is the default time to wait for bridges to answer
const DefaultScanTimeout = 3 * time.Second

// Scanner finds bridges advertised with ServiceType
type Scanner struct {
	// Timeout is the maximum time to wait for answers
	Timeout time.Duration
}

// NewScanner creates a scanner with default settings
func NewScanner() *Scanner {
	return &Scanner{
		Timeout: DefaultScanTimeout,
	}
}

// Scan browses until the timeout and returns every bridge that answered
func (s *Scanner) Scan(ctx context.Context) ([]*Bridge, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	collected := make(chan []*Bridge, 1)
	go func() {
		bridges := make([]*Bridge, 0)
		seen := make(map[string]bool)
		for entry := range entries {
			b := parseServiceEntry(entry)
			if b == nil || seen[b.BaseURL()] {
				continue
			}
			seen[b.BaseURL()] = true
			bridges = append(bridges, b)
		}
		collected <- bridges
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	<-ctx.Done()
	// The resolver closes entries once the context is done
	select {
	case bridges := <-collected:
		return bridges, nil
	case <-time.After(time.Second):
		return nil, fmt.Errorf("mDNS browse did not finish")
	}
}

// parseServiceEntry converts a zeroconf service entry to a Bridge.
// Returns nil when the entry has no usable address.
func parseServiceEntry(entry *zeroconf.ServiceEntry) *Bridge {
	if entry == nil || entry.Port == 0 {
		return nil
	}

	var ip string
	if len(entry.AddrIPv4) > 0 {
		ip = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" {
		return nil
	}

	metadata := make(map[string]string)
	for _, txt := range entry.Text {
		parts := strings.SplitN(txt, "=", 2)
		if len(parts) == 2 {
			metadata[parts[0]] = parts[1]
		} else {
			metadata[parts[0]] = ""
		}
	}

	return &Bridge{
		Instance:     unescapeInstance(entry.Instance),
		Hostname:     entry.HostName,
		IP:           ip,
		Port:         entry.Port,
		Metadata:     metadata,
		DiscoveredAt: time.Now(),
	}
}

// unescapeInstance undoes DNS label escaping ("DTV+\ Bridge")
func unescapeInstance(s string) string {
	return strings.ReplaceAll(s, `\`, "")
}
