package discovery

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
)

func TestAdvertisement_TXT(t *testing.T) {
	tests := []struct {
		name string
		ad   Advertisement
		want string
	}{
		{
			name: "with version",
			ad:   Advertisement{Instance: "DTV+ Bridge", Port: 8086, Version: "v1.2.0", Devices: 4},
			want: "api=/api devices=4 version=v1.2.0",
		},
		{
			name: "without version",
			ad:   Advertisement{Instance: "DTV+ Bridge", Port: 8086},
			want: "api=/api devices=0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := strings.Join(tt.ad.TXT(), " "); got != tt.want {
				t.Errorf("TXT() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestListenPort(t *testing.T) {
	tests := []struct {
		listen  string
		want    int
		wantErr bool
	}{
		{":8086", 8086, false},
		{"0.0.0.0:9000", 9000, false},
		{"[::]:80", 80, false},
		{"8086", 0, true},
		{":http", 0, true},
		{":0", 0, true},
		{":70000", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.listen, func(t *testing.T) {
			got, err := ListenPort(tt.listen)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ListenPort(%q) error = %v, wantErr %v", tt.listen, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ListenPort(%q) = %d, want %d", tt.listen, got, tt.want)
			}
		})
	}
}

func TestAdvertise_EmptyInstance(t *testing.T) {
	if _, err := Advertise(Advertisement{Instance: "  ", Port: 8086}); err == nil {
		t.Error("Advertise() with empty instance succeeded")
	}
}

func TestParseServiceEntry(t *testing.T) {
	tests := []struct {
		name     string
		entry    *zeroconf.ServiceEntry
		wantNil  bool
		wantIP   string
		wantPort int
	}{
		{
			name: "IPv4 bridge",
			entry: &zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: `DTV+\ Bridge`},
				HostName:      "nas.local.",
				Port:          8086,
				AddrIPv4:      []net.IP{net.ParseIP("192.168.1.10")},
				Text:          []string{"api=/api", "devices=3"},
			},
			wantIP:   "192.168.1.10",
			wantPort: 8086,
		},
		{
			name: "prefers IPv4",
			entry: &zeroconf.ServiceEntry{
				HostName: "nas.local.",
				Port:     8086,
				AddrIPv4: []net.IP{net.ParseIP("192.168.1.10")},
				AddrIPv6: []net.IP{net.ParseIP("fe80::1")},
			},
			wantIP:   "192.168.1.10",
			wantPort: 8086,
		},
		{
			name: "IPv6 only",
			entry: &zeroconf.ServiceEntry{
				HostName: "nas.local.",
				Port:     8086,
				AddrIPv6: []net.IP{net.ParseIP("fe80::1")},
			},
			wantIP:   "fe80::1",
			wantPort: 8086,
		},
		{
			name: "no address",
			entry: &zeroconf.ServiceEntry{
				HostName: "nas.local.",
				Port:     8086,
			},
			wantNil: true,
		},
		{
			name: "no port",
			entry: &zeroconf.ServiceEntry{
				HostName: "nas.local.",
				AddrIPv4: []net.IP{net.ParseIP("192.168.1.10")},
			},
			wantNil: true,
		},
		{
			name:    "nil entry",
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := parseServiceEntry(tt.entry)
			if tt.wantNil {
				if b != nil {
					t.Errorf("parseServiceEntry() = %v, want nil", b)
				}
				return
			}
			if b == nil {
				t.Fatal("parseServiceEntry() = nil, want bridge")
			}
			if b.IP != tt.wantIP {
				t.Errorf("IP = %v, want %v", b.IP, tt.wantIP)
			}
			if b.Port != tt.wantPort {
				t.Errorf("Port = %v, want %v", b.Port, tt.wantPort)
			}
			if time.Since(b.DiscoveredAt) > time.Second {
				t.Errorf("DiscoveredAt is not recent: %v", b.DiscoveredAt)
			}
		})
	}
}

func TestParseServiceEntry_Metadata(t *testing.T) {
	entry := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{Instance: `DTV+\ Bridge`},
		HostName:      "nas.local.",
		Port:          8086,
		AddrIPv4:      []net.IP{net.ParseIP("192.168.1.10")},
		Text:          []string{"api=/api", "devices=3", "flag"},
	}

	b := parseServiceEntry(entry)
	if b == nil {
		t.Fatal("parseServiceEntry() = nil")
	}
	if b.Instance != "DTV+ Bridge" {
		t.Errorf("Instance = %q, want %q", b.Instance, "DTV+ Bridge")
	}
	if got := b.GetMetadata("devices"); got != "3" {
		t.Errorf("GetMetadata(devices) = %q, want 3", got)
	}
	if _, ok := b.Metadata["flag"]; !ok {
		t.Error("key-only TXT record missing")
	}
	if got := b.GetMetadata("missing"); got != "" {
		t.Errorf("GetMetadata(missing) = %q, want empty", got)
	}
}

func TestBridge_Strings(t *testing.T) {
	tests := []struct {
		name     string
		bridge   *Bridge
		wantURL  string
		wantDesc string
	}{
		{
			name:     "IPv4",
			bridge:   &Bridge{Instance: "DTV+ Bridge", Hostname: "nas.local.", IP: "192.168.1.10", Port: 8086},
			wantURL:  "http://192.168.1.10:8086",
			wantDesc: "DTV+ Bridge (nas.local.) at 192.168.1.10:8086",
		},
		{
			name:     "IPv6",
			bridge:   &Bridge{Instance: "Loft", Hostname: "pi.local.", IP: "fe80::1", Port: 80},
			wantURL:  "http://[fe80::1]:80",
			wantDesc: "Loft (pi.local.) at [fe80::1]:80",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.bridge.BaseURL(); got != tt.wantURL {
				t.Errorf("BaseURL() = %v, want %v", got, tt.wantURL)
			}
			if got := tt.bridge.String(); got != tt.wantDesc {
				t.Errorf("String() = %v, want %v", got, tt.wantDesc)
			}
		})
	}
}
