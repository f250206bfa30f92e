package discovery

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/muurk/dtvplus/internal/logging"
)

const (
	// ServiceType is the mDNS service type bridges advertise
	ServiceType = "_dtvplus._tcp"

	// ServiceDomain is the mDNS domain
	ServiceDomain = "local."

	// APIPath is advertised so clients need not guess the API root
	APIPath = "/api"
)

// Advertisement describes what a bridge announces about itself
type Advertisement struct {
	Instance string
	Port     int
	Version  string
	Devices  int
}

// TXT renders the advertisement's TXT records
func (a Advertisement) TXT() []string {
	txt := []string{"api=" + APIPath, "devices=" + strconv.Itoa(a.Devices)}
	if a.Version != "" {
		txt = append(txt, "version="+a.Version)
	}
	return txt
}

// ListenPort extracts the port from a listen address such as ":8086" or
// "0.0.0.0:8086".
func ListenPort(listen string) (int, error) {
	_, portStr, err := net.SplitHostPort(listen)
	if err != nil {
		return 0, fmt.Errorf("invalid listen address %q: %w", listen, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("invalid port in listen address %q", listen)
	}
	return port, nil
}

// Advertiser keeps a bridge registered on mDNS until Shutdown
type Advertiser struct {
	server *zeroconf.Server
	ad     Advertisement
}

// Advertise registers the bridge on all multicast interfaces
func Advertise(ad Advertisement) (*Advertiser, error) {
	if strings.TrimSpace(ad.Instance) == "" {
		return nil, fmt.Errorf("mDNS instance name is empty")
	}
	server, err := zeroconf.Register(ad.Instance, ServiceType, ServiceDomain, ad.Port, ad.TXT(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}

	logging.Info("Advertising bridge over mDNS",
		zap.String("instance", ad.Instance),
		zap.String("service", ServiceType),
		zap.Int("port", ad.Port),
	)
	return &Advertiser{server: server, ad: ad}, nil
}

// SetDevices updates the advertised device count
func (a *Advertiser) SetDevices(n int) {
	if a.ad.Devices == n {
		return
	}
	a.ad.Devices = n
	a.server.SetText(a.ad.TXT())
}

// Shutdown withdraws the advertisement
func (a *Advertiser) Shutdown() {
	a.server.Shutdown()
	logging.Info("mDNS advertisement withdrawn", zap.String("instance", a.ad.Instance))
}
