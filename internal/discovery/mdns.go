package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/cogmote/puremote/internal/deviceapi"
	"github.com/cogmote/puremote/internal/logging"
)

const (
	// ServiceType is the mDNS service type the device agent advertises
	ServiceType = "_cogmote._tcp"

	// ServiceDomain is the mDNS domain (typically "local.")
	ServiceDomain = "local."

	// DefaultScanTimeout is the default duration of an mDNS browse
	DefaultScanTimeout = 5 * time.Second
)

// MDNSScanner browses the local network for device agents
type MDNSScanner struct {
	// Timeout is how long to listen for advertisements
	Timeout time.Duration

	// Service is the service type to browse for
	Service string
}

// NewMDNSScanner creates a new mDNS scanner with default settings
func NewMDNSScanner() *MDNSScanner {
	return &MDNSScanner{
		Timeout: DefaultScanTimeout,
		Service: ServiceType,
	}
}

// Scan listens for advertisements until the timeout expires or ctx is
// cancelled and returns every agent seen.
func (s *MDNSScanner) Scan(ctx context.Context) ([]*Service, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	done := make(chan struct{})
	services := make([]*Service, 0)

	go func() {
		defer close(done)
		for entry := range entries {
			if svc := parseServiceEntry(entry); svc != nil {
				logging.Debug("mDNS advertisement", zap.String("instance", svc.Instance), zap.String("address", svc.Address))
				services = append(services, svc)
			}
		}
	}()

	if err := resolver.Browse(ctx, s.Service, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	<-ctx.Done()
	// The resolver closes entries once ctx is done.
	select {
	case <-done:
	case <-time.After(time.Second):
		logging.Warn("mDNS resolver did not close its entry channel")
		return nil, fmt.Errorf("mDNS browse did not terminate")
	}

	return services, nil
}

// parseServiceEntry converts a zeroconf entry to a Service.
// Returns nil when the entry carries no usable address.
func parseServiceEntry(entry *zeroconf.ServiceEntry) *Service {
	if entry == nil {
		return nil
	}

	var address string
	if len(entry.AddrIPv4) > 0 {
		address = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		address = entry.AddrIPv6[0].String()
	}
	if address == "" {
		return nil
	}

	port := entry.Port
	if port == 0 {
		port = deviceapi.DefaultPort
	}

	text := make(map[string]string, len(entry.Text))
	for _, txt := range entry.Text {
		key, value, _ := strings.Cut(txt, "=")
		text[key] = value
	}

	return &Service{
		Instance:     entry.Instance,
		Hostname:     entry.HostName,
		Address:      address,
		Port:         port,
		Text:         text,
		DiscoveredAt: time.Now(),
	}
}
