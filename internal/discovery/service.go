package discovery

import (
	"fmt"
	"time"
)

// Service is a host found advertising the device agent over mDNS
type Service struct {
	// Instance is the advertised instance name (e.g., "rig-03")
	Instance string

	// Hostname is the mDNS hostname (e.g., "rig-03.local.")
	Hostname string

	// Address is the IP address to probe, IPv4 when one was advertised
	Address string

	// Port is the advertised agent port (typically 9012)
	Port int

	// Text contains the TXT record data as key/value pairs
	Text map[string]string

	// DiscoveredAt is when the advertisement was received
	DiscoveredAt time.Time
}

// String returns a human-readable string representation of the service
func (s *Service) String() string {
	return fmt.Sprintf("%s (%s) at %s:%d", s.Instance, s.Hostname, s.Address, s.Port)
}

// GetText retrieves a TXT value by key, or returns empty string if not found
func (s *Service) GetText(key string) string {
	if s.Text == nil {
		return ""
	}
	return s.Text[key]
}

// Addresses returns the probe addresses of services, without duplicates and
// in discovery order.
func Addresses(services []*Service) []string {
	seen := make(map[string]struct{}, len(services))
	out := make([]string, 0, len(services))
	for _, s := range services {
		if _, ok := seen[s.Address]; ok {
			continue
		}
		seen[s.Address] = struct{}{}
		out = append(out, s.Address)
	}
	return out
}
