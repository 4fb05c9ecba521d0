package risk

import (
	"context"
	"fmt"
	"net"
)

// CIDRDenylist is a static, in-process IPReputation source. Addresses inside
// any configured network are reported as flagged.
type CIDRDenylist struct {
	networks []*net.IPNet
}

// NewCIDRDenylist parses the given CIDR strings into a denylist
func NewCIDRDenylist(cidrs []string) (*CIDRDenylist, error) {
	networks := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("invalid flagged network %q: %w", cidr, err)
		}
		networks = append(networks, network)
	}
	return &CIDRDenylist{networks: networks}, nil
}

// IsFlagged reports whether ipAddress falls inside a denylisted network.
// An unparseable address is flagged; the caller already treats lookup
// failures as risk, and a garbage address deserves no better.
func (d *CIDRDenylist) IsFlagged(ctx context.Context, ipAddress string) (bool, error) {
	ip := net.ParseIP(ipAddress)
	if ip == nil {
		return true, nil
	}
	for _, network := range d.networks {
		if network.Contains(ip) {
			return true, nil
		}
	}
	return false, nil
}
