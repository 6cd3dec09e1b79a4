package resolver

import (
	"context"
	"net/netip"
)

// Static resolves from a fixed table. Hosts missing from the table fail
// with ReasonNXDomain. It backs dry runs with pinned answers and tests.
type Static map[string]netip.Addr

// Resolve implements Resolver.
func (s Static) Resolve(ctx context.Context, host string) (netip.Addr, error) {
	if err := ctx.Err(); err != nil {
		return netip.Addr{}, &ResolutionError{Host: host, Reason: ReasonTimeout, Err: err}
	}
	if addr, ok := s[host]; ok {
		return addr, nil
	}
	if addr, ok, err := literal(host); ok {
		return addr, err
	}
	return netip.Addr{}, &ResolutionError{Host: host, Reason: ReasonNXDomain}
}
