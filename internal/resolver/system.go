package resolver

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"time"
)

// SystemResolver uses the Go resolver, which honours /etc/hosts and nsswitch
// ordering the way getent does.
type SystemResolver struct {
	timeout  time.Duration
	resolver *net.Resolver
}

// NewSystemResolver creates a resolver backed by net.Resolver.
func NewSystemResolver(timeout time.Duration) *SystemResolver {
	return &SystemResolver{timeout: timeout, resolver: net.DefaultResolver}
}

// Resolve returns the first IPv4 address for host.
func (r *SystemResolver) Resolve(ctx context.Context, host string) (netip.Addr, error) {
	if addr, ok, err := literal(host); ok {
		return addr, err
	}

	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	addrs, err := r.resolver.LookupNetIP(ctx, "ip4", host)
	if err != nil {
		var dnsErr *net.DNSError
		switch {
		case errors.As(err, &dnsErr) && dnsErr.IsNotFound:
			return netip.Addr{}, &ResolutionError{Host: host, Reason: ReasonNXDomain, Err: err}
		case isTimeout(err):
			return netip.Addr{}, &ResolutionError{Host: host, Reason: ReasonTimeout, Err: err}
		default:
			return netip.Addr{}, &ResolutionError{Host: host, Reason: ReasonError, Err: err}
		}
	}

	for _, a := range addrs {
		if a = a.Unmap(); a.Is4() {
			return a, nil
		}
	}
	return netip.Addr{}, &ResolutionError{Host: host, Reason: ReasonNoRecord}
}
