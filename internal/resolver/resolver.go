// Package resolver turns entry hostnames into IPv4 addresses.
//
// Every lookup is bounded by a per-host timeout and fails with a
// [*ResolutionError]; callers decide what a failure means. There are no
// retries here: the next scheduled pass is the retry.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"grimm.is/ddnsfw/internal/config"
)

// Resolver resolves a hostname to a single IPv4 address.
type Resolver interface {
	Resolve(ctx context.Context, host string) (netip.Addr, error)
}

// Reason classifies a resolution failure.
type Reason string

const (
	ReasonTimeout  Reason = "timeout"
	ReasonNXDomain Reason = "nxdomain"
	ReasonNoRecord Reason = "no-record"
	ReasonError    Reason = "error"
)

// ResolutionError reports why host did not resolve.
type ResolutionError struct {
	Host   string
	Reason Reason
	Err    error
}

func (e *ResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("resolve %s: %s: %v", e.Host, e.Reason, e.Err)
	}
	return fmt.Sprintf("resolve %s: %s", e.Host, e.Reason)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// ReasonOf returns the failure reason carried by err, or ReasonError.
func ReasonOf(err error) Reason {
	var re *ResolutionError
	if errors.As(err, &re) {
		return re.Reason
	}
	return ReasonError
}

// New builds the resolver selected by the settings.
func New(s *config.ResolverSettings) (Resolver, error) {
	timeout := s.TimeoutDuration()
	switch s.Mode {
	case "system":
		return NewSystemResolver(timeout), nil
	case "", "dns":
		return NewDNSResolver(s.Servers, timeout)
	default:
		return nil, fmt.Errorf("unknown resolver mode %q", s.Mode)
	}
}

// literal short-circuits hosts that are already IP addresses.
func literal(host string) (netip.Addr, bool, error) {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false, nil
	}
	addr = addr.Unmap()
	if !addr.Is4() {
		return netip.Addr{}, true, &ResolutionError{Host: host, Reason: ReasonNoRecord, Err: errors.New("IPv6 literals are not supported")}
	}
	return addr, true, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = config.DefaultResolverTimeout
	}
	return context.WithTimeout(ctx, d)
}
