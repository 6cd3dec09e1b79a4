package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/miekg/dns"
)

// ResolvConf is where nameservers come from when none are configured.
var ResolvConf = "/etc/resolv.conf"

// DNSResolver queries nameservers directly for A records.
type DNSResolver struct {
	servers []string
	timeout time.Duration
	udp     *dns.Client
	tcp     *dns.Client
}

// NewDNSResolver creates a resolver for the given servers ("ip" or "ip:port").
// With no servers it reads ResolvConf.
func NewDNSResolver(servers []string, timeout time.Duration) (*DNSResolver, error) {
	if len(servers) == 0 {
		cfg, err := dns.ClientConfigFromFile(ResolvConf)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", ResolvConf, err)
		}
		for _, s := range cfg.Servers {
			servers = append(servers, net.JoinHostPort(s, cfg.Port))
		}
		if len(servers) == 0 {
			return nil, fmt.Errorf("no nameservers in %s", ResolvConf)
		}
	}

	normalized := make([]string, 0, len(servers))
	for _, s := range servers {
		normalized = append(normalized, withPort(s))
	}

	return &DNSResolver{
		servers: normalized,
		timeout: timeout,
		udp:     &dns.Client{Net: "udp", Timeout: timeout},
		tcp:     &dns.Client{Net: "tcp", Timeout: timeout},
	}, nil
}

// withPort appends :53 to bare addresses, bracketing IPv6.
func withPort(s string) string {
	if _, err := netip.ParseAddrPort(s); err == nil {
		return s
	}
	if _, err := netip.ParseAddr(s); err == nil {
		return net.JoinHostPort(s, "53")
	}
	if _, _, err := net.SplitHostPort(s); err == nil {
		return s
	}
	return net.JoinHostPort(s, "53")
}

// Servers returns the nameservers queried, in order.
func (r *DNSResolver) Servers() []string {
	return append([]string(nil), r.servers...)
}

// Resolve returns the first A record for host. Servers are tried in order
// until one gives an authoritative answer or the timeout expires.
func (r *DNSResolver) Resolve(ctx context.Context, host string) (netip.Addr, error) {
	if addr, ok, err := literal(host); ok {
		return addr, err
	}

	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), dns.TypeA)

	var lastErr error
	for _, server := range r.servers {
		resp, err := r.exchange(ctx, m, server)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}

		switch resp.Rcode {
		case dns.RcodeSuccess:
			for _, rr := range resp.Answer {
				if a, ok := rr.(*dns.A); ok {
					if addr, ok := netip.AddrFromSlice(a.A.To4()); ok {
						return addr, nil
					}
				}
			}
			return netip.Addr{}, &ResolutionError{Host: host, Reason: ReasonNoRecord}
		case dns.RcodeNameError:
			return netip.Addr{}, &ResolutionError{Host: host, Reason: ReasonNXDomain}
		default:
			lastErr = fmt.Errorf("%s answered %s", server, dns.RcodeToString[resp.Rcode])
		}
	}

	if lastErr == nil {
		lastErr = errors.New("no nameservers")
	}
	if isTimeout(lastErr) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return netip.Addr{}, &ResolutionError{Host: host, Reason: ReasonTimeout, Err: lastErr}
	}
	return netip.Addr{}, &ResolutionError{Host: host, Reason: ReasonError, Err: lastErr}
}

// exchange sends m over UDP and retries over TCP when the answer is truncated.
func (r *DNSResolver) exchange(ctx context.Context, m *dns.Msg, server string) (*dns.Msg, error) {
	resp, _, err := r.udp.ExchangeContext(ctx, m, server)
	if err != nil {
		return nil, err
	}
	if resp.Truncated {
		resp, _, err = r.tcp.ExchangeContext(ctx, m, server)
		if err != nil {
			return nil, err
		}
	}
	return resp, nil
}
