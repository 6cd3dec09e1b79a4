package resolver

import (
	"context"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// zone answers A queries from a fixed table. Names in nx get NXDOMAIN, names
// in servfail get SERVFAIL, anything else gets an empty NOERROR answer.
type zone struct {
	a        map[string]string
	cname    map[string]string
	nx       map[string]bool
	servfail map[string]bool
	truncate bool
}

func (z *zone) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	m := new(dns.Msg)
	m.SetReply(r)
	name := r.Question[0].Name

	switch {
	case z.nx[name]:
		m.Rcode = dns.RcodeNameError
	case z.servfail[name]:
		m.Rcode = dns.RcodeServerFailure
	case z.truncate && w.LocalAddr().Network() == "udp":
		m.Truncated = true
	default:
		if target, ok := z.cname[name]; ok {
			m.Answer = append(m.Answer, &dns.CNAME{
				Hdr:    dns.RR_Header{Name: name, Rrtype: dns.TypeCNAME, Class: dns.ClassINET, Ttl: 60},
				Target: target,
			})
			name = target
		}
		if ip, ok := z.a[name]; ok {
			m.Answer = append(m.Answer, &dns.A{
				Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
				A:   net.ParseIP(ip),
			})
		}
	}
	w.WriteMsg(m)
}

// startServer serves h over UDP and TCP on the same loopback port.
func startServer(t *testing.T, h dns.Handler) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	ln, err := net.Listen("tcp", pc.LocalAddr().String())
	require.NoError(t, err)

	for _, srv := range []*dns.Server{
		{PacketConn: pc, Handler: h},
		{Listener: ln, Handler: h},
	} {
		started := make(chan struct{})
		srv.NotifyStartedFunc = func() { close(started) }
		go srv.ActivateAndServe()
		<-started
		t.Cleanup(func() { srv.Shutdown() })
	}

	return pc.LocalAddr().String()
}

func testZone() *zone {
	return &zone{
		a: map[string]string{
			"a.ddns.net.":      "1.2.3.4",
			"target.ddns.net.": "5.6.7.8",
		},
		cname:    map[string]string{"alias.ddns.net.": "target.ddns.net."},
		nx:       map[string]bool{"gone.ddns.net.": true},
		servfail: map[string]bool{"broken.ddns.net.": true},
	}
}

func TestDNSResolver_Resolve(t *testing.T) {
	addr := startServer(t, testZone())
	r, err := NewDNSResolver([]string{addr}, 2*time.Second)
	require.NoError(t, err)

	tests := []struct {
		host   string
		want   string
		reason Reason
	}{
		{host: "a.ddns.net", want: "1.2.3.4"},
		{host: "alias.ddns.net", want: "5.6.7.8"},
		{host: "9.8.7.6", want: "9.8.7.6"},
		{host: "gone.ddns.net", reason: ReasonNXDomain},
		{host: "empty.ddns.net", reason: ReasonNoRecord},
		{host: "broken.ddns.net", reason: ReasonError},
		{host: "::1", reason: ReasonNoRecord},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			got, err := r.Resolve(context.Background(), tt.host)
			if tt.reason != "" {
				require.Error(t, err)
				var re *ResolutionError
				require.ErrorAs(t, err, &re)
				assert.Equal(t, tt.host, re.Host)
				assert.Equal(t, tt.reason, re.Reason)
				assert.Equal(t, tt.reason, ReasonOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, netip.MustParseAddr(tt.want), got)
		})
	}
}

func TestDNSResolver_TruncatedFallsBackToTCP(t *testing.T) {
	z := testZone()
	z.truncate = true
	addr := startServer(t, z)

	r, err := NewDNSResolver([]string{addr}, 2*time.Second)
	require.NoError(t, err)

	got, err := r.Resolve(context.Background(), "a.ddns.net")
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("1.2.3.4"), got)
}

func TestDNSResolver_Timeout(t *testing.T) {
	// A socket nobody answers on.
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	r, err := NewDNSResolver([]string{pc.LocalAddr().String()}, 200*time.Millisecond)
	require.NoError(t, err)

	start := time.Now()
	_, err = r.Resolve(context.Background(), "a.ddns.net")
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, ReasonTimeout, ReasonOf(err))
}

func TestDNSResolver_FallsThroughToNextServer(t *testing.T) {
	bad := startServer(t, &zone{servfail: map[string]bool{"a.ddns.net.": true}})
	good := startServer(t, testZone())

	r, err := NewDNSResolver([]string{bad, good}, 2*time.Second)
	require.NoError(t, err)

	got, err := r.Resolve(context.Background(), "a.ddns.net")
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("1.2.3.4"), got)
}

func TestNewDNSResolver_ResolvConf(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resolv.conf")
	require.NoError(t, os.WriteFile(path, []byte("nameserver 192.0.2.53\nnameserver 2001:db8::53\n"), 0644))

	old := ResolvConf
	ResolvConf = path
	t.Cleanup(func() { ResolvConf = old })

	r, err := NewDNSResolver(nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"192.0.2.53:53", "[2001:db8::53]:53"}, r.Servers())
}

func TestWithPort(t *testing.T) {
	assert.Equal(t, "1.1.1.1:53", withPort("1.1.1.1"))
	assert.Equal(t, "1.1.1.1:5353", withPort("1.1.1.1:5353"))
	assert.Equal(t, "[2606:4700::1111]:53", withPort("2606:4700::1111"))
	assert.Equal(t, "ns.example.net:53", withPort("ns.example.net"))
}
