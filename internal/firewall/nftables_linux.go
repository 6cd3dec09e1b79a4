//go:build linux
// +build linux

package firewall

import (
	"context"
	"errors"
	"fmt"
	"net/netip"

	"github.com/google/nftables"
	"github.com/google/nftables/binaryutil"
	"github.com/google/nftables/expr"
	"golang.org/x/sys/unix"

	"grimm.is/ddnsfw/internal/logging"
)

// NFTablesConn abstracts the nftables.Conn operations the adapter uses.
type NFTablesConn interface {
	AddTable(t *nftables.Table) *nftables.Table
	AddChain(c *nftables.Chain) *nftables.Chain
	ListChainsOfTableFamily(family nftables.TableFamily) ([]*nftables.Chain, error)
	GetRules(t *nftables.Table, c *nftables.Chain) ([]*nftables.Rule, error)
	InsertRule(r *nftables.Rule) *nftables.Rule
	DelRule(r *nftables.Rule) error
	Flush() error
}

// RealNFTablesConn wraps the actual nftables.Conn.
type RealNFTablesConn struct {
	conn *nftables.Conn
}

// NewRealNFTablesConn creates a new RealNFTablesConn wrapping an nftables.Conn.
func NewRealNFTablesConn(conn *nftables.Conn) *RealNFTablesConn {
	return &RealNFTablesConn{conn: conn}
}

func (r *RealNFTablesConn) AddTable(t *nftables.Table) *nftables.Table {
	return r.conn.AddTable(t)
}

func (r *RealNFTablesConn) AddChain(c *nftables.Chain) *nftables.Chain {
	return r.conn.AddChain(c)
}

func (r *RealNFTablesConn) ListChainsOfTableFamily(family nftables.TableFamily) ([]*nftables.Chain, error) {
	return r.conn.ListChainsOfTableFamily(family)
}

func (r *RealNFTablesConn) GetRules(t *nftables.Table, c *nftables.Chain) ([]*nftables.Rule, error) {
	return r.conn.GetRules(t, c)
}

func (r *RealNFTablesConn) InsertRule(rule *nftables.Rule) *nftables.Rule {
	return r.conn.InsertRule(rule)
}

func (r *RealNFTablesConn) DelRule(rule *nftables.Rule) error {
	return r.conn.DelRule(rule)
}

func (r *RealNFTablesConn) Flush() error {
	return r.conn.Flush()
}

// NFTablesOptions configures an NFTablesAdapter.
type NFTablesOptions struct {
	Table    string
	Chain    string
	Family   string // inet or ip
	Protocol string
	Conn     NFTablesConn // nil opens a netlink connection
	Retry    *RetryConfig
	Logger   *logging.Logger
}

// NFTablesAdapter manages tagged rules over netlink.
//
// If the configured table and chain exist they are used as they are, which
// lets rules land in an existing filter chain. Otherwise a base chain hooked
// on input with policy accept is created.
type NFTablesAdapter struct {
	conn      NFTablesConn
	tableName string
	chainName string
	family    nftables.TableFamily
	proto     byte
	retry     RetryConfig
	logger    *logging.Logger

	table *nftables.Table
	chain *nftables.Chain
}

// NewNFTablesAdapter creates an nftables backend.
func NewNFTablesAdapter(opts NFTablesOptions) (*NFTablesAdapter, error) {
	var family nftables.TableFamily
	switch opts.Family {
	case "", "inet":
		family = nftables.TableFamilyINet
	case "ip":
		family = nftables.TableFamilyIPv4
	default:
		return nil, fmt.Errorf("unsupported nftables family %q", opts.Family)
	}

	var proto byte
	switch opts.Protocol {
	case "", "tcp":
		proto = unix.IPPROTO_TCP
	case "udp":
		proto = unix.IPPROTO_UDP
	default:
		return nil, fmt.Errorf("unsupported protocol %q", opts.Protocol)
	}

	if opts.Table == "" {
		opts.Table = "ddnsfw"
	}
	if opts.Chain == "" {
		opts.Chain = "input"
	}
	if opts.Conn == nil {
		c, err := nftables.New()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		opts.Conn = NewRealNFTablesConn(c)
	}
	retry := MutationRetryConfig()
	if opts.Retry != nil {
		retry = *opts.Retry
	}
	if opts.Logger == nil {
		opts.Logger = logging.WithComponent("firewall")
	}

	return &NFTablesAdapter{
		conn:      opts.Conn,
		tableName: opts.Table,
		chainName: opts.Chain,
		family:    family,
		proto:     proto,
		retry:     retry,
		logger:    opts.Logger,
	}, nil
}

// Name implements Adapter.
func (a *NFTablesAdapter) Name() string {
	return "nftables"
}

// ensure finds or creates the table and chain.
func (a *NFTablesAdapter) ensure() error {
	if a.chain != nil {
		return nil
	}

	chains, err := a.conn.ListChainsOfTableFamily(a.family)
	if err != nil {
		return fmt.Errorf("%w: list chains: %v", ErrUnavailable, err)
	}
	for _, c := range chains {
		if c.Table != nil && c.Table.Name == a.tableName && c.Name == a.chainName {
			a.table, a.chain = c.Table, c
			return nil
		}
	}

	table := a.conn.AddTable(&nftables.Table{Name: a.tableName, Family: a.family})
	policy := nftables.ChainPolicyAccept
	chain := a.conn.AddChain(&nftables.Chain{
		Name:     a.chainName,
		Table:    table,
		Type:     nftables.ChainTypeFilter,
		Hooknum:  nftables.ChainHookInput,
		Priority: nftables.ChainPriorityFilter,
		Policy:   &policy,
	})
	if err := a.conn.Flush(); err != nil {
		return fmt.Errorf("create %s/%s: %w", a.tableName, a.chainName, classifyNetlink(err))
	}

	a.logger.Info("created nftables chain", "table", a.tableName, "chain", a.chainName)
	a.table, a.chain = table, chain
	return nil
}

// ListTagged implements Adapter.
func (a *NFTablesAdapter) ListTagged(ctx context.Context) ([]Rule, error) {
	if err := a.ensure(); err != nil {
		return nil, err
	}
	rules, err := a.conn.GetRules(a.table, a.chain)
	if err != nil {
		return nil, fmt.Errorf("list %s/%s: %w", a.tableName, a.chainName, err)
	}

	var out []Rule
	for _, nr := range rules {
		if string(nr.UserData) != Tag {
			continue
		}
		if r, ok := decodeRule(nr.Exprs, a.proto); ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// Add implements Adapter.
func (a *NFTablesAdapter) Add(ctx context.Context, r Rule) error {
	if err := a.ensure(); err != nil {
		return err
	}
	return Retry(ctx, a.retry, func() error {
		handles, err := a.handles(r)
		if err != nil {
			return err
		}
		if len(handles) > 0 {
			a.logger.Debug("rule already present", "rule", r.String())
			return nil
		}

		a.conn.InsertRule(&nftables.Rule{
			Table:    a.table,
			Chain:    a.chain,
			Exprs:    a.ruleExprs(r),
			UserData: []byte(Tag),
		})
		if err := a.conn.Flush(); err != nil {
			return fmt.Errorf("insert %s: %w", r, classifyNetlink(err))
		}
		a.logger.Debug("rule inserted", "rule", r.String(), "chain", a.chainName)
		return nil
	})
}

// Remove implements Adapter. Every copy of the rule is deleted.
func (a *NFTablesAdapter) Remove(ctx context.Context, r Rule) error {
	if err := a.ensure(); err != nil {
		return err
	}
	return Retry(ctx, a.retry, func() error {
		handles, err := a.handles(r)
		if err != nil {
			return err
		}
		if len(handles) == 0 {
			return nil
		}
		for _, h := range handles {
			if err := a.conn.DelRule(&nftables.Rule{Table: a.table, Chain: a.chain, Handle: h}); err != nil {
				return fmt.Errorf("delete %s: %w", r, err)
			}
		}
		if err := a.conn.Flush(); err != nil {
			return fmt.Errorf("delete %s: %w", r, classifyNetlink(err))
		}
		a.logger.Debug("rule deleted", "rule", r.String(), "copies", len(handles))
		return nil
	})
}

// handles returns the kernel handles of every tagged copy of r.
func (a *NFTablesAdapter) handles(r Rule) ([]uint64, error) {
	rules, err := a.conn.GetRules(a.table, a.chain)
	if err != nil {
		return nil, fmt.Errorf("list %s/%s: %w", a.tableName, a.chainName, err)
	}
	var out []uint64
	for _, nr := range rules {
		if string(nr.UserData) != Tag {
			continue
		}
		if got, ok := decodeRule(nr.Exprs, a.proto); ok && got == r {
			out = append(out, nr.Handle)
		}
	}
	return out, nil
}

// ruleExprs builds: meta nfproto ipv4 ip saddr IP meta l4proto P th dport PORT counter accept
func (a *NFTablesAdapter) ruleExprs(r Rule) []expr.Any {
	return []expr.Any{
		&expr.Meta{Key: expr.MetaKeyNFPROTO, Register: 1},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: []byte{unix.NFPROTO_IPV4}},

		&expr.Payload{
			DestRegister: 1,
			Base:         expr.PayloadBaseNetworkHeader,
			Offset:       12, // Source address offset
			Len:          4,
		},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: r.IP.AsSlice()},

		&expr.Meta{Key: expr.MetaKeyL4PROTO, Register: 1},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: []byte{a.proto}},

		&expr.Payload{
			DestRegister: 1,
			Base:         expr.PayloadBaseTransportHeader,
			Offset:       2, // Destination port offset
			Len:          2,
		},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: binaryutil.BigEndian.PutUint16(uint16(r.Port))},

		&expr.Counter{},
		&expr.Verdict{Kind: expr.VerdictAccept},
	}
}

// decodeRule recognises the expression list ruleExprs produces. Anything
// else, even with the tag, is not a managed rule.
func decodeRule(exprs []expr.Any, proto byte) (Rule, bool) {
	var (
		loaded             string
		ip                 netip.Addr
		port               int
		sawProto, sawAllow bool
	)

	for _, e := range exprs {
		switch v := e.(type) {
		case *expr.Meta:
			switch v.Key {
			case expr.MetaKeyNFPROTO:
				loaded = "nfproto"
			case expr.MetaKeyL4PROTO:
				loaded = "l4proto"
			default:
				return Rule{}, false
			}
		case *expr.Payload:
			switch {
			case v.Base == expr.PayloadBaseNetworkHeader && v.Offset == 12 && v.Len == 4:
				loaded = "saddr"
			case v.Base == expr.PayloadBaseTransportHeader && v.Offset == 2 && v.Len == 2:
				loaded = "dport"
			default:
				return Rule{}, false
			}
		case *expr.Cmp:
			if v.Op != expr.CmpOpEq {
				return Rule{}, false
			}
			switch loaded {
			case "nfproto":
				if len(v.Data) != 1 || v.Data[0] != unix.NFPROTO_IPV4 {
					return Rule{}, false
				}
			case "l4proto":
				if len(v.Data) != 1 || v.Data[0] != proto {
					return Rule{}, false
				}
				sawProto = true
			case "saddr":
				addr, ok := netip.AddrFromSlice(v.Data)
				if !ok || !addr.Is4() {
					return Rule{}, false
				}
				ip = addr
			case "dport":
				if len(v.Data) != 2 {
					return Rule{}, false
				}
				port = int(binaryutil.BigEndian.Uint16(v.Data))
			default:
				return Rule{}, false
			}
			loaded = ""
		case *expr.Counter:
		case *expr.Verdict:
			if v.Kind != expr.VerdictAccept {
				return Rule{}, false
			}
			sawAllow = true
		default:
			return Rule{}, false
		}
	}

	if !ip.IsValid() || port == 0 || !sawProto || !sawAllow {
		return Rule{}, false
	}
	return Rule{IP: ip, Port: port}, true
}

// classifyNetlink marks transient netlink errors as temporary.
func classifyNetlink(err error) error {
	if errors.Is(err, unix.EBUSY) || errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
		return WrapTemporary(err)
	}
	return err
}
