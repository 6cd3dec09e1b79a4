package firewall

import (
	"cmp"
	"fmt"
	"net/netip"
	"slices"
	"strconv"
	"strings"

	"grimm.is/ddnsfw/internal/brand"
)

// Tag marks rules created by ddnsfw.
var Tag = brand.RuleTag

// Rule is a managed access grant. Its identity is the (IP, Port) pair.
type Rule struct {
	IP   netip.Addr `json:"ip" yaml:"ip"`
	Port int        `json:"port" yaml:"port"`
}

// String renders the rule as ip:port.
func (r Rule) String() string {
	return r.IP.String() + ":" + strconv.Itoa(r.Port)
}

// ParseRule parses an ip:port string.
func ParseRule(s string) (Rule, error) {
	host, portStr, ok := strings.Cut(s, ":")
	if !ok {
		return Rule{}, fmt.Errorf("invalid rule %q: expected ip:port", s)
	}
	ip, err := netip.ParseAddr(host)
	if err != nil || !ip.Is4() {
		return Rule{}, fmt.Errorf("invalid rule %q: not an IPv4 address", s)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return Rule{}, fmt.Errorf("invalid rule %q: bad port", s)
	}
	return Rule{IP: ip, Port: port}, nil
}

// Compare orders rules by address, then port.
func (r Rule) Compare(o Rule) int {
	if c := r.IP.Compare(o.IP); c != 0 {
		return c
	}
	return cmp.Compare(r.Port, o.Port)
}

// RuleSet is a set of rules keyed by identity.
type RuleSet map[Rule]struct{}

// NewRuleSet builds a set, collapsing duplicates.
func NewRuleSet(rules ...Rule) RuleSet {
	s := make(RuleSet, len(rules))
	for _, r := range rules {
		s[r] = struct{}{}
	}
	return s
}

// Add inserts r.
func (s RuleSet) Add(r Rule) {
	s[r] = struct{}{}
}

// Has reports whether r is in the set.
func (s RuleSet) Has(r Rule) bool {
	_, ok := s[r]
	return ok
}

// Minus returns the rules in s that are not in o.
func (s RuleSet) Minus(o RuleSet) RuleSet {
	out := make(RuleSet)
	for r := range s {
		if !o.Has(r) {
			out[r] = struct{}{}
		}
	}
	return out
}

// Union returns the rules in either set.
func (s RuleSet) Union(o RuleSet) RuleSet {
	out := make(RuleSet, len(s)+len(o))
	for r := range s {
		out[r] = struct{}{}
	}
	for r := range o {
		out[r] = struct{}{}
	}
	return out
}

// Sorted returns the rules in a stable order.
func (s RuleSet) Sorted() []Rule {
	out := make([]Rule, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	slices.SortFunc(out, Rule.Compare)
	return out
}
