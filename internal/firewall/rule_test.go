package firewall

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rule(s string) Rule {
	r, err := ParseRule(s)
	if err != nil {
		panic(err)
	}
	return r
}

func TestParseRule(t *testing.T) {
	r, err := ParseRule("1.2.3.4:22")
	require.NoError(t, err)
	assert.Equal(t, Rule{IP: netip.MustParseAddr("1.2.3.4"), Port: 22}, r)
	assert.Equal(t, "1.2.3.4:22", r.String())

	for _, bad := range []string{"1.2.3.4", "1.2.3.4:0", "1.2.3.4:70000", "::1:22", "host:22", "1.2.3.4:ssh"} {
		_, err := ParseRule(bad)
		assert.Error(t, err, bad)
	}
}

func TestRuleSet(t *testing.T) {
	a := NewRuleSet(rule("1.2.3.4:22"), rule("1.2.3.4:22"), rule("5.6.7.8:22"))
	b := NewRuleSet(rule("5.6.7.8:22"), rule("9.9.9.9:443"))

	assert.Len(t, a, 2, "duplicates collapse")
	assert.True(t, a.Has(rule("1.2.3.4:22")))
	assert.False(t, a.Has(rule("1.2.3.4:23")))

	assert.Equal(t, []Rule{rule("1.2.3.4:22")}, a.Minus(b).Sorted())
	assert.Equal(t, []Rule{rule("9.9.9.9:443")}, b.Minus(a).Sorted())
	assert.Equal(t, []Rule{rule("1.2.3.4:22"), rule("5.6.7.8:22"), rule("9.9.9.9:443")}, a.Union(b).Sorted())
}

func TestRuleSet_SortedOrder(t *testing.T) {
	s := NewRuleSet(rule("10.0.0.1:22"), rule("9.0.0.1:443"), rule("9.0.0.1:22"))
	assert.Equal(t, []Rule{rule("9.0.0.1:22"), rule("9.0.0.1:443"), rule("10.0.0.1:22")}, s.Sorted())
}
