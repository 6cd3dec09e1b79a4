package reconcile

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/ddnsfw/internal/firewall"
	"grimm.is/ddnsfw/internal/resolver"
)

func resolved(host string, port int, ip string) EntryResult {
	return EntryResult{Entry: ent(host, port), IP: netip.MustParseAddr(ip)}
}

func failed(host string, port int) EntryResult {
	return EntryResult{Entry: ent(host, port), Reason: resolver.ReasonTimeout, Err: errors.New("timeout")}
}

func TestBuildPlan(t *testing.T) {
	tests := []struct {
		name      string
		live      []string
		entries   []EntryResult
		add       []string
		remove    []string
		preserved []string
	}{
		{
			name:    "empty firewall",
			entries: []EntryResult{resolved("a", 22, "1.2.3.4")},
			add:     []string{"1.2.3.4:22"},
		},
		{
			name:    "in sync",
			live:    []string{"1.2.3.4:22"},
			entries: []EntryResult{resolved("a", 22, "1.2.3.4")},
		},
		{
			name:    "address change",
			live:    []string{"1.2.3.4:22"},
			entries: []EntryResult{resolved("a", 22, "5.6.7.8")},
			add:     []string{"5.6.7.8:22"},
			remove:  []string{"1.2.3.4:22"},
		},
		{
			name:      "failed entry keeps its port",
			live:      []string{"1.2.3.4:22", "1.2.3.4:443"},
			entries:   []EntryResult{failed("a", 22), resolved("b", 80, "5.6.7.8")},
			add:       []string{"5.6.7.8:80"},
			remove:    []string{"1.2.3.4:443"},
			preserved: []string{"1.2.3.4:22"},
		},
		{
			name:    "desired rule on failed port is not preserved twice",
			live:    []string{"5.6.7.8:22"},
			entries: []EntryResult{failed("a", 22), resolved("b", 22, "5.6.7.8")},
		},
		{
			name:    "duplicates collapse",
			live:    []string{"1.2.3.4:22", "1.2.3.4:22", "9.9.9.9:22"},
			entries: []EntryResult{resolved("a", 22, "1.2.3.4"), resolved("b", 22, "1.2.3.4")},
			remove:  []string{"9.9.9.9:22"},
		},
		{
			name:   "no entries removes everything",
			live:   []string{"1.2.3.4:22", "5.6.7.8:80"},
			remove: []string{"1.2.3.4:22", "5.6.7.8:80"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := buildPlan(rules(tt.live), tt.entries)
			assert.Equal(t, rules(tt.add), plan.ToAdd, "to add")
			assert.Equal(t, rules(tt.remove), plan.ToRemove, "to remove")
			assert.Equal(t, rules(tt.preserved), plan.Preserved, "preserved")
			assert.Equal(t, len(tt.live), plan.Listed)
		})
	}
}

func rules(ss []string) []firewall.Rule {
	out := []firewall.Rule{}
	for _, s := range ss {
		out = append(out, rule(s))
	}
	return out
}

func TestPlan_PeakAndAfter(t *testing.T) {
	plan := buildPlan(rules([]string{"1.1.1.1:22", "2.2.2.2:22"}), []EntryResult{
		resolved("a", 22, "2.2.2.2"),
		resolved("b", 22, "3.3.3.3"),
	})
	assert.Equal(t, 3, plan.PeakRules())
	assert.Equal(t, rules([]string{"2.2.2.2:22", "3.3.3.3:22"}), plan.After())
	assert.Equal(t, 2, plan.Operations())
	assert.False(t, plan.Empty())
}

func TestPlan_Diff(t *testing.T) {
	plan := buildPlan(rules([]string{"1.2.3.4:22", "9.9.9.9:80"}), []EntryResult{
		resolved("a", 22, "5.6.7.8"),
		resolved("b", 80, "9.9.9.9"),
	})

	diff, err := plan.Diff()
	require.NoError(t, err)
	assert.Contains(t, diff, "--- live")
	assert.Contains(t, diff, "+++ planned")
	assert.Contains(t, diff, "-1.2.3.4:22\n")
	assert.Contains(t, diff, "+5.6.7.8:22\n")
	assert.Contains(t, diff, " 9.9.9.9:80\n")

	same := buildPlan(rules([]string{"1.2.3.4:22"}), []EntryResult{resolved("a", 22, "1.2.3.4")})
	diff, err = same.Diff()
	require.NoError(t, err)
	assert.Empty(t, diff)
}

func TestPlan_String(t *testing.T) {
	plan := buildPlan(rules([]string{"1.2.3.4:22", "7.7.7.7:443"}), []EntryResult{
		resolved("a", 22, "5.6.7.8"),
		failed("b", 443),
	})
	assert.Equal(t, "+ 5.6.7.8:22\n- 1.2.3.4:22\n= 7.7.7.7:443 (preserved)\n", plan.String())
}
