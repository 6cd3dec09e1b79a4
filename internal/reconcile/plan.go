package reconcile

import (
	"net/netip"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"grimm.is/ddnsfw/internal/config"
	"grimm.is/ddnsfw/internal/firewall"
	"grimm.is/ddnsfw/internal/resolver"
)

// EntryResult is one configured entry after resolution.
type EntryResult struct {
	Entry config.Entry `json:"entry" yaml:"entry"`

	// IP is valid only when resolution succeeded.
	IP     netip.Addr      `json:"ip,omitzero" yaml:"ip"`
	Reason resolver.Reason `json:"failure,omitempty" yaml:"failure,omitempty"`
	Err    error           `json:"-" yaml:"-"`

	// LastKnown is the address from the previous cache, if any.
	LastKnown netip.Addr `json:"last_known,omitzero" yaml:"last_known"`
}

// Resolved reports whether the entry resolved this pass.
func (e EntryResult) Resolved() bool {
	return e.Err == nil && e.IP.IsValid()
}

// Rule returns the rule the entry asks for. Only meaningful when Resolved.
func (e EntryResult) Rule() firewall.Rule {
	return firewall.Rule{IP: e.IP, Port: e.Entry.Port}
}

// Plan is the diff between the live firewall and the desired state.
//
// ToAdd is Desired minus Actual. ToRemove is Actual minus Desired minus
// Preserved, where Preserved holds live rules on the port of any entry that
// failed to resolve this pass.
type Plan struct {
	Actual    []firewall.Rule `json:"actual" yaml:"actual"`
	Desired   []firewall.Rule `json:"desired" yaml:"desired"`
	Preserved []firewall.Rule `json:"preserved" yaml:"preserved"`
	ToAdd     []firewall.Rule `json:"to_add" yaml:"to_add"`
	ToRemove  []firewall.Rule `json:"to_remove" yaml:"to_remove"`

	// Listed is the raw number of tagged rules listed, duplicates included.
	Listed int `json:"listed" yaml:"listed"`
}

// Empty reports whether the plan performs no mutations.
func (p *Plan) Empty() bool {
	return len(p.ToAdd) == 0 && len(p.ToRemove) == 0
}

// Operations is the number of mutations the plan performs.
func (p *Plan) Operations() int {
	return len(p.ToAdd) + len(p.ToRemove)
}

// PeakRules is the number of distinct tagged rules live after the adds and
// before the removes.
func (p *Plan) PeakRules() int {
	return len(firewall.NewRuleSet(p.Actual...).Union(firewall.NewRuleSet(p.ToAdd...)))
}

// After returns the rules that will be live once the plan is applied.
func (p *Plan) After() []firewall.Rule {
	after := firewall.NewRuleSet(p.Actual...).Union(firewall.NewRuleSet(p.ToAdd...))
	return after.Minus(firewall.NewRuleSet(p.ToRemove...)).Sorted()
}

// Diff renders the plan as a unified diff of the live rule set against the
// rule set after the plan is applied.
func (p *Plan) Diff() (string, error) {
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        ruleLines(p.Actual),
		B:        ruleLines(p.After()),
		FromFile: "live",
		ToFile:   "planned",
		Context:  3,
	})
}

func ruleLines(rules []firewall.Rule) []string {
	lines := make([]string, len(rules))
	for i, r := range rules {
		lines[i] = r.String() + "\n"
	}
	return lines
}

// buildPlan computes the diff. live may contain duplicates.
func buildPlan(live []firewall.Rule, entries []EntryResult) *Plan {
	actual := firewall.NewRuleSet(live...)

	desired := make(firewall.RuleSet)
	failedPorts := make(map[int]bool)
	for _, e := range entries {
		if e.Resolved() {
			desired.Add(e.Rule())
		} else {
			failedPorts[e.Entry.Port] = true
		}
	}

	preserved := make(firewall.RuleSet)
	for r := range actual {
		if failedPorts[r.Port] && !desired.Has(r) {
			preserved.Add(r)
		}
	}

	return &Plan{
		Actual:    actual.Sorted(),
		Desired:   desired.Sorted(),
		Preserved: preserved.Sorted(),
		ToAdd:     desired.Minus(actual).Sorted(),
		ToRemove:  actual.Minus(desired).Minus(preserved).Sorted(),
		Listed:    len(live),
	}
}

// String summarizes the plan on one line per operation.
func (p *Plan) String() string {
	var b strings.Builder
	for _, r := range p.ToAdd {
		b.WriteString("+ " + r.String() + "\n")
	}
	for _, r := range p.ToRemove {
		b.WriteString("- " + r.String() + "\n")
	}
	for _, r := range p.Preserved {
		b.WriteString("= " + r.String() + " (preserved)\n")
	}
	return b.String()
}
