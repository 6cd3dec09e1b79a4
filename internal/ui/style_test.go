package ui

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTable(t *testing.T) {
	out := Table([]string{"RULE", "STATE"}, [][]string{
		{"1.2.3.4:22", "live"},
		{"10.20.30.40:443", "preserved"},
	}, "none")

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	assert.GreaterOrEqual(t, len(lines), 3)
	assert.Contains(t, out, "RULE")
	assert.Contains(t, out, "1.2.3.4:22")
	assert.Contains(t, out, "10.20.30.40:443")
	assert.Contains(t, out, "preserved")
	assert.NotContains(t, out, "none")
}

func TestTable_Empty(t *testing.T) {
	out := Table([]string{"RULE"}, nil, "no tagged rules")
	assert.Contains(t, out, "no tagged rules")
}

func TestTable_ShortRow(t *testing.T) {
	out := Table([]string{"A", "B"}, [][]string{{"only"}}, "")
	assert.Contains(t, out, "only")
}

func TestRenderHelpers(t *testing.T) {
	assert.Contains(t, Title("ddnsfw", "status"), "ddnsfw")
	assert.Contains(t, Title("ddnsfw", "status"), "status")
	assert.Contains(t, Section("Cache", "generation 3\n"), "generation 3")
	assert.Contains(t, KeyValue("Backend", "iptables"), "iptables")
	assert.Contains(t, Badge("OK", SeverityOK), "OK")
	assert.Contains(t, Badge("PARTIAL", SeverityWarn), "PARTIAL")
	assert.Contains(t, Badge("ERROR", SeverityError), "ERROR")
	assert.Contains(t, Help("hint"), "hint")
}
