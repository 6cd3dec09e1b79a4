package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEntries(t *testing.T) {
	input := `# DDNS firewall entries

home.dyndns.org:22
Office.Example.NET.:5432   # database
  vpn.ddns.net : 51820
`
	entries, err := ParseEntries(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, []Entry{
		{Hostname: "home.dyndns.org", Port: 22},
		{Hostname: "office.example.net", Port: 5432},
		{Hostname: "vpn.ddns.net", Port: 51820},
	}, entries)
}

func TestParseEntries_Empty(t *testing.T) {
	entries, err := ParseEntries(strings.NewReader("# nothing yet\n\n"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestParseEntries_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
		line  int
	}{
		{"no port", "a.ddns.net:22\nb.ddns.net\n", 2},
		{"port zero", "a.ddns.net:0\n", 1},
		{"port too high", "# c\na.ddns.net:65536\n", 2},
		{"port not numeric", "a.ddns.net:ssh\n", 1},
		{"empty host", ":22\n", 1},
		{"bad host", "a b.net:22\n", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEntries(strings.NewReader(tt.input))
			require.Error(t, err)

			var pe *ParseError
			require.True(t, errors.As(err, &pe), "want ParseError, got %v", err)
			assert.Equal(t, tt.line, pe.Line)
		})
	}
}

func TestParseEntries_Limit(t *testing.T) {
	var b strings.Builder
	for i := 0; i < MaxEntries; i++ {
		fmt.Fprintf(&b, "h%d.ddns.net:22\n", i)
	}

	entries, err := ParseEntries(strings.NewReader(b.String()))
	require.NoError(t, err)
	assert.Len(t, entries, MaxEntries)

	b.WriteString("one-too-many.ddns.net:22\n")
	_, err = ParseEntries(strings.NewReader(b.String()))
	assert.ErrorIs(t, err, ErrTooManyEntries)
}

func TestLoadEntriesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf.conf")
	want := []Entry{{Hostname: "a.ddns.net", Port: 22}, {Hostname: "b.ddns.net", Port: 2222}}
	require.NoError(t, os.WriteFile(path, FormatEntries(want), 0600))

	got, err := LoadEntriesFile(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = LoadEntriesFile(filepath.Join(t.TempDir(), "missing.conf"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestEntryString(t *testing.T) {
	e := Entry{Hostname: "a.ddns.net", Port: 22}
	assert.Equal(t, "a.ddns.net:22", e.String())

	parsed, err := ParseEntry(e.String())
	require.NoError(t, err)
	assert.Equal(t, e, parsed)
}
