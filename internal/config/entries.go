package config

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"grimm.is/ddnsfw/internal/validation"
)

// MaxEntries is the most hostname:port entries a configuration may hold.
const MaxEntries = 100

var (
	// ErrTooManyEntries is returned when an entries file lists more than MaxEntries.
	ErrTooManyEntries = errors.New("too many entries")

	// ErrNoEntries is returned when a configuration has no active entries.
	// An empty desired set would revoke every managed rule, so it is never
	// reconciled.
	ErrNoEntries = errors.New("no entries configured")
)

// Entry is one desired grant: traffic to Port is allowed from whatever
// address Hostname currently resolves to.
type Entry struct {
	Hostname string `json:"hostname" yaml:"hostname"`
	Port     int    `json:"port" yaml:"port"`
}

// String renders the entry the way it is written in the entries file.
func (e Entry) String() string {
	return e.Hostname + ":" + strconv.Itoa(e.Port)
}

// Key identifies the entry in the state cache.
func (e Entry) Key() string {
	return e.String()
}

// ParseError points at the offending line of an entries file.
type ParseError struct {
	Line int
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %q: %v", e.Line, e.Text, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParseEntry parses a single "hostname:port" token.
func ParseEntry(s string) (Entry, error) {
	s = strings.TrimSpace(s)
	colon := strings.LastIndex(s, ":")
	if colon < 0 {
		return Entry{}, fmt.Errorf("expected hostname:port")
	}

	host := strings.ToLower(strings.TrimSpace(s[:colon]))
	host = strings.TrimSuffix(host, ".")
	if err := validation.ValidateHostname(host); err != nil {
		return Entry{}, err
	}

	port, err := strconv.Atoi(strings.TrimSpace(s[colon+1:]))
	if err != nil {
		return Entry{}, fmt.Errorf("invalid port %q", s[colon+1:])
	}
	if err := validation.ValidatePortNumber(port); err != nil {
		return Entry{}, err
	}

	return Entry{Hostname: host, Port: port}, nil
}

// ParseEntries reads an entries file: one hostname:port per line, blank lines
// and # comments ignored. Any malformed line fails the whole load, and so does
// an entry beyond MaxEntries; nothing is silently dropped.
func ParseEntries(r io.Reader) ([]Entry, error) {
	var entries []Entry

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()

		line := raw
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		entry, err := ParseEntry(line)
		if err != nil {
			return nil, &ParseError{Line: lineNo, Text: raw, Err: err}
		}

		if len(entries) == MaxEntries {
			return nil, fmt.Errorf("%w: line %d is entry %d, limit is %d", ErrTooManyEntries, lineNo, MaxEntries+1, MaxEntries)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read entries: %w", err)
	}

	return entries, nil
}

// LoadEntriesFile reads and parses the entries file at path.
func LoadEntriesFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open entries file: %w", err)
	}
	defer f.Close()

	entries, err := ParseEntries(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return entries, nil
}

// FormatEntries renders entries in the file format ParseEntries accepts.
func FormatEntries(entries []Entry) []byte {
	var buf bytes.Buffer
	buf.WriteString("# DDNS firewall entries\n")
	buf.WriteString("# Format: hostname:port\n\n")
	for _, e := range entries {
		buf.WriteString(e.String())
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}
