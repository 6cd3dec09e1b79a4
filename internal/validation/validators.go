package validation

import (
	"fmt"
	"net/netip"
	"regexp"
	"strconv"
	"strings"
)

var (
	// Valid identifier: alphanumeric, dash, underscore (chain and table names)
	identifierRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// One DNS label per RFC 1123: letters, digits, inner hyphens, 1..63 chars
	labelRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)

	// Dangerous characters that should never reach an exec argument
	dangerousChars = []string{";", "|", "&", "$", "`", "(", ")", "<", ">", "\\", "\"", "'", "\n", "\r"}
)

// MaxHostnameLength is the longest name DNS can carry, without the trailing dot.
const MaxHostnameLength = 253

// ValidateHostname validates a DNS hostname as written in the entries file.
// A single trailing dot is accepted.
func ValidateHostname(name string) error {
	if name == "" {
		return fmt.Errorf("hostname cannot be empty")
	}

	for _, char := range dangerousChars {
		if strings.Contains(name, char) {
			return fmt.Errorf("hostname contains dangerous character: %q", char)
		}
	}

	trimmed := strings.TrimSuffix(name, ".")
	if len(trimmed) > MaxHostnameLength {
		return fmt.Errorf("hostname too long (max %d characters)", MaxHostnameLength)
	}

	for _, label := range strings.Split(trimmed, ".") {
		if label == "" {
			return fmt.Errorf("invalid hostname %q: empty label", name)
		}
		if !labelRegex.MatchString(label) {
			return fmt.Errorf("invalid hostname %q: bad label %q", name, label)
		}
	}

	return nil
}

// ValidateIdentifier validates a general identifier (chain, table, tag names)
func ValidateIdentifier(id string) error {
	if id == "" {
		return fmt.Errorf("identifier cannot be empty")
	}

	// iptables chain names are capped at 28 bytes; nftables is more lenient.
	if len(id) > 28 {
		return fmt.Errorf("identifier too long (max 28 characters)")
	}

	if !identifierRegex.MatchString(id) {
		return fmt.Errorf("invalid identifier: %s (must be alphanumeric with -_)", id)
	}

	return nil
}

// ValidateAllowlist checks if a value is in an allowed list
func ValidateAllowlist(value string, allowed []string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("value %q not allowed (must be one of: %s)", value, strings.Join(allowed, ", "))
}

// ValidatePortNumber validates a port number
func ValidatePortNumber(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid port number: %d (must be 1-65535)", port)
	}
	return nil
}

// ValidateProtocol validates the L4 protocol of managed rules.
func ValidateProtocol(proto string) error {
	return ValidateAllowlist(strings.ToLower(proto), []string{"tcp", "udp"})
}

// ValidateNameserver validates a resolver address: an IP with an optional port.
func ValidateNameserver(s string) error {
	if s == "" {
		return fmt.Errorf("nameserver cannot be empty")
	}
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ValidatePortNumber(int(ap.Port()))
	}
	if _, err := netip.ParseAddr(s); err == nil {
		return nil
	}
	// host:port where host is not an IP
	if i := strings.LastIndex(s, ":"); i > 0 {
		if p, err := strconv.Atoi(s[i+1:]); err == nil {
			if err := ValidatePortNumber(p); err != nil {
				return err
			}
			return ValidateHostname(s[:i])
		}
	}
	return fmt.Errorf("invalid nameserver: %s", s)
}

// SanitizeString removes dangerous characters from a string before it is
// shown on a terminal.
func SanitizeString(s string) string {
	for _, char := range dangerousChars {
		s = strings.ReplaceAll(s, char, "")
	}
	return s
}
