// Package state persists what ddnsfw knows between passes.
//
// Two stores live here:
//   - Cache: a small JSON snapshot of the last fully reconciled desired state,
//     replaced atomically at the end of every successful pass.
//   - History: an SQLite journal of passes, used for crash diagnostics and
//     the status command.
//
// Neither store is the source of truth for what gets applied. The live
// firewall listing always is.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"sort"
	"time"

	"grimm.is/ddnsfw/internal/validation"
)

// CacheVersion is the on-disk format version of the cache file.
const CacheVersion = 1

// ErrCorrupt is returned by LoadCache when the cache file exists but cannot
// be decoded or fails validation.
var ErrCorrupt = errors.New("cache file is corrupt")

// CacheEntry is the last-known-good address of one configured entry.
type CacheEntry struct {
	Hostname string     `json:"hostname" yaml:"hostname"`
	Port     int        `json:"port" yaml:"port"`
	IP       netip.Addr `json:"ip" yaml:"ip"`
	// Carried is set when the entry failed to resolve in the pass that wrote
	// the cache and IP was taken from the previous generation.
	Carried bool `json:"carried,omitempty" yaml:"carried,omitempty"`
}

// Key returns the hostname:port identity of the entry.
func (e CacheEntry) Key() string {
	return fmt.Sprintf("%s:%d", e.Hostname, e.Port)
}

// Cache is the persisted snapshot.
type Cache struct {
	Version    int          `json:"version" yaml:"version"`
	Generation uint64       `json:"generation" yaml:"generation"`
	RunID      string       `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	UpdatedAt  time.Time    `json:"updated_at" yaml:"updated_at"`
	Entries    []CacheEntry `json:"entries" yaml:"entries"`
}

// NewCache returns an empty generation-zero cache.
func NewCache() *Cache {
	return &Cache{Version: CacheVersion, Entries: []CacheEntry{}}
}

// Empty reports whether the cache has never been written.
func (c *Cache) Empty() bool {
	return c.Generation == 0 && len(c.Entries) == 0
}

// Lookup returns the cached address for hostname:port.
func (c *Cache) Lookup(hostname string, port int) (netip.Addr, bool) {
	for _, e := range c.Entries {
		if e.Hostname == hostname && e.Port == port {
			return e.IP, true
		}
	}
	return netip.Addr{}, false
}

// Sort orders entries by hostname, then port.
func (c *Cache) Sort() {
	sort.Slice(c.Entries, func(i, j int) bool {
		if c.Entries[i].Hostname != c.Entries[j].Hostname {
			return c.Entries[i].Hostname < c.Entries[j].Hostname
		}
		return c.Entries[i].Port < c.Entries[j].Port
	})
}

func (c *Cache) validate() error {
	if c.Version != CacheVersion {
		return fmt.Errorf("unsupported version %d", c.Version)
	}
	seen := make(map[string]bool, len(c.Entries))
	for i, e := range c.Entries {
		if err := validation.ValidateHostname(e.Hostname); err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
		if err := validation.ValidatePortNumber(e.Port); err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
		if !e.IP.Is4() {
			return fmt.Errorf("entry %d: ip %q is not IPv4", i, e.IP)
		}
		if seen[e.Key()] {
			return fmt.Errorf("entry %d: duplicate %s", i, e.Key())
		}
		seen[e.Key()] = true
	}
	return nil
}

// LoadCache reads the cache at path. A missing file yields an empty cache and
// no error. An unreadable or invalid file yields an error wrapping ErrCorrupt
// together with an empty cache, so callers can warn and continue.
func LoadCache(path string) (*Cache, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewCache(), nil
		}
		return NewCache(), fmt.Errorf("read cache %s: %w", path, err)
	}

	var c Cache
	if err := json.Unmarshal(data, &c); err != nil {
		return NewCache(), fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	if err := c.validate(); err != nil {
		return NewCache(), fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	if c.Entries == nil {
		c.Entries = []CacheEntry{}
	}
	return &c, nil
}

// SaveCache sorts the entries and atomically replaces the file at path.
func SaveCache(path string, c *Cache) error {
	if c.Version == 0 {
		c.Version = CacheVersion
	}
	if c.Entries == nil {
		c.Entries = []CacheEntry{}
	}
	c.Sort()
	if err := c.validate(); err != nil {
		return fmt.Errorf("refusing to write invalid cache: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	return WriteFileAtomic(path, data, 0600)
}
