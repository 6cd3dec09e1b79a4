package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"grimm.is/ddnsfw/internal/brand"
)

// Defaults applied when the settings file leaves a value unset.
const (
	DefaultBackend         = "iptables"
	DefaultChain           = "INPUT"
	DefaultNFTChain        = "input"
	DefaultTable           = "ddnsfw"
	DefaultFamily          = "inet"
	DefaultProtocol        = "tcp"
	DefaultLockTimeout     = 30 * time.Second
	DefaultResolverTimeout = 10 * time.Second
	MaxResolverTimeout     = 30 * time.Second
	DefaultMaxRules        = 100
	DefaultHistoryKeep     = 500
)

// Settings is the optional HCL settings file. Every attribute has a default,
// so an absent file is equivalent to an empty one.
type Settings struct {
	EntriesFile string `hcl:"entries_file,optional" json:"entries_file"`
	CacheFile   string `hcl:"cache_file,optional" json:"cache_file"`
	LockFile    string `hcl:"lock_file,optional" json:"lock_file"`

	Backend     string `hcl:"backend,optional" json:"backend"` // iptables or nftables
	Chain       string `hcl:"chain,optional" json:"chain"`
	Table       string `hcl:"table,optional" json:"table,omitempty"`   // nftables only
	Family      string `hcl:"family,optional" json:"family,omitempty"` // nftables only: inet or ip
	Protocol    string `hcl:"protocol,optional" json:"protocol"`
	LockTimeout string `hcl:"lock_timeout,optional" json:"lock_timeout"`
	MaxRules    int    `hcl:"max_rules,optional" json:"max_rules"`

	Resolver *ResolverSettings `hcl:"resolver,block" json:"resolver"`
	Log      *LogSettings      `hcl:"log,block" json:"log"`
	Syslog   *SyslogSettings   `hcl:"syslog,block" json:"syslog,omitempty"`
	History  *HistorySettings  `hcl:"history,block" json:"history"`
	Metrics  *MetricsSettings  `hcl:"metrics,block" json:"metrics,omitempty"`

	lockTimeout time.Duration
}

// ResolverSettings selects how hostnames are resolved.
type ResolverSettings struct {
	Mode    string   `hcl:"mode,optional" json:"mode"`       // dns or system
	Servers []string `hcl:"servers,optional" json:"servers"` // empty means /etc/resolv.conf
	Timeout string   `hcl:"timeout,optional" json:"timeout"`

	timeout time.Duration
}

// LogSettings configures the process logger.
type LogSettings struct {
	Level string `hcl:"level,optional" json:"level"`
	JSON  bool   `hcl:"json,optional" json:"json"`
}

// SyslogSettings configures remote syslog forwarding.
type SyslogSettings struct {
	Enabled  bool   `hcl:"enabled,optional" json:"enabled"`
	Host     string `hcl:"host,optional" json:"host"`
	Port     int    `hcl:"port,optional" json:"port,omitempty"`
	Protocol string `hcl:"protocol,optional" json:"protocol,omitempty"`
	Tag      string `hcl:"tag,optional" json:"tag,omitempty"`
}

// HistorySettings configures the SQLite run journal.
type HistorySettings struct {
	Enabled *bool  `hcl:"enabled,optional" json:"enabled"`
	File    string `hcl:"file,optional" json:"file"`
	Keep    int    `hcl:"keep,optional" json:"keep"`
}

// IsEnabled reports whether the journal is on. It defaults to on.
func (h *HistorySettings) IsEnabled() bool {
	return h == nil || h.Enabled == nil || *h.Enabled
}

// MetricsSettings configures the node_exporter textfile output.
type MetricsSettings struct {
	Textfile string `hcl:"textfile,optional" json:"textfile"`
}

// LockWait returns the parsed lock_timeout.
func (s *Settings) LockWait() time.Duration {
	if s.LockTimeout == "" {
		return DefaultLockTimeout
	}
	return s.lockTimeout
}

// TimeoutDuration returns the parsed per-host resolution timeout.
func (r *ResolverSettings) TimeoutDuration() time.Duration {
	if r == nil || r.timeout == 0 {
		return DefaultResolverTimeout
	}
	return r.timeout
}

// DefaultSettings returns the settings used when no file exists.
func DefaultSettings() *Settings {
	s := &Settings{}
	if err := s.normalize(brand.GetConfigDir()); err != nil {
		// Defaults are constants; a failure here is a programming error.
		panic(err)
	}
	return s
}

// LoadSettings reads the HCL settings file at path. A missing file yields
// DefaultSettings.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultSettings(), nil
		}
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}
	return ParseSettings(data, path)
}

// ParseSettings decodes HCL settings. Expressions may reference the process
// environment as env.NAME. Relative paths are resolved against the directory
// holding filename.
func ParseSettings(data []byte, filename string) (*Settings, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse settings: %s", diags.Error())
	}

	var s Settings
	if diags := gohcl.DecodeBody(file.Body, envEvalContext(), &s); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode settings: %s", diags.Error())
	}

	baseDir := filepath.Dir(filename)
	if baseDir == "" || baseDir == "." {
		baseDir = brand.GetConfigDir()
	}
	if err := s.normalize(baseDir); err != nil {
		return nil, err
	}
	if errs := s.Validate(); errs.HasErrors() {
		return nil, errs
	}
	return &s, nil
}

// envEvalContext exposes the environment to HCL expressions as env.NAME.
func envEvalContext() *hcl.EvalContext {
	vars := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			continue
		}
		vars[name] = cty.StringVal(value)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": cty.ObjectVal(vars),
		},
	}
}

// normalize fills defaults and parses durations.
func (s *Settings) normalize(baseDir string) error {
	s.EntriesFile = resolvePath(s.EntriesFile, baseDir, brand.EntriesPath())
	s.CacheFile = resolvePath(s.CacheFile, baseDir, brand.CachePath())
	s.LockFile = resolvePath(s.LockFile, baseDir, brand.LockPath())

	if s.Backend == "" {
		s.Backend = DefaultBackend
	}
	s.Backend = strings.ToLower(s.Backend)
	if s.Chain == "" {
		s.Chain = DefaultChain
		if s.Backend == "nftables" {
			s.Chain = DefaultNFTChain
		}
	}
	if s.Table == "" {
		s.Table = DefaultTable
	}
	if s.Family == "" {
		s.Family = DefaultFamily
	}
	s.Family = strings.ToLower(s.Family)
	if s.Protocol == "" {
		s.Protocol = DefaultProtocol
	}
	s.Protocol = strings.ToLower(s.Protocol)
	if s.MaxRules == 0 {
		s.MaxRules = DefaultMaxRules
	}

	if s.LockTimeout == "" {
		s.LockTimeout = DefaultLockTimeout.String()
	}
	d, err := time.ParseDuration(s.LockTimeout)
	if err != nil {
		return fmt.Errorf("lock_timeout: %w", err)
	}
	s.lockTimeout = d

	if s.Resolver == nil {
		s.Resolver = &ResolverSettings{}
	}
	if s.Resolver.Mode == "" {
		s.Resolver.Mode = "dns"
	}
	if s.Resolver.Timeout == "" {
		s.Resolver.Timeout = DefaultResolverTimeout.String()
	}
	d, err = time.ParseDuration(s.Resolver.Timeout)
	if err != nil {
		return fmt.Errorf("resolver.timeout: %w", err)
	}
	s.Resolver.timeout = d

	if s.Log == nil {
		s.Log = &LogSettings{}
	}
	if s.Log.Level == "" {
		s.Log.Level = "info"
	}

	if s.History == nil {
		s.History = &HistorySettings{}
	}
	s.History.File = resolvePath(s.History.File, baseDir, brand.HistoryPath())
	if s.History.Keep == 0 {
		s.History.Keep = DefaultHistoryKeep
	}

	if s.Metrics != nil && s.Metrics.Textfile != "" {
		s.Metrics.Textfile = resolvePath(s.Metrics.Textfile, baseDir, "")
	}
	return nil
}

func resolvePath(p, baseDir, def string) string {
	if p == "" {
		return def
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(baseDir, p)
}
