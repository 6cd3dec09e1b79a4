// Package brand provides centralized naming and default paths for ddnsfw.
//
// The brand identity is loaded from brand.json at compile time via go:embed
// so packaging scripts can read the same file.
package brand

import (
	_ "embed"
	"encoding/json"
	"os"
	"path/filepath"
)

//go:embed brand.json
var brandJSON []byte

// Brand holds all branding information
type Brand struct {
	Name             string `json:"name"`
	LowerName        string `json:"lowerName"`
	Vendor           string `json:"vendor"`
	Website          string `json:"website"`
	Repository       string `json:"repository"`
	Description      string `json:"description"`
	Tagline          string `json:"tagline"`
	ConfigEnvPrefix  string `json:"configEnvPrefix"`
	DefaultConfigDir string `json:"defaultConfigDir"`
	DefaultStateDir  string `json:"defaultStateDir"`
	DefaultRunDir    string `json:"defaultRunDir"`
	BinaryName       string `json:"binaryName"`
	ServiceName      string `json:"serviceName"`
	EntriesFileName  string `json:"entriesFileName"`
	SettingsFileName string `json:"settingsFileName"`
	CacheFileName    string `json:"cacheFileName"`
	LockFileName     string `json:"lockFileName"`
	HistoryFileName  string `json:"historyFileName"`
	RuleTag          string `json:"ruleTag"`
	Copyright        string `json:"copyright"`
	License          string `json:"license"`
}

var b Brand

func init() {
	if err := json.Unmarshal(brandJSON, &b); err != nil {
		panic("failed to parse brand.json: " + err.Error())
	}

	Name = b.Name
	LowerName = b.LowerName
	Vendor = b.Vendor
	Website = b.Website
	Repository = b.Repository
	Description = b.Description
	Tagline = b.Tagline
	ConfigEnvPrefix = b.ConfigEnvPrefix
	DefaultConfigDir = b.DefaultConfigDir
	DefaultStateDir = b.DefaultStateDir
	DefaultRunDir = b.DefaultRunDir
	BinaryName = b.BinaryName
	ServiceName = b.ServiceName
	EntriesFileName = b.EntriesFileName
	SettingsFileName = b.SettingsFileName
	CacheFileName = b.CacheFileName
	LockFileName = b.LockFileName
	HistoryFileName = b.HistoryFileName
	RuleTag = b.RuleTag
	Copyright = b.Copyright
	License = b.License
}

var (
	Name             string
	LowerName        string
	Vendor           string
	Website          string
	Repository       string
	Description      string
	Tagline          string
	ConfigEnvPrefix  string
	DefaultConfigDir string
	DefaultStateDir  string
	DefaultRunDir    string
	BinaryName       string
	ServiceName      string
	EntriesFileName  string
	SettingsFileName string
	CacheFileName    string
	LockFileName     string
	HistoryFileName  string
	RuleTag          string
	Copyright        string
	License          string

	// Version is set at build time via -ldflags
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Get returns the full Brand struct
func Get() Brand {
	return b
}

// GetStateDir returns the state directory, checking env vars first.
// Priority: DDNSFW_STATE_DIR > DDNSFW_PREFIX/state > DefaultStateDir
func GetStateDir() string {
	if dir := os.Getenv(ConfigEnvPrefix + "_STATE_DIR"); dir != "" {
		return dir
	}
	if prefix := os.Getenv(ConfigEnvPrefix + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, "state")
	}
	return DefaultStateDir
}

// GetConfigDir returns the config directory, checking env vars first.
// Priority: DDNSFW_CONFIG_DIR > DDNSFW_PREFIX/config > DefaultConfigDir
func GetConfigDir() string {
	if dir := os.Getenv(ConfigEnvPrefix + "_CONFIG_DIR"); dir != "" {
		return dir
	}
	if prefix := os.Getenv(ConfigEnvPrefix + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, "config")
	}
	return DefaultConfigDir
}

// GetRunDir returns the directory holding the lock file.
// Priority: DDNSFW_RUN_DIR > DDNSFW_PREFIX/run > DefaultRunDir
func GetRunDir() string {
	if dir := os.Getenv(ConfigEnvPrefix + "_RUN_DIR"); dir != "" {
		return dir
	}
	if prefix := os.Getenv(ConfigEnvPrefix + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, "run")
	}
	return DefaultRunDir
}

// SettingsPath returns the default HCL settings file path.
func SettingsPath() string {
	return filepath.Join(GetConfigDir(), SettingsFileName)
}

// EntriesPath returns the default hostname:port entries file path.
func EntriesPath() string {
	return filepath.Join(GetConfigDir(), EntriesFileName)
}

// CachePath returns the default state cache path.
func CachePath() string {
	return filepath.Join(GetStateDir(), CacheFileName)
}

// LockPath returns the default lock file path.
func LockPath() string {
	return filepath.Join(GetRunDir(), LockFileName)
}

// HistoryPath returns the default run journal path.
func HistoryPath() string {
	return filepath.Join(GetStateDir(), HistoryFileName)
}
