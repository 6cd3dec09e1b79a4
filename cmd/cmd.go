// Package cmd implements the ddnsfw sub-commands dispatched from main.
package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"

	"grimm.is/ddnsfw/internal/brand"
	"grimm.is/ddnsfw/internal/config"
	"grimm.is/ddnsfw/internal/firewall"
	"grimm.is/ddnsfw/internal/i18n"
	"grimm.is/ddnsfw/internal/logging"
	"grimm.is/ddnsfw/internal/reconcile"
	"grimm.is/ddnsfw/internal/resolver"
)

// Printer is the global message printer for the CLI
var Printer = i18n.NewCLIPrinter()

// Process exit codes. They are stable so wrappers and timers can script on
// them.
const (
	ExitOK      = 0 // ok, noop, dry run
	ExitError   = 1 // firewall unusable, listing failed, not root
	ExitConfig  = 2 // settings or entries rejected
	ExitBusy    = 3 // lock timeout; another pass is running
	ExitPartial = 4 // stopped or degraded with access preserved
)

// ExitCode maps a pass outcome to the process exit code.
func ExitCode(o reconcile.Outcome) int {
	switch o {
	case reconcile.OutcomeOK, reconcile.OutcomeNoop, reconcile.OutcomeDryRun:
		return ExitOK
	case reconcile.OutcomeBusy:
		return ExitBusy
	case reconcile.OutcomePartial:
		return ExitPartial
	case reconcile.OutcomeConfigError:
		return ExitConfig
	default:
		return ExitError
	}
}

// Swapped out by tests.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr

	isRoot      = func() bool { return unix.Geteuid() == 0 }
	newAdapter  = firewall.New
	newResolver = resolver.New
)

// ConfigError marks failures that map to ExitConfig.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return e.Err.Error() }

func (e *ConfigError) Unwrap() error { return e.Err }

// ErrNotRoot is returned by commands that touch the firewall.
var ErrNotRoot = errors.New("must run as root")

// ErrorExitCode maps an error returned by a Run function to an exit code.
func ErrorExitCode(err error) int {
	var ce *ConfigError
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &ce):
		return ExitConfig
	default:
		return ExitError
	}
}

// loadConfig reads the settings file and the entries file it points at.
func loadConfig(settingsPath string) (*config.Settings, []config.Entry, error) {
	s, err := config.LoadSettings(settingsPath)
	if err != nil {
		return nil, nil, &ConfigError{Err: err}
	}
	entries, err := config.LoadEntriesFile(s.EntriesFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = fmt.Errorf("%w (run '%s setup' to create it)", err, brand.BinaryName)
		}
		return s, nil, &ConfigError{Err: err}
	}
	if len(entries) == 0 {
		return s, nil, &ConfigError{Err: fmt.Errorf("%s: %w", s.EntriesFile, config.ErrNoEntries)}
	}
	return s, entries, nil
}

// newLogger builds the process logger from settings. The returned func
// closes the syslog connection, if any.
func newLogger(s *config.Settings) (*logging.Logger, func(), error) {
	level, err := logging.ParseLevel(s.Log.Level)
	if err != nil {
		return nil, nil, &ConfigError{Err: fmt.Errorf("log.level: %w", err)}
	}

	out := stderr
	closer := func() {}
	if s.Syslog != nil && s.Syslog.Enabled {
		cfg := logging.DefaultSyslogConfig()
		cfg.Enabled = true
		cfg.Host = s.Syslog.Host
		if s.Syslog.Port != 0 {
			cfg.Port = s.Syslog.Port
		}
		if s.Syslog.Protocol != "" {
			cfg.Protocol = s.Syslog.Protocol
		}
		if s.Syslog.Tag != "" {
			cfg.Tag = s.Syslog.Tag
		}
		w, err := logging.NewSyslogWriter(cfg)
		if err != nil {
			// Local logging still works; report and carry on.
			Printer.Fprintf(stderr, "Warning: syslog disabled: %v\n", err)
		} else {
			out = logging.MultiWriter(stderr, w)
			closer = func() { _ = w.Close() }
		}
	}

	logger := logging.New(logging.Config{Level: level, Output: out, JSON: s.Log.JSON})
	logging.SetDefault(logger)
	return logger, closer, nil
}
