// Package setup provides the interactive first-run wizard.
//
// The wizard collects hostname:port entries and the firewall backend, then
// writes the entries file (mode 0600) and, when anything differs from the
// defaults, the settings file. Installing service units is left to packaging.
package setup

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"grimm.is/ddnsfw/internal/config"
	"grimm.is/ddnsfw/internal/logging"
	"grimm.is/ddnsfw/internal/state"
)

// ErrCancelled is returned when the operator declines to save.
var ErrCancelled = errors.New("setup cancelled")

// Prompter asks the operator questions. HuhPrompter is the terminal
// implementation.
type Prompter interface {
	// Entry asks for one hostname:port pair. n is the 1-based entry number.
	Entry(n int) (config.Entry, error)
	// Confirm asks a yes/no question.
	Confirm(title string, def bool) (bool, error)
	// Backend asks which firewall backend to use.
	Backend(current string) (string, error)
}

// Result is what the wizard collected.
type Result struct {
	Entries      []config.Entry
	Backend      string
	EntriesPath  string
	SettingsPath string
	// SettingsWritten is false when every setting kept its default or a
	// settings file already existed.
	SettingsWritten bool
	Notes           []string
}

// Wizard runs the setup flow.
type Wizard struct {
	entriesPath  string
	settingsPath string
	out          io.Writer
	logger       *logging.Logger
}

// NewWizard creates a wizard writing to the given paths.
func NewWizard(entriesPath, settingsPath string, out io.Writer, logger *logging.Logger) *Wizard {
	if logger == nil {
		logger = logging.Default()
	}
	return &Wizard{
		entriesPath:  entriesPath,
		settingsPath: settingsPath,
		out:          out,
		logger:       logger.WithComponent("setup"),
	}
}

// NeedsSetup returns true if no entries file exists
func (w *Wizard) NeedsSetup() bool {
	_, err := os.Stat(w.entriesPath)
	return os.IsNotExist(err)
}

// Run asks for entries and the backend, shows a summary and saves on
// confirmation.
func (w *Wizard) Run(p Prompter) (*Result, error) {
	fmt.Fprintln(w.out, Banner())

	var entries []config.Entry
	if existing, err := config.LoadEntriesFile(w.entriesPath); err == nil && len(existing) > 0 {
		keep, err := p.Confirm(fmt.Sprintf("Keep the %d existing entries from %s?", len(existing), w.entriesPath), true)
		if err != nil {
			return nil, err
		}
		if keep {
			entries = existing
		}
	}

	for len(entries) < config.MaxEntries {
		if len(entries) > 0 {
			more, err := p.Confirm("Add another entry?", false)
			if err != nil {
				return nil, err
			}
			if !more {
				break
			}
		}
		e, err := p.Entry(len(entries) + 1)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
		fmt.Fprintln(w.out, Added(e))
	}
	if len(entries) == config.MaxEntries {
		fmt.Fprintf(w.out, "Maximum of %d entries reached.\n", config.MaxEntries)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: at least one entry is required", config.ErrNoEntries)
	}

	current := config.DefaultBackend
	if s, err := config.LoadSettings(w.settingsPath); err == nil {
		current = s.Backend
	}
	backend, err := p.Backend(current)
	if err != nil {
		return nil, err
	}

	fmt.Fprintln(w.out, Summary(entries, backend))
	ok, err := p.Confirm("Write configuration?", true)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrCancelled
	}

	return w.Save(entries, backend)
}

// Save validates and writes entries. A settings file is created only when
// none exists and backend is not the default. An existing settings file is
// never rewritten.
func (w *Wizard) Save(entries []config.Entry, backend string) (*Result, error) {
	if len(entries) > config.MaxEntries {
		return nil, fmt.Errorf("%w: %d entries, limit is %d", config.ErrTooManyEntries, len(entries), config.MaxEntries)
	}
	for _, e := range entries {
		if _, err := config.ParseEntry(e.String()); err != nil {
			return nil, err
		}
	}

	data := config.FormatEntries(entries)
	if _, err := config.ParseEntries(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("generated entries do not parse: %w", err)
	}
	if err := state.WriteFileAtomic(w.entriesPath, data, 0600); err != nil {
		return nil, fmt.Errorf("failed to write entries: %w", err)
	}
	w.logger.Info("entries written", "path", w.entriesPath, "count", len(entries))

	res := &Result{
		Entries:      entries,
		Backend:      backend,
		EntriesPath:  w.entriesPath,
		SettingsPath: w.settingsPath,
	}

	if _, err := os.Stat(w.settingsPath); err == nil {
		if s, err := config.LoadSettings(w.settingsPath); err != nil || s.Backend != backend {
			res.Notes = append(res.Notes, fmt.Sprintf("%s exists and was left unchanged; set backend = %q there", w.settingsPath, backend))
		}
		return res, nil
	}
	if backend == "" || backend == config.DefaultBackend {
		return res, nil
	}

	s := &config.Settings{Backend: backend}
	if err := state.WriteFileAtomic(w.settingsPath, config.RenderSettings(s), 0600); err != nil {
		return nil, fmt.Errorf("failed to write settings: %w", err)
	}
	if _, err := config.LoadSettings(w.settingsPath); err != nil {
		return nil, fmt.Errorf("written settings do not load: %w", err)
	}
	res.SettingsWritten = true
	w.logger.Info("settings written", "path", w.settingsPath, "backend", backend)

	return res, nil
}
