package cmd

import (
	"errors"
	"path/filepath"

	"grimm.is/ddnsfw/internal/config"
	"grimm.is/ddnsfw/internal/i18n"
	"grimm.is/ddnsfw/internal/logging"
	"grimm.is/ddnsfw/internal/setup"
	"grimm.is/ddnsfw/internal/ui"
)

// RunSetup runs the interactive wizard. The entries file location comes from
// the settings file when one exists.
func RunSetup(settingsPath string, accessible bool) error {
	return runSetup(settingsPath, setup.HuhPrompter{Accessible: accessible})
}

func runSetup(settingsPath string, p setup.Prompter) error {
	entriesPath := filepath.Join(filepath.Dir(settingsPath), filepath.Base(config.DefaultSettings().EntriesFile))
	if s, err := config.LoadSettings(settingsPath); err == nil {
		entriesPath = s.EntriesFile
	}

	logger := logging.New(logging.Config{Level: logging.LevelWarn, Output: stderr})
	w := setup.NewWizard(entriesPath, settingsPath, stdout, logger)

	res, err := w.Run(p)
	if err != nil {
		if errors.Is(err, setup.ErrCancelled) {
			Printer.Fprintln(stdout, ui.Help("Nothing was written."))
			return nil
		}
		return err
	}

	Printer.Fprintf(stdout, i18n.MsgEntriesSaved, len(res.Entries), res.EntriesPath)
	if res.SettingsWritten {
		Printer.Fprintln(stdout, ui.KeyValue("Settings", res.SettingsPath))
	}
	for _, n := range res.Notes {
		Printer.Fprintln(stdout, ui.Help(n))
	}
	return nil
}
