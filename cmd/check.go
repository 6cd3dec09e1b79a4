package cmd

import (
	"strconv"

	"grimm.is/ddnsfw/internal/i18n"
	"grimm.is/ddnsfw/internal/ui"
)

// RunCheck validates the settings file and the entries file it names. It
// needs neither network nor firewall access.
func RunCheck(settingsPath string, verbose bool) error {
	s, entries, err := loadConfig(settingsPath)
	if err != nil {
		return err
	}

	Printer.Fprintf(stdout, i18n.MsgConfigOK, len(entries), s.Backend)
	if !verbose {
		return nil
	}

	Printer.Fprintln(stdout, ui.KeyValue("Entries file", s.EntriesFile))
	Printer.Fprintln(stdout, ui.KeyValue("Cache file", s.CacheFile))
	Printer.Fprintln(stdout, ui.KeyValue("Lock file", s.LockFile))
	Printer.Fprintln(stdout, ui.KeyValue("Chain", s.Chain))
	if s.Backend == "nftables" {
		Printer.Fprintln(stdout, ui.KeyValue("Table", s.Family+" "+s.Table))
	}
	Printer.Fprintln(stdout, ui.KeyValue("Protocol", s.Protocol))
	Printer.Fprintln(stdout, ui.KeyValue("Resolver", s.Resolver.Mode))
	Printer.Fprintln(stdout, ui.KeyValue("Lock timeout", s.LockWait().String()))

	rows := make([][]string, len(entries))
	for i, e := range entries {
		rows[i] = []string{e.Hostname, strconv.Itoa(e.Port)}
	}
	Printer.Fprintln(stdout, ui.Table([]string{"HOSTNAME", "PORT"}, rows, "no entries"))
	return nil
}
