package setup

import (
	"fmt"
	"strings"

	"grimm.is/ddnsfw/internal/brand"
	"grimm.is/ddnsfw/internal/config"
	"grimm.is/ddnsfw/internal/ui"
)

// Banner is printed when the wizard starts.
func Banner() string {
	return ui.Title(brand.Name+" setup", brand.Description)
}

// Added confirms one collected entry.
func Added(e config.Entry) string {
	return ui.Help("Added " + e.String())
}

// Summary lists what will be written.
func Summary(entries []config.Entry, backend string) string {
	rows := make([][]string, len(entries))
	for i, e := range entries {
		rows[i] = []string{e.Hostname, fmt.Sprint(e.Port)}
	}
	var b strings.Builder
	b.WriteString(ui.Table([]string{"HOSTNAME", "PORT"}, rows, "no entries"))
	b.WriteString(ui.KeyValue("Backend", backend))
	return ui.Section("Entries to configure", b.String())
}
