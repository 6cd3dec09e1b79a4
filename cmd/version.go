package cmd

import (
	"runtime"

	"grimm.is/ddnsfw/internal/brand"
)

// RunVersion prints build information.
func RunVersion() {
	Printer.Fprintf(stdout, "%s %s (commit %s, built %s, %s)\n",
		brand.Name, brand.Version, brand.GitCommit, brand.BuildTime, runtime.Version())
}
