package main

import (
	"flag"
	"os"

	"grimm.is/ddnsfw/cmd"
	"grimm.is/ddnsfw/internal/brand"
	"grimm.is/ddnsfw/internal/i18n"
)

var printer = i18n.NewCLIPrinter()

func main() {
	command := "sync"
	args := os.Args[1:]
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		command, args = args[0], args[1:]
	}

	switch command {
	case "sync":
		// One reconciliation pass; the default when no command is given.
		syncFlags := flag.NewFlagSet("sync", flag.ExitOnError)
		configFile := configFlag(syncFlags)
		verbose := syncFlags.Bool("verbose", false, "Print the full plan")
		syncFlags.BoolVar(verbose, "v", false, "Print the full plan (short)")

		dryRun := syncFlags.Bool("dry-run", false, "Compute the plan without applying it")
		syncFlags.BoolVar(dryRun, "n", false, "Dry run (short)")
		syncFlags.Parse(args)

		os.Exit(cmd.RunSync(cmd.SyncOptions{SettingsPath: *configFile, DryRun: *dryRun, Verbose: *verbose}))

	case "plan":
		planFlags := flag.NewFlagSet("plan", flag.ExitOnError)
		configFile := configFlag(planFlags)
		planFlags.Parse(args)

		os.Exit(cmd.RunSync(cmd.SyncOptions{SettingsPath: *configFile, DryRun: true}))

	case "check":
		checkFlags := flag.NewFlagSet("check", flag.ExitOnError)
		configFile := configFlag(checkFlags)
		verbose := checkFlags.Bool("verbose", false, "Verbose output")
		checkFlags.BoolVar(verbose, "v", false, "Verbose output (short)")
		checkFlags.Parse(args)

		if err := cmd.RunCheck(*configFile, *verbose); err != nil {
			printer.Fprintf(os.Stderr, "Check failed: %v\n", err)
			os.Exit(cmd.ErrorExitCode(err))
		}

	case "status":
		statusFlags := flag.NewFlagSet("status", flag.ExitOnError)
		configFile := configFlag(statusFlags)
		format := statusFlags.String("output", "text", "Output format: text, json or yaml")
		statusFlags.StringVar(format, "o", "text", "Output format (short)")
		statusFlags.Parse(args)

		if err := cmd.RunStatus(*configFile, *format); err != nil {
			printer.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(cmd.ErrorExitCode(err))
		}

	case "setup":
		// First-run setup wizard
		setupFlags := flag.NewFlagSet("setup", flag.ExitOnError)
		configFile := configFlag(setupFlags)
		accessible := setupFlags.Bool("accessible", os.Getenv("ACCESSIBLE") != "", "Plain line prompts instead of forms")
		setupFlags.Parse(args)

		if err := cmd.RunSetup(*configFile, *accessible); err != nil {
			printer.Fprintf(os.Stderr, "Setup failed: %v\n", err)
			os.Exit(cmd.ErrorExitCode(err))
		}

	case "version":
		cmd.RunVersion()

	case "help":
		printUsage()

	default:
		printer.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(cmd.ExitConfig)
	}
}

func configFlag(fs *flag.FlagSet) *string {
	configFile := fs.String("config", brand.SettingsPath(), "Settings file")
	fs.StringVar(configFile, "c", brand.SettingsPath(), "Settings file (short)")
	return configFile
}

func printUsage() {
	printer.Printf(`%s - %s

Usage:
  %s [command] [options]

Commands:
  sync      Reconcile firewall rules with the configured hostnames (default)
            Options: --dry-run (-n), --verbose (-v)
  plan      Show what sync would change, without changing anything
  check     Validate the settings and entries files
            Options: --verbose (-v)
  status    Show cached state, recent passes and live rules
            Options: --output (-o) text|json|yaml
  setup     Interactive first-run wizard
            Options: --accessible
  version   Print version information

Every command accepts --config (-c) <file> (default %s).

Exit codes:
  0 success   1 error   2 configuration   3 busy   4 partial, access preserved
`, brand.Name, brand.Description, brand.BinaryName, brand.SettingsPath())
}
