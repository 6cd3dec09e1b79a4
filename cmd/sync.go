package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"grimm.is/ddnsfw/internal/firewall"
	"grimm.is/ddnsfw/internal/i18n"
	"grimm.is/ddnsfw/internal/metrics"
	"grimm.is/ddnsfw/internal/reconcile"
	"grimm.is/ddnsfw/internal/state"
	"grimm.is/ddnsfw/internal/ui"
)

// SyncOptions controls a sync or plan invocation.
type SyncOptions struct {
	SettingsPath string
	DryRun       bool
	Verbose      bool
}

// RunSync performs one reconciliation pass and returns the process exit
// code. With DryRun it prints the plan and touches nothing.
func RunSync(opts SyncOptions) int {
	s, entries, err := loadConfig(opts.SettingsPath)
	if err != nil {
		Printer.Fprintf(stderr, "Configuration error: %v\n", err)
		return ExitConfig
	}

	logger, closeLog, err := newLogger(s)
	if err != nil {
		Printer.Fprintf(stderr, "Configuration error: %v\n", err)
		return ExitConfig
	}
	defer closeLog()

	if !isRoot() {
		Printer.Fprintf(stderr, i18n.MsgNotRoot)
		return ExitError
	}

	adapter, err := newAdapter(s, logger.WithComponent("firewall"))
	if err != nil {
		logger.Error("firewall backend unusable", "backend", s.Backend, "error", err)
		Printer.Fprintf(stderr, "Firewall error: %v\n", err)
		return ExitError
	}
	res, err := newResolver(s.Resolver)
	if err != nil {
		Printer.Fprintf(stderr, "Configuration error: %v\n", err)
		return ExitConfig
	}

	var history *state.History
	if s.History.IsEnabled() {
		history, err = state.OpenHistory(state.HistoryOptions{Path: s.History.File})
		if err != nil {
			logger.Warn("run journal unavailable", "path", s.History.File, "error", err)
		} else {
			defer history.Close()
		}
	}

	reg := metrics.New()
	rec, err := reconcile.New(reconcile.Options{
		Adapter:        adapter,
		Resolver:       res,
		CachePath:      s.CacheFile,
		LockPath:       s.LockFile,
		LockTimeout:    s.LockWait(),
		ResolveTimeout: s.Resolver.TimeoutDuration(),
		MaxRules:       s.MaxRules,
		DryRun:         opts.DryRun,
		History:        history,
		HistoryKeep:    s.History.Keep,
		Metrics:        reg,
		Logger:         logger,
	})
	if err != nil {
		Printer.Fprintf(stderr, "Error: %v\n", err)
		return ExitError
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result := rec.Run(ctx, entries)

	if s.Metrics != nil && s.Metrics.Textfile != "" {
		if err := reg.WriteTextfile(s.Metrics.Textfile); err != nil {
			logger.Warn("failed to write metrics textfile", "path", s.Metrics.Textfile, "error", err)
		}
	}

	printResult(result, opts)
	return ExitCode(result.Outcome)
}

func printResult(r *reconcile.Result, opts SyncOptions) {
	if r.Outcome == reconcile.OutcomeBusy {
		Printer.Fprintf(stdout, i18n.MsgBusy)
		return
	}

	if opts.DryRun && r.Plan != nil {
		fmt.Fprintln(stdout, renderPlan(r))
		if diff, err := r.Plan.Diff(); err == nil {
			fmt.Fprint(stdout, diff)
		}
		Printer.Fprintf(stdout, i18n.MsgDryRun)
	} else if r.Plan != nil {
		if opts.Verbose {
			fmt.Fprint(stdout, r.Plan.String())
		}
		Printer.Fprintf(stdout, i18n.MsgSummary, len(r.Entries), len(r.Unresolved()), len(r.Added), len(r.Removed))
		if r.Outcome == reconcile.OutcomeNoop {
			Printer.Fprintf(stdout, i18n.MsgNoChanges)
		}
	}

	if r.Plan != nil && len(r.Plan.Preserved) > 0 {
		Printer.Fprintf(stdout, i18n.MsgPreserved, len(r.Plan.Preserved))
	}
	for _, d := range r.Diagnostics {
		Printer.Fprintf(stderr, "Warning: %s\n", d)
	}
	if r.Err != nil {
		Printer.Fprintf(stderr, "%s: %v\n", strings.ToUpper(string(r.Outcome)), r.Err)
	}
}

// renderPlan lists every entry with its resolution and the planned changes.
func renderPlan(r *reconcile.Result) string {
	rows := make([][]string, 0, len(r.Entries))
	for _, e := range r.Entries {
		addr := "-"
		status := ui.Badge("resolved", ui.SeverityOK)
		if e.Resolved() {
			addr = e.IP.String()
		} else {
			status = ui.Badge(string(e.Reason), ui.SeverityWarn)
			if e.LastKnown.IsValid() {
				addr = e.LastKnown.String() + " (last known)"
			}
		}
		rows = append(rows, []string{e.Entry.String(), addr, status})
	}

	var b strings.Builder
	b.WriteString(ui.Table([]string{"ENTRY", "ADDRESS", "STATUS"}, rows, "no entries"))
	b.WriteString(ruleLines("add", r.Plan.ToAdd))
	b.WriteString(ruleLines("remove", r.Plan.ToRemove))
	b.WriteString(ruleLines("keep (unresolved)", r.Plan.Preserved))
	return ui.Section("Plan", b.String())
}

func ruleLines(label string, rules []firewall.Rule) string {
	if len(rules) == 0 {
		return ""
	}
	names := make([]string, len(rules))
	for i, r := range rules {
		names[i] = r.String()
	}
	return ui.KeyValue(label, strings.Join(names, ", ")) + "\n"
}
