package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"grimm.is/ddnsfw/internal/config"
	"grimm.is/ddnsfw/internal/firewall"
	"grimm.is/ddnsfw/internal/state"
	"grimm.is/ddnsfw/internal/ui"
	"grimm.is/ddnsfw/internal/validation"
)

// statusRuns is how many journal rows status shows.
const statusRuns = 10

// StatusReport is what status prints.
type StatusReport struct {
	SettingsFile string `json:"settings_file" yaml:"settings_file"`
	Backend      string `json:"backend" yaml:"backend"`

	Cache      *state.Cache `json:"cache" yaml:"cache"`
	CacheError string       `json:"cache_error,omitempty" yaml:"cache_error,omitempty"`

	Runs      []state.Run `json:"runs" yaml:"runs"`
	RunsError string      `json:"runs_error,omitempty" yaml:"runs_error,omitempty"`

	Rules      []firewall.Rule `json:"rules" yaml:"rules"`
	RulesError string          `json:"rules_error,omitempty" yaml:"rules_error,omitempty"`
}

// RunStatus prints the cached state, recent passes and live tagged rules.
// format is text, json or yaml. Sections that cannot be read are reported
// inline rather than failing the command.
func RunStatus(settingsPath, format string) error {
	s, err := config.LoadSettings(settingsPath)
	if err != nil {
		return &ConfigError{Err: err}
	}

	report := collectStatus(context.Background(), settingsPath, s)

	switch format {
	case "", "text":
		fmt.Fprint(stdout, renderStatus(report))
		return nil
	case "json":
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "yaml":
		return writeYAML(stdout, report)
	default:
		return &ConfigError{Err: fmt.Errorf("unknown output format %q (want text, json or yaml)", format)}
	}
}

func collectStatus(ctx context.Context, settingsPath string, s *config.Settings) *StatusReport {
	r := &StatusReport{
		SettingsFile: settingsPath,
		Backend:      s.Backend,
		Runs:         []state.Run{},
		Rules:        []firewall.Rule{},
	}

	cache, err := state.LoadCache(s.CacheFile)
	r.Cache = cache
	if err != nil {
		r.CacheError = err.Error()
	}

	if _, err := os.Stat(s.History.File); s.History.IsEnabled() && err == nil {
		h, err := state.OpenHistory(state.HistoryOptions{Path: s.History.File})
		if err != nil {
			r.RunsError = err.Error()
		} else {
			runs, err := h.LastRuns(ctx, statusRuns)
			if err != nil {
				r.RunsError = err.Error()
			} else {
				r.Runs = runs
			}
			h.Close()
		}
	}

	if !isRoot() {
		r.RulesError = ErrNotRoot.Error()
		return r
	}
	adapter, err := newAdapter(s, nil)
	if err != nil {
		r.RulesError = err.Error()
		return r
	}
	rules, err := adapter.ListTagged(ctx)
	if err != nil {
		r.RulesError = err.Error()
		return r
	}
	r.Rules = rules
	return r
}

func writeYAML(w io.Writer, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// renderStatus formats the report for a terminal. Error text can carry
// backend output, so it is stripped of control and shell characters.
func renderStatus(r *StatusReport) string {
	var b strings.Builder

	b.WriteString(ui.Title("ddnsfw status", r.SettingsFile))
	b.WriteString("\n\n")

	var cache strings.Builder
	if r.CacheError != "" {
		cache.WriteString(ui.Badge("unreadable", ui.SeverityError) + " " + validation.SanitizeString(r.CacheError) + "\n")
	}
	if r.Cache != nil && !r.Cache.Empty() {
		cache.WriteString(ui.KeyValue("Generation", strconv.FormatUint(r.Cache.Generation, 10)) + "\n")
		cache.WriteString(ui.KeyValue("Updated", r.Cache.UpdatedAt.Format(time.RFC3339)) + "\n")
		rows := make([][]string, len(r.Cache.Entries))
		for i, e := range r.Cache.Entries {
			note := ""
			if e.Carried {
				note = "carried forward"
			}
			rows[i] = []string{validation.SanitizeString(e.Hostname), strconv.Itoa(e.Port), e.IP.String(), note}
		}
		cache.WriteString(ui.Table([]string{"HOSTNAME", "PORT", "ADDRESS", ""}, rows, ""))
	} else if r.CacheError == "" {
		cache.WriteString(ui.Help("no completed pass yet") + "\n")
	}
	b.WriteString(ui.Section("Cache", cache.String()))
	b.WriteString("\n")

	var runs strings.Builder
	if r.RunsError != "" {
		runs.WriteString(ui.Badge("unavailable", ui.SeverityWarn) + " " + validation.SanitizeString(r.RunsError) + "\n")
	}
	rows := make([][]string, len(r.Runs))
	for i, run := range r.Runs {
		outcome := run.Outcome
		if !run.Finished() {
			outcome = "running"
		}
		rows[i] = []string{
			run.StartedAt.Format(time.RFC3339),
			outcomeBadge(outcome),
			fmt.Sprintf("+%d -%d", run.Added, run.Removed),
			strconv.Itoa(run.Unresolved),
		}
	}
	runs.WriteString(ui.Table([]string{"STARTED", "OUTCOME", "CHANGES", "UNRESOLVED"}, rows, "no passes recorded"))
	b.WriteString(ui.Section("Recent passes", runs.String()))
	b.WriteString("\n")

	var rules strings.Builder
	if r.RulesError != "" {
		rules.WriteString(ui.Help("live rules unavailable: "+validation.SanitizeString(r.RulesError)) + "\n")
	} else {
		rows := make([][]string, len(r.Rules))
		for i, rule := range r.Rules {
			rows[i] = []string{rule.IP.String(), strconv.Itoa(rule.Port)}
		}
		rules.WriteString(ui.Table([]string{"ADDRESS", "PORT"}, rows, "no tagged rules"))
	}
	b.WriteString(ui.Section("Live rules ("+r.Backend+")", rules.String()))
	b.WriteString("\n")

	return b.String()
}

func outcomeBadge(outcome string) string {
	switch outcome {
	case "ok", "noop", "dry_run":
		return ui.Badge(outcome, ui.SeverityOK)
	case "busy", "partial", "running":
		return ui.Badge(outcome, ui.SeverityWarn)
	default:
		return ui.Badge(outcome, ui.SeverityError)
	}
}
