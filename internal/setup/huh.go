package setup

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"

	"grimm.is/ddnsfw/internal/config"
	"grimm.is/ddnsfw/internal/validation"
)

// HuhPrompter asks questions with huh forms on the terminal.
type HuhPrompter struct {
	// Accessible switches huh to plain line prompts, for screen readers and
	// dumb terminals.
	Accessible bool
}

func (h HuhPrompter) run(fields ...huh.Field) error {
	err := huh.NewForm(huh.NewGroup(fields...)).
		WithTheme(huh.ThemeBase16()).
		WithAccessible(h.Accessible).
		Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return ErrCancelled
	}
	return err
}

// Entry implements Prompter.
func (h HuhPrompter) Entry(n int) (config.Entry, error) {
	port := "22"
	host := ""

	err := h.run(
		huh.NewInput().
			Title(fmt.Sprintf("Entry %d: port", n)).
			Description("Port to open, e.g. 22 for SSH").
			Value(&port).
			Validate(validatePort),
		huh.NewInput().
			Title(fmt.Sprintf("Entry %d: DDNS hostname", n)).
			Description("e.g. home.dyndns.org").
			Value(&host).
			Validate(validateHost),
	)
	if err != nil {
		return config.Entry{}, err
	}
	return config.ParseEntry(strings.TrimSpace(host) + ":" + strings.TrimSpace(port))
}

// Confirm implements Prompter.
func (h HuhPrompter) Confirm(title string, def bool) (bool, error) {
	v := def
	err := h.run(huh.NewConfirm().Title(title).Value(&v))
	return v, err
}

// Backend implements Prompter.
func (h HuhPrompter) Backend(current string) (string, error) {
	v := current
	if v == "" {
		v = config.DefaultBackend
	}
	err := h.run(huh.NewSelect[string]().
		Title("Firewall backend").
		Options(
			huh.NewOption("iptables (INPUT chain)", "iptables"),
			huh.NewOption("nftables (own ddnsfw table)", "nftables"),
		).
		Value(&v))
	return v, err
}

func validatePort(s string) error {
	p, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return errors.New("port must be a number")
	}
	return validation.ValidatePortNumber(p)
}

func validateHost(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return errors.New("hostname is required")
	}
	return validation.ValidateHostname(s)
}
