// Package ui renders styled terminal output for the CLI and setup wizard.
//
// Styling degrades to plain text automatically when stdout is not a
// terminal, so piped output stays grep-friendly.
package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Styles for terminal rendering
var (
	// Colors
	primaryColor = lipgloss.Color("#25A065")
	dangerColor  = lipgloss.Color("#DC3545")
	warningColor = lipgloss.Color("#FFC107")
	mutedColor   = lipgloss.Color("240")

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(primaryColor).
			Padding(0, 1).
			Bold(true)

	subtitleStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			MarginLeft(1)

	sectionStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Bold(true)

	tableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("252")).
				BorderStyle(lipgloss.NormalBorder()).
				BorderBottom(true).
				BorderForeground(mutedColor).
				PaddingRight(2)

	tableCellStyle = lipgloss.NewStyle().
			PaddingRight(2)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Width(18)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255"))

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	okBadgeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255")).
			Background(primaryColor).
			Padding(0, 1)

	warnBadgeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(warningColor).
			Padding(0, 1)

	errorBadgeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255")).
			Background(dangerColor).
			Padding(0, 1)
)

// Title renders a title bar with an optional subtitle.
func Title(title, subtitle string) string {
	s := titleStyle.Render(title)
	if subtitle != "" {
		s += subtitleStyle.Render(subtitle)
	}
	return s
}

// Section renders body inside a rounded border, with an optional header.
func Section(header, body string) string {
	var b strings.Builder
	if header != "" {
		b.WriteString(headerStyle.Render(header))
		b.WriteString("\n")
	}
	b.WriteString(strings.TrimRight(body, "\n"))
	return sectionStyle.Render(b.String())
}

// KeyValue renders an aligned label/value line.
func KeyValue(label, value string) string {
	return labelStyle.Render(label) + valueStyle.Render(value)
}

// Help renders muted explanatory text.
func Help(s string) string {
	return helpStyle.Render(s)
}

// Badge severities.
const (
	SeverityOK = iota
	SeverityWarn
	SeverityError
)

// Badge renders a short status label.
func Badge(text string, severity int) string {
	switch severity {
	case SeverityOK:
		return okBadgeStyle.Render(text)
	case SeverityWarn:
		return warnBadgeStyle.Render(text)
	default:
		return errorBadgeStyle.Render(text)
	}
}

// Table renders rows under a header line. Column widths fit the widest cell.
// emptyText is shown when there are no rows.
func Table(headers []string, rows [][]string, emptyText string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i := range headers {
			if i < len(row) && lipgloss.Width(row[i]) > widths[i] {
				widths[i] = lipgloss.Width(row[i])
			}
		}
	}

	var b strings.Builder
	headerCells := make([]string, len(headers))
	for i, h := range headers {
		headerCells[i] = tableHeaderStyle.Width(widths[i] + 2).Render(h)
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, headerCells...))
	b.WriteString("\n")

	if len(rows) == 0 {
		b.WriteString(helpStyle.Render(emptyText))
		b.WriteString("\n")
		return b.String()
	}

	for _, row := range rows {
		cells := make([]string, len(headers))
		for i := range headers {
			val := ""
			if i < len(row) {
				val = row[i]
			}
			cells[i] = tableCellStyle.Width(widths[i] + 2).Render(val)
		}
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, cells...))
		b.WriteString("\n")
	}
	return b.String()
}
