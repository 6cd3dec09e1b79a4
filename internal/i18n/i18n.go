// Package i18n provides the message printer used for CLI output.
//
// Log records are always English. Only human-facing command output goes
// through a Printer, which picks the language from LC_ALL / LANG.
package i18n

import (
	"os"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DefaultLang is the fallback language
var DefaultLang = language.English

// SupportedLangs are the languages we support
var SupportedLangs = []language.Tag{
	language.English,
	language.German,
}

var matcher = language.NewMatcher(SupportedLangs)

// CLI message keys. The English text is the key itself.
const (
	MsgSummary      = "%d entries, %d unresolved: %d added, %d removed\n"
	MsgBusy         = "Another pass is running; skipped.\n"
	MsgDryRun       = "Dry run: no changes were made.\n"
	MsgNoChanges    = "Firewall already matches the configuration.\n"
	MsgPreserved    = "Kept %d rule(s) for entries that did not resolve.\n"
	MsgConfigOK     = "Configuration OK: %d entries, backend %s.\n"
	MsgNotRoot      = "This command must be run as root.\n"
	MsgEntriesSaved = "Saved %d entries to %s\n"
)

func init() {
	de := language.German
	_ = message.SetString(de, MsgSummary, "%d Einträge, %d nicht aufgelöst: %d hinzugefügt, %d entfernt\n")
	_ = message.SetString(de, MsgBusy, "Ein anderer Lauf ist aktiv; übersprungen.\n")
	_ = message.SetString(de, MsgDryRun, "Probelauf: keine Änderungen vorgenommen.\n")
	_ = message.SetString(de, MsgNoChanges, "Die Firewall entspricht bereits der Konfiguration.\n")
	_ = message.SetString(de, MsgPreserved, "%d Regel(n) für nicht aufgelöste Einträge beibehalten.\n")
	_ = message.SetString(de, MsgConfigOK, "Konfiguration OK: %d Einträge, Backend %s.\n")
	_ = message.SetString(de, MsgNotRoot, "Dieser Befehl muss als root ausgeführt werden.\n")
	_ = message.SetString(de, MsgEntriesSaved, "%d Einträge in %s gespeichert\n")
}

// MatchLanguage returns the best supported language for a locale or
// Accept-Language style string.
func MatchLanguage(lang string) language.Tag {
	tags, _, _ := language.ParseAcceptLanguage(lang)
	tag, _, _ := matcher.Match(tags...)
	return baseOf(tag)
}

// NewPrinter returns a message printer for the given language
func NewPrinter(tag language.Tag) *message.Printer {
	return message.NewPrinter(tag)
}

// NewCLIPrinter returns a printer for the system's locale (from env vars)
func NewCLIPrinter() *message.Printer {
	return message.NewPrinter(LangFromEnv(os.Getenv))
}

// LangFromEnv picks the language from LC_ALL, then LANG.
func LangFromEnv(getenv func(string) string) language.Tag {
	lang := getenv("LC_ALL")
	if lang == "" {
		lang = getenv("LANG")
	}
	if lang == "" || lang == "C" || lang == "POSIX" {
		return DefaultLang
	}

	// Strip encoding and modifier (en_US.UTF-8, de_DE@euro)
	if i := strings.IndexAny(lang, ".@"); i != -1 {
		lang = lang[:i]
	}
	lang = strings.ReplaceAll(lang, "_", "-")

	tag, err := language.Parse(lang)
	if err != nil {
		return DefaultLang
	}
	matched, _, _ := matcher.Match(tag)
	return baseOf(matched)
}

// baseOf strips the -u-rg extension the matcher adds, so lookups hit the
// catalog entries registered for the plain base language.
func baseOf(tag language.Tag) language.Tag {
	base, _ := tag.Base()
	t, err := language.Compose(base)
	if err != nil {
		return DefaultLang
	}
	return t
}
