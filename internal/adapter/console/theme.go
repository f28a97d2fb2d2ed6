// Package console renders task results, transcripts and diagnostics for the
// command line. Styles use adaptive colors that work on both light and dark
// terminals; NO_COLOR is respected by lipgloss's color profile detection.
package console

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	ColorSuccess = lipgloss.AdaptiveColor{Light: "#2e7d32", Dark: "#66bb6a"}
	ColorError   = lipgloss.AdaptiveColor{Light: "#c62828", Dark: "#ef5350"}
	ColorWarning = lipgloss.AdaptiveColor{Light: "#e65100", Dark: "#ffa726"}
	ColorInfo    = lipgloss.AdaptiveColor{Light: "#0277bd", Dark: "#4fc3f7"}
	ColorAccent  = lipgloss.AdaptiveColor{Light: "#6a1b9a", Dark: "#ce93d8"}
	ColorMuted   = lipgloss.AdaptiveColor{Light: "#757575", Dark: "#9e9e9e"}
	ColorBorder  = lipgloss.AdaptiveColor{Light: "#bdbdbd", Dark: "#616161"}
)

var (
	Bold = lipgloss.NewStyle().Bold(true)
	Dim  = lipgloss.NewStyle().Faint(true)

	TextSuccess = lipgloss.NewStyle().Foreground(ColorSuccess).Bold(true)
	TextError   = lipgloss.NewStyle().Foreground(ColorError).Bold(true)
	TextWarning = lipgloss.NewStyle().Foreground(ColorWarning).Bold(true)
	TextInfo    = lipgloss.NewStyle().Foreground(ColorInfo)
	TextMuted   = lipgloss.NewStyle().Foreground(ColorMuted)

	Title = lipgloss.NewStyle().
		Foreground(ColorAccent).
		Bold(true)

	Box = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder).
		Padding(0, 1)
)

// Role labels for transcript rendering.
var (
	UserLabel      = lipgloss.NewStyle().Foreground(ColorInfo).Bold(true)
	AssistantLabel = lipgloss.NewStyle().Foreground(ColorAccent).Bold(true)
	SystemLabel    = lipgloss.NewStyle().Foreground(ColorMuted).Bold(true)
	ToolLabel      = lipgloss.NewStyle().Foreground(ColorWarning).Bold(true)
	ErrorLabel     = lipgloss.NewStyle().Foreground(ColorError).Bold(true)
)

// SymbolSet holds the glyphs used in output.
type SymbolSet struct {
	Success string
	Error   string
	Warning string
	ArrowR  string
	Bullet  string
}

var unicodeSymbols = SymbolSet{
	Success: "\u2713", // ✓
	Error:   "\u2717", // ✗
	Warning: "\u26A0", // ⚠
	ArrowR:  "\u2192", // →
	Bullet:  "\u2022", // •
}

var asciiSymbols = SymbolSet{
	Success: "[OK]",
	Error:   "[ERR]",
	Warning: "[!]",
	ArrowR:  "->",
	Bullet:  "*",
}

// Symbols is the active symbol set.
var Symbols = unicodeSymbols

// DetectUnicodeSupport reports whether the terminal likely supports Unicode.
// MCPAGENT_ASCII_SYMBOLS=1 forces ASCII.
func DetectUnicodeSupport() bool {
	if v := os.Getenv("MCPAGENT_ASCII_SYMBOLS"); v == "1" || strings.EqualFold(v, "true") {
		return false
	}
	for _, key := range []string{"LC_ALL", "LC_CTYPE", "LANG"} {
		val := strings.ToLower(os.Getenv(key))
		if strings.Contains(val, "utf-8") || strings.Contains(val, "utf8") {
			return true
		}
	}
	return true
}

// InitSymbols selects the symbol set for the current environment.
func InitSymbols() {
	if DetectUnicodeSupport() {
		Symbols = unicodeSymbols
	} else {
		Symbols = asciiSymbols
	}
}

func init() {
	InitSymbols()
}
