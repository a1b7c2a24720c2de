package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// term renders for stderr, where status output goes.
var term = lipgloss.NewRenderer(os.Stderr)

var (
	styleGood  = term.NewStyle().Foreground(lipgloss.Color("2"))
	styleWarn  = term.NewStyle().Foreground(lipgloss.Color("3"))
	styleBad   = term.NewStyle().Foreground(lipgloss.Color("1"))
	styleID    = term.NewStyle().Foreground(lipgloss.Color("6"))
	styleLabel = term.NewStyle().Bold(true)
)

// setColor picks the renderer profile: plain text when disabled, otherwise
// whatever stderr and the environment (NO_COLOR, CLICOLOR_FORCE) support.
func setColor(enabled bool) {
	if !enabled {
		term.SetColorProfile(termenv.Ascii)
		return
	}
	term.SetColorProfile(termenv.NewOutput(os.Stderr).EnvColorProfile())
}

func colorize(s lipgloss.Style, text string) string {
	return s.Render(text)
}

func notice(s lipgloss.Style, mark, format string, args []any) {
	fmt.Fprintln(os.Stderr, colorize(s, mark+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { notice(styleGood, "✓", format, args) }
func printError(format string, args ...any)   { notice(styleBad, "✗", format, args) }
func printWarning(format string, args ...any) { notice(styleWarn, "⚠", format, args) }
func printStep(format string, args ...any)    { notice(styleID, "→", format, args) }

// printStatus prints an indented "Label: value" line.
func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "  %s %s\n", colorize(styleLabel, label+":"), fmt.Sprintf(format, args...))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// relevanceStyle colors a 0-100 score by band: high from 70, medium from 30.
func relevanceStyle(score float64) lipgloss.Style {
	switch {
	case score >= 70:
		return styleGood
	case score >= 30:
		return styleWarn
	default:
		return styleBad
	}
}
