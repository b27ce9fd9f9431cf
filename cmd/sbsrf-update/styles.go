package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"sbsrf-update/internal/release"
)

var (
	primaryColor = lipgloss.Color("#7D56F4")
	dimColor     = lipgloss.Color("#6272A4")
	textColor    = lipgloss.Color("#F8F8F2")
	successColor = lipgloss.Color("#50FA7B")
	warnColor    = lipgloss.Color("#F1FA8C")
	errorColor   = lipgloss.Color("#FF5555")
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	textStyle    = lipgloss.NewStyle().Foreground(textColor)
	dimStyle     = lipgloss.NewStyle().Foreground(dimColor)
	successStyle = lipgloss.NewStyle().Foreground(successColor)
	warnStyle    = lipgloss.NewStyle().Foreground(warnColor)
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(errorColor)
)

// changelogWidth wraps release notes.
const changelogWidth = 80

// reporter prints orchestrator milestones with the CLI styles.
type reporter struct {
	w     io.Writer
	style string
}

func newReporter(w io.Writer, interactive bool) *reporter {
	style := "plain"
	if interactive {
		style = "auto"
	}
	return &reporter{w: w, style: style}
}

func (r *reporter) UpToDate(device, version string) {
	_, _ = fmt.Fprintf(r.w, "%s %s already has the latest version %s\n",
		successStyle.Render("✓"), device, titleStyle.Render(version))
}

func (r *reporter) NewRelease(_ string, rel *release.Release) {
	if rel.Changelog != "" {
		_, _ = fmt.Fprintln(r.w, release.RenderChangelog(rel.Changelog, r.style, changelogWidth))
		_, _ = fmt.Fprintln(r.w)
	}
	_, _ = fmt.Fprintf(r.w, "Version %s has been released\n", titleStyle.Render(rel.Version))
}

func (r *reporter) Notice(msg string) {
	_, _ = fmt.Fprintln(r.w, warnStyle.Render(msg))
}
