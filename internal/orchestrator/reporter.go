package orchestrator

import (
	"fmt"
	"io"

	"sbsrf-update/internal/release"
)

// TextReporter writes milestones as plain lines.
type TextReporter struct {
	w io.Writer
}

// NewTextReporter creates a reporter writing to w. Changelogs are printed verbatim.
func NewTextReporter(w io.Writer) *TextReporter {
	return &TextReporter{w: w}
}

// UpToDate implements Reporter.
func (r *TextReporter) UpToDate(device, version string) {
	_, _ = fmt.Fprintf(r.w, "%s already has the latest version %s\n", device, version)
}

// NewRelease implements Reporter.
func (r *TextReporter) NewRelease(_ string, rel *release.Release) {
	if rel.Changelog != "" {
		_, _ = fmt.Fprintln(r.w, rel.Changelog)
	}
	_, _ = fmt.Fprintf(r.w, "Version %s has been released\n", rel.Version)
}

// Notice implements Reporter.
func (r *TextReporter) Notice(msg string) {
	_, _ = fmt.Fprintln(r.w, msg)
}
