package release

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/reflow/wordwrap"
	"github.com/muesli/termenv"
)

// RenderChangelog formats release notes for the terminal. style is one of
// "auto", "dark", "light" or "plain"; plain and any renderer failure fall
// back to word wrapping.
func RenderChangelog(body string, style string, width int) string {
	if width <= 0 {
		width = 80
	}
	fallback := func(input string) string {
		return strings.TrimSpace(wordwrap.String(input, width))
	}

	style = strings.ToLower(strings.TrimSpace(style))
	switch style {
	case "plain":
		return fallback(body)
	case "light", "dark":
	default:
		style = "dark"
		if !termenv.HasDarkBackground() {
			style = "light"
		}
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return fallback(body)
	}
	out, err := renderer.Render(body)
	if err != nil {
		return fallback(body)
	}
	return strings.TrimSpace(out)
}
