// Package prompt asks the user for confirmations and choices.
package prompt

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	log "github.com/sirupsen/logrus"
	"golang.org/x/term"

	apperrors "sbsrf-update/internal/errors"
)

// Prompter asks questions. Implementations return CodeAborted when the user
// interrupts the prompt.
type Prompter interface {
	Confirm(title string, def bool) (bool, error)
	Select(title string, options []string, def int) (int, error)
}

// isInteractiveTTY is replaced in tests.
var isInteractiveTTY = func() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// New returns the prompter for this session. With assumeYes every
// confirmation is accepted and every choice takes its default.
func New(assumeYes bool) Prompter {
	if assumeYes {
		return AssumeYes{}
	}
	return Interactive{}
}

// AssumeYes answers without asking.
type AssumeYes struct{}

// Confirm implements Prompter.
func (AssumeYes) Confirm(title string, _ bool) (bool, error) {
	log.Debugf("assuming yes: %s", title)
	return true, nil
}

// Select implements Prompter.
func (AssumeYes) Select(title string, options []string, def int) (int, error) {
	return clampDefault(options, def), nil
}

// Interactive asks through huh forms. Without a terminal it takes the defaults.
type Interactive struct{}

// Confirm implements Prompter.
func (Interactive) Confirm(title string, def bool) (bool, error) {
	if !isInteractiveTTY() {
		log.Warnf("not a terminal, answering %q with %v", title, def)
		return def, nil
	}
	confirmed := def
	form := huh.NewConfirm().
		Title(title).
		Affirmative("Yes").
		Negative("No").
		Value(&confirmed)
	if err := form.Run(); err != nil {
		return false, aborted(err)
	}
	return confirmed, nil
}

// Select implements Prompter.
func (Interactive) Select(title string, options []string, def int) (int, error) {
	if len(options) == 0 {
		return -1, fmt.Errorf("nothing to select for %q", title)
	}
	def = clampDefault(options, def)
	if !isInteractiveTTY() {
		log.Warnf("not a terminal, selecting %q for %q", options[def], title)
		return def, nil
	}

	choice := def
	opts := make([]huh.Option[int], len(options))
	for i, o := range options {
		opts[i] = huh.NewOption(o, i)
	}
	form := huh.NewSelect[int]().
		Title(title).
		Options(opts...).
		Value(&choice)
	if err := form.Run(); err != nil {
		return -1, aborted(err)
	}
	return choice, nil
}

func clampDefault(options []string, def int) int {
	if def < 0 || def >= len(options) {
		return len(options) - 1
	}
	return def
}

func aborted(err error) error {
	if errors.Is(err, huh.ErrUserAborted) {
		return apperrors.New(apperrors.CodeAborted, "cancelled", err)
	}
	return fmt.Errorf("prompt: %w", err)
}
