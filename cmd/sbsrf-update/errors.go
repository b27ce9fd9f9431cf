package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"sbsrf-update/internal/debug"
	apperrors "sbsrf-update/internal/errors"
)

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
	exitAborted = 130
)

// reportError prints err for a person and returns the exit code. A missing
// device record is reported but is not a failure.
func reportError(w io.Writer, err error) int {
	if err == nil {
		return exitOK
	}

	code := exitFailure
	var hint string
	switch apperrors.CodeOf(err) {
	case apperrors.CodeConfigNotFound:
		_, _ = fmt.Fprintf(w, "%s\nSee `sbsrf-update device list` for the known devices, or add a phone with `sbsrf-update device add <name>`.\n", err)
		return exitOK
	case apperrors.CodeAborted:
		_, _ = fmt.Fprintln(w, dimStyle.Render("Cancelled."))
		return exitAborted
	case apperrors.CodeMissingHost:
		code = exitUsage
		hint = "Find the address on the Wi-Fi upload page of Hamster."
	case apperrors.CodeConfigurationError:
		code = exitUsage
	case apperrors.CodeNetworkFailure:
		hint = "Check the connection and try again, or use --source github."
	case apperrors.CodeProcessControlFailure:
		hint = "Quit the input method engine by hand and try again."
	case apperrors.CodeNoBackupsAvailable:
		hint = "A backup is taken before every update when max_backups is above zero."
	case apperrors.CodeUnsupportedEngine:
		hint = "Check the name in `sbsrf-update device show`."
	}

	_, _ = fmt.Fprintf(w, "%s %s\n", errorStyle.Render("Error:"), err)
	if cause := causeOf(err); cause != "" {
		_, _ = fmt.Fprintf(w, "  %s\n", dimStyle.Render(cause))
	}
	if hint != "" {
		_, _ = fmt.Fprintln(w, hint)
	}
	if path := debug.LogPath(); path != "" {
		_, _ = fmt.Fprintf(w, "Details were written to %s\n", path)
	}
	return code
}

// causeOf returns the wrapped error text when the message does not already
// include it.
func causeOf(err error) string {
	var structured apperrors.Error
	if !errors.As(err, &structured) || structured.Err == nil {
		return ""
	}
	cause := strings.TrimSpace(structured.Err.Error())
	if cause == "" || strings.Contains(err.Error(), cause) {
		return ""
	}
	return cause
}
