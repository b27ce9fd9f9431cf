package main

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	apperrors "sbsrf-update/internal/errors"
)

func TestReportError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		code     int
		contains []string
		excludes []string
	}{
		{name: "nil", err: nil, code: exitOK},
		{
			name:     "missing record is not a failure",
			err:      apperrors.New(apperrors.CodeConfigNotFound, "device ghost does not exist", nil),
			code:     exitOK,
			contains: []string{"device ghost does not exist", "device add"},
			excludes: []string{"Error:"},
		},
		{
			name:     "declined prompt",
			err:      apperrors.New(apperrors.CodeAborted, "aborted", nil),
			code:     exitAborted,
			contains: []string{"Cancelled."},
		},
		{
			name:     "missing host is a usage error",
			err:      apperrors.New(apperrors.CodeMissingHost, "a remote device needs its address, e.g. -H 192.168.1.108", nil),
			code:     exitUsage,
			contains: []string{"Error:", "-H 192.168.1.108", "Hamster"},
		},
		{
			name:     "network failure shows the cause",
			err:      apperrors.New(apperrors.CodeNetworkFailure, "fetch latest release", errors.New("dial tcp: no route to host")),
			code:     exitFailure,
			contains: []string{"fetch latest release", "no route to host", "--source github"},
		},
		{
			name:     "wrapped codes are found",
			err:      fmt.Errorf("restore: %w", apperrors.New(apperrors.CodeProcessControlFailure, "WeaselServer.exe is still running", nil)),
			code:     exitFailure,
			contains: []string{"still running", "Quit the input method engine"},
		},
		{
			name:     "cause already in the message is not repeated",
			err:      configError(errors.New(`unknown release source "x"`)),
			code:     exitUsage,
			contains: []string{`unknown release source "x"`},
		},
		{
			name:     "plain errors",
			err:      errors.New("boom"),
			code:     exitFailure,
			contains: []string{"Error: boom"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			assert.Equal(t, tt.code, reportError(&buf, tt.err))
			out := buf.String()
			for _, s := range tt.contains {
				assert.Contains(t, out, s)
			}
			for _, s := range tt.excludes {
				assert.NotContains(t, out, s)
			}
			if tt.name == "cause already in the message is not repeated" {
				assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("unknown release source")))
			}
		})
	}
}
