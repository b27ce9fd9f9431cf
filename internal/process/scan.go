package process

import (
	"context"
	"fmt"
	"runtime"
	"strings"
)

// Finder locates running processes by executable name.
type Finder struct {
	Runner Runner
	GOOS   string
}

// NewFinder creates a Finder for the current platform.
func NewFinder(runner Runner) *Finder {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Finder{Runner: runner, GOOS: runtime.GOOS}
}

// Find returns the executable path of a running process named name.
// found is false when no such process runs.
func (f *Finder) Find(ctx context.Context, name string) (path string, found bool, err error) {
	if f.GOOS == "windows" {
		image := name
		if !strings.HasSuffix(strings.ToLower(image), ".exe") {
			image += ".exe"
		}
		out, err := f.Runner.Run(ctx, "tasklist", "/FI", "IMAGENAME eq "+image)
		if err != nil {
			return "", false, fmt.Errorf("tasklist: %w", err)
		}
		if ParseTasklistPID(string(out), image) <= 0 {
			return "", false, nil
		}
		return image, true, nil
	}

	out, err := f.Runner.Run(ctx, "ps", "-axo", "command=")
	if err != nil {
		return "", false, fmt.Errorf("ps: %w", err)
	}
	path = ParsePSCommand(string(out), name)
	return path, path != "", nil
}

// ParsePSCommand returns the executable path of the first command line whose
// program is named name. Paths may contain spaces, so the match is made on a
// "/name" or leading "name" token followed by end of line or a space.
func ParsePSCommand(output, name string) string {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, name) && (len(line) == len(name) || line[len(name)] == ' ') {
			return name
		}
		needle := "/" + name
		for start := 0; ; {
			idx := strings.Index(line[start:], needle)
			if idx < 0 {
				break
			}
			end := start + idx + len(needle)
			if end == len(line) || line[end] == ' ' {
				return line[:end]
			}
			start = end
		}
	}
	return ""
}
