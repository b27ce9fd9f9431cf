// Package process detects, stops and restarts engine server processes, and
// finds installed engines by scanning the process table.
package process

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	apperrors "sbsrf-update/internal/errors"
)

// Guard controls an engine process that locks its live directory while running.
// Stop and Start only signal; callers poll IsRunning for the outcome.
type Guard interface {
	IsRunning(ctx context.Context) (bool, error)
	Stop(ctx context.Context) error
	Start(ctx context.Context) error
}

// WaitOptions bounds polling.
type WaitOptions struct {
	Poll    time.Duration
	Timeout time.Duration
}

func (o WaitOptions) withDefaults() WaitOptions {
	if o.Poll <= 0 {
		o.Poll = 500 * time.Millisecond
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	return o
}

// WaitFor polls g until IsRunning reports want, the timeout expires or ctx ends.
func WaitFor(ctx context.Context, g Guard, want bool, opts WaitOptions) error {
	opts = opts.withDefaults()
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	ticker := time.NewTicker(opts.Poll)
	defer ticker.Stop()

	for {
		running, err := g.IsRunning(ctx)
		if err != nil {
			log.Warnf("process state query failed: %v", err)
		} else if running == want {
			return nil
		}
		select {
		case <-ctx.Done():
			state := "stopped"
			if want {
				state = "running"
			}
			return apperrors.New(apperrors.CodeProcessControlFailure,
				fmt.Sprintf("engine process was not observed %s within %s", state, opts.Timeout), ctx.Err())
		case <-ticker.C:
		}
	}
}

// Quiesce stops the process if it is running and waits until it is gone.
// It reports whether the process had to be stopped.
func Quiesce(ctx context.Context, g Guard, opts WaitOptions) (bool, error) {
	if g == nil {
		return false, nil
	}
	running, err := g.IsRunning(ctx)
	if err != nil {
		return false, apperrors.New(apperrors.CodeProcessControlFailure, "query engine process", err)
	}
	if !running {
		return false, nil
	}

	log.Info("engine process is running, stopping it")
	if err := g.Stop(ctx); err != nil {
		return false, apperrors.New(apperrors.CodeProcessControlFailure, "stop engine process", err)
	}
	if err := WaitFor(ctx, g, false, opts); err != nil {
		return true, err
	}
	return true, nil
}

// Resume starts the process and waits until it runs.
func Resume(ctx context.Context, g Guard, opts WaitOptions) error {
	if g == nil {
		return nil
	}
	log.Info("starting engine process again")
	if err := g.Start(ctx); err != nil {
		return apperrors.New(apperrors.CodeProcessControlFailure, "start engine process", err)
	}
	return WaitFor(ctx, g, true, opts)
}

// TasklistGuard controls a Windows server process located with tasklist.
type TasklistGuard struct {
	Image  string
	Exe    string
	Runner Runner
}

// NewTasklistGuard creates a guard for image, restarted through exe.
func NewTasklistGuard(image, exe string, runner Runner) *TasklistGuard {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &TasklistGuard{Image: image, Exe: exe, Runner: runner}
}

// IsRunning implements Guard.
func (g *TasklistGuard) IsRunning(ctx context.Context) (bool, error) {
	out, err := g.Runner.Run(ctx, "tasklist", "/FI", "IMAGENAME eq "+g.Image)
	if err != nil {
		return false, fmt.Errorf("tasklist: %w", err)
	}
	return ParseTasklistPID(string(out), g.Image) > 0, nil
}

// Stop asks the server to quit gracefully.
func (g *TasklistGuard) Stop(context.Context) error {
	if g.Exe == "" {
		return fmt.Errorf("no executable configured for %s", g.Image)
	}
	return g.Runner.Spawn(g.Exe, "/q")
}

// Start relaunches the server.
func (g *TasklistGuard) Start(context.Context) error {
	if g.Exe == "" {
		return fmt.Errorf("no executable configured for %s", g.Image)
	}
	return g.Runner.Spawn(g.Exe)
}

// ParseTasklistPID extracts the PID of image from tasklist output, or -1.
//
//	Image Name                     PID Session Name        Session#    Mem Usage
//	========================= ======== ================ =========== ============
//	WeaselServer.exe              7528 Console                    1     10,068 K
func ParseTasklistPID(output, image string) int {
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(strings.TrimRight(line, "\r"))
		if len(fields) < 2 || !strings.EqualFold(fields[0], image) {
			continue
		}
		pid, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		return pid
	}
	return -1
}
