package process

import (
	"context"
	"fmt"
	"os/exec"
)

// Runner executes external commands, allowing tests to inject stubs.
type Runner interface {
	// Run waits for the command and returns its combined output.
	Run(ctx context.Context, bin string, args ...string) ([]byte, error)
	// Spawn starts the command and returns without waiting for it.
	Spawn(bin string, args ...string) error
}

// ExecRunner runs real processes.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, bin string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	return cmd.CombinedOutput()
}

// Spawn implements Runner. The child is released so it can outlive us.
func (ExecRunner) Spawn(bin string, args ...string) error {
	cmd := exec.Command(bin, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", bin, err)
	}
	return cmd.Process.Release()
}
