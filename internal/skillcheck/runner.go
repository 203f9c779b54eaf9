package skillcheck

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"syscall"
)

// ProcessRunner abstracts spawning the external validator so that tests can
// substitute a mock implementation.
type ProcessRunner interface {
	// Run executes name with args and returns its stderr and exit code. err
	// is non-nil only when the process could not be run to completion.
	Run(ctx context.Context, name string, args ...string) (stderr []byte, exitCode int, err error)
}

// ExecRunner implements ProcessRunner with os/exec.
type ExecRunner struct{}

// Run starts the process in its own process group and waits for it.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		return stderr.Bytes(), -1, ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stderr.Bytes(), exitErr.ExitCode(), nil
	}
	if err != nil {
		return stderr.Bytes(), -1, err
	}
	return stderr.Bytes(), 0, nil
}
