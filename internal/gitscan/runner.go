package gitscan

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
)

// Runner abstracts the spawning of git subprocesses so that tests can
// substitute a fake implementation.
type Runner interface {
	Run(ctx context.Context, args ...string) (stdout []byte, err error)
}

// ExecRunner implements Runner with the git binary on PATH.
type ExecRunner struct {
	// Binary overrides the executable name. Defaults to "git".
	Binary string
}

// Run executes git with args and returns its stdout. A non-zero exit is an
// error carrying the trimmed stderr.
func (r *ExecRunner) Run(ctx context.Context, args ...string) ([]byte, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("git: no arguments")
	}
	bin := r.Binary
	if bin == "" {
		bin = "git"
	}
	sub := args[0]
	if sub == "-C" && len(args) > 2 {
		sub = args[2]
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = append(cmd.Environ(), "GIT_TERMINAL_PROMPT=0")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("git %s: %w", sub, ctx.Err())
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("git %s: %w", sub, err)
		}
		return nil, fmt.Errorf("git %s: %w: %s", sub, err, msg)
	}
	return stdout.Bytes(), nil
}
