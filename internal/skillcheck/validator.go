// Package skillcheck validates skills against the external skill validator
// and a set of best practices, and stages skills for update.
package skillcheck

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/joestump/skillwatch/internal/store"
)

// DefaultCommand is the external validator; the skill path is appended.
const DefaultCommand = "uv run skills-ref validate"

// DefaultTimeout bounds one validator run.
const DefaultTimeout = 30 * time.Second

// Result is the outcome of validating one skill.
type Result struct {
	Skill    string   `json:"skill,omitempty"`
	Path     string   `json:"path"`
	Valid    bool     `json:"is_valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Validator runs the external validator plus best-practice checks.
type Validator struct {
	runner  ProcessRunner
	command []string
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithCommand replaces the validator command line.
func WithCommand(cmd string) Option {
	return func(v *Validator) {
		if fields := strings.Fields(cmd); len(fields) > 0 {
			v.command = fields
		}
	}
}

// WithTimeout sets the per-run timeout.
func WithTimeout(d time.Duration) Option {
	return func(v *Validator) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *Validator) { v.logger = l }
}

// NewValidator creates a Validator. A nil runner uses ExecRunner.
func NewValidator(runner ProcessRunner, opts ...Option) *Validator {
	if runner == nil {
		runner = ExecRunner{}
	}
	v := &Validator{
		runner:  runner,
		command: strings.Fields(DefaultCommand),
		timeout: DefaultTimeout,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate checks the skill at path. Validator failures are reported as
// errors in the result, never returned.
func (v *Validator) Validate(ctx context.Context, path string) *Result {
	res := &Result{Path: path}
	res.Errors = v.external(ctx, path)
	res.Warnings = BestPractices(path)
	res.Valid = len(res.Errors) == 0
	v.logger.Info("validated skill", "path", path, "valid", res.Valid,
		"errors", len(res.Errors), "warnings", len(res.Warnings))
	return res
}

func (v *Validator) external(ctx context.Context, path string) []string {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	args := append(append([]string{}, v.command[1:]...), path)
	stderr, code, err := v.runner.Run(ctx, v.command[0], args...)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return []string{fmt.Sprintf("validator timed out after %s", v.timeout)}
	case err != nil:
		return []string{fmt.Sprintf("validator failed to run: %v", err)}
	case code == 0:
		return nil
	}

	var out []string
	for _, line := range strings.Split(string(stderr), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "Validation failed") {
			continue
		}
		out = append(out, strings.TrimPrefix(line, "- "))
	}
	if len(out) == 0 {
		out = []string{fmt.Sprintf("validator exited with status %d", code)}
	}
	return out
}

// Record stores res as a Validation fact for skill.
func Record(st *store.Store, skill string, res *Result, trigger string) error {
	res.Skill = skill
	return st.RecordValidation(store.Validation{
		Skill:    skill,
		Valid:    res.Valid,
		Errors:   res.Errors,
		Warnings: res.Warnings,
		Trigger:  trigger,
	})
}
