// Package gitscan inspects source-code repositories through bounded, shallow
// bare clones: recent commits, touched files, watched-path hits and a
// lightweight public-interface summary of watched files.
package gitscan

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	// DefaultCloneTimeout bounds a shallow clone.
	DefaultCloneTimeout = 120 * time.Second
	// DefaultCommandTimeout bounds every other git invocation.
	DefaultCommandTimeout = 30 * time.Second
	// DefaultLookback is the window used when a source sets none.
	DefaultLookback = "30days"
)

var allowedProtocols = map[string]bool{
	"https": true,
	"http":  true,
	"git":   true,
	"ssh":   true,
	"file":  true,
}

// Commit is the metadata of one commit in the lookback window.
type Commit struct {
	Hash    string // first 12 characters
	Subject string
	Author  string
	Date    string // YYYY-MM-DD
}

// Scanner runs git commands through a Runner.
type Scanner struct {
	runner         Runner
	cloneTimeout   time.Duration
	commandTimeout time.Duration
	logger         *slog.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithCloneTimeout bounds clones.
func WithCloneTimeout(d time.Duration) Option {
	return func(s *Scanner) {
		if d > 0 {
			s.cloneTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scanner) { s.logger = l }
}

// New creates a Scanner. A nil runner uses the git binary.
func New(runner Runner, opts ...Option) *Scanner {
	if runner == nil {
		runner = &ExecRunner{}
	}
	s := &Scanner{
		runner:         runner,
		cloneTimeout:   DefaultCloneTimeout,
		commandTimeout: DefaultCommandTimeout,
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidateURL rejects clone URLs that are not https, http, git, ssh or file
// URLs (or scp-style git@host:path), including anything that git would
// parse as an option.
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty repository URL")
	}
	if strings.HasPrefix(rawURL, "-") {
		return fmt.Errorf("invalid repository URL %q", rawURL)
	}
	if strings.HasPrefix(rawURL, "git@") {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if !allowedProtocols[scheme] {
		return fmt.Errorf("protocol %q not allowed; must be https, http, git, ssh or file", scheme)
	}
	return nil
}

// Clone makes a bare, single-branch clone of repoURL into dest containing
// only history newer than since.
func (s *Scanner) Clone(ctx context.Context, repoURL, dest, since string) error {
	if err := ValidateURL(repoURL); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.cloneTimeout)
	defer cancel()

	_, err := s.runner.Run(ctx,
		"clone", "--bare", "--single-branch",
		"--shallow-since", since,
		"--", repoURL, dest,
	)
	if err != nil {
		return fmt.Errorf("clone %s: %w", repoURL, err)
	}
	return nil
}

// Commits lists non-merge commits newer than since, newest first.
func (s *Scanner) Commits(ctx context.Context, repo, since string) ([]Commit, error) {
	out, err := s.git(ctx, repo, "log", "--since="+since, "--format=%H|%s|%an|%ai", "--no-merges")
	if err != nil {
		return nil, err
	}

	var commits []Commit
	for _, line := range splitLines(out) {
		parts := strings.SplitN(line, "|", 4)
		if len(parts) != 4 {
			continue
		}
		commits = append(commits, Commit{
			Hash:    truncate(parts[0], 12),
			Subject: parts[1],
			Author:  parts[2],
			Date:    truncate(parts[3], 10),
		})
	}
	return commits, nil
}

// ChangedFiles lists the distinct paths touched by non-merge commits newer
// than since, sorted.
func (s *Scanner) ChangedFiles(ctx context.Context, repo, since string) ([]string, error) {
	out, err := s.git(ctx, repo, "log", "--since="+since, "--name-only", "--format=", "--no-merges")
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var files []string
	for _, line := range splitLines(out) {
		if !seen[line] {
			seen[line] = true
			files = append(files, line)
		}
	}
	sort.Strings(files)
	return files, nil
}

// ShowFile returns the content of path at HEAD. Bare clones have no work
// tree, so files are read from the object store.
func (s *Scanner) ShowFile(ctx context.Context, repo, path string) ([]byte, error) {
	return s.git(ctx, repo, "show", "HEAD:"+path)
}

// MatchWatched returns the watched entries touched by changed. An entry is
// either a literal path or a doublestar glob such as "src/**/*.py".
func MatchWatched(watched, changed []string) map[string][]string {
	hits := make(map[string][]string)
	for _, w := range watched {
		for _, f := range changed {
			if f == w {
				hits[w] = append(hits[w], f)
				continue
			}
			if ok, err := doublestar.Match(w, f); err == nil && ok {
				hits[w] = append(hits[w], f)
			}
		}
	}
	return hits
}

func (s *Scanner) git(ctx context.Context, repo string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.commandTimeout)
	defer cancel()
	return s.runner.Run(ctx, append([]string{"-C", repo}, args...)...)
}

func splitLines(out []byte) []string {
	var lines []string
	for _, l := range strings.Split(string(out), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
