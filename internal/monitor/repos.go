package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joestump/skillwatch/internal/classify"
	"github.com/joestump/skillwatch/internal/config"
	"github.com/joestump/skillwatch/internal/gitscan"
	"github.com/joestump/skillwatch/internal/store"
)

// WatchedHit is a watched path touched in the lookback window.
type WatchedHit struct {
	Pattern  string   `json:"pattern"`
	File     string   `json:"file"`
	API      []string `json:"api,omitempty"`
	APICount int      `json:"api_count"`
}

// RepoResult is the outcome of checking one source repository.
type RepoResult struct {
	Source         string                  `json:"source"`
	Repo           string                  `json:"repo"`
	Since          string                  `json:"since"`
	Commits        []gitscan.Commit        `json:"commits"`
	ChangedFiles   int                     `json:"changed_files_count"`
	WatchedHits    []WatchedHit            `json:"watched_hits"`
	Deprecations   []gitscan.Commit        `json:"deprecations"`
	Classification classify.Classification `json:"classification"`
	// Recorded is false when nothing new was written, either because
	// the newest commit was already recorded or the clone was skipped.
	Recorded bool `json:"recorded"`
	// Skipped carries the reason the repository could not be inspected.
	Skipped string `json:"skipped,omitempty"`
}

// Repos checks source repositories.
type Repos struct {
	scanner *gitscan.Scanner
	tempDir string
	logger  *slog.Logger
}

// ReposOption configures a Repos checker.
type ReposOption func(*Repos)

// WithTempDir places clones under dir instead of the system temp dir.
func WithTempDir(dir string) ReposOption {
	return func(r *Repos) { r.tempDir = dir }
}

// WithReposLogger sets the logger.
func WithReposLogger(l *slog.Logger) ReposOption {
	return func(r *Repos) { r.logger = l }
}

// NewRepos creates a Repos checker.
func NewRepos(scanner *gitscan.Scanner, opts ...ReposOption) *Repos {
	r := &Repos{scanner: scanner, logger: discardLogger()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Check clones src over the lookback window and records one aggregated
// change for the commits found. since overrides the source's lookback;
// without either the window is 30 days. Clone and git failures skip the
// source with a NONE result; only store errors are returned.
func (r *Repos) Check(ctx context.Context, st *store.Store, src *config.RepoSource, since string) (*RepoResult, error) {
	if since == "" {
		since = src.Lookback
	}
	if since == "" {
		since = gitscan.DefaultLookback
	}
	res := &RepoResult{
		Source:         src.SourceName,
		Repo:           src.URL,
		Since:          since,
		Classification: classify.None,
	}

	tmp, err := os.MkdirTemp(r.tempDir, "skillwatch-"+src.SourceName+"-")
	if err != nil {
		res.Skipped = fmt.Sprintf("create clone dir: %v", err)
		return res, nil
	}
	defer os.RemoveAll(tmp) //nolint:errcheck
	repo := filepath.Join(tmp, "repo.git")

	if err := r.scanner.Clone(ctx, src.URL, repo, since); err != nil {
		r.logger.Warn("clone failed", "source", src.SourceName, "error", err)
		res.Skipped = fmt.Sprintf("no recent commits or clone failed: %v", err)
		return res, nil
	}

	commits, err := r.scanner.Commits(ctx, repo, since)
	if err != nil {
		res.Skipped = err.Error()
		return res, nil
	}
	files, err := r.scanner.ChangedFiles(ctx, repo, since)
	if err != nil {
		res.Skipped = err.Error()
		return res, nil
	}
	res.Commits = commits
	res.ChangedFiles = len(files)
	res.WatchedHits = r.watchedHits(ctx, repo, src.WatchedPaths, files)

	subjects := make([]classify.Commit, len(commits))
	for i, c := range commits {
		subjects[i] = classify.Commit{Hash: c.Hash, Subject: c.Subject}
	}
	for _, d := range classify.Deprecations(subjects) {
		for _, c := range commits {
			if c.Hash == d.Hash {
				res.Deprecations = append(res.Deprecations, c)
				break
			}
		}
	}
	res.Classification = classify.Commits(subjects, len(res.WatchedHits) > 0)

	if len(commits) == 0 {
		return res, nil
	}

	last, err := st.LatestSourceCheck(src.SourceName)
	if err != nil {
		return nil, err
	}
	if last != nil && last.LastCommit == commits[0].Hash {
		r.logger.Debug("no new commits since last check", "source", src.SourceName, "head", commits[0].Hash)
		return res, nil
	}

	err = st.RecordChange(store.Change{
		Source:         src.SourceName,
		Target:         &store.CommitTarget{Hash: commits[0].Hash, Count: len(commits)},
		Classification: res.Classification,
		Summary:        fmt.Sprintf("%d commits, %d files changed", len(commits), len(files)),
		RecordSource:   store.RecordSourceRepoMonitor,
	})
	if err != nil {
		return nil, err
	}
	res.Recorded = true
	return res, nil
}

func (r *Repos) watchedHits(ctx context.Context, repo string, watched, files []string) []WatchedHit {
	matches := gitscan.MatchWatched(watched, files)
	var hits []WatchedHit
	seen := make(map[string]bool)
	for _, pattern := range watched {
		for _, file := range matches[pattern] {
			// A file matched by several patterns is reported under the first.
			if seen[file] {
				continue
			}
			seen[file] = true
			hit := WatchedHit{Pattern: pattern, File: file}
			if src, err := r.scanner.ShowFile(ctx, repo, file); err == nil {
				api := gitscan.PublicAPI(ctx, file, src)
				hit.APICount = len(api)
				if len(api) > gitscan.MaxAPIEntries {
					api = api[:gitscan.MaxAPIEntries]
				}
				hit.API = api
			}
			hits = append(hits, hit)
		}
	}
	return hits
}
