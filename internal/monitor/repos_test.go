package monitor

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/joestump/skillwatch/internal/classify"
	"github.com/joestump/skillwatch/internal/config"
	"github.com/joestump/skillwatch/internal/gitscan"
)

// fakeGit answers git subcommands from canned output.
type fakeGit struct {
	mu       sync.Mutex
	calls    [][]string
	cloneErr error
	log      string
	files    string
	show     map[string]string
}

func (f *fakeGit) Run(_ context.Context, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, args)

	if args[0] == "clone" {
		return nil, f.cloneErr
	}
	sub := args[2]
	switch {
	case sub == "log" && contains(args, "--name-only"):
		return []byte(f.files), nil
	case sub == "log":
		return []byte(f.log), nil
	case sub == "show":
		content, ok := f.show[strings.TrimPrefix(args[3], "HEAD:")]
		if !ok {
			return nil, errors.New("fatal: path does not exist")
		}
		return []byte(content), nil
	}
	return nil, errors.New("unexpected git call")
}

func (f *fakeGit) cloneArgs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c[0] == "clone" {
			return c
		}
	}
	return nil
}

func contains(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}

const repoWatchlist = `
sources:
  repo-b:
    kind: source
    location: https://github.com/org/repo.git
    watchedUnits: ["src/**/*.py", src/pkg/validator.py, README.md]
  repo-c:
    kind: source
    location: https://github.com/org/other.git
    lookback: "2025-01-15"
`

func repoSource(t *testing.T, w *config.Watchlist, name string) *config.RepoSource {
	t.Helper()
	src, ok := w.Source(name)
	if !ok {
		t.Fatalf("source %q not declared", name)
	}
	return src.(*config.RepoSource)
}

func newFakeGit() *fakeGit {
	return &fakeGit{
		log: "0123456789abcdef0123|Deprecate the old loader|Alice|2025-03-04 10:00:00 +0000\n" +
			"fedcba9876543210fedc|Add validator option|Bob|2025-03-01 09:00:00 +0000\n",
		files: "src/pkg/validator.py\ndocs/index.md\n\nsrc/pkg/validator.py\nsetup.cfg\n",
		show: map[string]string{
			"src/pkg/validator.py": "def validate(path, strict):\n    pass\n\ndef _private():\n    pass\n",
		},
	}
}

func TestReposCheck(t *testing.T) {
	st, w := openStore(t, repoWatchlist)
	git := newFakeGit()
	repos := NewRepos(gitscan.New(git), WithTempDir(t.TempDir()))

	res, err := repos.Check(context.Background(), st, repoSource(t, w, "repo-b"), "")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.Since != "30days" {
		t.Errorf("Since = %q, want default lookback", res.Since)
	}
	if len(res.Commits) != 2 || res.ChangedFiles != 3 {
		t.Errorf("unexpected counts: %d commits, %d files", len(res.Commits), res.ChangedFiles)
	}
	if res.Classification != classify.Breaking {
		t.Errorf("Classification = %s, want BREAKING", res.Classification)
	}
	if len(res.Deprecations) != 1 || res.Deprecations[0].Author != "Alice" {
		t.Errorf("unexpected deprecations: %+v", res.Deprecations)
	}
	// validator.py matches two patterns but is reported once.
	if len(res.WatchedHits) != 1 {
		t.Fatalf("expected one watched hit, got %+v", res.WatchedHits)
	}
	hit := res.WatchedHits[0]
	if hit.File != "src/pkg/validator.py" || hit.Pattern != "src/**/*.py" || hit.APICount != 1 || hit.API[0] != "def validate(path, strict)" {
		t.Errorf("unexpected watched hit: %+v", hit)
	}
	if !res.Recorded {
		t.Error("expected the batch to be recorded")
	}

	recent, _ := st.RecentChanges(1, "")
	if len(recent) != 1 {
		t.Fatalf("expected one commits change, got %d", len(recent))
	}
	c := recent[0]
	if c.TargetKind != "commits" || c.CommitHash != "0123456789ab" || *c.CommitCount != 2 || c.Summary != "2 commits, 3 files changed" {
		t.Errorf("unexpected stored change: %+v", c)
	}
	if c.RecordSource != "source_monitor" {
		t.Errorf("RecordSource = %q", c.RecordSource)
	}
}

func TestReposCheckIdempotent(t *testing.T) {
	st, w := openStore(t, repoWatchlist)
	repos := NewRepos(gitscan.New(newFakeGit()), WithTempDir(t.TempDir()))
	src := repoSource(t, w, "repo-b")

	if _, err := repos.Check(context.Background(), st, src, ""); err != nil {
		t.Fatal(err)
	}
	res, err := repos.Check(context.Background(), st, src, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Recorded {
		t.Error("an unchanged head must not be recorded again")
	}
	if n := countFacts(t, st, "fact_change"); n != 1 {
		t.Errorf("expected 1 change fact, got %d", n)
	}
}

func TestReposCheckSincePrecedence(t *testing.T) {
	st, w := openStore(t, repoWatchlist)

	tests := []struct {
		source string
		since  string
		want   string
	}{
		{"repo-b", "", "30days"},
		{"repo-c", "", "2025-01-15"},
		{"repo-c", "7days", "7days"},
	}
	for _, tt := range tests {
		git := &fakeGit{}
		repos := NewRepos(gitscan.New(git), WithTempDir(t.TempDir()))
		res, err := repos.Check(context.Background(), st, repoSource(t, w, tt.source), tt.since)
		if err != nil {
			t.Fatal(err)
		}
		if res.Since != tt.want {
			t.Errorf("%s/%q: Since = %q, want %q", tt.source, tt.since, res.Since, tt.want)
		}
		args := git.cloneArgs()
		if len(args) < 5 || args[4] != tt.want {
			t.Errorf("%s/%q: clone args %v", tt.source, tt.since, args)
		}
		if res.Classification != classify.None || res.Recorded {
			t.Errorf("an empty window is NONE and records nothing, got %+v", res)
		}
	}
}

func TestReposCheckCloneFailure(t *testing.T) {
	st, w := openStore(t, repoWatchlist)
	git := newFakeGit()
	git.cloneErr = errors.New("fatal: repository not found")
	dir := t.TempDir()
	repos := NewRepos(gitscan.New(git), WithTempDir(dir))

	res, err := repos.Check(context.Background(), st, repoSource(t, w, "repo-b"), "")
	if err != nil {
		t.Fatalf("clone failures must not be returned: %v", err)
	}
	if res.Classification != classify.None || res.Skipped == "" || len(res.Commits) != 0 || res.Recorded {
		t.Errorf("unexpected result: %+v", res)
	}
	if n := countFacts(t, st, "fact_change"); n != 0 {
		t.Errorf("expected nothing recorded, got %d changes", n)
	}
	if len(git.calls) != 1 {
		t.Errorf("expected only the clone attempt, got %v", git.calls)
	}
}

func TestReposCheckRemovesCloneDir(t *testing.T) {
	st, w := openStore(t, repoWatchlist)
	dir := t.TempDir()
	repos := NewRepos(gitscan.New(newFakeGit()), WithTempDir(dir))

	if _, err := repos.Check(context.Background(), st, repoSource(t, w, "repo-b"), ""); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("expected the clone dir to be removed, found %v", entries)
	}
}
