package freshness

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/joestump/skillwatch/internal/config"
	"github.com/joestump/skillwatch/internal/store"
	"github.com/joestump/skillwatch/internal/watermark"
)

func TestParseThreshold(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"7d", 7 * 24 * time.Hour},
		{"24h", 24 * time.Hour},
		{"168H", 168 * time.Hour},
		{"14", 14 * 24 * time.Hour},
		{" 3d ", 3 * 24 * time.Hour},
	}
	for _, tt := range tests {
		got, err := ParseThreshold(tt.in)
		if err != nil {
			t.Errorf("ParseThreshold(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseThreshold(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	for _, bad := range []string{"", "d", "abc", "-2d", "1w"} {
		if _, err := ParseThreshold(bad); err == nil {
			t.Errorf("ParseThreshold(%q) should fail", bad)
		}
	}
}

type fakeChecks map[string]string

func (f fakeChecks) LastCheckedAt(source string) (string, error) {
	if source == "broken" {
		return "", errors.New("disk on fire")
	}
	return f[source], nil
}

const freshnessWatchlist = `
sources:
  docs-a:
    kind: docs
    location: https://example.com/llms-full.txt
  repo-b:
    kind: source
    location: https://github.com/org/repo.git
  broken:
    kind: docs
    location: https://example.com/broken.txt
skills:
  toolkit:
    path: skills/toolkit
    sources: [docs-a, repo-b]
  writer:
    path: skills/writer
    sources: [docs-a]
  orphan:
    path: skills/orphan
  fragile:
    path: skills/fragile
    sources: [broken]
`

var now = time.Date(2025, 3, 20, 12, 0, 0, 0, time.UTC)

func newChecker(t *testing.T, checks LastChecker, threshold time.Duration) *Checker {
	t.Helper()
	w, err := config.ParseWatchlist([]byte(freshnessWatchlist))
	if err != nil {
		t.Fatal(err)
	}
	return NewChecker(checks, w, threshold, WithClock(func() time.Time { return now }))
}

func TestCheckOldestSourceDecides(t *testing.T) {
	checks := fakeChecks{
		"docs-a": "2025-03-19T12:00:00.000000Z",
		"repo-b": "2025-03-10T12:00:00.000000Z",
	}
	c := newChecker(t, checks, 0)

	res, err := c.Check("toolkit")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Stale || res.StalenessDays == nil || *res.StalenessDays != 10 {
		t.Errorf("expected stale after 10 days, got %+v", res)
	}
	if res.LastChecked != "2025-03-10T12:00:00.000000Z" {
		t.Errorf("LastChecked = %q", res.LastChecked)
	}
	if !strings.Contains(res.Message, "last checked 10 days ago") {
		t.Errorf("Message = %q", res.Message)
	}
	if len(res.Sources) != 2 || res.Sources[0].Stale || !res.Sources[1].Stale || *res.Sources[0].AgeDays != 1 {
		t.Errorf("unexpected source statuses: %+v", res.Sources)
	}

	res, err = c.Check("writer")
	if err != nil {
		t.Fatal(err)
	}
	if res.Stale || res.Message != "" || *res.StalenessDays != 1 {
		t.Errorf("expected writer to be fresh, got %+v", res)
	}
}

func TestCheckThreshold(t *testing.T) {
	checks := fakeChecks{"docs-a": "2025-03-19T00:00:00Z"}
	if res, _ := newChecker(t, checks, 24*time.Hour).Check("writer"); !res.Stale {
		t.Error("36h old check should be stale under a 24h threshold")
	}
	if res, _ := newChecker(t, checks, 48*time.Hour).Check("writer"); res.Stale {
		t.Error("36h old check should be fresh under a 48h threshold")
	}
}

func TestCheckNeverChecked(t *testing.T) {
	c := newChecker(t, fakeChecks{}, 0)
	for _, skill := range []string{"toolkit", "orphan"} {
		res, err := c.Check(skill)
		if err != nil {
			t.Fatal(err)
		}
		if !res.Stale || res.StalenessDays != nil || !strings.Contains(res.Message, "has never been checked") {
			t.Errorf("%s: unexpected result %+v", skill, res)
		}
	}
}

func TestCheckUnknownSkill(t *testing.T) {
	res, err := newChecker(t, fakeChecks{}, 0).Check("ghost")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Stale || !strings.Contains(res.Message, "not found in config") {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestCheckAll(t *testing.T) {
	c := newChecker(t, fakeChecks{"docs-a": "2025-03-19T12:00:00Z"}, 0)
	if _, err := c.CheckAll(""); err == nil {
		t.Error("expected the broken source to surface an error")
	}

	results, err := c.CheckAll("writer")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Skill != "writer" {
		t.Errorf("unexpected results: %+v", results)
	}
}

func TestCheckAgainstStore(t *testing.T) {
	w, err := config.ParseWatchlist([]byte(freshnessWatchlist))
	if err != nil {
		t.Fatal(err)
	}
	checkedAt := now.Add(-2 * 24 * time.Hour)
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), store.WithClock(func() time.Time { return checkedAt }))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	if _, err := st.SyncDimensions(w); err != nil {
		t.Fatal(err)
	}
	if err := st.RecordWatermarkCheck("docs-a", watermark.Watermark{ETag: `"v1"`}, true, store.RecordSourceDocsMonitor); err != nil {
		t.Fatal(err)
	}

	c := NewChecker(st, w, 0, WithClock(func() time.Time { return now }))
	results, err := c.CheckAll("")
	if err != nil {
		t.Fatal(err)
	}
	byName := make(map[string]*Result)
	for _, r := range results {
		byName[r.Skill] = r
	}
	if len(byName) != 4 {
		t.Fatalf("expected 4 results, got %d", len(byName))
	}
	if r := byName["writer"]; r.Stale || *r.StalenessDays != 2 {
		t.Errorf("writer: %+v", r)
	}
	// repo-b was never checked, so the skill reports its fresh source only.
	if r := byName["toolkit"]; r.Stale || len(r.Sources) != 2 || !r.Sources[1].Stale {
		t.Errorf("toolkit: %+v", r)
	}
	if r := byName["fragile"]; !r.Stale {
		t.Errorf("fragile: %+v", r)
	}
}
