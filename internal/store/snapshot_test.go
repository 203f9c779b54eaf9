package store

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/joestump/skillwatch/internal/classify"
	"github.com/joestump/skillwatch/internal/watermark"
)

func seedState(t *testing.T, s *Store, clock *testClock) {
	t.Helper()
	if err := s.RecordWatermarkCheck("docs-a", watermark.Watermark{LastModified: "Mon, 03 Mar 2025 10:00:00 GMT", ETag: `"abc"`}, true, ""); err != nil {
		t.Fatal(err)
	}
	for _, url := range []string{"https://example.com/u1", "https://example.com/u2"} {
		if err := s.RecordChange(Change{Source: "docs-a", Target: &PageTarget{URL: url}, Classification: classify.Additive, NewHash: "hash-" + url, ContentPreview: "preview"}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.RecordChange(Change{Source: "docs-a", Target: &FileTarget{Path: "guide.pdf"}, Classification: classify.Additive, NewHash: "file-hash"}); err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Minute)
	if err := s.RecordChange(Change{Source: "repo-b", Target: &CommitTarget{Hash: "0123456789ab", Count: 4}, Classification: classify.Additive}); err != nil {
		t.Fatal(err)
	}
}

func TestExportSnapshot(t *testing.T) {
	s, clock := openSyncedStore(t)

	empty, err := s.ExportSnapshot()
	if err != nil {
		t.Fatalf("ExportSnapshot: %v", err)
	}
	if len(empty.Docs) != 0 || len(empty.Sources) != 0 {
		t.Errorf("expected empty snapshot before any check, got %+v", empty)
	}

	seedState(t, s, clock)
	snap, err := s.ExportSnapshot()
	if err != nil {
		t.Fatalf("ExportSnapshot: %v", err)
	}

	docs := snap.Docs["docs-a"]
	if docs == nil || docs.Watermark == nil || docs.Watermark.ETag != `"abc"` {
		t.Fatalf("unexpected docs state: %+v", docs)
	}
	if len(docs.Pages) != 2 || docs.Pages["https://example.com/u1"].Hash != "hash-https://example.com/u1" {
		t.Errorf("unexpected pages: %+v", docs.Pages)
	}
	if docs.Pages["https://example.com/u1"].LastChecked != docs.Watermark.LastChecked {
		t.Errorf("page last_checked should follow the watermark check")
	}
	if docs.FileHash != "file-hash" {
		t.Errorf("FileHash = %q", docs.FileHash)
	}
	src := snap.Sources["repo-b"]
	if src == nil || src.LastCommit != "0123456789ab" || src.CommitsSinceLast != 4 {
		t.Errorf("unexpected source check: %+v", src)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s, clock := openSyncedStore(t)
	seedState(t, s, clock)

	path := filepath.Join(t.TempDir(), "state", "state.json")
	exported, err := s.ExportSnapshotFile(path)
	if err != nil {
		t.Fatalf("ExportSnapshotFile: %v", err)
	}

	fresh, _ := openSyncedStore(t)
	summary, err := fresh.ImportSnapshotFile(path)
	if err != nil {
		t.Fatalf("ImportSnapshotFile: %v", err)
	}
	if summary.Watermarks != 1 || summary.Pages != 2 || summary.FileHashes != 1 || summary.SourceChecks != 1 || len(summary.Skipped) != 0 {
		t.Errorf("unexpected import summary: %+v", summary)
	}

	reexported, err := fresh.ExportSnapshot()
	if err != nil {
		t.Fatalf("ExportSnapshot: %v", err)
	}
	if !reflect.DeepEqual(exported, reexported) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", reexported, exported)
	}

	n := countRows(t, fresh, `SELECT COUNT(*) FROM fact_change WHERE record_source = ?`, RecordSourceMigrateState)
	if n != 4 {
		t.Errorf("expected 4 imported changes tagged migrate_state, got %d", n)
	}
}

func TestImportSnapshotSkipsUnknown(t *testing.T) {
	s, _ := openSyncedStore(t)

	snap := &Snapshot{
		Docs: map[string]*DocsState{
			"ghost":  {FileHash: "x"},
			"repo-b": {FileHash: "x"},
			"docs-a": {
				Watermark: &SnapshotWatermark{ETag: `"e"`, LastChecked: "2025-01-02T03:04:05.123456"},
				Pages: map[string]SnapshotPage{
					"https://example.com/u1":  {Hash: "h", LastChanged: "2025-01-02T03:04:05"},
					"https://example.com/new": {},
				},
			},
		},
		Sources: map[string]*SourceCheck{
			"docs-a": {LastCommit: "abc", CommitsSinceLast: 1},
		},
	}
	summary, err := s.ImportSnapshot(snap)
	if err != nil {
		t.Fatalf("ImportSnapshot: %v", err)
	}
	want := []string{"docs/ghost", "docs/repo-b", "sources/docs-a"}
	if !reflect.DeepEqual(summary.Skipped, want) {
		t.Errorf("Skipped = %v, want %v", summary.Skipped, want)
	}
	if summary.Watermarks != 1 || summary.Pages != 1 {
		t.Errorf("unexpected summary: %+v", summary)
	}

	wm, _ := s.LatestWatermark("docs-a")
	if wm == nil || wm.CheckedAt != "2025-01-02T03:04:05.123456Z" {
		t.Errorf("naive timestamps should be read as UTC, got %+v", wm)
	}
	page, _ := s.LatestPageHash("docs-a", "https://example.com/u1")
	if page == nil || page.LastChanged != "2025-01-02T03:04:05.000000Z" {
		t.Errorf("unexpected imported page: %+v", page)
	}
	if n := countRows(t, s, `SELECT COUNT(*) FROM dim_page WHERE url = 'https://example.com/new'`); n != 1 {
		t.Error("hashless pages should still be registered")
	}
}

func TestImportSnapshotFileErrors(t *testing.T) {
	s, _ := openSyncedStore(t)
	if _, err := s.ImportSnapshotFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
	bad := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ImportSnapshotFile(bad); err == nil {
		t.Error("expected error for malformed snapshot")
	}
}
