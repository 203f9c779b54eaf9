package identify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/joestump/skillwatch/internal/classify"
	"github.com/joestump/skillwatch/internal/fingerprint"
)

const sampleBundle = `Preamble that belongs to no unit.

# Agent **Skills**
Source: https://docs.example.com/en/skills

Skills are folders of instructions.
They load on demand.

# Hooks
Source: https://docs.example.com/en/hooks

Hooks run shell commands.
# Not a unit heading
Because the next line is not a source marker.

# Memory
Source: http://docs.example.com/en/memory
`

func TestSplit(t *testing.T) {
	units := Split(sampleBundle)
	if len(units) != 3 {
		t.Fatalf("expected 3 units, got %d: %+v", len(units), units)
	}

	if units[0].URL != "https://docs.example.com/en/skills" {
		t.Errorf("unit 0 URL = %q", units[0].URL)
	}
	if units[0].Title != "Agent Skills" {
		t.Errorf("unit 0 Title = %q, want %q", units[0].Title, "Agent Skills")
	}
	if units[0].Content != "Skills are folders of instructions.\nThey load on demand." {
		t.Errorf("unit 0 Content = %q", units[0].Content)
	}

	if !strings.Contains(units[1].Content, "# Not a unit heading") {
		t.Errorf("heading without a source line should stay in the unit body: %q", units[1].Content)
	}

	if units[2].URL != "http://docs.example.com/en/memory" || units[2].Content != "" {
		t.Errorf("unexpected trailing unit: %+v", units[2])
	}
}

func TestSplitEmptyAndDuplicates(t *testing.T) {
	if units := Split(""); len(units) != 0 {
		t.Fatalf("expected no units for empty bundle, got %d", len(units))
	}

	bundle := "# A\nSource: https://x/a\none\n# B\nSource: https://x/b\ntwo\n# A again\nSource: https://x/a\nthree\n"
	units := Split(bundle)
	if len(units) != 2 {
		t.Fatalf("expected 2 units, got %d", len(units))
	}
	if units[0].URL != "https://x/a" || units[0].Content != "three" {
		t.Errorf("later duplicate should win in first position: %+v", units[0])
	}
}

func TestCompare(t *testing.T) {
	units := []Unit{
		{URL: "u1", Content: "hello"},
		{URL: "u2", Content: "same"},
	}
	stored := map[string]StoredUnit{
		"u2": {Hash: fingerprint.Content("same"), Content: "same"},
	}

	res := Compare(units, nil, stored)
	if res.Compared != 2 {
		t.Errorf("Compared = %d, want 2", res.Compared)
	}
	if len(res.Changes) != 1 {
		t.Fatalf("expected 1 change, got %d", len(res.Changes))
	}
	c := res.Changes[0]
	if c.URL != "u1" || c.OldHash != "" || c.NewHash != fingerprint.Content("hello") {
		t.Errorf("unexpected change: %+v", c)
	}
	if classify.Content(c.OldContent, c.NewContent) != classify.Additive {
		t.Error("initial capture should classify as ADDITIVE")
	}
}

func TestCompareWatchedFilter(t *testing.T) {
	units := []Unit{
		{URL: "u1", Content: "one"},
		{URL: "u2", Content: "two"},
	}
	res := Compare(units, []string{"u2", "u9"}, nil)
	if len(res.Changes) != 1 || res.Changes[0].URL != "u2" {
		t.Fatalf("expected only u2, got %+v", res.Changes)
	}
	if len(res.Missing) != 1 || res.Missing[0] != "u9" {
		t.Errorf("expected u9 missing, got %v", res.Missing)
	}
}

func TestIdentifyOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleBundle))
	}))
	defer srv.Close()

	id := New(time.Second)
	res, err := id.Identify(context.Background(), srv.URL, []string{"https://docs.example.com/en/hooks"}, nil)
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if len(res.Changes) != 1 {
		t.Fatalf("expected 1 change, got %d", len(res.Changes))
	}

	stored := map[string]StoredUnit{
		res.Changes[0].URL: {Hash: res.Changes[0].NewHash, Content: res.Changes[0].NewContent},
	}
	again, err := id.Identify(context.Background(), srv.URL, []string{"https://docs.example.com/en/hooks"}, stored)
	if err != nil {
		t.Fatalf("second Identify: %v", err)
	}
	if len(again.Changes) != 0 {
		t.Errorf("expected no changes on re-check, got %d", len(again.Changes))
	}
}

func TestIdentifyEmptyBundle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	res, err := New(time.Second).Identify(context.Background(), srv.URL, nil, nil)
	if err != nil {
		t.Fatalf("empty bundle should not fail: %v", err)
	}
	if len(res.Changes) != 0 {
		t.Errorf("expected zero changes, got %d", len(res.Changes))
	}
}

func TestIdentifyErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := New(time.Second).Identify(context.Background(), srv.URL, nil, nil); err == nil {
		t.Fatal("expected error for 404")
	}

	big := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer big.Close()

	if _, err := New(time.Second, WithMaxBytes(10)).Identify(context.Background(), big.URL, nil, nil); err == nil {
		t.Fatal("expected error for oversized body")
	}
}

func TestFetchPageHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head><title>Hooks</title><script>var x;</script></head>
<body><nav>menu</nav><main><h1>Hooks</h1><p>Hooks run <strong>shell</strong> commands.</p></main></body></html>`))
	}))
	defer srv.Close()

	u, err := New(time.Second).FetchPage(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if u.Title != "Hooks" {
		t.Errorf("Title = %q", u.Title)
	}
	if !strings.Contains(u.Content, "**shell**") {
		t.Errorf("expected markdown emphasis, got %q", u.Content)
	}
	if strings.Contains(u.Content, "menu") {
		t.Errorf("navigation should be dropped: %q", u.Content)
	}
}

func TestFetchPagePlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("  plain body \n"))
	}))
	defer srv.Close()

	u, err := New(time.Second).FetchPage(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if u.Content != "plain body" {
		t.Errorf("Content = %q", u.Content)
	}
}

func TestCheckLocalFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "guide.pdf")

	fc, err := CheckLocalFile(path, "")
	if err != nil || fc != nil {
		t.Fatalf("missing file should be ignored, got %+v, %v", fc, err)
	}

	if err := os.WriteFile(path, []byte("%PDF-1.7"), 0o644); err != nil {
		t.Fatal(err)
	}
	fc, err = CheckLocalFile(path, "")
	if err != nil {
		t.Fatalf("CheckLocalFile: %v", err)
	}
	if fc == nil || fc.Summary != "initial capture" || fc.Classification != classify.Additive {
		t.Fatalf("unexpected first check: %+v", fc)
	}
	if fc.URL != "file://"+path {
		t.Errorf("URL = %q", fc.URL)
	}

	same, err := CheckLocalFile(path, fc.NewHash)
	if err != nil || same != nil {
		t.Fatalf("unchanged file should report nothing, got %+v, %v", same, err)
	}

	if err := os.WriteFile(path, []byte("%PDF-1.7 v2"), 0o644); err != nil {
		t.Fatal(err)
	}
	changed, err := CheckLocalFile(path, fc.NewHash)
	if err != nil {
		t.Fatalf("CheckLocalFile: %v", err)
	}
	if changed == nil || changed.Summary != "local file changed" || changed.OldHash != fc.NewHash {
		t.Errorf("unexpected change: %+v", changed)
	}
}
