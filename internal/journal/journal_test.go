package journal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/joestump/skillwatch/internal/store"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "journal.jsonl")

	if err := Append(path, Event{SessionID: "s1", EventType: "file_modified", TargetPath: "a.py"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := Append(path, Event{SessionID: "s1"}); err != nil {
		t.Fatal(err)
	}
	if err := Append(path, Event{EventType: "orphan"}); err == nil {
		t.Error("expected an error without a session id")
	}

	events, _, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].EventType != "file_modified" || events[0].TargetPath != "a.py" || events[0].EventAt == "" {
		t.Errorf("unexpected first event: %+v", events[0])
	}
	if events[1].EventType != "unknown" {
		t.Errorf("EventType = %q, want unknown", events[1].EventType)
	}
}

func TestAppendRaw(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")

	payloads := []string{
		`{"event_type":"tool_use","target_path":"b.md","metadata":{"tool":"Edit"}}`,
		"not json at all\n",
		"   \n",
		`["a", "list"]`,
	}
	for _, p := range payloads {
		if err := AppendRaw(path, "s2", []byte(p)); err != nil {
			t.Fatalf("AppendRaw(%q): %v", p, err)
		}
	}

	events, _, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %+v", events)
	}
	if events[0].EventType != "tool_use" || events[0].TargetPath != "b.md" || events[0].Metadata["tool"] != "Edit" {
		t.Errorf("unexpected JSON event: %+v", events[0])
	}
	if events[1].EventType != "unknown" || events[1].Metadata["raw"] != "not json at all" {
		t.Errorf("unexpected raw event: %+v", events[1])
	}
	if events[2].Metadata["raw"] != `["a", "list"]` {
		t.Errorf("a non-object payload should be kept raw: %+v", events[2])
	}

	// Hook payloads may carry their own session id.
	hooked := filepath.Join(t.TempDir(), "journal.jsonl")
	if err := AppendRaw(hooked, "", []byte(`{"session_id":"s9","event_type":"stop"}`)); err != nil {
		t.Fatal(err)
	}
	if err := AppendRaw(hooked, "", []byte("plain text")); err == nil {
		t.Error("expected an error without any session id")
	}
	events, _, err = Read(hooked)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].SessionID != "s9" {
		t.Errorf("unexpected hooked events: %+v", events)
	}
}

func TestReadSkipsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	data := `{"session_id":"s1","event_type":"a"}
{broken
` + "\n" + `{"session_id":"s1","event_type":"b"}` + "\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	events, _, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 || events[1].EventType != "b" {
		t.Errorf("unexpected events: %+v", events)
	}

	missing, _, err := Read(filepath.Join(t.TempDir(), "none.jsonl"))
	if err != nil || missing != nil {
		t.Errorf("a missing buffer should read empty, got %v %v", missing, err)
	}
}

func TestIngest(t *testing.T) {
	st := openStore(t)
	path := filepath.Join(t.TempDir(), "journal.jsonl")

	at := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(Append(path, Event{SessionID: "s1", EventType: "session_start", EventAt: at.Format(time.RFC3339), WorkingDir: "/work"}))
	must(Append(path, Event{SessionID: "s1", EventType: "file_modified", TargetPath: "x.py", Metadata: map[string]any{"lines": 3}}))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	must(err)
	_, err = f.WriteString(`{"event_type":"no_session"}` + "\n")
	must(err)
	must(f.Close())

	n, err := Ingest(path, st)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if n != 2 {
		t.Errorf("ingested %d events, want 2", n)
	}

	info, err := os.Stat(path)
	must(err)
	if info.Size() != 0 {
		t.Errorf("expected the buffer to be truncated, size %d", info.Size())
	}

	events, err := st.SessionActivity("s1", 0, 10)
	must(err)
	if len(events) != 2 {
		t.Fatalf("expected 2 stored events, got %+v", events)
	}
	var start *store.SessionEventRecord
	for i := range events {
		if events[i].EventType == "session_start" {
			start = &events[i]
		}
	}
	if start == nil || !strings.HasPrefix(start.EventAt, "2025-03-01T09:30:00") {
		t.Errorf("the buffered timestamp should be kept: %+v", events)
	}

	var status string
	var rows int
	err = st.Conn().QueryRow(`SELECT status, rows_inserted FROM meta_load_log WHERE script_name = ?`, IngestScript).Scan(&status, &rows)
	must(err)
	if status != store.LoadSuccess || rows != 2 {
		t.Errorf("load log = %s/%d", status, rows)
	}

	// An empty buffer is a no-op without a load log entry.
	n, err = Ingest(path, st)
	if err != nil || n != 0 {
		t.Errorf("second ingest = %d, %v", n, err)
	}
	var runs int
	must(st.Conn().QueryRow(`SELECT COUNT(*) FROM meta_load_log`).Scan(&runs))
	if runs != 1 {
		t.Errorf("expected one load log entry, got %d", runs)
	}
}

func TestDropPrefixKeepsLateAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	first := []byte(`{"session_id":"s1","event_type":"a"}` + "\n")
	late := []byte(`{"session_id":"s1","event_type":"b"}` + "\n")
	if err := os.WriteFile(path, append(append([]byte{}, first...), late...), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := dropPrefix(path, first); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(late) {
		t.Errorf("buffer = %q, want %q", got, late)
	}
}

func TestDropPrefixKeepsRewrittenBuffer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	rewritten := []byte(`{"session_id":"s2","event_type":"c"}` + "\n")
	if err := os.WriteFile(path, rewritten, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := dropPrefix(path, []byte(`{"session_id":"s1","event_type":"a"}`+"\n")); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(rewritten) {
		t.Errorf("buffer = %q, want it unchanged", got)
	}
}

func TestWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "journal.jsonl")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := make(chan struct{}, 16)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(context.Context) error {
			calls <- struct{}{}
			return nil
		}, WithDebounce(10*time.Millisecond))
	}()

	wait := func(what string) {
		t.Helper()
		select {
		case <-calls:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %s", what)
		}
	}
	wait("the initial run")

	if err := Append(path, Event{SessionID: "s1", EventType: "a"}); err != nil {
		t.Fatal(err)
	}
	wait("a run after the write")

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not stop on cancel")
	}
}

func TestWatchStopsOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	boom := errors.New("boom")
	err := Watch(context.Background(), path, func(context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Errorf("expected fn's error, got %v", err)
	}
}
