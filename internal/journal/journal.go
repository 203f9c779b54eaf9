// Package journal buffers editing-session events in a JSONL file and
// ingests the buffer into the store in batches.
//
// Appending never touches the store, so hooks that must return quickly can
// call it directly.
package journal

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joestump/skillwatch/internal/store"
)

// IngestScript names ingest batches in the load log.
const IngestScript = "journal_ingest"

// Event is one buffered session event.
type Event struct {
	SessionID  string         `json:"session_id"`
	EventType  string         `json:"event_type"`
	EventAt    string         `json:"event_at"`
	TargetPath string         `json:"target_path"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	WorkingDir string         `json:"working_dir,omitempty"`
}

// Append writes ev as one line of the buffer at path, creating the file and
// its directory as needed. EventAt defaults to now and EventType to
// "unknown".
func Append(path string, ev Event) error {
	if ev.SessionID == "" {
		return errors.New("append event: session id is required")
	}
	if ev.EventType == "" {
		ev.EventType = "unknown"
	}
	if ev.EventAt == "" {
		ev.EventAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create journal dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close() //nolint:errcheck
		return fmt.Errorf("write journal: %w", err)
	}
	return f.Close()
}

// AppendRaw appends a hook payload. JSON payloads supply event_type,
// target_path and metadata, and session_id when sessionID is empty; anything else is kept as {"raw": text} metadata.
// Blank payloads are ignored.
func AppendRaw(path, sessionID string, data []byte) error {
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil
	}

	ev := Event{SessionID: sessionID}
	var payload map[string]any
	if err := json.Unmarshal([]byte(text), &payload); err != nil || payload == nil {
		ev.Metadata = map[string]any{"raw": strings.ToValidUTF8(text, "\uFFFD")}
		return Append(path, ev)
	}

	if ev.SessionID == "" {
		ev.SessionID, _ = payload["session_id"].(string)
	}
	ev.EventType, _ = payload["event_type"].(string)
	ev.TargetPath, _ = payload["target_path"].(string)
	ev.WorkingDir, _ = payload["working_dir"].(string)
	ev.Metadata, _ = payload["metadata"].(map[string]any)
	return Append(path, ev)
}

// Read parses the buffer at path. Malformed lines are skipped; a missing
// buffer reads as empty.
func Read(path string) ([]Event, []byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read journal: %w", err)
	}

	var events []Event
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, nil, fmt.Errorf("scan journal: %w", err)
	}
	return events, data, nil
}

// Ingest records every buffered event with a session id as a SessionEvent
// fact, then drops the ingested lines from the buffer. Lines appended while
// the batch ran are kept. It returns the number of events recorded.
func Ingest(path string, st *store.Store) (int, error) {
	events, consumed, err := Read(path)
	if err != nil || len(events) == 0 {
		return 0, err
	}

	if err := st.LogLoadStart(IngestScript); err != nil {
		return 0, err
	}
	count := 0
	err = st.InTx(func(tx *store.Store) error {
		for _, ev := range events {
			if ev.SessionID == "" {
				continue
			}
			rec := store.SessionEvent{
				SessionID:    ev.SessionID,
				EventType:    ev.EventType,
				TargetPath:   ev.TargetPath,
				Metadata:     ev.Metadata,
				WorkingDir:   ev.WorkingDir,
				RecordSource: store.RecordSourceJournal,
			}
			if rec.EventType == "" {
				rec.EventType = "unknown"
			}
			if at, err := store.ParseTime(ev.EventAt); err == nil {
				rec.At = at
			}
			if err := tx.RecordSessionEvent(rec); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		_ = st.LogLoadEnd(IngestScript, 0, store.LoadFailed, err.Error())
		return 0, fmt.Errorf("ingest journal: %w", err)
	}
	if err := st.LogLoadEnd(IngestScript, int64(count), store.LoadSuccess, ""); err != nil {
		return count, err
	}
	return count, dropPrefix(path, consumed)
}

// dropPrefix removes consumed from the head of the buffer, keeping anything
// appended after it was read. A buffer that no longer starts with consumed
// was rewritten meanwhile and is left as is.
func dropPrefix(path string, consumed []byte) error {
	current, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("truncate journal: %w", err)
	}
	if !bytes.HasPrefix(current, consumed) {
		return nil
	}
	if err := os.WriteFile(path, current[len(consumed):], 0o644); err != nil {
		return fmt.Errorf("truncate journal: %w", err)
	}
	return nil
}
