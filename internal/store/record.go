package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/joestump/skillwatch/internal/classify"
	"github.com/joestump/skillwatch/internal/watermark"
)

// MaxPreviewRunes caps the stored content preview of a change.
const MaxPreviewRunes = 3000

// Target is what a Change is about: a *PageTarget, *FileTarget,
// *CommitTarget or *BundleTarget.
type Target interface {
	kind() string
	label() string
}

// PageTarget is an addressable unit of a docs source.
type PageTarget struct{ URL string }

// FileTarget is a local static document of a docs source.
type FileTarget struct{ Path string }

// CommitTarget is a batch of commits in a source repository. Hash is the
// newest commit of the batch.
type CommitTarget struct {
	Hash  string
	Count int
}

// BundleTarget is the whole bundle of a docs source, used for failure notes.
type BundleTarget struct{ URL string }

func (*PageTarget) kind() string      { return "page" }
func (t *PageTarget) label() string   { return t.URL }
func (*FileTarget) kind() string      { return "file" }
func (t *FileTarget) label() string   { return t.Path }
func (*CommitTarget) kind() string    { return "commits" }
func (t *CommitTarget) label() string { return t.Hash }
func (*BundleTarget) kind() string    { return "bundle" }
func (t *BundleTarget) label() string { return t.URL }

// Change is a detected change to write as a fact.
type Change struct {
	Source         string
	Target         Target
	Classification classify.Classification
	OldHash        string
	NewHash        string
	Summary        string
	ContentPreview string
	RecordSource   string
	// DetectedAt defaults to now. Imported facts keep their original time.
	DetectedAt time.Time
}

// Validation is one skill validation run.
type Validation struct {
	Skill        string
	Valid        bool
	Errors       []string
	Warnings     []string
	Trigger      string
	RecordSource string
}

// UpdateAttempt is one staged or applied skill update.
type UpdateAttempt struct {
	Skill          string
	Mode           string
	Status         string
	ChangesApplied int
	BackupPath     string
	RecordSource   string
}

// ContentMeasurement is the size of one skill file.
type ContentMeasurement struct {
	Skill       string
	FilePath    string
	FileType    string
	Lines       int
	Words       int
	Chars       int
	ContentHash string
}

// EstimatedTokens is the rough token cost of the measured content.
func (m ContentMeasurement) EstimatedTokens() int { return m.Chars / 4 }

// SessionEvent is one event of an editing session.
type SessionEvent struct {
	SessionID  string
	EventType  string
	TargetPath string
	Metadata   map[string]any
	WorkingDir string
	StartedAt  *time.Time
	EndedAt    *time.Time
	// At defaults to now.
	At           time.Time
	RecordSource string
}

func (s *Store) sourceKey(name string) (string, error) {
	var key string
	err := s.q.QueryRow(`SELECT hash_key FROM dim_source WHERE source_name = ? AND is_current = 1`, name).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) || isMissingTable(err) {
		return "", fmt.Errorf("%w %q", ErrUnknownSource, name)
	}
	if err != nil {
		return "", fmt.Errorf("resolve source %s: %w", name, err)
	}
	return key, nil
}

func (s *Store) skillKey(name string) (string, error) {
	var key string
	err := s.q.QueryRow(`SELECT hash_key FROM dim_skill WHERE skill_name = ? AND is_current = 1`, name).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) || isMissingTable(err) {
		return "", fmt.Errorf("%w %q", ErrUnknownSkill, name)
	}
	if err != nil {
		return "", fmt.Errorf("resolve skill %s: %w", name, err)
	}
	return key, nil
}

// RecordWatermarkCheck writes the outcome of one watermark probe.
func (s *Store) RecordWatermarkCheck(source string, wm watermark.Watermark, changed bool, recordSource string) error {
	key, err := s.sourceKey(source)
	if err != nil {
		return err
	}
	if recordSource == "" {
		recordSource = RecordSourceDocsMonitor
	}
	checkedAt := s.stamp()
	if !wm.CheckedAt.IsZero() {
		checkedAt = FormatTime(wm.CheckedAt)
	}

	_, err = s.q.Exec(
		`INSERT INTO fact_watermark_check (source_key, checked_at, last_modified, etag, changed, inserted_at, record_source, session_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		key, checkedAt, wm.LastModified, wm.ETag, changed, s.stamp(), recordSource, s.nullSession(),
	)
	if err != nil {
		return fmt.Errorf("insert watermark check: %w", err)
	}
	s.countInsert()
	return nil
}

// RecordChange writes a detected change. Page rows are created on first
// observation.
func (s *Store) RecordChange(c Change) error {
	if c.Target == nil {
		return fmt.Errorf("record change for %s: missing target", c.Source)
	}
	if _, err := classify.Parse(string(c.Classification)); err != nil {
		return fmt.Errorf("record change for %s: %w", c.Source, err)
	}
	key, err := s.sourceKey(c.Source)
	if err != nil {
		return err
	}
	if c.RecordSource == "" {
		c.RecordSource = RecordSourceDocsMonitor
	}

	var pageKey, commitHash, commitCount any
	switch t := c.Target.(type) {
	case *PageTarget:
		if _, err := s.ensurePage(key, t.URL); err != nil {
			return err
		}
		pageKey = pageKeyFor(key, t.URL)
	case *CommitTarget:
		commitHash, commitCount = t.Hash, t.Count
	}

	detectedAt := s.stamp()
	if !c.DetectedAt.IsZero() {
		detectedAt = FormatTime(c.DetectedAt)
	}

	_, err = s.q.Exec(
		`INSERT INTO fact_change (source_key, page_key, target_kind, target, detected_at, classification,
		 old_hash, new_hash, summary, content_preview, commit_hash, commit_count, inserted_at, record_source, session_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		key, pageKey, c.Target.kind(), c.Target.label(), detectedAt, string(c.Classification),
		c.OldHash, c.NewHash, c.Summary, truncateRunes(c.ContentPreview, MaxPreviewRunes),
		commitHash, commitCount, s.stamp(), c.RecordSource, s.nullSession(),
	)
	if err != nil {
		return fmt.Errorf("insert change: %w", err)
	}
	s.countInsert()
	return nil
}

// RecordValidation writes one validation result.
func (s *Store) RecordValidation(v Validation) error {
	key, err := s.skillKey(v.Skill)
	if err != nil {
		return err
	}
	if v.Trigger == "" {
		v.Trigger = "manual"
	}
	if v.RecordSource == "" {
		v.RecordSource = RecordSourceValidateSkill
	}
	errs, err := json.Marshal(nonNil(v.Errors))
	if err != nil {
		return fmt.Errorf("marshal errors: %w", err)
	}
	warns, err := json.Marshal(nonNil(v.Warnings))
	if err != nil {
		return fmt.Errorf("marshal warnings: %w", err)
	}

	now := s.stamp()
	_, err = s.q.Exec(
		`INSERT INTO fact_validation (skill_key, validated_at, is_valid, error_count, warning_count, errors, warnings,
		 trigger_type, inserted_at, record_source, session_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		key, now, v.Valid, len(v.Errors), len(v.Warnings), string(errs), string(warns),
		v.Trigger, now, v.RecordSource, s.nullSession(),
	)
	if err != nil {
		return fmt.Errorf("insert validation: %w", err)
	}
	s.countInsert()
	return nil
}

// RecordUpdateAttempt writes one update attempt.
func (s *Store) RecordUpdateAttempt(u UpdateAttempt) error {
	key, err := s.skillKey(u.Skill)
	if err != nil {
		return err
	}
	if u.Status == "" {
		u.Status = "pending_review"
	}
	if u.RecordSource == "" {
		u.RecordSource = RecordSourceApplyUpdates
	}

	now := s.stamp()
	_, err = s.q.Exec(
		`INSERT INTO fact_update_attempt (skill_key, attempted_at, mode, status, changes_applied, backup_path,
		 inserted_at, record_source, session_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		key, now, u.Mode, u.Status, u.ChangesApplied, u.BackupPath, now, u.RecordSource, s.nullSession(),
	)
	if err != nil {
		return fmt.Errorf("insert update attempt: %w", err)
	}
	s.countInsert()
	return nil
}

// RecordContentMeasurement writes the size of one skill file.
func (s *Store) RecordContentMeasurement(m ContentMeasurement) error {
	key, err := s.skillKey(m.Skill)
	if err != nil {
		return err
	}

	now := s.stamp()
	_, err = s.q.Exec(
		`INSERT INTO fact_content_measurement (skill_key, file_path, file_type, measured_at, line_count, word_count,
		 char_count, estimated_tokens, content_hash, inserted_at, record_source, session_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		key, m.FilePath, m.FileType, now, m.Lines, m.Words, m.Chars, m.EstimatedTokens(),
		m.ContentHash, now, RecordSourceMeasure, s.nullSession(),
	)
	if err != nil {
		return fmt.Errorf("insert content measurement: %w", err)
	}
	s.countInsert()
	return nil
}

// RecordSessionEvent writes one session event. Session events carry their own
// session id and reference no dimension.
func (s *Store) RecordSessionEvent(e SessionEvent) error {
	if e.SessionID == "" || e.EventType == "" {
		return fmt.Errorf("record session event: session id and event type are required")
	}
	if e.RecordSource == "" {
		e.RecordSource = RecordSourceJournal
	}
	var meta string
	if len(e.Metadata) > 0 {
		data, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshal session metadata: %w", err)
		}
		meta = string(data)
	}
	at := s.stamp()
	if !e.At.IsZero() {
		at = FormatTime(e.At)
	}

	_, err := s.q.Exec(
		`INSERT INTO fact_session_event (session_id, event_type, event_at, target_path, metadata, started_at, ended_at,
		 working_dir, inserted_at, record_source, capture_session_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.EventType, at, e.TargetPath, meta, optionalTime(e.StartedAt), optionalTime(e.EndedAt),
		e.WorkingDir, s.stamp(), e.RecordSource, s.nullSession(),
	)
	if err != nil {
		return fmt.Errorf("insert session event: %w", err)
	}
	s.countInsert()
	return nil
}

// RecordSessionStart writes a session_start event.
func (s *Store) RecordSessionStart(sessionID, workingDir string) error {
	now := s.now()
	return s.RecordSessionEvent(SessionEvent{
		SessionID:  sessionID,
		EventType:  "session_start",
		WorkingDir: workingDir,
		StartedAt:  &now,
	})
}

// RecordSessionEnd writes a session_end event.
func (s *Store) RecordSessionEnd(sessionID string) error {
	now := s.now()
	return s.RecordSessionEvent(SessionEvent{
		SessionID: sessionID,
		EventType: "session_end",
		EndedAt:   &now,
	})
}

func optionalTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return FormatTime(*t)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
