package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/joestump/skillwatch/internal/classify"
	"github.com/joestump/skillwatch/internal/config"
	"github.com/joestump/skillwatch/internal/fingerprint"
	"github.com/joestump/skillwatch/internal/watermark"
)

// WatermarkRecord is the latest watermark check of a source.
type WatermarkRecord struct {
	LastModified string `json:"last_modified"`
	ETag         string `json:"etag"`
	CheckedAt    string `json:"last_checked"`
	Changed      bool   `json:"changed"`
}

// Watermark converts the record for comparison by the detector.
func (w *WatermarkRecord) Watermark() watermark.Watermark {
	if w == nil {
		return watermark.Watermark{}
	}
	t, _ := ParseTime(w.CheckedAt)
	return watermark.Watermark{LastModified: w.LastModified, ETag: w.ETag, CheckedAt: t}
}

// PageHash is the latest fingerprint of one page.
type PageHash struct {
	URL            string `json:"url"`
	Hash           string `json:"hash"`
	ContentPreview string `json:"content_preview"`
	LastChanged    string `json:"last_changed"`
}

// FileHash is the latest fingerprint of a source's local file.
type FileHash struct {
	Path        string `json:"path"`
	Hash        string `json:"hash"`
	LastChecked string `json:"last_checked"`
}

// SourceCheck is the latest commit batch recorded for a source repository.
type SourceCheck struct {
	LastChecked      string `json:"last_checked"`
	LastCommit       string `json:"last_commit"`
	CommitsSinceLast int    `json:"commits_since_last"`
}

// Freshness summarizes change and validation activity for a skill.
type Freshness struct {
	SkillName          string  `json:"skill_name"`
	SkillPath          string  `json:"skill_path"`
	LastChangeDetected *string `json:"last_change_detected"`
	LastValidated      *string `json:"last_validated"`
	BreakingCount      int     `json:"breaking_count"`
	AdditiveCount      int     `json:"additive_count"`
}

// Budget is the token cost of a skill's latest measurements.
type Budget struct {
	SkillName       string `json:"skill_name"`
	SkillMDTokens   int    `json:"skill_md_tokens"`
	ReferenceTokens int    `json:"reference_tokens"`
	TotalTokens     int    `json:"total_tokens"`
	OverBudget      bool   `json:"over_budget"`
	FileCount       int    `json:"file_count"`
}

// BudgetPoint is one day of a skill's token budget trend.
type BudgetPoint struct {
	SkillName       string `json:"skill_name"`
	Date            string `json:"measured_date"`
	TotalTokens     int    `json:"total_tokens"`
	SkillMDTokens   int    `json:"skill_md_tokens"`
	ReferenceTokens int    `json:"reference_tokens"`
	FileCount       int    `json:"file_count"`
}

// ChangeRecord is a stored change with its source name resolved.
type ChangeRecord struct {
	DetectedAt     string `json:"detected_at"`
	Source         string `json:"source_name"`
	TargetKind     string `json:"target_kind"`
	Target         string `json:"target"`
	Classification string `json:"classification"`
	Summary        string `json:"summary"`
	OldHash        string `json:"old_hash"`
	NewHash        string `json:"new_hash"`
	CommitHash     string `json:"commit_hash"`
	CommitCount    *int   `json:"commit_count"`
	RecordSource   string `json:"record_source"`
}

// Label renders the change target for reports.
func (c ChangeRecord) Label() string {
	switch c.TargetKind {
	case "page":
		return c.Target
	case "file":
		return "file://" + c.Target
	case "commits":
		return "commit:" + c.CommitHash
	default:
		return c.TargetKind + ":" + c.Target
	}
}

// ValidationRecord is a stored validation result.
type ValidationRecord struct {
	ValidatedAt  string   `json:"validated_at"`
	SkillName    string   `json:"skill_name"`
	Valid        bool     `json:"is_valid"`
	ErrorCount   int      `json:"error_count"`
	WarningCount int      `json:"warning_count"`
	Errors       []string `json:"errors"`
	Warnings     []string `json:"warnings"`
	Trigger      string   `json:"trigger_type"`
}

// SessionEventRecord is a stored session event.
type SessionEventRecord struct {
	SessionID  string `json:"session_id"`
	EventType  string `json:"event_type"`
	EventAt    string `json:"event_at"`
	TargetPath string `json:"target_path"`
	Metadata   string `json:"metadata"`
	WorkingDir string `json:"working_dir"`
}

// SourceRecord is the current version of a source.
type SourceRecord struct {
	Name          string   `json:"name"`
	Kind          string   `json:"kind"`
	Location      string   `json:"location"`
	LocalFile     string   `json:"local_file"`
	Lookback      string   `json:"lookback"`
	WatchedUnits  []string `json:"watched_units"`
	EffectiveFrom string   `json:"effective_from"`
}

// SkillRecord is the current version of a skill.
type SkillRecord struct {
	Name          string `json:"name"`
	Path          string `json:"path"`
	AutoUpdate    bool   `json:"auto_update"`
	EffectiveFrom string `json:"effective_from"`
}

func pageKeyFor(sourceKey, url string) string {
	return fingerprint.Key(sourceKey, url)
}

// lookupSource resolves a current source key for reads; "" means unknown.
func (s *Store) lookupSource(name string) (string, error) {
	key, err := s.sourceKey(name)
	if errors.Is(err, ErrUnknownDimension) {
		return "", nil
	}
	return key, err
}

// readErr maps errors from an uninitialized schema to "no data".
func readErr(what string, err error) error {
	if err == nil || errors.Is(err, sql.ErrNoRows) || isMissingTable(err) {
		return nil
	}
	return fmt.Errorf("%s: %w", what, err)
}

// LatestWatermark returns the most recent watermark check of a source, or nil.
func (s *Store) LatestWatermark(source string) (*WatermarkRecord, error) {
	key, err := s.lookupSource(source)
	if err != nil || key == "" {
		return nil, err
	}
	w := &WatermarkRecord{}
	err = s.q.QueryRow(
		`SELECT checked_at, last_modified, etag, changed FROM v_latest_watermark WHERE source_key = ?`, key,
	).Scan(&w.CheckedAt, &w.LastModified, &w.ETag, &w.Changed)
	if err != nil {
		return nil, readErr("latest watermark", err)
	}
	return w, nil
}

// LatestPageHash returns the latest fingerprint of one page, or nil.
func (s *Store) LatestPageHash(source, url string) (*PageHash, error) {
	key, err := s.lookupSource(source)
	if err != nil || key == "" {
		return nil, err
	}
	p := &PageHash{URL: url}
	err = s.q.QueryRow(
		`SELECT v.detected_at, v.current_hash, v.content_preview
		 FROM v_latest_page_hash v
		 JOIN dim_page p ON p.hash_key = v.page_key AND p.is_current = 1
		 WHERE v.page_key = ?`, pageKeyFor(key, url),
	).Scan(&p.LastChanged, &p.Hash, &p.ContentPreview)
	if err != nil {
		return nil, readErr("latest page hash", err)
	}
	return p, nil
}

// PageHashes returns the latest fingerprint of every page of a source, keyed
// by URL.
func (s *Store) PageHashes(source string) (map[string]PageHash, error) {
	out := make(map[string]PageHash)
	key, err := s.lookupSource(source)
	if err != nil || key == "" {
		return out, err
	}
	rows, err := s.q.Query(
		`SELECT p.url, v.detected_at, v.current_hash, v.content_preview
		 FROM v_latest_page_hash v
		 JOIN dim_page p ON p.hash_key = v.page_key AND p.is_current = 1
		 WHERE p.source_key = ?`, key,
	)
	if err != nil {
		return out, readErr("page hashes", err)
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		var p PageHash
		if err := rows.Scan(&p.URL, &p.LastChanged, &p.Hash, &p.ContentPreview); err != nil {
			return nil, fmt.Errorf("scan page hash: %w", err)
		}
		out[p.URL] = p
	}
	return out, rows.Err()
}

// FileHash returns the latest local-file fingerprint of a source, or nil.
func (s *Store) FileHash(source string) (*FileHash, error) {
	key, err := s.lookupSource(source)
	if err != nil || key == "" {
		return nil, err
	}
	f := &FileHash{}
	err = s.q.QueryRow(
		`SELECT file_path, current_hash, last_checked FROM v_latest_file_hash WHERE source_key = ?`, key,
	).Scan(&f.Path, &f.Hash, &f.LastChecked)
	if err != nil {
		return nil, readErr("file hash", err)
	}
	return f, nil
}

// LatestSourceCheck returns the latest commit batch of a source repository,
// or nil.
func (s *Store) LatestSourceCheck(source string) (*SourceCheck, error) {
	key, err := s.lookupSource(source)
	if err != nil || key == "" {
		return nil, err
	}
	c := &SourceCheck{}
	var count sql.NullInt64
	var hash sql.NullString
	err = s.q.QueryRow(
		`SELECT last_checked, commit_hash, commit_count FROM v_latest_source_check WHERE source_key = ?`, key,
	).Scan(&c.LastChecked, &hash, &count)
	if err != nil {
		return nil, readErr("latest source check", err)
	}
	c.LastCommit = hash.String
	c.CommitsSinceLast = int(count.Int64)
	return c, nil
}

// LatestPageCheckedAt returns the time of the latest page change of a
// source, or "".
func (s *Store) LatestPageCheckedAt(source string) (string, error) {
	key, err := s.lookupSource(source)
	if err != nil || key == "" {
		return "", err
	}
	var ts sql.NullString
	err = s.q.QueryRow(
		`SELECT MAX(fc.detected_at)
		 FROM fact_change fc
		 JOIN dim_page p ON p.hash_key = fc.page_key AND p.is_current = 1
		 WHERE p.source_key = ?`, key,
	).Scan(&ts)
	if err != nil {
		return "", readErr("latest page check", err)
	}
	return ts.String, nil
}

// LastCheckedAt returns the most recent time a source was observed by any
// check (watermark, page, local file or commit batch), or "" when never.
func (s *Store) LastCheckedAt(source string) (string, error) {
	var candidates []string

	wm, err := s.LatestWatermark(source)
	if err != nil {
		return "", err
	}
	if wm != nil {
		candidates = append(candidates, wm.CheckedAt)
	}
	page, err := s.LatestPageCheckedAt(source)
	if err != nil {
		return "", err
	}
	candidates = append(candidates, page)
	fh, err := s.FileHash(source)
	if err != nil {
		return "", err
	}
	if fh != nil {
		candidates = append(candidates, fh.LastChecked)
	}
	sc, err := s.LatestSourceCheck(source)
	if err != nil {
		return "", err
	}
	if sc != nil {
		candidates = append(candidates, sc.LastChecked)
	}

	var latest string
	for _, c := range candidates {
		if c > latest {
			latest = c
		}
	}
	return latest, nil
}

// SkillFreshness returns the freshness summary of one skill, or of every
// current skill when skill is "".
func (s *Store) SkillFreshness(skill string) ([]Freshness, error) {
	query := `SELECT skill_name, skill_path, last_change_detected, last_validated, breaking_count, additive_count
		FROM v_skill_freshness`
	var args []any
	if skill != "" {
		query += ` WHERE skill_name = ?`
		args = append(args, skill)
	}
	query += ` ORDER BY skill_name`

	rows, err := s.q.Query(query, args...)
	if err != nil {
		return nil, readErr("skill freshness", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []Freshness
	for rows.Next() {
		var f Freshness
		if err := rows.Scan(&f.SkillName, &f.SkillPath, &f.LastChangeDetected, &f.LastValidated, &f.BreakingCount, &f.AdditiveCount); err != nil {
			return nil, fmt.Errorf("scan skill freshness: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// SkillBudget returns the token budget of one skill, or of every current
// skill when skill is "".
func (s *Store) SkillBudget(skill string) ([]Budget, error) {
	query := `SELECT skill_name, skill_md_tokens, reference_tokens, total_tokens, over_budget, file_count
		FROM v_skill_budget`
	var args []any
	if skill != "" {
		query += ` WHERE skill_name = ?`
		args = append(args, skill)
	}
	query += ` ORDER BY skill_name`

	rows, err := s.q.Query(query, args...)
	if err != nil {
		return nil, readErr("skill budget", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []Budget
	for rows.Next() {
		var b Budget
		if err := rows.Scan(&b.SkillName, &b.SkillMDTokens, &b.ReferenceTokens, &b.TotalTokens, &b.OverBudget, &b.FileCount); err != nil {
			return nil, fmt.Errorf("scan skill budget: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// SkillBudgetTrend returns one point per skill and measurement day, oldest
// first.
func (s *Store) SkillBudgetTrend(skill string) ([]BudgetPoint, error) {
	query := `SELECT skill_name, measured_date, total_tokens, skill_md_tokens, reference_tokens, file_count
		FROM v_skill_budget_trend`
	var args []any
	if skill != "" {
		query += ` WHERE skill_name = ?`
		args = append(args, skill)
	}
	query += ` ORDER BY skill_name, measured_date`

	rows, err := s.q.Query(query, args...)
	if err != nil {
		return nil, readErr("skill budget trend", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []BudgetPoint
	for rows.Next() {
		var p BudgetPoint
		if err := rows.Scan(&p.SkillName, &p.Date, &p.TotalTokens, &p.SkillMDTokens, &p.ReferenceTokens, &p.FileCount); err != nil {
			return nil, fmt.Errorf("scan budget point: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// changeColumns resolves the source name from its latest version so history
// survives a source being removed from the watchlist.
const changeColumns = `fc.detected_at,
	COALESCE((SELECT ds.source_name FROM dim_source ds WHERE ds.hash_key = fc.source_key
	          ORDER BY ds.effective_from DESC LIMIT 1), ''),
	fc.target_kind, fc.target, fc.classification, fc.summary, fc.old_hash, fc.new_hash,
	COALESCE(fc.commit_hash, ''), fc.commit_count, fc.record_source`

func scanChange(scanner interface{ Scan(...any) error }, c *ChangeRecord) error {
	return scanner.Scan(&c.DetectedAt, &c.Source, &c.TargetKind, &c.Target, &c.Classification, &c.Summary,
		&c.OldHash, &c.NewHash, &c.CommitHash, &c.CommitCount, &c.RecordSource)
}

func (s *Store) queryChanges(what, query string, args ...any) ([]ChangeRecord, error) {
	rows, err := s.q.Query(query, args...)
	if err != nil {
		return nil, readErr(what, err)
	}
	defer rows.Close() //nolint:errcheck

	var out []ChangeRecord
	for rows.Next() {
		var c ChangeRecord
		if err := scanChange(rows, &c); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// RecentChanges returns changes detected in the last days days, newest
// first, optionally restricted to one classification.
func (s *Store) RecentChanges(days int, classification string) ([]ChangeRecord, error) {
	query := `SELECT ` + changeColumns + ` FROM fact_change fc WHERE fc.detected_at >= ?`
	args := []any{s.cutoff(days)}
	if classification != "" {
		c, err := classify.Parse(classification)
		if err != nil {
			return nil, err
		}
		query += ` AND fc.classification = ?`
		args = append(args, string(c))
	}
	query += ` ORDER BY fc.detected_at DESC, fc.rowid DESC`
	return s.queryChanges("recent changes", query, args...)
}

// ChangesForSkill returns the changes of the skill's current dependencies
// detected after since ("" for all), newest first.
func (s *Store) ChangesForSkill(skill, since string) ([]ChangeRecord, error) {
	key, err := s.skillKey(skill)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + changeColumns + `
		FROM fact_change fc
		JOIN skill_source_dep d ON d.source_key = fc.source_key AND d.is_current = 1
		WHERE d.skill_key = ? AND fc.classification NOT IN ('ERROR', 'NONE')`
	args := []any{key}
	if since != "" {
		query += ` AND fc.detected_at > ?`
		args = append(args, since)
	}
	query += ` ORDER BY fc.detected_at DESC, fc.rowid DESC`
	return s.queryChanges("changes for skill", query, args...)
}

// RecentValidations returns the latest validations, optionally of one skill.
func (s *Store) RecentValidations(skill string, limit int) ([]ValidationRecord, error) {
	query := `SELECT fv.validated_at, ds.skill_name, fv.is_valid, fv.error_count, fv.warning_count,
		fv.errors, fv.warnings, fv.trigger_type
		FROM fact_validation fv
		JOIN dim_skill ds ON ds.hash_key = fv.skill_key AND ds.is_current = 1`
	var args []any
	if skill != "" {
		query += ` WHERE ds.skill_name = ?`
		args = append(args, skill)
	}
	query += ` ORDER BY fv.validated_at DESC, fv.rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.q.Query(query, args...)
	if err != nil {
		return nil, readErr("recent validations", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []ValidationRecord
	for rows.Next() {
		var v ValidationRecord
		var errs, warns string
		if err := rows.Scan(&v.ValidatedAt, &v.SkillName, &v.Valid, &v.ErrorCount, &v.WarningCount, &errs, &warns, &v.Trigger); err != nil {
			return nil, fmt.Errorf("scan validation: %w", err)
		}
		_ = json.Unmarshal([]byte(errs), &v.Errors)
		_ = json.Unmarshal([]byte(warns), &v.Warnings)
		out = append(out, v)
	}
	return out, rows.Err()
}

// SessionActivity returns recent session events, newest first. An empty
// sessionID matches every session and days <= 0 disables the recency window.
func (s *Store) SessionActivity(sessionID string, days, limit int) ([]SessionEventRecord, error) {
	query := `SELECT session_id, event_type, event_at, target_path, metadata, working_dir
		FROM fact_session_event WHERE 1=1`
	var args []any
	if sessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, sessionID)
	}
	if days > 0 {
		query += ` AND event_at >= ?`
		args = append(args, s.cutoff(days))
	}
	query += ` ORDER BY event_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.q.Query(query, args...)
	if err != nil {
		return nil, readErr("session activity", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []SessionEventRecord
	for rows.Next() {
		var e SessionEventRecord
		if err := rows.Scan(&e.SessionID, &e.EventType, &e.EventAt, &e.TargetPath, &e.Metadata, &e.WorkingDir); err != nil {
			return nil, fmt.Errorf("scan session event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CurrentSources returns the current sources, optionally of one kind.
func (s *Store) CurrentSources(kind config.SourceKind) ([]SourceRecord, error) {
	query := `SELECT source_name, source_kind, location, local_file, lookback, watched_units, effective_from
		FROM dim_source WHERE is_current = 1`
	var args []any
	if kind != "" {
		query += ` AND source_kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY source_name`

	rows, err := s.q.Query(query, args...)
	if err != nil {
		return nil, readErr("current sources", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []SourceRecord
	for rows.Next() {
		var r SourceRecord
		var watched string
		if err := rows.Scan(&r.Name, &r.Kind, &r.Location, &r.LocalFile, &r.Lookback, &watched, &r.EffectiveFrom); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		_ = json.Unmarshal([]byte(watched), &r.WatchedUnits)
		out = append(out, r)
	}
	return out, rows.Err()
}

// CurrentSkills returns the current skills.
func (s *Store) CurrentSkills() ([]SkillRecord, error) {
	rows, err := s.q.Query(
		`SELECT skill_name, skill_path, auto_update, effective_from FROM dim_skill WHERE is_current = 1 ORDER BY skill_name`,
	)
	if err != nil {
		return nil, readErr("current skills", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []SkillRecord
	for rows.Next() {
		var r SkillRecord
		if err := rows.Scan(&r.Name, &r.Path, &r.AutoUpdate, &r.EffectiveFrom); err != nil {
			return nil, fmt.Errorf("scan skill: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LastUpdateAttempt returns the time of the skill's latest update attempt,
// or "".
func (s *Store) LastUpdateAttempt(skill string) (string, error) {
	key, err := s.skillKey(skill)
	if err != nil {
		return "", err
	}
	var ts sql.NullString
	err = s.q.QueryRow(`SELECT MAX(attempted_at) FROM fact_update_attempt WHERE skill_key = ?`, key).Scan(&ts)
	if err != nil {
		return "", readErr("last update attempt", err)
	}
	return ts.String, nil
}
