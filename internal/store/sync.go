package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/joestump/skillwatch/internal/config"
	"github.com/joestump/skillwatch/internal/fingerprint"
)

// SyncReport counts what one dimension sync did.
type SyncReport struct {
	Inserted     int // new natural keys
	Versioned    int // attribute changes (old version closed, new one opened)
	Verified     int // unchanged rows whose last_verified_at was touched
	Closed       int // sources and skills no longer declared
	PagesCreated int
	EdgesAdded   int
	EdgesRetired int
}

// Changed reports whether the sync opened or closed any row.
func (r SyncReport) Changed() bool {
	return r.Inserted+r.Versioned+r.Closed+r.PagesCreated+r.EdgesAdded+r.EdgesRetired > 0
}

// SyncDimensions brings the dimension tables in line with the watchlist in a
// single transaction. Running it twice with the same watchlist only touches
// last_verified_at.
func (s *Store) SyncDimensions(w *config.Watchlist) (SyncReport, error) {
	var report SyncReport
	err := s.InTx(func(tx *Store) error {
		var err error
		report, err = tx.syncDimensions(w)
		return err
	})
	if err != nil {
		return SyncReport{}, fmt.Errorf("sync dimensions: %w", err)
	}
	s.logger.Info("dimensions synced",
		"inserted", report.Inserted, "versioned", report.Versioned,
		"closed", report.Closed, "edges_added", report.EdgesAdded,
		"edges_retired", report.EdgesRetired)
	return report, nil
}

func (s *Store) syncDimensions(w *config.Watchlist) (SyncReport, error) {
	var report SyncReport
	now := s.stamp()

	declaredSources := make(map[string]bool)
	for _, src := range w.Sources {
		key := fingerprint.Key(src.Name())
		declaredSources[key] = true
		outcome, err := s.upsertSource(src, key, now)
		if err != nil {
			return report, err
		}
		report.add(outcome)

		if docs, ok := src.(*config.DocsSource); ok {
			for _, u := range docs.WatchedUnits {
				created, err := s.ensurePage(key, u)
				if err != nil {
					return report, err
				}
				if created {
					report.PagesCreated++
				}
			}
		}
	}
	closed, err := s.closeUndeclared("dim_source", declaredSources, now)
	if err != nil {
		return report, err
	}
	report.Closed += closed

	declaredSkills := make(map[string]bool)
	for _, sk := range w.Skills {
		key := fingerprint.Key(sk.Name)
		declaredSkills[key] = true
		outcome, err := s.upsertSkill(sk, key, now)
		if err != nil {
			return report, err
		}
		report.add(outcome)
	}
	closed, err = s.closeUndeclared("dim_skill", declaredSkills, now)
	if err != nil {
		return report, err
	}
	report.Closed += closed

	added, retired, err := s.syncEdges(w, now)
	if err != nil {
		return report, err
	}
	report.EdgesAdded, report.EdgesRetired = added, retired
	return report, nil
}

type upsertOutcome int

const (
	outcomeInserted upsertOutcome = iota
	outcomeVersioned
	outcomeVerified
)

func (r *SyncReport) add(o upsertOutcome) {
	switch o {
	case outcomeInserted:
		r.Inserted++
	case outcomeVersioned:
		r.Versioned++
	case outcomeVerified:
		r.Verified++
	}
}

// currentDiff returns the hash_diff of the current row for key, or "" with
// found=false when there is none.
func (s *Store) currentDiff(table, key string) (diff string, found bool, err error) {
	err = s.q.QueryRow(`SELECT hash_diff FROM `+table+` WHERE hash_key = ? AND is_current = 1`, key).Scan(&diff)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read current %s %s: %w", table, key, err)
	}
	return diff, true, nil
}

func (s *Store) closeCurrent(table, key, now string) error {
	_, err := s.q.Exec(`UPDATE `+table+` SET effective_to = ?, is_current = 0 WHERE hash_key = ? AND is_current = 1`, now, key)
	if err != nil {
		return fmt.Errorf("close %s %s: %w", table, key, err)
	}
	return nil
}

func (s *Store) touch(table, key, now string) error {
	_, err := s.q.Exec(`UPDATE `+table+` SET last_verified_at = ? WHERE hash_key = ? AND is_current = 1`, now, key)
	if err != nil {
		return fmt.Errorf("touch %s %s: %w", table, key, err)
	}
	return nil
}

// scd2 applies the close-old/open-new rule for one key and calls insert when
// a new version is needed.
func (s *Store) scd2(table, key, diff, now string, insert func() error) (upsertOutcome, error) {
	stored, found, err := s.currentDiff(table, key)
	if err != nil {
		return 0, err
	}
	if found && stored == diff {
		return outcomeVerified, s.touch(table, key, now)
	}
	outcome := outcomeInserted
	if found {
		if err := s.closeCurrent(table, key, now); err != nil {
			return 0, err
		}
		outcome = outcomeVersioned
	}
	if err := insert(); err != nil {
		return 0, err
	}
	return outcome, nil
}

func (s *Store) upsertSource(src config.Source, key, now string) (upsertOutcome, error) {
	diff := fingerprint.Attributes(src.Attributes())

	var localFile, lookback string
	var watched []string
	var htmlFallback bool
	switch v := src.(type) {
	case *config.DocsSource:
		localFile, watched, htmlFallback = v.LocalFile, v.WatchedUnits, v.HTMLFallback
	case *config.RepoSource:
		lookback, watched = v.Lookback, v.WatchedPaths
	}
	watchedJSON, err := marshalSorted(watched)
	if err != nil {
		return 0, err
	}

	return s.scd2("dim_source", key, diff, now, func() error {
		_, err := s.q.Exec(
			`INSERT INTO dim_source (hash_key, source_name, source_kind, location, local_file, lookback,
			 watched_units, html_fallback, effective_from, hash_diff, record_source, created_at, session_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			key, src.Name(), string(src.Kind()), src.Location(), localFile, lookback,
			watchedJSON, htmlFallback, now, diff, RecordSourceConfigSync, now, s.nullSession(),
		)
		if err != nil {
			return fmt.Errorf("insert source %s: %w", src.Name(), err)
		}
		return nil
	})
}

func (s *Store) upsertSkill(sk config.Skill, key, now string) (upsertOutcome, error) {
	diff := fingerprint.Attributes(sk.Attributes())
	return s.scd2("dim_skill", key, diff, now, func() error {
		_, err := s.q.Exec(
			`INSERT INTO dim_skill (hash_key, skill_name, skill_path, auto_update, effective_from,
			 hash_diff, record_source, created_at, session_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			key, sk.Name, sk.Path, sk.AutoUpdate, now, diff, RecordSourceConfigSync, now, s.nullSession(),
		)
		if err != nil {
			return fmt.Errorf("insert skill %s: %w", sk.Name, err)
		}
		return nil
	})
}

// closeUndeclared closes the current rows of table whose key is not declared.
func (s *Store) closeUndeclared(table string, declared map[string]bool, now string) (int, error) {
	rows, err := s.q.Query(`SELECT hash_key FROM ` + table + ` WHERE is_current = 1`)
	if err != nil {
		return 0, fmt.Errorf("list current %s: %w", table, err)
	}
	var stale []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("scan %s key: %w", table, err)
		}
		if !declared[key] {
			stale = append(stale, key)
		}
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, key := range stale {
		if err := s.closeCurrent(table, key, now); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}

type edge struct{ skill, source string }

func (s *Store) syncEdges(w *config.Watchlist, now string) (added, retired int, err error) {
	declared := make(map[edge]bool)
	for _, sk := range w.Skills {
		for _, src := range sk.Sources {
			declared[edge{fingerprint.Key(sk.Name), fingerprint.Key(src)}] = true
		}
	}

	rows, err := s.q.Query(`SELECT skill_key, source_key FROM skill_source_dep WHERE is_current = 1`)
	if err != nil {
		return 0, 0, fmt.Errorf("list dependency edges: %w", err)
	}
	current := make(map[edge]bool)
	for rows.Next() {
		var e edge
		if err := rows.Scan(&e.skill, &e.source); err != nil {
			_ = rows.Close()
			return 0, 0, fmt.Errorf("scan dependency edge: %w", err)
		}
		current[e] = true
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return 0, 0, err
	}

	for e := range current {
		if declared[e] {
			continue
		}
		if _, err := s.q.Exec(
			`UPDATE skill_source_dep SET effective_to = ?, is_current = 0
			 WHERE skill_key = ? AND source_key = ? AND is_current = 1`,
			now, e.skill, e.source,
		); err != nil {
			return 0, 0, fmt.Errorf("retire dependency edge: %w", err)
		}
		retired++
	}

	for e := range declared {
		if current[e] {
			continue
		}
		if _, err := s.q.Exec(
			`INSERT INTO skill_source_dep (skill_key, source_key, effective_from, record_source, created_at, session_id)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			e.skill, e.source, now, RecordSourceConfigSync, now, s.nullSession(),
		); err != nil {
			return 0, 0, fmt.Errorf("insert dependency edge: %w", err)
		}
		added++
	}
	return added, retired, nil
}

// ensurePage creates the current page row for (sourceKey, url) if missing.
func (s *Store) ensurePage(sourceKey, url string) (created bool, err error) {
	key := pageKeyFor(sourceKey, url)
	var one int
	err = s.q.QueryRow(`SELECT 1 FROM dim_page WHERE hash_key = ? AND is_current = 1`, key).Scan(&one)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("read page %s: %w", url, err)
	}

	now := s.stamp()
	_, err = s.q.Exec(
		`INSERT INTO dim_page (hash_key, source_key, url, effective_from, hash_diff, record_source, created_at, session_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		key, sourceKey, url, now, fingerprint.Attributes(map[string]any{"url": url}),
		RecordSourceConfigSync, now, s.nullSession(),
	)
	if err != nil {
		return false, fmt.Errorf("insert page %s: %w", url, err)
	}
	return true, nil
}

func marshalSorted(values []string) (string, error) {
	sorted := append([]string{}, values...)
	sort.Strings(sorted)
	data, err := json.Marshal(sorted)
	if err != nil {
		return "", fmt.Errorf("marshal list: %w", err)
	}
	return string(data), nil
}
