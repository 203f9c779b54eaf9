package store

import (
	"database/sql"
	"fmt"
)

// Load statuses written to meta_load_log.
const (
	LoadRunning = "running"
	LoadSuccess = "success"
	LoadFailed  = "failed"
)

// Tables lists every table counted by Stats, dimensions first.
var Tables = []string{
	"dim_source", "dim_skill", "dim_page", "skill_source_dep",
	"fact_watermark_check", "fact_change", "fact_validation",
	"fact_update_attempt", "fact_content_measurement", "fact_session_event",
	"meta_schema_version", "meta_load_log",
}

var factTables = []string{
	"fact_watermark_check", "fact_change", "fact_validation",
	"fact_update_attempt", "fact_content_measurement", "fact_session_event",
}

// TableStat is the row count of one table.
type TableStat struct {
	Table string `json:"table"`
	Rows  int    `json:"rows"`
}

// LogLoadStart opens a load-log entry for a script run.
func (s *Store) LogLoadStart(script string) error {
	_, err := s.q.Exec(
		`INSERT INTO meta_load_log (script_name, started_at, status, session_id) VALUES (?, ?, ?, ?)`,
		script, s.stamp(), LoadRunning, s.nullSession(),
	)
	if err != nil {
		return fmt.Errorf("log load start %s: %w", script, err)
	}
	return nil
}

// LogLoadEnd completes the running load-log entries of script.
func (s *Store) LogLoadEnd(script string, rows int64, status, errMsg string) error {
	var msg any
	if errMsg != "" {
		msg = errMsg
	}
	_, err := s.q.Exec(
		`UPDATE meta_load_log SET completed_at = ?, rows_inserted = ?, status = ?, error_message = ?
		 WHERE script_name = ? AND completed_at IS NULL AND status = ?`,
		s.stamp(), rows, status, msg, script, LoadRunning,
	)
	if err != nil {
		return fmt.Errorf("log load end %s: %w", script, err)
	}
	return nil
}

// SchemaVersion returns the highest applied schema version, 0 when the
// schema was never migrated.
func (s *Store) SchemaVersion() (int, error) {
	var v sql.NullInt64
	err := s.q.QueryRow(`SELECT MAX(version) FROM meta_schema_version`).Scan(&v)
	if err != nil {
		return 0, readErr("schema version", err)
	}
	return int(v.Int64), nil
}

// Stats returns the row count of every existing table.
func (s *Store) Stats() ([]TableStat, error) {
	var out []TableStat
	for _, table := range Tables {
		var n int
		err := s.q.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n)
		if isMissingTable(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		out = append(out, TableStat{Table: table, Rows: n})
	}
	return out, nil
}

// Reset deletes every fact and the load log. Dimensions are kept. It returns
// the number of rows deleted.
func (s *Store) Reset() (int64, error) {
	var total int64
	err := s.InTx(func(tx *Store) error {
		for _, table := range append(append([]string{}, factTables...), "meta_load_log") {
			res, err := tx.q.Exec(`DELETE FROM ` + table)
			if err != nil {
				return fmt.Errorf("reset %s: %w", table, err)
			}
			n, _ := res.RowsAffected()
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.logger.Warn("store reset", "rows_deleted", total)
	return total, nil
}
