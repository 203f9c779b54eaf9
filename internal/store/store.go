// Package store is the system of record: slowly-changing dimensions for
// sources, skills, pages and dependency edges, append-only fact tables for
// every observation, and summary views over both, kept in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// TimeLayout is the fixed-width UTC layout of every stored timestamp, so that
// lexical order equals time order.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// Record sources tag the writer of each row.
const (
	RecordSourceConfigSync    = "config_sync"
	RecordSourceDocsMonitor   = "docs_monitor"
	RecordSourceRepoMonitor   = "source_monitor"
	RecordSourceMigrateState  = "migrate_state"
	RecordSourceValidateSkill = "validate_skill"
	RecordSourceApplyUpdates  = "apply_updates"
	RecordSourceMeasure       = "measure_content"
	RecordSourceJournal       = "journal"
)

type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Store wraps a sql.DB connection to the SQLite database.
type Store struct {
	conn      *sql.DB
	q         querier
	tx        bool
	now       func() time.Time
	logger    *slog.Logger
	sessionID string
	inserted  *int64
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for every written timestamp.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Open creates a new SQLite connection and applies all pending migrations.
func Open(path string, opts ...Option) (*Store, error) {
	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := New(conn, opts...)
	if err := s.migrate(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// New wraps an existing connection without migrating it. Reads against an
// unmigrated database return empty results.
func New(conn *sql.DB, opts ...Option) *Store {
	var n int64
	s := &Store{
		conn:     conn,
		q:        conn,
		now:      time.Now,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		inserted: &n,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Conn returns the underlying *sql.DB for use by other packages if needed.
func (s *Store) Conn() *sql.DB {
	return s.conn
}

// SetSessionID sets the run id written to the session_id column of every
// subsequent row.
func (s *Store) SetSessionID(id string) {
	s.sessionID = id
}

// SessionID returns the current run id.
func (s *Store) SessionID() string {
	return s.sessionID
}

// FactsInserted returns the number of fact rows written through this store
// and committed (or not yet rolled back).
func (s *Store) FactsInserted() int64 {
	return *s.inserted
}

func (s *Store) migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrations fs: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, s.conn, fsys)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	for _, r := range results {
		s.logger.Info("applied migration", "version", r.Source.Version, "duration", r.Duration)
	}
	return nil
}

// InTx runs fn against a store bound to a single transaction. fn's writes are
// committed together when it returns nil and rolled back otherwise. Nested
// calls join the outer transaction.
func (s *Store) InTx(fn func(tx *Store) error) error {
	if s.tx {
		return fn(s)
	}

	before := *s.inserted
	sqlTx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txStore := *s
	txStore.q = sqlTx
	txStore.tx = true

	if err := fn(&txStore); err != nil {
		_ = sqlTx.Rollback()
		*s.inserted = before
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		*s.inserted = before
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) stamp() string {
	return FormatTime(s.now())
}

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

var importLayouts = []string{
	TimeLayout,
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTime parses a stored timestamp, or an ISO-8601 timestamp in one of the
// common variants. Values without a zone are taken as UTC.
func ParseTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	for _, layout := range importLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", v)
}

// normalizeTime re-renders an external timestamp in TimeLayout, falling back
// to the current time when it is empty or unparsable.
func (s *Store) normalizeTime(v string) string {
	if v == "" {
		return s.stamp()
	}
	t, err := ParseTime(v)
	if err != nil {
		s.logger.Warn("replacing unparsable timestamp", "value", v)
		return s.stamp()
	}
	return FormatTime(t)
}

func (s *Store) cutoff(days int) string {
	return FormatTime(s.now().Add(-time.Duration(days) * 24 * time.Hour))
}

func (s *Store) nullSession() any {
	if s.sessionID == "" {
		return nil
	}
	return s.sessionID
}

func (s *Store) countInsert() {
	*s.inserted++
}

// isMissingTable reports whether err comes from reading a schema that was
// never migrated.
func isMissingTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}
