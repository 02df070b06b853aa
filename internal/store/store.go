package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"entgo.io/ent/dialect/sql/schema"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrNotFound is returned by Get-style lookups that match no row.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert violates a uniqueness constraint.
var ErrDuplicate = errors.New("duplicate record")

// builder renders SQLite statements for every repository.
var builder = entsql.Dialect(dialect.SQLite)

// Store owns the SQLite connection and hands out repositories.
type Store struct {
	db  *sql.DB
	drv *entsql.Driver
	seq *sequence
}

// Open connects to the SQLite database at dsn, applies pragmas and
// migrates the schema. ":memory:" gives a private in-memory database.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", withPragmas(dsn))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if isMemory(dsn) {
		// Every pooled connection would see its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}

	drv := entsql.OpenDB(dialect.SQLite, db)
	if err := migrate(context.Background(), drv); err != nil {
		db.Close()
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}

	seq, err := newSequence(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, drv: drv, seq: seq}, nil
}

// DB returns the underlying *sql.DB for raw queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.drv.Close()
}

func (s *Store) Documents() DocumentRepo         { return &documentRepo{db: s.db} }
func (s *Store) ProblemSheets() ProblemSheetRepo { return &problemSheetRepo{db: s.db} }
func (s *Store) Sessions() SessionRepo           { return &sessionRepo{db: s.db} }
func (s *Store) Quizzes() QuizRepo               { return &quizRepo{db: s.db} }
func (s *Store) Submissions() SubmissionRepo     { return &submissionRepo{db: s.db} }
func (s *Store) Hints() HintRepo                 { return &hintRepo{db: s.db} }
func (s *Store) Performance() PerformanceRepo    { return &performanceRepo{db: s.db} }
func (s *Store) Trajectories() TrajectoryRepo    { return &trajectoryRepo{db: s.db, seq: s.seq} }
func (s *Store) EventRepo() EventRepo            { return &eventRepo{db: s.db, seq: s.seq} }
func (s *Store) Events() EventQuerier            { return &eventRepo{db: s.db, seq: s.seq} }

func migrate(ctx context.Context, drv *entsql.Driver) error {
	m, err := schema.NewMigrate(drv)
	if err != nil {
		return err
	}
	return m.Create(ctx, Tables...)
}

func isMemory(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

// withPragmas appends the connection-level pragmas so every pooled
// connection gets them, not just the first.
func withPragmas(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite"
}

// applyPragmas configures SQLite for a single-node service.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// isUniqueViolation reports whether err is a SQLite uniqueness failure.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	// Drivers that do not report extended codes still carry the message.
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// DefaultDBPath resolves the database file path in priority order:
// 1. TUTORIUM_DB environment variable
// 2. $XDG_DATA_HOME/tutorium/tutorium.db
// 3. ~/.local/share/tutorium/tutorium.db
func DefaultDBPath() (string, error) {
	if p := os.Getenv("TUTORIUM_DB"); p != "" {
		return p, EnsureDir(p)
	}

	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		dataHome = filepath.Join(home, ".local", "share")
	}

	p := filepath.Join(dataHome, "tutorium", "tutorium.db")
	return p, EnsureDir(p)
}

// EnsureDir creates the parent directory of path if it doesn't exist.
func EnsureDir(path string) error {
	if isMemory(path) {
		return nil
	}
	return os.MkdirAll(filepath.Dir(path), 0o755)
}

// query runs a rendered SELECT.
func query(ctx context.Context, q querier, sel *entsql.Selector) (*sql.Rows, error) {
	stmt, args := sel.Query()
	return q.QueryContext(ctx, stmt, args...)
}

// exec runs a rendered INSERT/UPDATE/DELETE.
func exec(ctx context.Context, q querier, b entsql.Querier) (sql.Result, error) {
	stmt, args := b.Query()
	return q.ExecContext(ctx, stmt, args...)
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// count runs a COUNT(*) over sel's table and predicate.
func count(ctx context.Context, q querier, sel *entsql.Selector) (int, error) {
	stmt, args := sel.Query()
	var n int
	if err := q.QueryRowContext(ctx, stmt, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
