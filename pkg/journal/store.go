// Package journal persists what the narrator said, held back or failed to
// say, so a caregiver can review a session afterwards.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v4/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// ErrUnsupportedDriver is returned by Open for drivers other than sqlite3
// and pgx.
var ErrUnsupportedDriver = errors.New("journal: unsupported driver")

// Kind classifies a journal entry.
type Kind string

// Entry kinds.
const (
	KindSpoken     Kind = "spoken"
	KindSuppressed Kind = "suppressed"
	KindFailed     Kind = "failed"
)

// Entry is one journaled narration outcome.
type Entry struct {
	ID        string    `json:"id"`
	RecordID  string    `json:"record_id,omitempty"`
	Kind      Kind      `json:"kind"`
	Reason    string    `json:"reason,omitempty"`
	Stage     string    `json:"stage,omitempty"`
	Key       string    `json:"key,omitempty"`
	Text      string    `json:"text,omitempty"`
	Urgent    bool      `json:"urgent"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is a narration journal backed by SQLite or Postgres.
type Store struct {
	db      *sql.DB
	dialect goose.Dialect
}

// Open connects to the database and applies pending migrations.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	var dialect goose.Dialect
	switch driver {
	case DriverSQLite:
		dialect = goose.DialectSQLite3
	case DriverPostgres:
		dialect = goose.DialectPostgres
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping journal: %w", err)
	}

	s := &Store{db: db, dialect: dialect}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(s.dialect, s.db, fsys)
	if err != nil {
		return fmt.Errorf("journal migrations: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("journal migrate up: %w", err)
	}
	return nil
}

// placeholders returns n positional placeholders for the store's dialect.
func (s *Store) placeholders(n int) []string {
	out := make([]string, n)
	for i := range out {
		if s.dialect == goose.DialectPostgres {
			out[i] = "$" + strconv.Itoa(i+1)
		} else {
			out[i] = "?"
		}
	}
	return out
}

// Insert writes e. Missing ID and CreatedAt are filled in.
func (s *Store) Insert(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	q := `INSERT INTO narrations
		(id, record_id, kind, reason, stage, scene_key, text, urgent, error, created_at)
		VALUES (` + strings.Join(s.placeholders(10), ", ") + `)`
	_, err := s.db.ExecContext(ctx, q,
		e.ID, e.RecordID, string(e.Kind), e.Reason, e.Stage, e.Key, e.Text, e.Urgent, e.Error, e.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT id, record_id, kind, reason, stage, scene_key, text, urgent, error, created_at
		FROM narrations ORDER BY created_at DESC, id LIMIT ` + s.placeholders(1)[0]
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var kind string
		if err := rows.Scan(&e.ID, &e.RecordID, &kind, &e.Reason, &e.Stage, &e.Key, &e.Text, &e.Urgent, &e.Error, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		e.Kind = Kind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Counts returns the number of entries per kind.
func (s *Store) Counts(ctx context.Context) (map[Kind]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM narrations GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("count journal: %w", err)
	}
	defer rows.Close()

	out := make(map[Kind]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		out[Kind(kind)] = n
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
