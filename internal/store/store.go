package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/roomtodo/internal/feed"
	"github.com/roach88/roomtodo/internal/model"
	"github.com/roach88/roomtodo/internal/query"
	"github.com/roach88/roomtodo/internal/remote"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added room index on todos(owner_id, deleted, created_at)
const currentSchemaVersion = 1

// Store errors. Callers match them with errors.Is.
var (
	ErrNotFound        = errors.New("row not found")
	ErrReadOnly        = errors.New("table is read-only")
	ErrUnknownTable    = errors.New("unknown table")
	ErrUnknownColumn   = errors.New("unknown column")
	ErrImmutableColumn = errors.New("column cannot be changed")
	ErrInvalidValue    = errors.New("invalid column value")
	ErrConflict        = errors.New("constraint violation")
)

// Store is the SQLite backing store.
type Store struct {
	db      *sql.DB
	broker  *feed.Broker
	now     func() time.Time
	logger  *slog.Logger
	writeMu sync.Mutex
}

var _ remote.RemoteStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithBroker publishes change events to b instead of a private broker.
func WithBroker(b *feed.Broker) Option {
	return func(s *Store) {
		s.broker = b
	}
}

// WithClock sets the wall clock used for created_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithLogger sets the store logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Store{
		db:     db,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.broker == nil {
		s.broker = feed.NewBroker(feed.WithLogger(s.logger))
	}
	return s, nil
}

// Close closes the database connection. The broker is left open; its owner
// closes it.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Broker returns the broker change events are published to.
func (s *Store) Broker() *feed.Broker {
	return s.broker
}

// Subscribe opens a change feed on table. The filter is validated against
// the table schema before the subscription is created.
func (s *Store) Subscribe(ctx context.Context, table string, f query.Filter) (remote.Subscription, error) {
	t, err := lookupTable(table)
	if err != nil {
		return nil, err
	}
	if err := t.validateFilter(f); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub, err := s.broker.Subscribe(table, f)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", table, err)
	}
	return sub, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the index serving room fetches:
// owner_id = ? AND deleted = 0 ORDER BY created_at DESC.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_todos_room
		ON todos(owner_id, deleted, created_at)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// wrapWriteErr maps SQLite constraint failures to ErrConflict.
func wrapWriteErr(op string, err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%s: %w: %v", op, ErrConflict, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	q := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(q).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

// publish sends a committed change to the feed. Called with writeMu held.
func (s *Store) publish(table string, kind model.ChangeKind, row model.Row) {
	ev := s.broker.Publish(model.ChangeEvent{Table: table, Kind: kind, Record: row})
	s.logger.Debug("row change published",
		"table", table,
		"type", kind,
		"seq", ev.Seq,
	)
}
