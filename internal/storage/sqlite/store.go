// Package sqlite provides a SQLite implementation of the storage.Store interface.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jwulff/appcache/internal/storage"

	_ "modernc.org/sqlite"
)

const memoryPath = ":memory:"

// PathFunc resolves the database file path at open time.
type PathFunc func() (string, error)

// Store is a SQLite implementation of storage.Store. The connection is opened
// lazily on first use and shared by all callers.
type Store struct {
	resolve     PathFunc
	busyTimeout int
	log         zerolog.Logger
	now         func() time.Time

	mu sync.Mutex
	db *sql.DB
}

// Option customises a Store.
type Option func(*Store)

// WithLogger sets the logger used for swallowed and benign errors.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) { s.log = log.With().Str("component", "store").Logger() }
}

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds. Default: 5000.
func WithBusyTimeout(ms int) Option { return func(s *Store) { s.busyTimeout = ms } }

// WithClock overrides the clock used for cached_at and viewed_at columns.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// New creates a store that opens the database returned by resolve on first use.
func New(resolve PathFunc, opts ...Option) *Store {
	s := &Store{
		resolve:     resolve,
		busyTimeout: 5000,
		log:         zerolog.Nop(),
		now:         time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// NewMemoryStore creates and opens an in-memory SQLite store.
func NewMemoryStore(opts ...Option) (*Store, error) {
	return newOpenedStore(memoryPath, opts...)
}

// NewFileStore creates and opens a file-based SQLite store.
func NewFileStore(path string, opts ...Option) (*Store, error) {
	return newOpenedStore(path, opts...)
}

func newOpenedStore(path string, opts ...Option) (*Store, error) {
	store := New(func() (string, error) { return path, nil }, opts...)
	if _, err := store.Open(context.Background()); err != nil {
		return nil, err
	}
	return store, nil
}

// Open establishes the connection and schema exactly once. Concurrent callers
// block until the first open finishes and then share its handle. A failed open
// leaves the store closed so that a later call retries.
func (s *Store) Open(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return s.db, nil
	}
	if s.resolve == nil {
		return nil, fmt.Errorf("%w: no database path configured", storage.ErrStoreUnavailable)
	}

	path, err := s.resolve()
	if err != nil {
		return nil, fmt.Errorf("%w: resolve path: %w", storage.ErrStoreUnavailable, err)
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%w: empty database path", storage.ErrStoreUnavailable)
	}
	if path != memoryPath {
		path = filepath.Clean(path)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("%w: mkdir: %w", storage.ErrStoreUnavailable, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %w", storage.ErrStoreUnavailable, err)
	}
	// One logical connection; also keeps ":memory:" on a single database.
	db.SetMaxOpenConns(1)

	if err := s.applyPragmas(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", storage.ErrStoreUnavailable, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping: %w", storage.ErrStoreUnavailable, err)
	}
	if err := s.ensureSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to migrate: %w", storage.ErrStoreUnavailable, err)
	}

	s.log.Debug().Str("path", path).Msg("cache database opened")
	s.db = db
	return db, nil
}

func (s *Store) applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", s.busyTimeout),
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

func (s *Store) ensureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return err
	}
	for _, m := range migrations {
		_, err := db.ExecContext(ctx, m.stmt)
		if err == nil {
			continue
		}
		if !isAlreadyApplied(err) {
			return fmt.Errorf("migration %s: %w", m.name, err)
		}
		s.log.Debug().
			Err(fmt.Errorf("%w: %w", storage.ErrSchemaMigrationSkipped, err)).
			Str("migration", m.name).
			Msg("schema migration already applied")
	}
	return nil
}

// isAlreadyApplied reports whether err indicates idempotent DDL success.
func isAlreadyApplied(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate column name") || strings.Contains(msg, "already exists")
}

// Close closes the database connection. A later call to Open reopens it.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Exec runs a parameterized statement.
func (s *Store) Exec(ctx context.Context, stmt string, args ...any) (sql.Result, error) {
	db, err := s.Open(ctx)
	if err != nil {
		return nil, err
	}
	return db.ExecContext(ctx, stmt, args...)
}

// Query runs a parameterized query. The caller closes the rows.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	db, err := s.Open(ctx)
	if err != nil {
		return nil, err
	}
	return db.QueryContext(ctx, query, args...)
}

// Transaction runs fn inside a transaction. It commits when fn returns nil and
// rolls back and returns the error otherwise. fn must only use tx: the single
// connection is held for the duration.
func (s *Store) Transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	db, err := s.Open(ctx)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.log.Warn().Err(rbErr).Msg("rollback failed")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// placeholders returns "?, ?, ..." with n markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// Verify interface compliance
var _ storage.Store = (*Store)(nil)
