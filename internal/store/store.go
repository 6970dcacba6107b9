// Package store implements the metadata store shared by every Cortex memory
// component.
//
// It wraps a single SQLite handle (modernc.org/sqlite, WAL mode) behind one
// exclusive critical section. All calls are synchronous and commit before
// returning; concurrent callers block on the lock instead of failing.
// Conversation, episodic and preference memory share one *DB so that there is
// a single lock and no stale-read window between components.
package store

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

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

var log = logrus.WithField("component", "store")

// ─── Config ──────────────────────────────────────────────────────────────────

// Config holds metadata store configuration.
type Config struct {
	// Path is the SQLite file. Use MemoryPath for an in-memory store.
	Path        string
	BusyTimeout time.Duration
}

// DefaultConfig returns the default configuration for the metadata store.
func DefaultConfig() Config {
	return Config{
		Path:        "./cortex.db",
		BusyTimeout: 5 * time.Second,
	}
}

// ─── Types ───────────────────────────────────────────────────────────────────

// Result reports the outcome of a mutating statement.
type Result struct {
	RowsAffected int64
	LastInsertID int64
}

// Row is the scanning side of a result row.
type Row interface {
	Scan(dest ...any) error
}

// ScanFunc consumes one row.
type ScanFunc func(Row) error

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type storeHooks struct {
	exec    func(ctx context.Context, db execer, query string, args ...any) (sql.Result, error)
	query   func(ctx context.Context, db queryer, query string, args ...any) (*sql.Rows, error)
	beginTx func(ctx context.Context, db *sql.DB) (*sql.Tx, error)
	commit  func(tx *sql.Tx) error
}

func defaultStoreHooks() storeHooks {
	return storeHooks{
		exec: func(ctx context.Context, db execer, query string, args ...any) (sql.Result, error) {
			return db.ExecContext(ctx, query, args...)
		},
		query: func(ctx context.Context, db queryer, query string, args ...any) (*sql.Rows, error) {
			return db.QueryContext(ctx, query, args...)
		},
		beginTx: func(ctx context.Context, db *sql.DB) (*sql.Tx, error) {
			return db.BeginTx(ctx, nil)
		},
		commit: func(tx *sql.Tx) error {
			return tx.Commit()
		},
	}
}

// ─── DB ──────────────────────────────────────────────────────────────────────

// DB is the shared metadata store. One logical connection, one lock.
type DB struct {
	mu   sync.Mutex
	conn Conn
	path string
}

// Conn runs statements on the store's single connection. A Conn is only
// handed out inside Do, where the caller already holds the store lock, so
// its methods never lock.
type Conn struct {
	db    *sql.DB
	hooks storeHooks
}

// Open opens (or creates) the SQLite database at cfg.Path with WAL mode and
// a single pooled connection.
func Open(cfg Config) (*DB, error) {
	if cfg.Path == "" {
		cfg.Path = DefaultConfig().Path
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = DefaultConfig().BusyTimeout
	}

	if cfg.Path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0700); err != nil {
			return nil, fmt.Errorf("store: create data dir: %w", err)
		}
	}

	db, err := openDB("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()),
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: pragma %q: %w", p, err)
		}
	}

	log.WithField("path", cfg.Path).Debug("metadata store opened")

	return &DB{
		conn: Conn{db: db, hooks: defaultStoreHooks()},
		path: cfg.Path,
	}, nil
}

// Path returns the database location this store was opened with.
func (d *DB) Path() string {
	return d.path
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn.db.Close()
}

// Do runs fn while holding the store's exclusive lock. Everything fn does
// through the Conn, and any side effect it performs alongside (for example a
// vector index mutation), happens in one exclusion domain. Do is not
// reentrant: fn must use the Conn, never the DB.
func (d *DB) Do(ctx context.Context, fn func(c *Conn) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fn(&d.conn)
}

// Migrate applies an idempotent schema script.
func (d *DB) Migrate(ctx context.Context, schema string) error {
	if _, err := d.Exec(ctx, schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Exec runs a mutating statement and commits it.
func (d *DB) Exec(ctx context.Context, query string, args ...any) (Result, error) {
	var res Result
	err := d.Do(ctx, func(c *Conn) error {
		var err error
		res, err = c.Exec(ctx, query, args...)
		return err
	})
	return res, err
}

// ExecMany runs the same statement for every parameter set in one
// transaction. Either all sets apply or none do.
func (d *DB) ExecMany(ctx context.Context, query string, params [][]any) (int64, error) {
	var n int64
	err := d.Do(ctx, func(c *Conn) error {
		var err error
		n, err = c.ExecMany(ctx, query, params)
		return err
	})
	return n, err
}

// QueryOne runs a read query and scans at most one row. It reports whether a
// row was found.
func (d *DB) QueryOne(ctx context.Context, query string, scan ScanFunc, args ...any) (bool, error) {
	var found bool
	err := d.Do(ctx, func(c *Conn) error {
		var err error
		found, err = c.QueryOne(ctx, query, scan, args...)
		return err
	})
	return found, err
}

// QueryAll runs a read query and scans every row in order.
func (d *DB) QueryAll(ctx context.Context, query string, scan ScanFunc, args ...any) error {
	return d.Do(ctx, func(c *Conn) error {
		return c.QueryAll(ctx, query, scan, args...)
	})
}

// ─── Conn ────────────────────────────────────────────────────────────────────

// Exec runs a mutating statement in autocommit mode.
func (c *Conn) Exec(ctx context.Context, query string, args ...any) (Result, error) {
	r, err := c.hooks.exec(ctx, c.db, query, args...)
	if err != nil {
		return Result{}, err
	}
	return resultOf(r), nil
}

// ExecMany runs query once per parameter set inside one transaction.
func (c *Conn) ExecMany(ctx context.Context, query string, params [][]any) (int64, error) {
	if len(params) == 0 {
		return 0, nil
	}

	tx, err := c.hooks.beginTx(ctx, c.db)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var total int64
	for i, args := range params {
		r, err := c.hooks.exec(ctx, tx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("row %d: %w", i, err)
		}
		total += resultOf(r).RowsAffected
	}

	if err := c.hooks.commit(tx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return total, nil
}

// QueryOne scans the first row of query, if any.
func (c *Conn) QueryOne(ctx context.Context, query string, scan ScanFunc, args ...any) (bool, error) {
	rows, err := c.hooks.query(ctx, c.db, query, args...)
	if err != nil {
		return false, err
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		return false, rows.Err()
	}
	if err := scan(rows); err != nil {
		return false, err
	}
	return true, rows.Err()
}

// QueryAll scans every row of query in result order.
func (c *Conn) QueryAll(ctx context.Context, query string, scan ScanFunc, args ...any) error {
	rows, err := c.hooks.query(ctx, c.db, query, args...)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func resultOf(r sql.Result) Result {
	var res Result
	if n, err := r.RowsAffected(); err == nil {
		res.RowsAffected = n
	}
	if id, err := r.LastInsertId(); err == nil {
		res.LastInsertID = id
	}
	return res
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// IsUniqueViolation checks if an error is a SQLite UNIQUE constraint violation.
func IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// NullableString maps "" to SQL NULL.
func NullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// DerefString maps a NULL column back to "".
func DerefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

// TimeLayout is the fixed-width ISO-8601 UTC layout used for every
// engine-generated timestamp. Fixed width keeps text order equal to time order.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// Now returns the current UTC time formatted with TimeLayout.
func Now() string {
	return time.Now().UTC().Format(TimeLayout)
}

// ErrInvalidTimestamp is wrapped by CanonicalTime for input that is not an
// RFC 3339 timestamp.
var ErrInvalidTimestamp = errors.New("store: invalid timestamp")

// CanonicalTime parses an RFC 3339 timestamp with any offset and fraction and
// re-formats it in UTC with TimeLayout. Every timestamp compared in SQL must
// go through it. An empty string yields Now().
func CanonicalTime(ts string) (string, error) {
	ts = strings.TrimSpace(ts)
	if ts == "" {
		return Now(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidTimestamp, ts)
	}
	return t.UTC().Format(TimeLayout), nil
}
