package store

import (
	"database/sql"
	"errors"
)

// FailCommit makes every transaction commit fail. This file only compiles
// during `go test`.
func (d *DB) FailCommit() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conn.hooks.commit = func(tx *sql.Tx) error {
		_ = tx.Rollback()
		return errors.New("injected commit failure")
	}
}

// RawDB exposes the internal *sql.DB for test helpers in store_test.
func (d *DB) RawDB() *sql.DB {
	return d.conn.db
}
