// Package sqlite provides the SQLite status database of the rowpane agent.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// ErrSchemaTooNew is returned by Open for a status database migrated by a
// newer agent. The file is left untouched.
var ErrSchemaTooNew = errors.New("status database was written by a newer agent")

// pragmas are passed through the DSN so every pooled connection gets them.
// The agent writes from the HTTP handlers and the retention loop while
// `service status` reads from another process.
var pragmas = url.Values{
	"_journal_mode": {"WAL"},
	"_busy_timeout": {"5000"},
	"_synchronous":  {"NORMAL"},
	"_foreign_keys": {"on"},
	"_loc":          {"auto"},
}

// DB is the agent status database.
type DB struct {
	conn *sql.DB
}

// Open opens or creates the status database at path and brings its schema
// up to date.
func Open(path string) (*DB, error) {
	// The command log holds caller emails.
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("status database %s: %w", path, err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path+"?"+pragmas.Encode())
	if err != nil {
		return nil, fmt.Errorf("status database %s: %w", path, err)
	}
	db := &DB{conn: conn}

	ctx := context.Background()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("status database %s: %w", path, err)
	}
	if err := db.migrate(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("status database %s: %w", path, err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Conn returns the underlying sql.DB connection.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// SchemaVersion reports how many migrations the file has seen.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := db.conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v)
	return v, err
}
