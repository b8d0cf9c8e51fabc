package sqlite

import (
	"context"
	"fmt"
)

// migrations are applied in order inside one transaction each. PRAGMA
// user_version holds the number already applied, so entries are append-only.
var migrations = []string{
	`
	-- Last known state of every connection served by the agent
	CREATE TABLE IF NOT EXISTS agent_connections (
		name TEXT PRIMARY KEY,
		engine TEXT NOT NULL,
		target TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'unknown'
			CHECK (status IN ('connected', 'disconnected', 'error', 'unknown')),
		last_seen TIMESTAMP,
		error_message TEXT,
		commands INTEGER NOT NULL DEFAULT 0,
		failures INTEGER NOT NULL DEFAULT 0
	);

	-- Recent delegated commands, trimmed by the agent
	CREATE TABLE IF NOT EXISTS agent_commands (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id TEXT NOT NULL,
		connection TEXT NOT NULL,
		operation TEXT NOT NULL,
		table_name TEXT,
		email TEXT,
		duration_ms REAL NOT NULL,
		error_message TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_agent_commands_created ON agent_commands(created_at DESC);
	`,
}

// migrate applies the migrations the file has not seen yet.
func (db *DB) migrate(ctx context.Context) error {
	current, err := db.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if current > len(migrations) {
		return fmt.Errorf("%w: schema version %d, this agent knows %d", ErrSchemaTooNew, current, len(migrations))
	}
	for v := current; v < len(migrations); v++ {
		if err := db.apply(ctx, v+1, migrations[v]); err != nil {
			return fmt.Errorf("migration %d: %w", v+1, err)
		}
	}
	return nil
}

func (db *DB) apply(ctx context.Context, version int, stmt string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return err
	}
	// PRAGMA does not accept bind parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return err
	}
	return tx.Commit()
}
