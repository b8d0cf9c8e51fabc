package sqlite

import (
	"context"
	"database/sql"
	"time"
)

// ConnectionStatus is the last observed state of an agent-served connection.
type ConnectionStatus string

const (
	StatusUnknown      ConnectionStatus = "unknown"
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusError        ConnectionStatus = "error"
)

// ConnectionRecord is one row of agent_connections.
type ConnectionRecord struct {
	Name         string           `json:"name"`
	Engine       string           `json:"engine"`
	Target       string           `json:"target"` // sanitized, never holds a password
	Status       ConnectionStatus `json:"status"`
	LastSeen     *time.Time       `json:"last_seen,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
	Commands     int64            `json:"commands"`
	Failures     int64            `json:"failures"`
}

// CommandRecord is one delegated command as logged by the agent.
type CommandRecord struct {
	RequestID    string
	Connection   string
	Operation    string
	Table        string
	Email        string
	Duration     time.Duration
	ErrorMessage string
}

// ConnectionStore persists connection status and the command log.
type ConnectionStore struct {
	db *sql.DB
}

// NewConnectionStore creates a store over an opened status database.
func NewConnectionStore(db *DB) *ConnectionStore {
	return &ConnectionStore{db: db.Conn()}
}

// Register inserts a connection or refreshes its engine and target, keeping counters.
func (s *ConnectionStore) Register(ctx context.Context, name, engine, target string) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO agent_connections (name, engine, target)
	VALUES (?, ?, ?)
	ON CONFLICT(name) DO UPDATE SET
		engine = excluded.engine,
		target = excluded.target`,
		name, engine, target)
	return err
}

// Observe records the outcome of one command against a connection.
func (s *ConnectionStore) Observe(ctx context.Context, rec CommandRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if rec.ErrorMessage == "" {
		_, err = tx.ExecContext(ctx, `
		UPDATE agent_connections
		SET status = ?, last_seen = ?, error_message = '', commands = commands + 1
		WHERE name = ?`, StatusConnected, time.Now(), rec.Connection)
	} else {
		_, err = tx.ExecContext(ctx, `
		UPDATE agent_connections
		SET status = ?, error_message = ?, commands = commands + 1, failures = failures + 1
		WHERE name = ?`, StatusError, rec.ErrorMessage, rec.Connection)
	}
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
	INSERT INTO agent_commands (request_id, connection, operation, table_name, email, duration_ms, error_message)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.Connection, rec.Operation, rec.Table, rec.Email,
		float64(rec.Duration.Microseconds())/1000, rec.ErrorMessage)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// MarkDisconnected flags a connection whose resources were evicted.
func (s *ConnectionStore) MarkDisconnected(ctx context.Context, name, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE agent_connections SET status = ?, error_message = ? WHERE name = ?`,
		StatusDisconnected, reason, name)
	return err
}

// Get retrieves a connection by name. It returns nil, nil when unknown.
func (s *ConnectionStore) Get(ctx context.Context, name string) (*ConnectionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, engine, target, status, last_seen,
		       COALESCE(error_message, ''), commands, failures
		FROM agent_connections WHERE name = ?`, name)
	rec, err := scanConnection(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// List retrieves all connections ordered by name.
func (s *ConnectionStore) List(ctx context.Context) ([]*ConnectionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, engine, target, status, last_seen,
		       COALESCE(error_message, ''), commands, failures
		FROM agent_connections ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ConnectionRecord
	for rows.Next() {
		rec, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Remove deletes connections that are no longer configured.
func (s *ConnectionStore) Remove(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM agent_connections WHERE name = ?`, name)
	return err
}

// TrimCommands keeps only the newest keep command log rows.
func (s *ConnectionStore) TrimCommands(ctx context.Context, keep int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
	DELETE FROM agent_commands
	WHERE id NOT IN (SELECT id FROM agent_commands ORDER BY id DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountCommands returns the number of logged commands.
func (s *ConnectionStore) CountCommands(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agent_commands`).Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConnection(row scanner) (*ConnectionRecord, error) {
	var rec ConnectionRecord
	var lastSeen sql.NullTime
	err := row.Scan(
		&rec.Name,
		&rec.Engine,
		&rec.Target,
		&rec.Status,
		&lastSeen,
		&rec.ErrorMessage,
		&rec.Commands,
		&rec.Failures,
	)
	if err != nil {
		return nil, err
	}
	if lastSeen.Valid {
		rec.LastSeen = &lastSeen.Time
	}
	return &rec, nil
}
