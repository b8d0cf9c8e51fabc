package agent

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rowpane/rowpane/internal/storage/sqlite"
)

// AgentStatus is the running agent's singleton row (id=1 always). The
// service status command reads it to report on a daemon it did not start.
type AgentStatus struct {
	PID         int
	StartTime   time.Time
	Version     string
	Listen      string
	ConfigFile  string
	LastCommand *time.Time
	ErrorCount  int64
	LastError   string
}

// AgentStatusStore persists the agent status row.
type AgentStatusStore struct {
	db *sql.DB
}

// NewAgentStatusStore creates the agent_status table if needed.
func NewAgentStatusStore(ctx context.Context, db *sqlite.DB) (*AgentStatusStore, error) {
	s := &AgentStatusStore{db: db.Conn()}
	_, err := s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS agent_status (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		pid INTEGER NOT NULL,
		start_time TIMESTAMP NOT NULL,
		version TEXT NOT NULL,
		listen TEXT NOT NULL,
		config_file TEXT,
		last_command TIMESTAMP,
		error_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT
	);`)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Upsert replaces the status row.
func (s *AgentStatusStore) Upsert(ctx context.Context, status *AgentStatus) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO agent_status (id, pid, start_time, version, listen, config_file, last_command, error_count, last_error)
	VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		pid = excluded.pid,
		start_time = excluded.start_time,
		version = excluded.version,
		listen = excluded.listen,
		config_file = excluded.config_file,
		last_command = excluded.last_command,
		error_count = excluded.error_count,
		last_error = excluded.last_error`,
		status.PID,
		status.StartTime,
		status.Version,
		status.Listen,
		status.ConfigFile,
		status.LastCommand,
		status.ErrorCount,
		status.LastError,
	)
	return err
}

// RecordCommand stamps the last command time and, for failures, bumps the
// error counter.
func (s *AgentStatusStore) RecordCommand(ctx context.Context, at time.Time, errMsg string) error {
	if errMsg == "" {
		_, err := s.db.ExecContext(ctx, `UPDATE agent_status SET last_command = ? WHERE id = 1`, at)
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE agent_status
		SET last_command = ?, error_count = error_count + 1, last_error = ?
		WHERE id = 1`, at, errMsg)
	return err
}

// Get returns the status row, or nil when no agent has recorded one.
func (s *AgentStatusStore) Get(ctx context.Context) (*AgentStatus, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT pid, start_time, version, listen,
		       COALESCE(config_file, ''),
		       last_command,
		       error_count,
		       COALESCE(last_error, '')
		FROM agent_status WHERE id = 1`)

	var status AgentStatus
	var last sql.NullTime
	err := row.Scan(
		&status.PID,
		&status.StartTime,
		&status.Version,
		&status.Listen,
		&status.ConfigFile,
		&last,
		&status.ErrorCount,
		&status.LastError,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if last.Valid {
		status.LastCommand = &last.Time
	}
	return &status, nil
}

// Delete removes the status row (clean shutdown indicator).
func (s *AgentStatusStore) Delete(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM agent_status WHERE id = 1`)
	return err
}
