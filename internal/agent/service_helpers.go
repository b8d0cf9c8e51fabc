package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/rowpane/rowpane/internal/storage/sqlite"
)

// readAgentStatus reads the status row and connection records the agent
// keeps in dataDir.
func readAgentStatus(ctx context.Context, dataDir string) (*AgentStatus, []*sqlite.ConnectionRecord, error) {
	db, err := sqlite.Open(filepath.Join(dataDir, StatusDBName))
	if err != nil {
		return nil, nil, err
	}
	defer db.Close()

	store, err := NewAgentStatusStore(ctx, db)
	if err != nil {
		return nil, nil, err
	}
	status, err := store.Get(ctx)
	if err != nil {
		return nil, nil, err
	}
	conns, err := sqlite.NewConnectionStore(db).List(ctx)
	if err != nil {
		return nil, nil, err
	}
	return status, conns, nil
}

// formatUptime formats the duration since start time as a human-readable string.
func formatUptime(startTime time.Time) string {
	d := time.Since(startTime)

	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

// formatTimeSince renders t relative to now, e.g. "3 minutes ago".
func formatTimeSince(t time.Time) string {
	return humanize.Time(t)
}
