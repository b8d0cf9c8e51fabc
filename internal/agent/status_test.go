package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowpane/rowpane/internal/logger"
	"github.com/rowpane/rowpane/internal/storage/sqlite"
)

func openStatusDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), StatusDBName))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestAgentStatusStore(t *testing.T) {
	ctx := context.Background()
	store, err := NewAgentStatusStore(ctx, openStatusDB(t))
	require.NoError(t, err)

	got, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	start := time.Now().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, store.Upsert(ctx, &AgentStatus{
		PID:        4242,
		StartTime:  start,
		Version:    "1.2.3",
		Listen:     "127.0.0.1:7070",
		ConfigFile: "/etc/rowpane/config.yaml",
	}))

	at := time.Now().Truncate(time.Second)
	require.NoError(t, store.RecordCommand(ctx, at, ""))
	require.NoError(t, store.RecordCommand(ctx, at, "relation \"nope\" does not exist"))

	got, err = store.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 4242, got.PID)
	assert.True(t, got.StartTime.Equal(start))
	assert.Equal(t, "127.0.0.1:7070", got.Listen)
	assert.Equal(t, "/etc/rowpane/config.yaml", got.ConfigFile)
	require.NotNil(t, got.LastCommand)
	assert.True(t, got.LastCommand.Equal(at))
	assert.Equal(t, int64(1), got.ErrorCount)
	assert.Equal(t, "relation \"nope\" does not exist", got.LastError)

	// A restart resets the counters.
	require.NoError(t, store.Upsert(ctx, &AgentStatus{PID: 4343, StartTime: time.Now(), Version: "1.2.3"}))
	got, err = store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4343, got.PID)
	assert.Zero(t, got.ErrorCount)

	require.NoError(t, store.Delete(ctx))
	got, err = store.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestOpStats(t *testing.T) {
	s := newOpStats()
	assert.Empty(t, s.snapshot())

	s.observe("getRowsFromTable", 10*time.Millisecond, false)
	s.observe("getRowsFromTable", 30*time.Millisecond, true)
	s.observe("addRowInTable", 5*time.Millisecond, false)

	snap := s.snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "addRowInTable", snap[0].Operation)
	assert.Equal(t, "getRowsFromTable", snap[1].Operation)
	assert.Equal(t, int64(2), snap[1].Count)
	assert.Equal(t, int64(1), snap[1].Failures)
	assert.Greater(t, snap[1].AvgMillis, 0.0)

	lat := s.latency(time.Now())
	require.Len(t, lat, 4)
	assert.Equal(t, 3, lat[0].Commands)
	assert.Equal(t, 1, lat[0].Failures)
	assert.Equal(t, 30.0, lat[0].Max)
}

func TestRetentionManagerPrune(t *testing.T) {
	ctx := context.Background()
	conns := sqlite.NewConnectionStore(openStatusDB(t))
	require.NoError(t, conns.Register(ctx, "main", "postgres", "postgres://app@db:5432/app"))
	for i := range 25 {
		require.NoError(t, conns.Observe(ctx, sqlite.CommandRecord{
			RequestID:  fmt.Sprintf("r%d", i),
			Connection: "main",
			Operation:  "getTablesFromDB",
		}))
	}

	rm := NewRetentionManager(conns, 10, time.Hour, logger.Discard())
	rm.PruneNow()
	n, err := conns.CountCommands(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)

	rm.Start()
	rm.Stop()
	n, err = conns.CountCommands(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)
}
