package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rowpane/rowpane/internal/storage/sqlite"
)

const (
	// DefaultCommandLogSize is how many delegated commands the log keeps.
	DefaultCommandLogSize = 10000
	defaultPruneInterval  = time.Hour
)

// RetentionManager trims the agent command log on a fixed interval so the
// status database stays bounded on long-running agents.
type RetentionManager struct {
	store    *sqlite.ConnectionStore
	keep     int
	interval time.Duration
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRetentionManager prunes store down to keep rows every interval. Zero
// values fall back to defaults.
func NewRetentionManager(store *sqlite.ConnectionStore, keep int, interval time.Duration, logger *slog.Logger) *RetentionManager {
	if keep <= 0 {
		keep = DefaultCommandLogSize
	}
	if interval <= 0 {
		interval = defaultPruneInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RetentionManager{
		store:    store,
		keep:     keep,
		interval: interval,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start runs one prune immediately and then one per interval.
func (rm *RetentionManager) Start() {
	rm.PruneNow()

	rm.wg.Add(1)
	go rm.run()
}

// Stop ends the prune cycle and waits for an in-flight prune.
func (rm *RetentionManager) Stop() {
	rm.cancel()
	rm.wg.Wait()
}

func (rm *RetentionManager) run() {
	defer rm.wg.Done()

	ticker := time.NewTicker(rm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-rm.ctx.Done():
			return
		case <-ticker.C:
			rm.PruneNow()
		}
	}
}

// PruneNow trims the command log once.
func (rm *RetentionManager) PruneNow() {
	pruned, err := rm.store.TrimCommands(rm.ctx, rm.keep)
	if err != nil {
		rm.logger.Warn("Failed to prune command log", "error", err)
		return
	}
	if pruned > 0 {
		rm.logger.Debug("Pruned command log", "rows", pruned, "keep", rm.keep)
	}
}
