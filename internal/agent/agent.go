// Package agent implements rowpane-agent, the local daemon that executes
// delegated DAO commands against connections only it can reach.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rowpane/rowpane/internal/config"
	"github.com/rowpane/rowpane/internal/factory"
	"github.com/rowpane/rowpane/internal/logger"
	"github.com/rowpane/rowpane/internal/storage/sqlite"
)

// Version is set by ldflags during build
var Version = "dev"

// StatusDBName is the status database inside the agent data directory.
const StatusDBName = "agent.db"

const shutdownTimeout = 5 * time.Second

// Agent serves delegated commands over HTTP.
type Agent struct {
	cfg     atomic.Pointer[config.Config]
	cfgFile string

	factory   *factory.Factory
	exec      *Executor
	db        *sqlite.DB
	conns     *sqlite.ConnectionStore
	status    *AgentStatusStore
	retention *RetentionManager
	stats     *opStats

	pidFile string
	started time.Time
	logger  *slog.Logger

	cancel   context.CancelFunc
	done     chan error
	stopOnce sync.Once
	stopErr  error
}

// New opens the status database under agent.data_dir and prepares the
// connections of cfg. Nothing listens until Start.
func New(cfg *config.Config, log *slog.Logger) (*Agent, error) {
	if cfg.Agent.JWTSecret == "" {
		return nil, errors.New("agent.jwt_secret is required to run the agent")
	}
	log = logger.OrDiscard(log)

	db, err := sqlite.Open(filepath.Join(cfg.Agent.DataDir, StatusDBName))
	if err != nil {
		return nil, err
	}
	ctx := context.Background()
	status, err := NewAgentStatusStore(ctx, db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init agent_status schema: %w", err)
	}

	a := &Agent{
		db:      db,
		conns:   sqlite.NewConnectionStore(db),
		status:  status,
		stats:   newOpStats(),
		pidFile: PIDFilePath(cfg.Agent.DataDir),
		logger:  log,
	}
	a.cfg.Store(cfg)
	a.factory = factory.FromConfig(cfg, log, a.onDisconnect)
	a.exec = NewExecutor(a.factory)
	a.retention = NewRetentionManager(a.conns, 0, 0, log)

	if err := a.registerConnections(ctx, cfg); err != nil {
		a.factory.Close()
		db.Close()
		return nil, fmt.Errorf("failed to register connections: %w", err)
	}
	return a, nil
}

// Watch reloads the connection list whenever the loader's file changes.
func (a *Agent) Watch(loader *config.Loader) {
	a.cfgFile = loader.ConfigFile()
	loader.Watch(a.Reload)
}

// Reload swaps in next and drops the cached resources of every connection
// that was edited or removed.
func (a *Agent) Reload(next *config.Config) {
	prev := a.cfg.Swap(next)
	changed := config.ChangedConnections(prev.Connections, next.Connections)
	a.factory.Invalidate(changed...)

	ctx := context.Background()
	for _, p := range changed {
		if _, err := next.Connection(p.Name); err != nil {
			if err := a.conns.Remove(ctx, p.Name); err != nil {
				a.logger.Warn("Failed to remove connection status", "connection", p.Name, "error", err)
			}
		}
	}
	if err := a.registerConnections(ctx, next); err != nil {
		a.logger.Warn("Failed to register connections", "error", err)
	}
	a.logger.Info("Connections reloaded", "changed", len(changed), "connections", len(next.Connections))
}

// registerConnections records every connection the agent serves. Agent
// variants and connections without a token are never served.
func (a *Agent) registerConnections(ctx context.Context, cfg *config.Config) error {
	for _, c := range cfg.Connections {
		if c.Type.IsAgent() || c.AgentToken == "" {
			continue
		}
		if err := a.conns.Register(ctx, c.Name, string(c.Type), c.String()); err != nil {
			return err
		}
	}
	return nil
}

func (a *Agent) onDisconnect(name string, err error) {
	if e := a.conns.MarkDisconnected(context.Background(), name, err.Error()); e != nil {
		a.logger.Warn("Failed to record disconnect", "connection", name, "error", e)
	}
}

// Start binds the listen address and serves in the background.
func (a *Agent) Start() error {
	cfg := a.cfg.Load()

	if err := WritePIDFile(a.pidFile); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.Agent.Listen)
	if err != nil {
		_ = RemovePIDFile(a.pidFile)
		return fmt.Errorf("failed to listen on %s: %w", cfg.Agent.Listen, err)
	}

	a.started = time.Now()
	status := &AgentStatus{
		PID:        os.Getpid(),
		StartTime:  a.started,
		Version:    Version,
		Listen:     ln.Addr().String(),
		ConfigFile: a.cfgFile,
	}
	if err := a.status.Upsert(context.Background(), status); err != nil {
		ln.Close()
		_ = RemovePIDFile(a.pidFile)
		return fmt.Errorf("failed to write agent status: %w", err)
	}

	a.retention.Start()

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.done = make(chan error, 1)
	go func() {
		a.done <- a.Serve(ctx, ln)
	}()

	a.logger.Info("Agent started", "pid", os.Getpid(), "version", Version, "listen", ln.Addr().String())
	return nil
}

// Serve runs the HTTP server on ln until ctx ends.
func (a *Agent) Serve(ctx context.Context, ln net.Listener) error {
	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Handler: a.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		a.logger.Debug("Shutting down agent server")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

// Done reports the server's exit. It is nil before Start.
func (a *Agent) Done() <-chan error {
	return a.done
}

// Stop shuts the server down and releases every resource. Later calls
// return the first result.
func (a *Agent) Stop() error {
	a.stopOnce.Do(func() { a.stopErr = a.stop() })
	return a.stopErr
}

func (a *Agent) stop() error {
	a.logger.Info("Stopping rowpane-agent")

	var serveErr error
	if a.cancel != nil {
		a.cancel()
		select {
		case serveErr = <-a.done:
		case <-time.After(shutdownTimeout + time.Second):
			a.logger.Warn("Shutdown timeout, forcing exit")
		}
		a.retention.Stop()
	}

	a.factory.Close()

	ctx := context.Background()
	if _, err := a.db.Conn().ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		a.logger.Debug("WAL checkpoint failed", "error", err)
	}
	// A missing status row tells readers the agent shut down cleanly.
	_ = a.status.Delete(ctx)
	if err := RemovePIDFile(a.pidFile); err != nil {
		a.logger.Debug("Failed to remove PID file", "error", err)
	}
	if err := a.db.Close(); err != nil {
		a.logger.Debug("Failed to close database", "error", err)
	}

	a.logger.Info("Agent stopped")
	return serveErr
}

// Config returns the configuration currently served.
func (a *Agent) Config() *config.Config {
	return a.cfg.Load()
}
