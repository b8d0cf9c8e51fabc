package config

import (
	"github.com/fsnotify/fsnotify"

	"github.com/rowpane/rowpane/internal/logger"
)

// Watch re-reads the config file whenever it changes and calls onChange with
// the newly validated configuration. Invalid edits are logged and ignored so
// a running agent keeps its last good configuration.
func (l *Loader) Watch(onChange func(*Config)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := l.Load()
		if err != nil {
			logger.Warn("Ignoring invalid config change", "file", e.Name, "error", err)
			return
		}
		logger.Info("Config reloaded", "file", e.Name, "connections", len(cfg.Connections))
		onChange(cfg)
	})
	l.v.WatchConfig()
}
