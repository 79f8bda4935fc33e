// config_watcher.go: hot reload of the configuration file with Argus
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package saukko

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/argus"
)

// ConfigWatcherOptions configures a ConfigWatcher.
type ConfigWatcherOptions struct {
	// PollInterval for file watching
	PollInterval time.Duration `json:"poll_interval"`

	// CacheTTL for Argus stat caching, should be <= PollInterval
	CacheTTL time.Duration `json:"cache_ttl"`
}

// DefaultConfigWatcherOptions returns the defaults used by the daemon.
func DefaultConfigWatcherOptions() ConfigWatcherOptions {
	return ConfigWatcherOptions{
		PollInterval: 2 * time.Second,
		CacheTTL:     1 * time.Second,
	}
}

// ReloadFunc receives a successfully reloaded configuration. It runs on the
// watcher goroutine.
type ReloadFunc func(cfg Config, raw map[string]any)

// ConfigWatcher reloads the configuration file when it changes.
//
// Reloads that fail to parse or validate are logged and ignored; the last
// good configuration stays in effect.
type ConfigWatcher struct {
	watcher  *argus.Watcher
	path     string
	logger   Logger
	onReload ReloadFunc

	mu       sync.Mutex
	running  bool
	stopOnce sync.Once
	stopped  atomic.Bool
	reloads  atomic.Int64
}

// NewConfigWatcher creates a watcher for path.
func NewConfigWatcher(path string, options ConfigWatcherOptions, logger Logger, onReload ReloadFunc) (*ConfigWatcher, error) {
	if onReload == nil {
		return nil, NewConfigWatcherError("reload callback is required", nil)
	}
	if _, err := validateConfigPath(path); err != nil {
		return nil, err
	}
	log := NewLogger(logger).With("component", "config_watcher")

	if options.PollInterval <= 0 {
		options.PollInterval = DefaultConfigWatcherOptions().PollInterval
	}
	if options.CacheTTL <= 0 || options.CacheTTL > options.PollInterval {
		options.CacheTTL = options.PollInterval / 2
	}

	watcher := argus.New(argus.Config{
		PollInterval:         options.PollInterval,
		CacheTTL:             options.CacheTTL,
		MaxWatchedFiles:      1,
		Audit:                argus.AuditConfig{Enabled: false},
		OptimizationStrategy: argus.OptimizationSingleEvent,
		ErrorHandler: func(err error, filepath string) {
			log.Error("Argus file watching error", "error", err, "file", filepath)
		},
	})

	return &ConfigWatcher{
		watcher:  watcher,
		path:     path,
		logger:   log,
		onReload: onReload,
	}, nil
}

// Start begins watching. A stopped watcher cannot be restarted.
func (cw *ConfigWatcher) Start() error {
	if cw.stopped.Load() {
		return NewConfigWatcherError("watcher has been stopped", nil)
	}
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.running {
		return NewConfigWatcherError("watcher is already running", nil)
	}
	if err := cw.watcher.Watch(cw.path, cw.handleConfigChange); err != nil {
		return NewConfigWatcherError("failed to watch config file", err)
	}
	if err := cw.watcher.Start(); err != nil {
		return NewConfigWatcherError("failed to start Argus watcher", err)
	}
	cw.running = true
	cw.logger.Info("Configuration watcher started", "config_path", cw.path)
	return nil
}

// Stop stops watching. Calling Stop more than once is harmless.
func (cw *ConfigWatcher) Stop() error {
	var stopErr error
	cw.stopOnce.Do(func() {
		cw.mu.Lock()
		defer cw.mu.Unlock()
		cw.stopped.Store(true)
		if !cw.running {
			return
		}
		cw.running = false
		if err := cw.watcher.Stop(); err != nil {
			stopErr = NewConfigWatcherError("failed to stop Argus watcher", err)
			return
		}
		cw.logger.Info("Configuration watcher stopped")
	})
	return stopErr
}

// IsRunning reports whether the watcher is active.
func (cw *ConfigWatcher) IsRunning() bool {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	return cw.running
}

// Reloads returns the number of applied reloads.
func (cw *ConfigWatcher) Reloads() int64 {
	return cw.reloads.Load()
}

func (cw *ConfigWatcher) handleConfigChange(event argus.ChangeEvent) {
	if event.IsDelete {
		cw.logger.Warn("Configuration file deleted, keeping current configuration", "path", event.Path)
		return
	}
	cw.logger.Info("Configuration file change detected", "path", event.Path, "size", event.Size)
	cw.reload()
}

func (cw *ConfigWatcher) reload() {
	cfg, raw, err := LoadConfigFile(cw.path)
	if err != nil {
		cw.logger.Error("Configuration reload failed, keeping current configuration", "path", cw.path, "error", err)
		return
	}
	cw.reloads.Add(1)
	cw.onReload(cfg, raw)
}
