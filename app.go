// app.go: application assembly, startup and shutdown
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package saukko

import (
	"strings"
	"sync"
)

// Names of the builtin services.
const (
	ServiceLogger  = "logger"
	ServiceConfig  = "config"
	ServicePlugin  = "plugin"
	ServiceStorage = "storage"
)

// AppOptions configures NewApp.
type AppOptions struct {
	// Logger receives every runtime log. Nil disables logging.
	Logger Logger

	// Config is used as the configuration when ConfigPath is empty.
	Config *Config

	// ConfigPath is loaded with LoadConfigFile when set.
	ConfigPath string

	// StoragePath overrides service.config.storage.path.
	StoragePath string

	// DisableStorage skips the storage service.
	DisableStorage bool
}

// App owns a root context with the builtin services and drives startup and
// shutdown.
//
// The context tree is single threaded. Goroutines other than the one that
// called Start must use Do to touch it.
//
// Example usage:
//
//	app, err := saukko.NewApp(saukko.AppOptions{ConfigPath: "saukko.toml"})
//	if err != nil {
//	    return err
//	}
//	app.Do(func(ctx *saukko.Context) {
//	    _ = ctx.Plugins().Install(myModule)
//	})
//	if err := app.Start(); err != nil {
//	    return err
//	}
//	defer app.Stop()
type App struct {
	mu        sync.Mutex
	ctx       *Context
	logger    Logger
	config    *ConfigService
	storage   *StorageService
	watcher   *ConfigWatcher
	diagnosis Diagnosis
	started   bool
	stopped   bool
}

// NewApp builds the root context and registers the builtin services.
func NewApp(opts AppOptions) (*App, error) {
	logger := NewLogger(opts.Logger)
	ctx := NewContext(logger)
	app := &App{
		ctx:    ctx,
		logger: logger.With("component", "app"),
		config: NewConfigService(logger),
	}

	switch {
	case opts.ConfigPath != "":
		_, raw, err := LoadConfigFile(opts.ConfigPath)
		if err != nil {
			return nil, err
		}
		app.config.SetPath(opts.ConfigPath)
		if err := app.config.SetRaw(raw); err != nil {
			return nil, err
		}
	case opts.Config != nil:
		cfg := *opts.Config
		cfg.ApplyDefaults()
		if err := app.config.SetConfig(cfg); err != nil {
			return nil, err
		}
	default:
		if err := app.config.SetConfig(DefaultConfig()); err != nil {
			return nil, err
		}
	}

	if err := RegisterService(ctx, ServiceLogger, logger, true); err != nil {
		return nil, err
	}
	if err := RegisterService(ctx, ServiceConfig, app.config, true); err != nil {
		return nil, err
	}
	if err := RegisterService(ctx, ServicePlugin, ctx.Plugins(), true); err != nil {
		return nil, err
	}

	if !opts.DisableStorage {
		dir := opts.StoragePath
		if dir == "" {
			dir = app.config.GetString("service.config.storage.path")
		}
		storage, err := NewStorageService(dir, logger)
		if err != nil {
			return nil, err
		}
		app.storage = storage
		if err := RegisterService(ctx, ServiceStorage, storage, true); err != nil {
			return nil, err
		}
	}
	return app, nil
}

// Context returns the root context. Use it only from the owning goroutine
// or inside Do.
func (a *App) Context() *Context { return a.ctx }

// ConfigService returns the config service.
func (a *App) ConfigService() *ConfigService { return a.config }

// Storage returns the storage service, or nil when disabled.
func (a *App) Storage() *StorageService { return a.storage }

// Diagnosis returns the diagnosis computed by the last Start.
func (a *App) Diagnosis() Diagnosis { return a.diagnosis }

// Do runs fn with the root context, serialized with every other Do, Start
// and Stop. fn must not call Start, Stop or Do.
func (a *App) Do(fn func(ctx *Context)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(a.ctx)
}

// LoadRegistered installs the registered modules and service providers
// selected by the configured scopes and names.
func (a *App) LoadRegistered() {
	a.mu.Lock()
	defer a.mu.Unlock()

	serviceScopes := append([]string{DefaultServiceScope}, a.config.GetStrings("service.scopes")...)
	serviceNames := a.config.GetStrings("service.files")
	for _, p := range RegisteredServiceProviders() {
		if !selected(p.Name, serviceScopes, serviceNames) {
			continue
		}
		svc, err := p.Factory(a.ctx)
		if err != nil {
			a.logger.Error("Service provider failed", "service", p.Name, "error", err)
			continue
		}
		if err := RegisterService(a.ctx, p.Name, svc, p.Immediate); err != nil {
			a.logger.Error("Service registration failed", "service", p.Name, "error", err)
		}
	}

	pluginScopes := append([]string{DefaultPluginScope}, a.config.GetStrings("plugin.scopes")...)
	for _, m := range RegisteredModules() {
		if !selected(m.Name, pluginScopes, nil) {
			continue
		}
		// errors are logged by Install
		_ = a.ctx.Plugins().Install(m)
	}
}

func selected(name string, scopes, names []string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	for _, scope := range scopes {
		if scope != "" && strings.HasPrefix(name, scope) {
			return true
		}
	}
	return false
}

// Start diagnoses the installed plugins against the declared services,
// applies the loadable ones in order and then activates the root context.
// Plugins that fail or are left out are logged; they never abort startup.
func (a *App) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		a.logger.Warn("App already started")
		return nil
	}
	a.started = true
	a.logger.Info("Starting app")

	plugins := a.ctx.Plugins()
	a.diagnosis = plugins.Diagnose(a.ctx.Registry().Keys())
	if len(a.diagnosis.Issues) > 0 {
		a.logger.Warn("Plugin dependency issues detected, affected plugins are skipped")
		for _, issue := range a.diagnosis.Issues {
			switch issue.Type {
			case IssueMissingDependency:
				a.logger.Warn("Plugin is missing dependencies",
					"plugin", issue.Plugin, "missing", strings.Join(issue.Details, ", "))
			case IssueCircularDependency:
				a.logger.Warn("Plugin has circular dependencies",
					"plugin", issue.Plugin, "cycle", strings.Join(issue.Details, " -> "))
			}
		}
	}

	applied := 0
	for _, name := range a.diagnosis.Order {
		if err := plugins.Apply(name); err != nil {
			a.logger.Error("Plugin apply failed", "plugin", name, "error", err)
			continue
		}
		applied++
	}

	a.ctx.lifecycle.Setup()
	a.logger.Info("App started", "plugins_applied", applied)
	return nil
}

// Stop disposes the enabled plugins in reverse application order, then the
// root context. Stop is idempotent.
func (a *App) Stop() {
	// the watcher callback enters Do, so stop it before taking the lock
	a.mu.Lock()
	watcher := a.watcher
	a.watcher = nil
	a.mu.Unlock()
	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			a.logger.Warn("Config watcher stop failed", "error", err)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return
	}
	a.stopped = true
	a.logger.Info("Stopping app")

	plugins := a.ctx.Plugins()
	applied := plugins.Applied()
	for i := len(applied) - 1; i >= 0; i-- {
		if err := plugins.Dispose(applied[i]); err != nil {
			a.logger.Warn("Plugin dispose failed", "plugin", applied[i], "error", err)
		}
	}
	a.ctx.lifecycle.Dispose()
	a.logger.Info("App stopped")
}

// WatchConfig reloads the configuration file on change and emits
// EventConfigReload with the path. It requires the app to be created from
// a config file.
func (a *App) WatchConfig(options ConfigWatcherOptions) error {
	path := a.config.Path()
	if path == "" {
		return NewConfigWatcherError("app was not loaded from a file", nil)
	}
	watcher, err := NewConfigWatcher(path, options, a.logger, func(_ Config, raw map[string]any) {
		a.Do(func(ctx *Context) {
			if err := a.config.SetRaw(raw); err != nil {
				a.logger.Error("Applying reloaded configuration failed", "error", err)
				return
			}
			ctx.Emit(EventConfigReload, path)
		})
	})
	if err != nil {
		return err
	}
	if err := watcher.Start(); err != nil {
		return err
	}
	a.mu.Lock()
	a.watcher = watcher
	a.mu.Unlock()
	return nil
}

// ReloadConfig loads path and replaces the configuration. Plugins read the
// new values at their next setup.
func (a *App) ReloadConfig(path string) error {
	_, raw, err := LoadConfigFile(path)
	if err != nil {
		return err
	}
	a.Do(func(ctx *Context) {
		a.config.SetPath(path)
		if err = a.config.SetRaw(raw); err == nil {
			ctx.Emit(EventConfigReload, path)
		}
	})
	return err
}
