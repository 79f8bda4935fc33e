// plugin_service.go: install, apply, dispose and remove plugins
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package saukko

import (
	"io"
	"time"

	timecache "github.com/agilira/go-timecache"
)

// ConfigSource provides per-plugin configuration. The "config" service of an
// App implements it.
type ConfigSource interface {
	GetMap(path string) map[string]any
}

type pluginRecord struct {
	module      Module
	entry       entry
	config      map[string]any
	configured  bool
	ctx         *Context
	enabled     bool
	published   bool
	installedAt time.Time
	appliedAt   time.Time
}

// PluginInfo is a snapshot of an installed plugin.
type PluginInfo struct {
	Name        string         `json:"name"`
	Inject      []string       `json:"inject"`
	Kind        string         `json:"kind"`
	State       LifecycleState `json:"-"`
	StateName   string         `json:"state"`
	Enabled     bool           `json:"enabled"`
	Missing     []string       `json:"missing,omitempty"`
	InstalledAt time.Time      `json:"installed_at"`
	AppliedAt   time.Time      `json:"applied_at,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// PluginService manages the plugins of a context tree.
//
// Applying a plugin creates a child context of the root whose lifecycle
// depends on the plugin's Inject list, registers the entry point as an
// assurance and sets the lifecycle up. While active, the plugin publishes
// its instance (or its context) as a service under its own name unless a
// service slot with that name already exists, so plugins can depend on
// each other by name.
type PluginService struct {
	root    *Context
	logger  Logger
	records map[string]*pluginRecord
	order   []string
	applied []string
}

func newPluginService(root *Context) *PluginService {
	return &PluginService{
		root:    root,
		logger:  root.rt.logger.With("component", "plugin"),
		records: make(map[string]*pluginRecord),
	}
}

// Install registers a module without applying it.
func (s *PluginService) Install(m Module) error {
	e, err := validateModule(m)
	if err != nil {
		s.logger.Error("Rejected plugin", "plugin", m.Name, "error", err)
		return err
	}
	if _, exists := s.records[m.Name]; exists {
		err := NewDuplicatePluginError(m.Name)
		s.logger.Error("Rejected plugin", "plugin", m.Name, "error", err)
		return err
	}

	inject := make([]string, len(m.Inject))
	copy(inject, m.Inject)
	m.Inject = inject

	s.records[m.Name] = &pluginRecord{
		module:      m,
		entry:       e,
		installedAt: timecache.CachedTime(),
	}
	s.order = append(s.order, m.Name)

	var missing []string
	for _, dep := range inject {
		if !s.root.rt.registry.Declared(dep) && s.records[dep] == nil {
			missing = append(missing, dep)
		}
	}
	if len(missing) > 0 {
		s.logger.Warn("Plugin installed with unknown dependencies", "plugin", m.Name, "missing", missing)
	}
	s.logger.Debug("Plugin installed", "plugin", m.Name, "kind", e.kind.String())
	return nil
}

// Configure sets the configuration passed to the plugin entry point,
// overriding the "plugin.config.<name>" value of the config service.
// It takes effect at the next setup.
func (s *PluginService) Configure(name string, config map[string]any) error {
	rec, ok := s.records[name]
	if !ok {
		return NewPluginNotFoundError(name)
	}
	rec.config = config
	rec.configured = true
	return nil
}

// Apply creates the plugin's context and lifecycle and sets it up. The
// lifecycle stays pending while dependencies are missing. The error of the
// entry point is returned when setup failed right away.
func (s *PluginService) Apply(name string) error {
	rec, ok := s.records[name]
	if !ok {
		err := NewPluginNotFoundError(name)
		s.logger.Error("Cannot apply plugin", "plugin", name, "error", err)
		return err
	}
	if rec.enabled && rec.ctx != nil && rec.ctx.lifecycle.state != StateDisposed {
		return NewPluginAlreadyActiveError(name)
	}

	ctx := s.root.extend(name, rec.module.Inject)
	rec.ctx = ctx
	rec.enabled = true
	rec.published = false
	rec.appliedAt = timecache.CachedTime()
	s.applied = removeEntry(s.applied, name)
	s.applied = append(s.applied, name)

	lc := ctx.lifecycle
	lc.OnTransition(func(from, to LifecycleState) {
		s.root.rt.events.Emit(EventPluginState, name, from, to)
	})
	if _, err := lc.Ensure(func() error { return s.activate(rec, ctx) }); err != nil {
		return err
	}

	if missing := lc.Missing(); len(missing) > 0 {
		s.logger.Info("Plugin waiting for dependencies", "plugin", name, "missing", missing)
	}
	lc.Setup()
	if lc.state == StateFailed {
		return lc.err
	}
	return nil
}

// activate runs the entry point once per setup.
func (s *PluginService) activate(rec *pluginRecord, ctx *Context) error {
	name := rec.module.Name
	instance, err := rec.entry.call(ctx, s.configFor(rec))
	if err != nil {
		return err
	}

	var export any = ctx
	if instance != nil {
		export = instance
		if d, ok := instance.(interface{ Dispose() error }); ok {
			ctx.Collect(d.Dispose)
		}
	}
	ctx.lifecycle.OnReady(func() { s.publish(rec, ctx, export) })
	s.logger.Info("Plugin applied", "plugin", name)
	return nil
}

func (s *PluginService) publish(rec *pluginRecord, ctx *Context, export any) {
	name := rec.module.Name
	registry := s.root.rt.registry
	if registry.Declared(name) {
		s.logger.Debug("Plugin export shadowed by service", "plugin", name)
		return
	}
	rec.published = true
	ctx.Collect(func() error {
		if rec.published {
			rec.published = false
			registry.Remove(name)
		}
		return nil
	})
	if err := registry.Set(name, export); err != nil {
		s.logger.Warn("Plugin export not published", "plugin", name, "error", err)
	}
}

func (s *PluginService) configFor(rec *pluginRecord) map[string]any {
	if rec.configured {
		return copyConfig(rec.config)
	}
	if v, ok := s.root.rt.registry.Get("config"); ok {
		if src, ok := v.(ConfigSource); ok {
			return src.GetMap("plugin.config." + ConfigKey(rec.module.Name))
		}
	}
	return map[string]any{}
}

func copyConfig(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Dispose unloads the plugin and marks it disabled. The record is kept so
// the plugin can be applied again.
func (s *PluginService) Dispose(name string) error {
	rec, ok := s.records[name]
	if !ok {
		return NewPluginNotFoundError(name)
	}
	if !rec.enabled {
		return NewPluginNotEnabledError(name)
	}
	rec.enabled = false
	s.applied = removeEntry(s.applied, name)
	if rec.ctx != nil {
		rec.ctx.lifecycle.Dispose()
	}
	s.logger.Info("Plugin disposed", "plugin", name)
	return nil
}

// Remove disposes the plugin if needed and forgets it.
func (s *PluginService) Remove(name string) error {
	rec, ok := s.records[name]
	if !ok {
		return NewPluginNotFoundError(name)
	}
	if rec.enabled {
		if err := s.Dispose(name); err != nil {
			return err
		}
	}
	delete(s.records, name)
	s.order = removeEntry(s.order, name)

	if closer, ok := rec.entry.source.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			s.logger.Warn("Plugin entry close failed", "plugin", name, "error", err)
		}
	}
	s.logger.Info("Plugin removed", "plugin", name)
	return nil
}

// Retry sets up a plugin whose last setup failed.
func (s *PluginService) Retry(name string) error {
	rec, ok := s.records[name]
	if !ok {
		return NewPluginNotFoundError(name)
	}
	if !rec.enabled || rec.ctx == nil {
		return NewPluginNotEnabledError(name)
	}
	return rec.ctx.lifecycle.Retry()
}

// Has reports whether name is installed.
func (s *PluginService) Has(name string) bool {
	_, ok := s.records[name]
	return ok
}

// Context returns the context of an applied plugin.
func (s *PluginService) Context(name string) (*Context, bool) {
	rec, ok := s.records[name]
	if !ok || !rec.enabled || rec.ctx == nil {
		return nil, false
	}
	return rec.ctx, true
}

// Get returns a snapshot of an installed plugin.
func (s *PluginService) Get(name string) (PluginInfo, bool) {
	rec, ok := s.records[name]
	if !ok {
		return PluginInfo{}, false
	}
	return s.info(rec), true
}

// List returns snapshots of every installed plugin in install order.
func (s *PluginService) List() []PluginInfo {
	out := make([]PluginInfo, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.info(s.records[name]))
	}
	return out
}

// Names returns the installed plugin names in install order.
func (s *PluginService) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Applied returns the enabled plugins in the order they were applied.
func (s *PluginService) Applied() []string {
	out := make([]string, len(s.applied))
	copy(out, s.applied)
	return out
}

// Diagnose runs Diagnose over the installed plugins.
func (s *PluginService) Diagnose(services []string) Diagnosis {
	deps := make([]PluginDeps, 0, len(s.order))
	for _, name := range s.order {
		deps = append(deps, PluginDeps{Name: name, Inject: s.records[name].module.Inject})
	}
	return Diagnose(deps, services)
}

func (s *PluginService) info(rec *pluginRecord) PluginInfo {
	info := PluginInfo{
		Name:        rec.module.Name,
		Inject:      append([]string(nil), rec.module.Inject...),
		Kind:        rec.entry.kind.String(),
		State:       StateDisposed,
		Enabled:     rec.enabled,
		InstalledAt: rec.installedAt,
		AppliedAt:   rec.appliedAt,
	}
	if rec.ctx != nil {
		lc := rec.ctx.lifecycle
		info.State = lc.state
		if lc.state == StatePending {
			info.Missing = lc.Missing()
		}
		if lc.err != nil {
			info.Error = lc.err.Error()
		}
	}
	info.StateName = info.State.String()
	return info
}
