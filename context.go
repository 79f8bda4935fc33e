// context.go: the shared namespace plugins and services operate on
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package saukko

import "github.com/google/uuid"

// tree holds the tables shared by every context of a tree.
type tree struct {
	registry   *ServiceRegistry
	elevations *ElevationTable
	events     *EventBus
	lifecycles *lifecycleTable
	plugins    *PluginService
	logger     Logger
}

// Context is a node of the namespace tree.
//
// Lookups go through an explicit chain: own fields, then elevated names,
// then present service slots, then the parent context. The root context is
// created by NewContext; Extend creates children that share the registry,
// elevations, event bus and plugin service of the root but own their
// fields and a lifecycle gated on additional dependencies.
//
// A context tree is not safe for concurrent use. Code running outside the
// thread that owns the tree must go through App.Do.
type Context struct {
	rt        *tree
	parent    *Context
	fields    map[string]any
	lifecycle *Lifecycle
}

// NewContext creates a root context.
func NewContext(logger Logger) *Context {
	log := NewLogger(logger)
	events := NewEventBus(log)
	registry := NewServiceRegistry(func(key string) {
		events.Emit(EventRuntimeChange, key)
	})
	rt := &tree{
		registry:   registry,
		elevations: NewElevationTable(log),
		events:     events,
		lifecycles: newLifecycleTable(registry, log),
		logger:     log,
	}
	events.On(EventRuntimeChange, func(args ...any) {
		if len(args) == 0 {
			return
		}
		if key, ok := args[0].(string); ok {
			rt.lifecycles.onRuntimeChange(key)
		}
	})

	ctx := &Context{
		rt:        rt,
		fields:    make(map[string]any),
		lifecycle: rt.lifecycles.create("root", nil, uuid.Nil),
	}
	rt.plugins = newPluginService(ctx)
	return ctx
}

// Extend creates a child context whose lifecycle additionally depends on
// deps. The child's lifecycle is forked from ctx's, so disposing ctx
// disposes the child. The child lifecycle is not set up.
func (c *Context) Extend(deps ...string) *Context {
	return c.extend("", deps)
}

func (c *Context) extend(name string, deps []string) *Context {
	if name == "" {
		name = c.lifecycle.name + "/child"
	}
	return &Context{
		rt:        c.rt,
		parent:    c,
		fields:    make(map[string]any),
		lifecycle: c.lifecycle.Fork(name, deps...),
	}
}

// Parent returns the context c was extended from, or nil for the root.
func (c *Context) Parent() *Context { return c.parent }

// Root returns the root of the tree.
func (c *Context) Root() *Context {
	root := c
	for root.parent != nil {
		root = root.parent
	}
	return root
}

// Lifecycle returns the lifecycle owned by c.
func (c *Context) Lifecycle() *Lifecycle { return c.lifecycle }

// Registry returns the shared service registry.
func (c *Context) Registry() *ServiceRegistry { return c.rt.registry }

// Elevations returns the shared elevation table.
func (c *Context) Elevations() *ElevationTable { return c.rt.elevations }

// Plugins returns the shared plugin service.
func (c *Context) Plugins() *PluginService { return c.rt.plugins }

// Logger returns the runtime logger.
func (c *Context) Logger() Logger { return c.rt.logger }

// Get looks name up through the chain described on Context.
func (c *Context) Get(name string) (any, bool) {
	if v, ok := c.fields[name]; ok {
		return v, true
	}
	if e, ok := c.rt.elevations.Resolve(name); ok {
		if v, ok := c.elevated(e); ok {
			return v, true
		}
	}
	if v, ok := c.rt.registry.Get(name); ok {
		return v, true
	}
	if c.parent != nil {
		return c.parent.Get(name)
	}
	return nil, false
}

func (c *Context) elevated(e Elevation) (any, bool) {
	svc, ok := c.rt.registry.Get(e.Service)
	if !ok {
		return nil, false
	}
	return memberOf(svc, e.Member)
}

// Set writes name. Elevated names write through to the service member,
// declared service slots go through the registry and anything else becomes
// an own field of c. A nil value on an own field deletes it.
func (c *Context) Set(name string, value any) error {
	if e, ok := c.rt.elevations.Resolve(name); ok {
		c.rt.logger.Warn("Writing through an elevated name is discouraged; set the service member instead",
			"name", name, "service", e.Service, "member", e.Member)
		svc, ok := c.rt.registry.Get(e.Service)
		if !ok {
			return NewElevationWriteError(name, e.Service, NewUnmetDependencyError(name, []string{e.Service}))
		}
		if err := setMember(svc, e.Member, value); err != nil {
			return NewElevationWriteError(name, e.Service, err)
		}
		return nil
	}
	if c.rt.registry.Declared(name) {
		return c.rt.registry.Set(name, value)
	}
	if value == nil {
		delete(c.fields, name)
		return nil
	}
	c.fields[name] = value
	return nil
}

// Provide sets an own field of c, bypassing elevations and the registry.
func (c *Context) Provide(name string, value any) {
	c.fields[name] = value
}

// Has reports whether Get would find name.
func (c *Context) Has(name string) bool {
	if _, ok := c.fields[name]; ok {
		return true
	}
	if c.rt.registry.Present(name) {
		return true
	}
	if e, ok := c.rt.elevations.Resolve(name); ok {
		if _, ok := c.elevated(e); ok {
			return true
		}
	}
	return c.parent != nil && c.parent.Has(name)
}

// Declare creates the service slot name, optionally seeded with a value.
func (c *Context) Declare(name string, initial ...any) {
	c.rt.registry.Declare(name, initial...)
}

// Remove deletes the service slot name. Lifecycles depending on it roll back.
func (c *Context) Remove(name string) bool {
	return c.rt.registry.Remove(name)
}

// Elevate exposes members of the service at serviceKey under their own names.
func (c *Context) Elevate(serviceKey string, members ...string) {
	for _, m := range members {
		c.rt.elevations.Register(m, serviceKey, m)
	}
}

// ElevateAs exposes members of the service at serviceKey under the public
// names used as map keys.
func (c *Context) ElevateAs(serviceKey string, mapping map[string]string) {
	for public, member := range mapping {
		c.rt.elevations.Register(public, serviceKey, member)
	}
}

// Resolve returns the elevation registered for public.
func (c *Context) Resolve(public string) (Elevation, bool) {
	return c.rt.elevations.Resolve(public)
}

// On subscribes fn to event. Ready listeners run once c's lifecycle is
// active; dispose listeners run when it unloads. Other subscriptions are
// removed automatically when the lifecycle unloads. The returned handle
// cancels the subscription.
func (c *Context) On(event string, fn Listener) func() {
	switch event {
	case EventReady:
		return c.lifecycle.OnReady(func() { fn() })
	case EventDispose:
		return c.lifecycle.Collect(func() error {
			fn()
			return nil
		})
	case EventRuntimeChange:
		c.rt.logger.Warn("Event is internal and cannot be subscribed", "event", event)
		return func() {}
	}

	off := c.rt.events.On(event, fn)
	uncollect := c.lifecycle.Collect(func() error {
		off()
		return nil
	})
	return func() {
		off()
		uncollect()
	}
}

// Emit delivers event to its listeners. Reserved events cannot be emitted.
func (c *Context) Emit(event string, args ...any) {
	switch event {
	case EventReady, EventDispose, EventRuntimeChange:
		c.rt.logger.Warn("Event is reserved and cannot be emitted", "event", event)
		return
	}
	c.rt.events.Emit(event, args...)
}

// Collect registers a disposal on c's lifecycle.
func (c *Context) Collect(fn Disposal) func() {
	return c.lifecycle.Collect(fn)
}

// CollectAsync registers a disposal that runs in its own goroutine.
func (c *Context) CollectAsync(fn Disposal) func() {
	return c.lifecycle.CollectAsync(fn)
}

// Ensure registers an assurance on c's lifecycle.
func (c *Context) Ensure(fn Assurance) (func(), error) {
	return c.lifecycle.Ensure(fn)
}

// Use installs and applies module with config, returning a function that
// removes it again.
func (c *Context) Use(module Module, config map[string]any) (func(), error) {
	plugins := c.rt.plugins
	if err := plugins.Install(module); err != nil {
		return func() {}, err
	}
	if config != nil {
		if err := plugins.Configure(module.Name, config); err != nil {
			return func() {}, err
		}
	}
	unload := func() {
		if err := plugins.Remove(module.Name); err != nil {
			c.rt.logger.Debug("Plugin already removed", "plugin", module.Name)
		}
	}
	if err := plugins.Apply(module.Name); err != nil {
		return unload, err
	}
	return unload, nil
}

// Lookup returns name from ctx converted to T.
func Lookup[T any](ctx *Context, name string) (T, bool) {
	var zero T
	v, ok := ctx.Get(name)
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}
