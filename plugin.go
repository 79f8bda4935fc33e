// plugin.go: plugin module contract and entry normalization
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package saukko

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Module describes an installable plugin.
//
// Default is the entry point and must be one of:
//   - PluginFunc, or a func with the same signature
//   - Constructor, or a func with the same signature
//   - a value implementing Applier
//
// Example usage:
//
//	saukko.RegisterModule(saukko.Module{
//	    Name:   "greeter",
//	    Inject: []string{"storage"},
//	    Default: saukko.PluginFunc(func(ctx *saukko.Context, cfg map[string]any) error {
//	        ctx.Logger().Info("hello")
//	        return nil
//	    }),
//	})
type Module struct {
	Name    string
	Inject  []string
	Default any
}

// PluginFunc is a plain plugin entry point.
type PluginFunc func(ctx *Context, config map[string]any) error

// Constructor builds a plugin instance. The instance is published under the
// plugin name while the plugin is active; if it has a Dispose() error method
// it is disposed when the plugin unloads.
type Constructor func(ctx *Context, config map[string]any) (any, error)

// Applier is implemented by plugin objects exposing an apply method.
type Applier interface {
	Apply(ctx *Context, config map[string]any) error
}

type entryKind int

const (
	entryFunc entryKind = iota
	entryConstructor
	entryApplier
)

func (k entryKind) String() string {
	switch k {
	case entryFunc:
		return "func"
	case entryConstructor:
		return "constructor"
	case entryApplier:
		return "applier"
	default:
		return "unknown"
	}
}

// entry is the normalized form of Module.Default.
type entry struct {
	kind   entryKind
	source any
	call   func(ctx *Context, config map[string]any) (any, error)
}

func normalizeEntry(name string, v any) (entry, error) {
	switch fn := v.(type) {
	case PluginFunc:
		return funcEntry(v, fn), nil
	case func(*Context, map[string]any) error:
		return funcEntry(v, fn), nil
	case Constructor:
		return entry{kind: entryConstructor, source: v, call: fn}, nil
	case func(*Context, map[string]any) (any, error):
		return entry{kind: entryConstructor, source: v, call: fn}, nil
	case Applier:
		return entry{kind: entryApplier, source: v, call: func(ctx *Context, config map[string]any) (any, error) {
			return nil, fn.Apply(ctx, config)
		}}, nil
	default:
		return entry{}, NewMalformedPluginError(name, fmt.Sprintf("%T", v))
	}
}

func funcEntry(source any, fn func(*Context, map[string]any) error) entry {
	if fn == nil {
		return entry{}
	}
	return entry{kind: entryFunc, source: source, call: func(ctx *Context, config map[string]any) (any, error) {
		return nil, fn(ctx, config)
	}}
}

func validateModule(m Module) (entry, error) {
	if strings.TrimSpace(m.Name) == "" {
		return entry{}, NewInvalidPluginNameError(m.Name)
	}
	e, err := normalizeEntry(m.Name, m.Default)
	if err != nil {
		return entry{}, err
	}
	if e.call == nil {
		return entry{}, NewMalformedPluginError(m.Name, "nil")
	}
	return e, nil
}

// ServiceFactory builds a service for the root context. The returned value
// is registered with RegisterService.
type ServiceFactory func(ctx *Context) (any, error)

// ServiceProvider is a named ServiceFactory selectable from configuration.
type ServiceProvider struct {
	Name      string
	Immediate bool
	Factory   ServiceFactory
}

var (
	globalMu        sync.RWMutex
	globalModules   = make(map[string]Module)
	globalProviders = make(map[string]ServiceProvider)
)

// RegisterModule makes m available to configuration driven loading. It is
// meant to be called from init functions. Registering a name twice panics.
func RegisterModule(m Module) {
	if _, err := validateModule(m); err != nil {
		panic(fmt.Sprintf("saukko: invalid module %q: %v", m.Name, err))
	}
	globalMu.Lock()
	defer globalMu.Unlock()
	if _, dup := globalModules[m.Name]; dup {
		panic(fmt.Sprintf("saukko: module %q registered twice", m.Name))
	}
	globalModules[m.Name] = m
}

// RegisteredModules returns the registered modules sorted by name.
func RegisteredModules() []Module {
	globalMu.RLock()
	defer globalMu.RUnlock()
	out := make([]Module, 0, len(globalModules))
	for _, m := range globalModules {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RegisterServiceProvider makes a service available to configuration driven
// loading. Registering a name twice panics.
func RegisterServiceProvider(p ServiceProvider) {
	if p.Name == "" || p.Factory == nil {
		panic("saukko: service provider needs a name and a factory")
	}
	globalMu.Lock()
	defer globalMu.Unlock()
	if _, dup := globalProviders[p.Name]; dup {
		panic(fmt.Sprintf("saukko: service provider %q registered twice", p.Name))
	}
	globalProviders[p.Name] = p
}

// RegisteredServiceProviders returns the registered providers sorted by name.
func RegisteredServiceProviders() []ServiceProvider {
	globalMu.RLock()
	defer globalMu.RUnlock()
	out := make([]ServiceProvider, 0, len(globalProviders))
	for _, p := range globalProviders {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
