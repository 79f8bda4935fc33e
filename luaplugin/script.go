// script.go: Lua script plugins
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package luaplugin

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/agilira/go-errors"
	saukko "github.com/cocotais/go-saukko"
	lua "github.com/yuin/gopher-lua"
)

// Error codes for script plugins.
const (
	ErrCodeScriptLoad    = "LUA_1501"
	ErrCodeScriptInvalid = "LUA_1502"
	ErrCodeScriptRuntime = "LUA_1503"
	ErrCodeScriptClosed  = "LUA_1504"
)

// Script is a plugin written in Lua. A script defines the globals:
//
//	name = "greeter"             -- optional, defaults to the file name
//	inject = { "storage" }       -- optional
//	function apply(ctx, config)  -- required
//	  ctx.log("info", "hello " .. config.who)
//	  return function() ctx.log("info", "bye") end  -- optional disposal
//	end
//
// Script implements saukko.Applier and io.Closer. It is not safe for
// concurrent use; it runs on the thread that owns the context tree.
type Script struct {
	L      *lua.LState
	name   string
	inject []string
	source string
	closed bool
}

// Load reads and runs the script at path.
func Load(path string) (*Script, error) {
	// #nosec G304 -- script paths come from the project configuration
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeScriptLoad, "Failed to read script").
			WithContext("path", path)
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return LoadString(base, path, string(code))
}

// LoadString runs code as a script. defaultName is used when the script
// does not set name; source identifies the script in errors.
func LoadString(defaultName, source, code string) (*Script, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	openSafeLibraries(L)

	s := &Script{L: L, source: source}
	if err := L.DoString(code); err != nil {
		L.Close()
		return nil, errors.Wrap(err, ErrCodeScriptLoad, "Failed to run script").
			WithContext("source", source)
	}

	s.name = defaultName
	if n, ok := L.GetGlobal("name").(lua.LString); ok && n != "" {
		s.name = string(n)
	}
	if t, ok := L.GetGlobal("inject").(*lua.LTable); ok {
		var bad bool
		t.ForEach(func(_, v lua.LValue) {
			if dep, ok := v.(lua.LString); ok {
				s.inject = append(s.inject, string(dep))
			} else {
				bad = true
			}
		})
		if bad {
			L.Close()
			return nil, errors.New(ErrCodeScriptInvalid, "inject must be a list of strings").
				WithContext("source", source)
		}
	}
	if _, ok := L.GetGlobal("apply").(*lua.LFunction); !ok {
		L.Close()
		return nil, errors.New(ErrCodeScriptInvalid, "script does not define apply(ctx, config)").
			WithContext("source", source)
	}
	if s.name == "" {
		L.Close()
		return nil, errors.New(ErrCodeScriptInvalid, "script has no name").
			WithContext("source", source)
	}
	return s, nil
}

// openSafeLibraries opens base, table, string and math. io, os, debug and
// package are left out.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
	for _, unsafe := range []string{"dofile", "loadfile", "load", "loadstring", "require", "module"} {
		L.SetGlobal(unsafe, lua.LNil)
	}
}

// Name returns the plugin name.
func (s *Script) Name() string { return s.name }

// Inject returns the declared dependencies.
func (s *Script) Inject() []string {
	out := make([]string, len(s.inject))
	copy(out, s.inject)
	return out
}

// Source returns the script path or source label.
func (s *Script) Source() string { return s.source }

// Module returns the plugin module for this script.
func (s *Script) Module() saukko.Module {
	return saukko.Module{Name: s.name, Inject: s.Inject(), Default: s}
}

// Apply calls the script's apply function with a context table and the
// config. A function returned by apply is collected as a disposal.
func (s *Script) Apply(ctx *saukko.Context, config map[string]any) error {
	if s.closed {
		return errors.New(ErrCodeScriptClosed, "script is closed").WithContext("plugin", s.name)
	}
	fn, ok := s.L.GetGlobal("apply").(*lua.LFunction)
	if !ok {
		return errors.New(ErrCodeScriptInvalid, "apply is no longer a function").WithContext("plugin", s.name)
	}

	ret, err := s.call(fn, 1, newContextTable(s, ctx), toLua(s.L, config))
	if err != nil {
		return err
	}
	if dispose, ok := ret[0].(*lua.LFunction); ok {
		ctx.Collect(func() error {
			_, err := s.call(dispose, 0)
			return err
		})
	}
	return nil
}

// call runs fn in protected mode and returns nret results.
func (s *Script) call(fn *lua.LFunction, nret int, args ...lua.LValue) ([]lua.LValue, error) {
	if s.closed {
		return nil, errors.New(ErrCodeScriptClosed, "script is closed").WithContext("plugin", s.name)
	}
	top := s.L.GetTop()
	if err := s.L.CallByParam(lua.P{Fn: fn, NRet: nret, Protect: true}, args...); err != nil {
		s.L.SetTop(top)
		return nil, errors.Wrap(err, ErrCodeScriptRuntime, "Lua error").WithContext("plugin", s.name)
	}
	ret := make([]lua.LValue, nret)
	for i := 0; i < nret; i++ {
		ret[i] = s.L.Get(top + i + 1)
	}
	s.L.SetTop(top)
	return ret, nil
}

// Close releases the Lua state. It is called when the plugin is removed.
func (s *Script) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.L.Close()
	return nil
}

func (s *Script) String() string {
	return fmt.Sprintf("lua:%s(%s)", s.name, s.source)
}
