// context.go: the ctx table handed to Lua scripts
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package luaplugin

import (
	"strings"

	saukko "github.com/cocotais/go-saukko"
	lua "github.com/yuin/gopher-lua"
)

// newContextTable exposes ctx to Lua as a table of closures:
//
//	ctx.get(name)             value or nil
//	ctx.set(name, value)      raises on failure
//	ctx.has(name)             boolean
//	ctx.declare(name[, v])
//	ctx.call(name, ...)       calls a Go function found by name
//	ctx.on(event, fn)         returns an unsubscribe function
//	ctx.emit(event, ...)
//	ctx.collect(fn)           registers a disposal
//	ctx.log(level, msg, ...)  level is debug, info, warn or error
func newContextTable(s *Script, ctx *saukko.Context) *lua.LTable {
	L := s.L
	logger := ctx.Logger().With("plugin", s.name)
	t := L.NewTable()

	L.SetFuncs(t, map[string]lua.LGFunction{
		"get": func(L *lua.LState) int {
			v, ok := ctx.Get(L.CheckString(1))
			if !ok {
				L.Push(lua.LNil)
				return 1
			}
			L.Push(toLua(L, v))
			return 1
		},
		"set": func(L *lua.LState) int {
			if err := ctx.Set(L.CheckString(1), toGo(L.Get(2))); err != nil {
				L.RaiseError("%s", err.Error())
			}
			return 0
		},
		"has": func(L *lua.LState) int {
			L.Push(lua.LBool(ctx.Has(L.CheckString(1))))
			return 1
		},
		"declare": func(L *lua.LState) int {
			name := L.CheckString(1)
			if L.GetTop() >= 2 {
				ctx.Declare(name, toGo(L.Get(2)))
			} else {
				ctx.Declare(name)
			}
			return 0
		},
		"call": func(L *lua.LState) int {
			name := L.CheckString(1)
			fn, ok := ctx.Get(name)
			if !ok {
				L.RaiseError("%s is not available", name)
				return 0
			}
			args := make([]lua.LValue, 0, L.GetTop()-1)
			for i := 2; i <= L.GetTop(); i++ {
				args = append(args, L.Get(i))
			}
			results, err := callGo(L, fn, args)
			if err != nil {
				L.RaiseError("%s: %s", name, err.Error())
				return 0
			}
			for _, r := range results {
				L.Push(r)
			}
			return len(results)
		},
		"on": func(L *lua.LState) int {
			event := L.CheckString(1)
			fn := L.CheckFunction(2)
			off := ctx.On(event, func(args ...any) {
				largs := make([]lua.LValue, len(args))
				for i, a := range args {
					largs[i] = toLua(s.L, a)
				}
				if _, err := s.call(fn, 0, largs...); err != nil {
					logger.Error("Lua event listener failed", "event", event, "error", err)
				}
			})
			L.Push(L.NewFunction(func(*lua.LState) int {
				off()
				return 0
			}))
			return 1
		},
		"emit": func(L *lua.LState) int {
			event := L.CheckString(1)
			args := make([]any, 0, L.GetTop()-1)
			for i := 2; i <= L.GetTop(); i++ {
				args = append(args, toGo(L.Get(i)))
			}
			ctx.Emit(event, args...)
			return 0
		},
		"collect": func(L *lua.LState) int {
			fn := L.CheckFunction(1)
			ctx.Collect(func() error {
				_, err := s.call(fn, 0)
				return err
			})
			return 0
		},
		"log": func(L *lua.LState) int {
			level := strings.ToLower(L.CheckString(1))
			msg := L.CheckString(2)
			var kv []any
			for i := 3; i+1 <= L.GetTop(); i += 2 {
				kv = append(kv, L.Get(i).String(), toGo(L.Get(i+1)))
			}
			switch level {
			case "debug", "trace":
				logger.Debug(msg, kv...)
			case "warn", "warning":
				logger.Warn(msg, kv...)
			case "error":
				logger.Error(msg, kv...)
			default:
				logger.Info(msg, kv...)
			}
			return 0
		},
	})
	return t
}
