// script_test.go: loading and running Lua plugins
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package luaplugin

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/agilira/go-errors"
	saukko "github.com/cocotais/go-saukko"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type calculator struct{}

func (calculator) Add(a, b int) int { return a + b }

func (calculator) Fail() error { return fmt.Errorf("calculator is broken") }

func mustLoad(t *testing.T, code string) *Script {
	t.Helper()
	s, err := LoadString("test", "test.lua", code)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// applyScript installs and applies s on a fresh tree.
func applyScript(t *testing.T, s *Script, config map[string]any) (*saukko.Context, *saukko.TestLogger, error) {
	t.Helper()
	logger := saukko.NewTestLogger()
	root := saukko.NewContext(logger)
	require.NoError(t, root.Plugins().Install(s.Module()))
	if config != nil {
		require.NoError(t, root.Plugins().Configure(s.Name(), config))
	}
	return root, logger, root.Plugins().Apply(s.Name())
}

func pluginCtx(t *testing.T, root *saukko.Context, name string) *saukko.Context {
	t.Helper()
	ctx, ok := root.Plugins().Context(name)
	require.True(t, ok)
	return ctx
}

func TestLoadString(t *testing.T) {
	t.Run("Metadata", func(t *testing.T) {
		s := mustLoad(t, `
name = "greeter"
inject = { "storage", "config" }
function apply(ctx, config) end
`)
		assert.Equal(t, "greeter", s.Name())
		assert.Equal(t, []string{"storage", "config"}, s.Inject())
		assert.Equal(t, "test.lua", s.Source())
		assert.Equal(t, "lua:greeter(test.lua)", s.String())

		m := s.Module()
		assert.Equal(t, "greeter", m.Name)
		assert.Same(t, s, m.Default)
	})

	t.Run("DefaultName", func(t *testing.T) {
		s := mustLoad(t, `function apply() end`)
		assert.Equal(t, "test", s.Name())
		assert.Empty(t, s.Inject())
	})

	t.Run("Invalid", func(t *testing.T) {
		cases := map[string]struct {
			code string
			want errors.ErrorCode
		}{
			"Syntax":      {"function apply(", ErrCodeScriptLoad},
			"TopLevel":    {"error('boom')", ErrCodeScriptLoad},
			"NoApply":     {"name = 'x'", ErrCodeScriptInvalid},
			"ApplyNotFn":  {"apply = 1", ErrCodeScriptInvalid},
			"BadInject":   {"inject = { 1 }\nfunction apply() end", ErrCodeScriptInvalid},
			"EmptyName":   {"function apply() end", ErrCodeScriptInvalid},
			"NoIoLibrary": {"io.write('x')\nfunction apply() end", ErrCodeScriptLoad},
		}
		for name, tc := range cases {
			t.Run(name, func(t *testing.T) {
				defaultName := "x"
				if name == "EmptyName" {
					defaultName = ""
				}
				_, err := LoadString(defaultName, name, tc.code)
				assert.True(t, saukko.HasErrorCode(err, tc.want), "%v", err)
			})
		}
	})

	t.Run("Sandbox", func(t *testing.T) {
		s := mustLoad(t, `
sandboxed = os == nil and io == nil and debug == nil
  and require == nil and dofile == nil and loadfile == nil and load == nil
  and loadstring == nil
function apply() end
`)
		assert.Equal(t, "true", s.L.GetGlobal("sandboxed").String())
	})
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "welcome.lua")
	require.NoError(t, os.WriteFile(path, []byte("function apply() end"), 0o600))

	s, err := Load(path)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, "welcome", s.Name())
	assert.Equal(t, path, s.Source())

	_, err = Load(filepath.Join(dir, "missing.lua"))
	assert.True(t, saukko.HasErrorCode(err, ErrCodeScriptLoad))
}

func TestScript_Apply(t *testing.T) {
	t.Run("ConfigAndFields", func(t *testing.T) {
		s := mustLoad(t, `
name = "cfg"
function apply(ctx, config)
  ctx.set("who", config.who)
  ctx.set("port", config.server.port)
  ctx.set("tags", config.tags)
end
`)
		root, _, err := applyScript(t, s, map[string]any{
			"who":    "saukko",
			"server": map[string]any{"port": 8080},
			"tags":   []any{"a", "b"},
		})
		require.NoError(t, err)

		ctx := pluginCtx(t, root, "cfg")
		who, _ := ctx.Get("who")
		assert.Equal(t, "saukko", who)
		port, _ := ctx.Get("port")
		assert.Equal(t, int64(8080), port)
		tags, _ := ctx.Get("tags")
		assert.Equal(t, []any{"a", "b"}, tags)

		_, ok := root.Get("who")
		assert.False(t, ok, "script fields stay in the plugin context")
	})

	t.Run("ServicesAndDisposal", func(t *testing.T) {
		s := mustLoad(t, `
name = "svc"
function apply(ctx)
  ctx.declare("farewell")
  ctx.declare("seeded", "v")
  ctx.set("had_seed", ctx.has("seeded"))
  ctx.set("missing", ctx.get("nowhere") == nil)
  return function() ctx.set("farewell", "bye") end
end
`)
		root, _, err := applyScript(t, s, nil)
		require.NoError(t, err)
		ctx := pluginCtx(t, root, "svc")

		seeded, _ := root.Get("seeded")
		assert.Equal(t, "v", seeded)
		hadSeed, _ := ctx.Get("had_seed")
		assert.Equal(t, true, hadSeed)
		missing, _ := ctx.Get("missing")
		assert.Equal(t, true, missing)
		assert.False(t, root.Registry().Present("farewell"))

		require.NoError(t, root.Plugins().Dispose("svc"))
		farewell, _ := root.Get("farewell")
		assert.Equal(t, "bye", farewell)
	})

	t.Run("SetErrorsRaise", func(t *testing.T) {
		s := mustLoad(t, `
name = "clash"
function apply(ctx)
  ctx.declare("slot", "first")
  ctx.set("slot", "second")
end
`)
		_, _, err := applyScript(t, s, nil)
		assert.True(t, saukko.HasErrorCode(err, saukko.ErrCodeAssuranceFailed))
		assert.True(t, saukko.HasErrorCode(err, ErrCodeScriptRuntime))
	})

	t.Run("CallGoFunctions", func(t *testing.T) {
		s := mustLoad(t, `
name = "calc"
inject = { "calc_service" }
function apply(ctx)
  ctx.set("sum", ctx.call("Add", 2, 3))
  local ok, err = pcall(ctx.call, "Fail")
  ctx.set("fail_ok", ok)
  ctx.set("fail_msg", err)
  local ok2 = pcall(ctx.call, "Nothing")
  ctx.set("nothing_ok", ok2)
end
`)
		logger := saukko.NewTestLogger()
		root := saukko.NewContext(logger)
		root.Declare("calc_service", calculator{})
		root.Elevate("calc_service", "Add", "Fail")
		require.NoError(t, root.Plugins().Install(s.Module()))
		require.NoError(t, root.Plugins().Apply("calc"))

		ctx := pluginCtx(t, root, "calc")
		sum, _ := ctx.Get("sum")
		assert.Equal(t, int64(5), sum)
		failOK, _ := ctx.Get("fail_ok")
		assert.Equal(t, false, failOK)
		msg, _ := ctx.Get("fail_msg")
		assert.Contains(t, msg, "calculator is broken")
		nothingOK, _ := ctx.Get("nothing_ok")
		assert.Equal(t, false, nothingOK)
	})

	t.Run("Events", func(t *testing.T) {
		s := mustLoad(t, `
name = "events"
function apply(ctx)
  local off = ctx.on("greet", function(who) ctx.set("greeted", who) end)
  ctx.on("stop", function() off() end)
  ctx.emit("lua.ready", "events", 1)
  ctx.collect(function() ctx.emit("lua.gone") end)
end
`)
		logger := saukko.NewTestLogger()
		root := saukko.NewContext(logger)
		var got [][]any
		root.On("lua.ready", func(args ...any) { got = append(got, args) })
		root.On("lua.gone", func(args ...any) { got = append(got, []any{"gone"}) })
		require.NoError(t, root.Plugins().Install(s.Module()))
		require.NoError(t, root.Plugins().Apply("events"))
		assert.Equal(t, [][]any{{"events", int64(1)}}, got)

		ctx := pluginCtx(t, root, "events")
		root.Emit("greet", "bob")
		greeted, _ := ctx.Get("greeted")
		assert.Equal(t, "bob", greeted)

		root.Emit("stop")
		root.Emit("greet", "alice")
		greeted, _ = ctx.Get("greeted")
		assert.Equal(t, "bob", greeted, "the unsubscribe handle works")

		require.NoError(t, root.Plugins().Dispose("events"))
		assert.Equal(t, []any{"gone"}, got[len(got)-1])
	})

	t.Run("ListenerErrorsAreLogged", func(t *testing.T) {
		s := mustLoad(t, `
name = "noisy"
function apply(ctx)
  ctx.on("tick", function() error("listener broke") end)
end
`)
		root, logger, err := applyScript(t, s, nil)
		require.NoError(t, err)
		root.Emit("tick")
		assert.True(t, logger.HasMessage("ERROR", "Lua event listener failed"))
	})

	t.Run("Log", func(t *testing.T) {
		s := mustLoad(t, `
name = "logger"
function apply(ctx)
  ctx.log("info", "hello", "who", "world")
  ctx.log("WARNING", "careful")
  ctx.log("error", "bad")
  ctx.log("trace", "detail")
end
`)
		_, logger, err := applyScript(t, s, nil)
		require.NoError(t, err)
		assert.True(t, logger.HasMessage("INFO", "hello"))
		assert.True(t, logger.HasMessage("WARN", "careful"))
		assert.True(t, logger.HasMessage("ERROR", "bad"))
		assert.True(t, logger.HasMessage("DEBUG", "detail"))

		for _, m := range logger.Messages() {
			if m.Message == "hello" {
				assert.Equal(t, []any{"plugin", "logger", "who", "world"}, m.Args)
			}
		}
	})

	t.Run("RuntimeError", func(t *testing.T) {
		s := mustLoad(t, `
name = "broken"
function apply(ctx) local x = nil; return x.field end
`)
		root, _, err := applyScript(t, s, nil)
		assert.True(t, saukko.HasErrorCode(err, ErrCodeScriptRuntime))
		info, _ := root.Plugins().Get("broken")
		assert.Equal(t, saukko.StateFailed, info.State)
	})
}

func TestScript_Close(t *testing.T) {
	s, err := LoadString("closing", "closing.lua", "function apply() end")
	require.NoError(t, err)

	root, _, err := applyScript(t, s, nil)
	require.NoError(t, err)
	require.NoError(t, root.Plugins().Remove("closing"))

	assert.NoError(t, s.Close(), "closing twice is harmless")
	err = s.Apply(root, nil)
	assert.True(t, saukko.HasErrorCode(err, ErrCodeScriptClosed))
}
