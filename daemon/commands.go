// commands.go: command dispatch for the control socket
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package daemon

import (
	"fmt"
	"strings"

	saukko "github.com/cocotais/go-saukko"
)

// EventCommand is emitted on the root context for every command the daemon
// does not handle itself. The arguments are the command words as strings.
const EventCommand = "cli.command"

// handleCommand runs one CLI command. Built in commands:
//
//	plugins                  list installed plugins
//	services                 list declared services
//	apply|dispose|remove|retry <plugin>
//	config <path>            reload the configuration from path
//
// Anything else is emitted as EventCommand.
func (s *Server) handleCommand(args []string) Response {
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		return success(MsgNoCommand)
	}
	s.logger.Info("Received command from cli", "command", strings.Join(args, " "))

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "plugins":
		return s.listPlugins()
	case "services":
		return s.listServices()
	case "apply", "dispose", "remove", "retry":
		if len(rest) != 1 {
			return failure("Usage: %s <plugin>", cmd)
		}
		return s.pluginAction(cmd, rest[0])
	case "config":
		if len(rest) != 1 {
			return failure("Usage: config <path>")
		}
		// ReloadConfig enters Do itself
		if err := s.app.ReloadConfig(rest[0]); err != nil {
			s.logger.Error("Configuration reload failed", "path", rest[0], "error", err)
			return failure("%s: %v", MsgCommandRejected, err)
		}
		return success(MsgConfigReloaded)
	default:
		words := make([]any, len(args))
		for i, a := range args {
			words[i] = a
		}
		s.app.Do(func(ctx *saukko.Context) {
			ctx.Emit(EventCommand, words...)
		})
		return success(MsgDispatched)
	}
}

func (s *Server) pluginAction(cmd, name string) Response {
	var err error
	s.app.Do(func(ctx *saukko.Context) {
		plugins := ctx.Plugins()
		switch cmd {
		case "apply":
			err = plugins.Apply(name)
		case "dispose":
			err = plugins.Dispose(name)
		case "remove":
			err = plugins.Remove(name)
		case "retry":
			err = plugins.Retry(name)
		}
	})
	if err != nil {
		return failure("%s: %v", MsgCommandRejected, err)
	}
	past := map[string]string{
		"apply":   "applied",
		"dispose": "disposed",
		"remove":  "removed",
		"retry":   "retried",
	}[cmd]
	return success("Plugin %s %s", name, past)
}

func (s *Server) listPlugins() Response {
	var infos []saukko.PluginInfo
	s.app.Do(func(ctx *saukko.Context) {
		infos = ctx.Plugins().List()
	})
	if len(infos) == 0 {
		return success(MsgNoPlugins)
	}

	var b strings.Builder
	for i, info := range infos {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s\t%s\tenabled=%t", info.Name, info.StateName, info.Enabled)
		if len(info.Missing) > 0 {
			fmt.Fprintf(&b, "\tmissing=%s", strings.Join(info.Missing, ","))
		}
		if info.Error != "" {
			fmt.Fprintf(&b, "\terror=%s", info.Error)
		}
	}
	return success("%s", b.String())
}

func (s *Server) listServices() Response {
	var lines []string
	s.app.Do(func(ctx *saukko.Context) {
		registry := ctx.Registry()
		for _, key := range registry.Keys() {
			status := "absent"
			if registry.Present(key) {
				status = "present"
			}
			lines = append(lines, key+"\t"+status)
		}
	})
	return success("%s", strings.Join(lines, "\n"))
}
