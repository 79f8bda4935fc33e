// loader.go: installs configured plugins before startup
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package daemon

import (
	"path/filepath"
	"strings"

	saukko "github.com/cocotais/go-saukko"
	"github.com/cocotais/go-saukko/luaplugin"
)

// LoadPlugins installs every Lua script listed in plugin.files and then the
// registered Go modules and service providers selected by the configured
// scopes. Scripts that fail to load or install are logged and skipped. It
// returns the number of scripts installed.
func LoadPlugins(app *saukko.App, logger saukko.Logger) int {
	logger = saukko.NewLogger(logger).With("component", "loader")
	files := app.ConfigService().GetStrings("plugin.files")

	installed := 0
	for _, file := range files {
		if !strings.EqualFold(filepath.Ext(file), ".lua") {
			logger.Warn("Skipping plugin file with unsupported extension", "file", file)
			continue
		}
		logger.Debug("Loading script", "file", file)
		script, err := luaplugin.Load(file)
		if err != nil {
			logger.Error("Cannot load plugin script", "file", file, "error", err)
			continue
		}

		var installErr error
		app.Do(func(ctx *saukko.Context) {
			installErr = ctx.Plugins().Install(script.Module())
		})
		if installErr != nil {
			_ = script.Close()
			continue
		}
		installed++
	}
	logger.Info("Plugin scripts installed", "count", installed)

	app.LoadRegistered()
	return installed
}
