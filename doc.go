// Package saukko provides an extensibility runtime: an application assembles
// itself from independently loadable plugins that declare named dependencies
// on shared services.
//
// Key Features:
//   - Single-assignment service slots with change notification
//   - Elevation of service members onto shortcut names
//   - Per-plugin lifecycle gated on dependency presence, with automatic
//     rollback when a dependency goes away and setup when it comes back
//   - Batch dependency diagnosis with cascading pruning, cycle reporting and
//     a stable load order
//   - Pluggable structured logging (zap, zerolog) and coded errors
//   - TOML, YAML and JSON configuration with hot reload
//
// Basic Usage:
//
//	app, err := saukko.NewApp(saukko.AppOptions{})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	app.Do(func(ctx *saukko.Context) {
//		ctx.Declare("db")
//		_ = ctx.Plugins().Install(saukko.Module{
//			Name:   "users",
//			Inject: []string{"db"},
//			Default: saukko.PluginFunc(func(ctx *saukko.Context, cfg map[string]any) error {
//				db, _ := saukko.Lookup[*sql.DB](ctx, "db")
//				ctx.Collect(func() error { return nil })
//				_ = db
//				return nil
//			}),
//		})
//	})
//
//	if err := app.Start(); err != nil {
//		log.Fatal(err)
//	}
//	defer app.Stop()
//
// Threading:
// A context tree has one logical thread of control and holds no locks.
// Goroutines must enter it through App.Do.
//
// Copyright (c) 2025 AGILira - A. Giordano
// SPDX-License-Identifier: MPL-2.0
package saukko
