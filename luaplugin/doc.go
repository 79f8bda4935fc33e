// Package luaplugin loads saukko plugins written in Lua.
//
// Scripts run in a gopher-lua state with only the base, table, string and
// math libraries. The apply function receives a ctx table bound to the
// plugin's context and the plugin configuration as a Lua table.
//
// Copyright (c) 2025 AGILira - A. Giordano
// SPDX-License-Identifier: MPL-2.0
package luaplugin
