// config_watcher_test.go: configuration hot reload
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package saukko

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastWatcherOptions() ConfigWatcherOptions {
	return ConfigWatcherOptions{PollInterval: 50 * time.Millisecond, CacheTTL: 25 * time.Millisecond}
}

func TestNewConfigWatcher(t *testing.T) {
	path := writeTempFile(t, "saukko.toml", "[project]\nname = \"w\"\n")
	noop := func(Config, map[string]any) {}

	_, err := NewConfigWatcher(path, fastWatcherOptions(), nil, nil)
	assert.True(t, HasErrorCode(err, ErrCodeConfigWatcherError))

	_, err = NewConfigWatcher(filepath.Join(t.TempDir(), "missing.toml"), fastWatcherOptions(), nil, noop)
	assert.True(t, HasErrorCode(err, ErrCodeConfigNotFound))

	cw, err := NewConfigWatcher(path, ConfigWatcherOptions{}, nil, noop)
	require.NoError(t, err)
	assert.False(t, cw.IsRunning())
}

func TestConfigWatcher_StartStop(t *testing.T) {
	path := writeTempFile(t, "saukko.toml", "[project]\nname = \"w\"\n")
	logger := NewTestLogger()
	cw, err := NewConfigWatcher(path, fastWatcherOptions(), logger, func(Config, map[string]any) {})
	require.NoError(t, err)

	require.NoError(t, cw.Start())
	assert.True(t, cw.IsRunning())
	assert.True(t, HasErrorCode(cw.Start(), ErrCodeConfigWatcherError), "already running")

	require.NoError(t, cw.Stop())
	require.NoError(t, cw.Stop())
	assert.False(t, cw.IsRunning())
	assert.True(t, HasErrorCode(cw.Start(), ErrCodeConfigWatcherError), "a stopped watcher stays stopped")
	assert.True(t, logger.HasMessage("INFO", "Configuration watcher started"))
}

func TestConfigWatcher_Reload(t *testing.T) {
	path := writeTempFile(t, "saukko.toml", "[project]\nname = \"before\"\n")
	logger := NewTestLogger()
	var got []string
	cw, err := NewConfigWatcher(path, fastWatcherOptions(), logger, func(cfg Config, _ map[string]any) {
		got = append(got, cfg.Project.Name)
	})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("[project]\nname = \"after\"\n"), 0o600))
	cw.reload()
	assert.Equal(t, []string{"after"}, got)
	assert.Equal(t, int64(1), cw.Reloads())

	require.NoError(t, os.WriteFile(path, []byte("[project\n"), 0o600))
	cw.reload()
	assert.Equal(t, []string{"after"}, got, "a broken file keeps the last good configuration")
	assert.Equal(t, int64(1), cw.Reloads())
	assert.True(t, logger.HasMessage("ERROR", "Configuration reload failed"))
}

func TestConfigWatcher_DetectsChanges(t *testing.T) {
	path := writeTempFile(t, "saukko.toml", "[project]\nname = \"before\"\n")
	var mu sync.Mutex
	var names []string
	cw, err := NewConfigWatcher(path, fastWatcherOptions(), nil, func(cfg Config, _ map[string]any) {
		mu.Lock()
		defer mu.Unlock()
		names = append(names, cfg.Project.Name)
	})
	require.NoError(t, err)
	require.NoError(t, cw.Start())
	defer func() { _ = cw.Stop() }()

	// let the first poll record the initial state
	time.Sleep(150 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("[project]\nname = \"after-change\"\n"), 0o600))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(names) > 0 && names[len(names)-1] == "after-change"
	}, 5*time.Second, 50*time.Millisecond)
}

func TestApp_WatchConfig(t *testing.T) {
	path := writeTempFile(t, "saukko.toml", "[project]\nname = \"before\"\n")
	app, _ := newTestApp(t, AppOptions{ConfigPath: path})

	require.NoError(t, app.WatchConfig(fastWatcherOptions()))
	time.Sleep(150 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("[project]\nname = \"watched\"\n"), 0o600))

	assert.Eventually(t, func() bool {
		var name string
		app.Do(func(*Context) { name = app.ConfigService().GetString("project.name") })
		return name == "watched"
	}, 5*time.Second, 50*time.Millisecond)
	app.Stop()
}
