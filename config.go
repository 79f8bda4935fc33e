// config.go: configuration record and the dotted-path config service
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package saukko

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Config is the project configuration, usually read from saukko.toml.
//
// Example configuration:
//
//	[project]
//	name = "bot"
//
//	[plugin]
//	files = ["plugins/greeter.lua"]
//	scopes = ["saukko-plugin-"]
//
//	[plugin.config.greeter]
//	greeting = "hi"
//
//	[daemon]
//	socket = ".saukko.sock"
type Config struct {
	Project ProjectConfig `json:"project" yaml:"project"`
	Plugin  ScopeConfig   `json:"plugin" yaml:"plugin"`
	Service ScopeConfig   `json:"service" yaml:"service"`
	Daemon  DaemonConfig  `json:"daemon" yaml:"daemon"`
	Log     LogConfig     `json:"log" yaml:"log"`
}

// ProjectConfig names the project.
type ProjectConfig struct {
	Name string `json:"name" yaml:"name"`
}

// ScopeConfig selects what to load and how to configure it.
//
// Scopes are name prefixes matched against the registered modules or
// service providers. Files lists Lua plugin scripts for plugins and provider
// names for services. Config holds per-name configuration.
type ScopeConfig struct {
	Scopes []string                  `json:"scopes,omitempty" yaml:"scopes,omitempty"`
	Files  []string                  `json:"files,omitempty" yaml:"files,omitempty"`
	Config map[string]map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// DaemonConfig configures the daemon sockets. An empty HealthSocket
// disables the gRPC health server.
type DaemonConfig struct {
	Socket       string `json:"socket,omitempty" yaml:"socket,omitempty"`
	HealthSocket string `json:"health_socket,omitempty" yaml:"health_socket,omitempty"`
}

// LogConfig configures the daemon logger. Format is "json" or "console".
type LogConfig struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty"`
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
}

// Default plugin and service scopes.
const (
	DefaultPluginScope  = "saukko-plugin-"
	DefaultServiceScope = "saukko-service-"
	DefaultSocketPath   = ".saukko.sock"
	DefaultConfigPath   = "saukko.toml"
)

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Project: ProjectConfig{Name: "saukko"},
		Daemon:  DaemonConfig{Socket: DefaultSocketPath},
		Log:     LogConfig{Level: "info", Format: "console"},
	}
}

// ApplyDefaults fills the fields left empty.
func (c *Config) ApplyDefaults() {
	def := DefaultConfig()
	if c.Project.Name == "" {
		c.Project.Name = def.Project.Name
	}
	if c.Daemon.Socket == "" {
		c.Daemon.Socket = def.Daemon.Socket
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.Log.Level); err != nil {
		return NewConfigPathError("log.level", err.Error())
	}
	switch c.Log.Format {
	case "", "json", "console":
	default:
		return NewConfigPathError("log.format", fmt.Sprintf("unknown format %q", c.Log.Format))
	}
	for _, list := range [][]string{c.Plugin.Files, c.Service.Files, c.Plugin.Scopes, c.Service.Scopes} {
		for _, entry := range list {
			if strings.TrimSpace(entry) == "" {
				return NewConfigPathError("files", "empty entry")
			}
		}
	}
	return nil
}

// ConfigService serves configuration values by dotted path, e.g.
// "plugin.config.greeter.greeting". The content is kept as a JSON document.
//
// Names containing dots or path wildcards can be escaped with ConfigKey.
type ConfigService struct {
	doc    string
	loaded bool
	path   string
	logger Logger
}

// NewConfigService creates an empty config service.
func NewConfigService(logger Logger) *ConfigService {
	return &ConfigService{logger: NewLogger(logger).With("component", "config")}
}

// SetConfig replaces the content with cfg.
func (s *ConfigService) SetConfig(cfg Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return NewConfigParseError(s.path, err)
	}
	s.replace(string(data))
	return nil
}

// SetRaw replaces the content with an already parsed document. Keys that
// are not part of Config are kept and can be read with Get.
func (s *ConfigService) SetRaw(raw map[string]any) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return NewConfigParseError(s.path, err)
	}
	s.replace(string(data))
	return nil
}

func (s *ConfigService) replace(doc string) {
	if s.loaded {
		s.logger.Warn("Replacing the current configuration")
	}
	s.doc = doc
	s.loaded = true
}

// Loaded reports whether content has been set.
func (s *ConfigService) Loaded() bool { return s.loaded }

// Path returns the file the configuration was loaded from, if any.
func (s *ConfigService) Path() string { return s.path }

// SetPath records the file the configuration comes from.
func (s *ConfigService) SetPath(path string) { s.path = path }

// Config decodes the content into a Config.
func (s *ConfigService) Config() (Config, error) {
	var cfg Config
	if !s.loaded {
		return cfg, NewConfigNotLoadedError()
	}
	if err := json.Unmarshal([]byte(s.doc), &cfg); err != nil {
		return cfg, NewConfigParseError(s.path, err)
	}
	return cfg, nil
}

// Get returns the value at path. Objects come back as map[string]any and
// arrays as []any.
func (s *ConfigService) Get(path string) (any, bool) {
	if !s.loaded {
		s.logger.Error("Configuration read before it was set", "path", path, "error", NewConfigNotLoadedError())
		return nil, false
	}
	result := gjson.Get(s.doc, path)
	if !result.Exists() {
		s.logger.Debug("Unknown configuration item", "path", path)
		return nil, false
	}
	return result.Value(), true
}

// GetString returns the value at path as a string, or "".
func (s *ConfigService) GetString(path string) string {
	if !s.loaded {
		return ""
	}
	return gjson.Get(s.doc, path).String()
}

// GetStrings returns the array at path as strings.
func (s *ConfigService) GetStrings(path string) []string {
	if !s.loaded {
		return nil
	}
	result := gjson.Get(s.doc, path)
	if !result.IsArray() {
		return nil
	}
	var out []string
	for _, item := range result.Array() {
		out = append(out, item.String())
	}
	return out
}

// GetMap returns the object at path, or an empty map.
func (s *ConfigService) GetMap(path string) map[string]any {
	if s.loaded {
		if m, ok := gjson.Get(s.doc, path).Value().(map[string]any); ok {
			return m
		}
	}
	return map[string]any{}
}

// Set writes value at path, creating intermediate objects.
func (s *ConfigService) Set(path string, value any) error {
	doc := s.doc
	if !s.loaded {
		doc = "{}"
	}
	updated, err := sjson.Set(doc, path, value)
	if err != nil {
		return NewConfigPathError(path, err.Error())
	}
	s.doc = updated
	s.loaded = true
	return nil
}

// JSON returns the content as a JSON document.
func (s *ConfigService) JSON() string {
	if !s.loaded {
		return "{}"
	}
	return s.doc
}

// ConfigKey escapes a single path component for Get, Set and GetMap.
func ConfigKey(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
