// config_loader.go: multi-format configuration file loading
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package saukko

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/agilira/argus"
	"gopkg.in/yaml.v3"
)

// maxConfigFileSize bounds the configuration files read from disk.
const maxConfigFileSize = 4 << 20

// LoadConfigFile reads the configuration at path. The format is detected
// from the extension:
//   - TOML: github.com/BurntSushi/toml
//   - YAML: gopkg.in/yaml.v3
//   - JSON and the other formats Argus knows: argus.ParseConfig
//
// The returned map is the full parsed document, including keys Config does
// not know about. ${VAR} references in string values are expanded with
// ExpandEnv. Defaults are applied to the returned Config.
//
// Example usage:
//
//	cfg, raw, err := saukko.LoadConfigFile("saukko.toml")
//	if err != nil {
//	    log.Fatalf("Failed to load config: %v", err)
//	}
func LoadConfigFile(path string) (Config, map[string]any, error) {
	var cfg Config

	securePath, err := validateConfigPath(path)
	if err != nil {
		return cfg, nil, err
	}

	data, err := readConfigFile(securePath)
	if err != nil {
		return cfg, nil, err
	}

	raw, err := parseConfigWithHybridStrategy(data, argus.DetectFormat(securePath))
	if err != nil {
		return cfg, nil, NewConfigParseError(securePath, err)
	}
	if raw, err = ExpandEnv(raw, DefaultEnvOptions()); err != nil {
		return cfg, nil, err
	}

	if err := bindConfig(raw, &cfg); err != nil {
		return cfg, nil, NewConfigParseError(securePath, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, nil, err
	}
	return cfg, raw, nil
}

func validateConfigPath(path string) (string, error) {
	if path == "" {
		return "", NewConfigPathError(path, "empty file path provided")
	}
	if strings.Contains(path, "\x00") {
		return "", NewConfigPathError(path, "null byte detected in path")
	}
	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", NewConfigPathError(path, err.Error())
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", NewConfigNotFoundError(absPath)
		}
		return "", NewConfigPathError(absPath, err.Error())
	}
	if info.IsDir() {
		return "", NewConfigPathError(absPath, "path is a directory")
	}
	if info.Size() > maxConfigFileSize {
		return "", NewConfigPathError(absPath, fmt.Sprintf("file exceeds %d bytes", maxConfigFileSize))
	}
	return absPath, nil
}

func readConfigFile(path string) ([]byte, error) {
	// #nosec G304 -- path validated by validateConfigPath
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewConfigPathError(path, err.Error())
	}
	return data, nil
}

// parseConfigWithHybridStrategy picks the parser for format.
func parseConfigWithHybridStrategy(data []byte, format argus.ConfigFormat) (map[string]any, error) {
	switch format {
	case argus.FormatTOML:
		raw := make(map[string]any)
		if _, err := toml.Decode(string(data), &raw); err != nil {
			return nil, fmt.Errorf("failed to parse TOML config: %w", err)
		}
		return raw, nil

	case argus.FormatYAML:
		raw := make(map[string]any)
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
		return raw, nil

	default:
		return argus.ParseConfig(data, format)
	}
}

// bindConfig converts a parsed document to Config through JSON, which every
// parser's output can be marshaled to.
func bindConfig(raw map[string]any, cfg *Config) error {
	if raw == nil {
		return fmt.Errorf("configuration map is nil")
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to marshal config map to JSON: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return nil
}
