// env_config.go: environment variable expansion in configuration values
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package saukko

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// EnvPrefix is tried before the bare variable name during expansion.
const EnvPrefix = "SAUKKO_"

const maxEnvValueLength = 4096

// EnvOptions controls ExpandEnv.
type EnvOptions struct {
	// Prefix is tried first, e.g. ${HOST} reads SAUKKO_HOST then HOST.
	Prefix string

	// FailOnMissing makes an unset variable without default an error.
	FailOnMissing bool

	// ValidateValues rejects values with null bytes, control characters
	// or more than 4096 bytes.
	ValidateValues bool

	// Defaults apply when neither the environment nor an inline default
	// provides a value.
	Defaults map[string]string
}

// DefaultEnvOptions returns the options used by LoadConfigFile.
func DefaultEnvOptions() EnvOptions {
	return EnvOptions{
		Prefix:         EnvPrefix,
		ValidateValues: true,
		Defaults:       make(map[string]string),
	}
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// ExpandEnvString replaces ${VAR} and ${VAR:-default} in input.
//
// Resolution order: prefixed variable, bare variable, inline default,
// options.Defaults. Unresolved variables expand to "" unless FailOnMissing
// is set.
func ExpandEnvString(input string, options EnvOptions) (string, error) {
	if !strings.Contains(input, "${") {
		return input, nil
	}
	var firstErr error
	result := envPattern.ReplaceAllStringFunc(input, func(match string) string {
		sub := envPattern.FindStringSubmatch(match)
		value, err := lookupEnv(sub[1], sub[2] != "", sub[3], options)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return match
		}
		return value
	})
	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

func lookupEnv(name string, hasDefault bool, inlineDefault string, options EnvOptions) (string, error) {
	if options.Prefix != "" {
		if value, ok := os.LookupEnv(options.Prefix + name); ok && value != "" {
			return validateEnvValue(name, value, options)
		}
	}
	if value, ok := os.LookupEnv(name); ok && value != "" {
		return validateEnvValue(name, value, options)
	}
	if hasDefault {
		return validateEnvValue(name, inlineDefault, options)
	}
	if value, ok := options.Defaults[name]; ok {
		return validateEnvValue(name, value, options)
	}
	if options.FailOnMissing {
		return "", NewConfigEnvError(name, "required environment variable is not set")
	}
	return "", nil
}

func validateEnvValue(name, value string, options EnvOptions) (string, error) {
	if !options.ValidateValues {
		return value, nil
	}
	if strings.Contains(value, "\x00") {
		return "", NewConfigEnvError(name, "value contains a null byte")
	}
	if len(value) > maxEnvValueLength {
		return "", NewConfigEnvError(name, fmt.Sprintf("value too long: %d bytes (max %d)", len(value), maxEnvValueLength))
	}
	for i, r := range value {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return "", NewConfigEnvError(name, fmt.Sprintf("control character at position %d", i))
		}
	}
	return value, nil
}

// ExpandEnv expands every string inside a parsed configuration document,
// including list items and nested tables. Keys are left alone. raw is
// modified in place and returned.
func ExpandEnv(raw map[string]any, options EnvOptions) (map[string]any, error) {
	for key, value := range raw {
		expanded, err := expandEnvValue(value, options)
		if err != nil {
			return nil, err
		}
		raw[key] = expanded
	}
	return raw, nil
}

func expandEnvValue(value any, options EnvOptions) (any, error) {
	switch v := value.(type) {
	case string:
		return ExpandEnvString(v, options)
	case map[string]any:
		return ExpandEnv(v, options)
	case []any:
		for i, item := range v {
			expanded, err := expandEnvValue(item, options)
			if err != nil {
				return nil, err
			}
			v[i] = expanded
		}
		return v, nil
	case []map[string]any:
		for _, item := range v {
			if _, err := ExpandEnv(item, options); err != nil {
				return nil, err
			}
		}
		return v, nil
	default:
		return value, nil
	}
}
