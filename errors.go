// errors.go: structured error definitions for the saukko runtime
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package saukko

import (
	stderrors "errors"
	"strings"

	"github.com/agilira/go-errors"
)

// Error codes for the saukko runtime
const (
	// Configuration errors (1000-1099)
	ErrCodeServiceAlreadySet  = "CONFIG_1001"
	ErrCodeDuplicatePlugin    = "CONFIG_1002"
	ErrCodeMalformedPlugin    = "CONFIG_1003"
	ErrCodeInvalidPluginName  = "CONFIG_1004"
	ErrCodeElevationWrite     = "CONFIG_1005"
	ErrCodeConfigNotFound     = "CONFIG_1010"
	ErrCodeConfigParseError   = "CONFIG_1011"
	ErrCodeConfigPathError    = "CONFIG_1012"
	ErrCodeConfigWatcherError = "CONFIG_1013"
	ErrCodeConfigNotLoaded    = "CONFIG_1014"
	ErrCodeConfigEnv          = "CONFIG_1015"

	// Dependency errors (1100-1199)
	ErrCodeUnmetDependency     = "DEPENDENCY_1101"
	ErrCodePluginNotFound      = "DEPENDENCY_1102"
	ErrCodePluginNotEnabled    = "DEPENDENCY_1103"
	ErrCodePluginAlreadyActive = "DEPENDENCY_1104"

	// Cycle errors (1200-1299). Only ever carried inside diagnostics.
	ErrCodeCircularDependency = "CYCLE_1201"

	// Lifecycle errors (1300-1399)
	ErrCodeAssuranceFailed = "LIFECYCLE_1301"
	ErrCodeDisposalFailed  = "LIFECYCLE_1302"
	ErrCodeNotRetryable    = "LIFECYCLE_1303"

	// Storage errors (1400-1499)
	ErrCodeStorageNotFound = "STORAGE_1401"
	ErrCodeStorageIO       = "STORAGE_1402"
)

// Configuration error constructors

func NewServiceAlreadySetError(key string) *errors.Error {
	return errors.New(ErrCodeServiceAlreadySet, "Service already set").
		WithUserMessage("The service slot already holds a value; clear it before assigning a new one").
		WithContext("service", key).
		WithSeverity("error")
}

func NewDuplicatePluginError(name string) *errors.Error {
	return errors.New(ErrCodeDuplicatePlugin, "Duplicate plugin").
		WithUserMessage("A plugin with this name is already installed").
		WithContext("plugin_name", name).
		WithSeverity("error")
}

func NewMalformedPluginError(name string, got string) *errors.Error {
	return errors.New(ErrCodeMalformedPlugin, "Malformed plugin").
		WithUserMessage("Plugin entry must be a PluginFunc, a Constructor or an Applier").
		WithContext("plugin_name", name).
		WithContext("entry_type", got).
		WithSeverity("error")
}

func NewInvalidPluginNameError(name string) *errors.Error {
	return errors.New(ErrCodeInvalidPluginName, "Invalid plugin name").
		WithUserMessage("Plugin name is required and cannot be empty").
		WithContext("provided_name", name).
		WithSeverity("error")
}

func NewElevationWriteError(name, service string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeElevationWrite, "Elevated member write failed").
		WithUserMessage("Could not write through the elevated name to its service").
		WithContext("elevation", name).
		WithContext("service", service).
		WithSeverity("warning")
}

func NewConfigNotFoundError(path string) *errors.Error {
	return errors.New(ErrCodeConfigNotFound, "Configuration file not found").
		WithUserMessage("The configuration file could not be found").
		WithContext("config_path", path).
		WithSeverity("error")
}

func NewConfigParseError(path string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeConfigParseError, "Configuration parse error").
		WithUserMessage("Failed to parse configuration file").
		WithContext("config_path", path).
		WithSeverity("error")
}

func NewConfigPathError(path string, message string) *errors.Error {
	return errors.New(ErrCodeConfigPathError, "Configuration path error: "+message).
		WithUserMessage("Invalid configuration path").
		WithContext("config_path", path).
		WithSeverity("error")
}

func NewConfigWatcherError(message string, cause error) *errors.Error {
	if cause == nil {
		return errors.New(ErrCodeConfigWatcherError, "Configuration watcher error: "+message).
			WithUserMessage("Configuration monitoring failed").
			WithSeverity("error")
	}
	return errors.Wrap(cause, ErrCodeConfigWatcherError, "Configuration watcher error: "+message).
		WithUserMessage("Configuration monitoring failed").
		WithSeverity("error")
}

func NewConfigEnvError(variable, message string) *errors.Error {
	return errors.New(ErrCodeConfigEnv, "Environment expansion failed: "+message).
		WithUserMessage("Check the environment variables referenced by the configuration").
		WithContext("variable", variable).
		WithSeverity("error")
}

func NewConfigNotLoadedError() *errors.Error {
	return errors.New(ErrCodeConfigNotLoaded, "Configuration not loaded").
		WithUserMessage("Configuration was read before it was set").
		WithSeverity("warning")
}

// Dependency error constructors

func NewUnmetDependencyError(name string, missing []string) *errors.Error {
	return errors.New(ErrCodeUnmetDependency, "Unmet dependency").
		WithUserMessage("Plugin dependencies are not available: "+strings.Join(missing, ", ")).
		WithContext("plugin_name", name).
		WithContext("missing", missing).
		WithSeverity("warning")
}

func NewPluginNotFoundError(name string) *errors.Error {
	return errors.New(ErrCodePluginNotFound, "Plugin not found").
		WithUserMessage("The requested plugin is not installed").
		WithContext("plugin_name", name).
		WithSeverity("error")
}

func NewPluginNotEnabledError(name string) *errors.Error {
	return errors.New(ErrCodePluginNotEnabled, "Plugin not enabled").
		WithUserMessage("The requested plugin is not applied").
		WithContext("plugin_name", name).
		WithSeverity("warning")
}

func NewPluginAlreadyActiveError(name string) *errors.Error {
	return errors.New(ErrCodePluginAlreadyActive, "Plugin already applied").
		WithUserMessage("The plugin is already applied; dispose it first").
		WithContext("plugin_name", name).
		WithSeverity("warning")
}

// Cycle error constructors

func NewCircularDependencyError(name string, cycle []string) *errors.Error {
	return errors.New(ErrCodeCircularDependency, "Circular dependency").
		WithUserMessage("Plugin is part of a dependency cycle: "+strings.Join(cycle, " -> ")).
		WithContext("plugin_name", name).
		WithContext("cycle", cycle).
		WithSeverity("warning")
}

// Lifecycle error constructors

func NewAssuranceFailedError(lifecycle string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeAssuranceFailed, "Assurance failed").
		WithUserMessage("An initialization step failed; the lifecycle is now failed").
		WithContext("lifecycle", lifecycle).
		WithSeverity("error")
}

func NewDisposalFailedError(lifecycle string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeDisposalFailed, "Disposal failed").
		WithUserMessage("A cleanup step failed").
		WithContext("lifecycle", lifecycle).
		WithSeverity("warning")
}

func NewNotRetryableError(name string, state LifecycleState) *errors.Error {
	return errors.New(ErrCodeNotRetryable, "Lifecycle not retryable").
		WithUserMessage("Only failed lifecycles can be retried").
		WithContext("plugin_name", name).
		WithContext("state", state.String()).
		WithSeverity("warning")
}

// Storage error constructors

func NewStorageNotFoundError(name string) *errors.Error {
	return errors.New(ErrCodeStorageNotFound, "Storage not found").
		WithUserMessage("The requested storage does not exist").
		WithContext("storage", name).
		WithSeverity("error")
}

func NewStorageIOError(path string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeStorageIO, "Storage I/O error").
		WithUserMessage("Failed to read or write storage file").
		WithContext("path", path).
		WithSeverity("error")
}

// HasErrorCode reports whether err, or any error it wraps, is a structured
// error carrying code.
func HasErrorCode(err error, code errors.ErrorCode) bool {
	var structured *errors.Error
	for err != nil {
		if !stderrors.As(err, &structured) {
			return false
		}
		if structured.Code == code {
			return true
		}
		err = structured.Cause
	}
	return false
}
