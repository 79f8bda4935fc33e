// logging.go: Pluggable logging interface and level handling
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package saukko

import (
	"fmt"
	"strings"
	"sync"
)

// Logger defines the pluggable logging interface used across the runtime.
//
// Arguments after the message are key-value pairs. Adapters are provided for
// zap (NewZapLogger) and zerolog (NewConsoleLogger); NoOpLogger and
// TestLogger cover silent operation and tests.
//
// Example usage:
//
//	logger, _ := NewZapLogger(LevelInfo)
//	app := NewApp(AppOptions{Logger: logger})
type Logger interface {
	// Debug logs a debug message with optional key-value pairs
	Debug(msg string, args ...any)

	// Info logs an info message with optional key-value pairs
	Info(msg string, args ...any)

	// Warn logs a warning message with optional key-value pairs
	Warn(msg string, args ...any)

	// Error logs an error message with optional key-value pairs
	Error(msg string, args ...any)

	// With returns a new logger with persistent context key-value pairs
	With(args ...any) Logger
}

// LogLevel is the verbosity threshold understood by the logger adapters.
type LogLevel int

const (
	LevelTrace LogLevel = iota
	LevelDebug
	LevelInfo
	LevelNotice
	LevelWarn
	LevelError
	LevelSilent
)

func (l LogLevel) String() string {
	switch l {
	case LevelTrace:
		return "trace"
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelNotice:
		return "notice"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	case LevelSilent:
		return "silent"
	default:
		return "unknown"
	}
}

// ParseLogLevel parses the level names accepted by SAUKKO_LOG_LEVEL.
// An empty string yields LevelInfo.
func ParseLogLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "notice":
		return LevelNotice, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	case "silent", "off":
		return LevelSilent, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// NewLogger creates a Logger from supported logger types.
//
// Supported types:
//   - Logger interface: Used directly
//   - nil: Returns NoOpLogger for silent operation
//   - Unsupported types: Panic with descriptive message
func NewLogger(logger any) Logger {
	switch l := logger.(type) {
	case Logger:
		return l
	case nil:
		return NewNoOpLogger()
	default:
		panic("unsupported logger type: expected Logger interface or nil")
	}
}

// NoOpLogger discards all log messages.
type NoOpLogger struct{}

// NewNoOpLogger creates a new no-operation logger.
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (n *NoOpLogger) Debug(msg string, args ...any) {}
func (n *NoOpLogger) Info(msg string, args ...any)  {}
func (n *NoOpLogger) Warn(msg string, args ...any)  {}
func (n *NoOpLogger) Error(msg string, args ...any) {}

func (n *NoOpLogger) With(args ...any) Logger {
	return n
}

// TestLogger captures log messages for assertions. Loggers derived with
// With share the parent's message buffer and prepend their context args.
type TestLogger struct {
	sink *testLogSink
	ctx  []any
}

type testLogSink struct {
	mu       sync.RWMutex
	messages []TestLogMessage
}

// TestLogMessage represents a captured log message for testing.
type TestLogMessage struct {
	Level   string
	Message string
	Args    []any
}

// NewTestLogger creates a new test logger.
func NewTestLogger() *TestLogger {
	return &TestLogger{sink: &testLogSink{}}
}

func (t *TestLogger) record(level, msg string, args []any) {
	all := make([]any, 0, len(t.ctx)+len(args))
	all = append(all, t.ctx...)
	all = append(all, args...)

	t.sink.mu.Lock()
	defer t.sink.mu.Unlock()
	t.sink.messages = append(t.sink.messages, TestLogMessage{
		Level:   level,
		Message: msg,
		Args:    all,
	})
}

func (t *TestLogger) Debug(msg string, args ...any) { t.record("DEBUG", msg, args) }
func (t *TestLogger) Info(msg string, args ...any)  { t.record("INFO", msg, args) }
func (t *TestLogger) Warn(msg string, args ...any)  { t.record("WARN", msg, args) }
func (t *TestLogger) Error(msg string, args ...any) { t.record("ERROR", msg, args) }

// With returns a logger writing into the same buffer with extra context.
func (t *TestLogger) With(args ...any) Logger {
	ctx := make([]any, 0, len(t.ctx)+len(args))
	ctx = append(ctx, t.ctx...)
	ctx = append(ctx, args...)
	return &TestLogger{sink: t.sink, ctx: ctx}
}

// Messages returns a copy of the captured messages.
func (t *TestLogger) Messages() []TestLogMessage {
	t.sink.mu.RLock()
	defer t.sink.mu.RUnlock()
	out := make([]TestLogMessage, len(t.sink.messages))
	copy(out, t.sink.messages)
	return out
}

// HasMessage checks if the logger captured a message at level containing text.
func (t *TestLogger) HasMessage(level, text string) bool {
	for _, msg := range t.Messages() {
		if msg.Level == level && strings.Contains(msg.Message, text) {
			return true
		}
	}
	return false
}

// Count returns how many messages were captured at level.
func (t *TestLogger) Count(level string) int {
	n := 0
	for _, msg := range t.Messages() {
		if msg.Level == level {
			n++
		}
	}
	return n
}

// Clear removes all captured messages.
func (t *TestLogger) Clear() {
	t.sink.mu.Lock()
	defer t.sink.mu.Unlock()
	t.sink.messages = t.sink.messages[:0]
}
