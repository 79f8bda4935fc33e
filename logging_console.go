// logging_console.go: zerolog console adapter for the Logger interface
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package saukko

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// ConsoleLogger adapts zerolog with a human-readable ConsoleWriter.
type ConsoleLogger struct {
	logger zerolog.Logger
}

// NewConsoleLogger creates a console logger tagged with name writing to
// stdout.
func NewConsoleLogger(name string, level LogLevel) *ConsoleLogger {
	return NewConsoleLoggerTo(os.Stdout, name, level)
}

// NewConsoleLoggerTo is NewConsoleLogger with an explicit writer.
func NewConsoleLoggerTo(w io.Writer, name string, level LogLevel) *ConsoleLogger {
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
		NoColor:    w != os.Stdout,
	}
	logger := zerolog.New(output).
		Level(zerologLevel(level)).
		With().Timestamp().Str("app", name).Logger()
	return &ConsoleLogger{logger: logger}
}

func zerologLevel(level LogLevel) zerolog.Level {
	switch level {
	case LevelTrace:
		return zerolog.TraceLevel
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo, LevelNotice:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.Disabled
	}
}

func (c *ConsoleLogger) Debug(msg string, args ...any) { c.emit(c.logger.Debug(), msg, args) }
func (c *ConsoleLogger) Info(msg string, args ...any)  { c.emit(c.logger.Info(), msg, args) }
func (c *ConsoleLogger) Warn(msg string, args ...any)  { c.emit(c.logger.Warn(), msg, args) }
func (c *ConsoleLogger) Error(msg string, args ...any) { c.emit(c.logger.Error(), msg, args) }

func (c *ConsoleLogger) With(args ...any) Logger {
	return &ConsoleLogger{logger: c.logger.With().Fields(pairs(args)).Logger()}
}

func (c *ConsoleLogger) emit(ev *zerolog.Event, msg string, args []any) {
	ev.Fields(pairs(args)).Msg(msg)
}

// pairs turns key-value args into a field map. A trailing key without value
// is kept under "!BADKEY" like slog does.
func pairs(args []any) map[string]any {
	fields := make(map[string]any, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		if i+1 >= len(args) {
			fields["!BADKEY"] = args[i]
			break
		}
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		if err, isErr := args[i+1].(error); isErr {
			fields[key] = err.Error()
			continue
		}
		fields[key] = args[i+1]
	}
	return fields
}
