// logging_zap.go: zap adapter for the Logger interface
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package saukko

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger adapts a zap.SugaredLogger to Logger.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger builds a JSON production logger at level. LevelSilent
// returns a logger backed by zap.NewNop.
func NewZapLogger(level LogLevel) (*ZapLogger, error) {
	if level == LevelSilent {
		return WrapZap(zap.NewNop()), nil
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel(level))
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return WrapZap(logger), nil
}

// WrapZap adapts an existing *zap.Logger.
func WrapZap(logger *zap.Logger) *ZapLogger {
	return &ZapLogger{sugar: logger.Sugar()}
}

func zapLevel(level LogLevel) zapcore.Level {
	switch level {
	case LevelTrace, LevelDebug:
		return zapcore.DebugLevel
	case LevelInfo, LevelNotice:
		return zapcore.InfoLevel
	case LevelWarn:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}

func (z *ZapLogger) Debug(msg string, args ...any) { z.sugar.Debugw(msg, args...) }
func (z *ZapLogger) Info(msg string, args ...any)  { z.sugar.Infow(msg, args...) }
func (z *ZapLogger) Warn(msg string, args ...any)  { z.sugar.Warnw(msg, args...) }
func (z *ZapLogger) Error(msg string, args ...any) { z.sugar.Errorw(msg, args...) }

func (z *ZapLogger) With(args ...any) Logger {
	return &ZapLogger{sugar: z.sugar.With(args...)}
}

// Sync flushes buffered entries.
func (z *ZapLogger) Sync() error {
	return z.sugar.Sync()
}
