package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger adapts a zap logger to the Logger interface
type ZapLogger struct {
	sugar *zap.SugaredLogger
	level zap.AtomicLevel
}

// NewZapLogger wraps base. Messages below the adapter level are dropped
// before they reach zap.
func NewZapLogger(base *zap.Logger, level Level) *ZapLogger {
	if base == nil {
		base = zap.NewNop()
	}
	return &ZapLogger{
		sugar: base.WithOptions(zap.AddCallerSkip(1)).Sugar(),
		level: zap.NewAtomicLevelAt(zapLevel(level)),
	}
}

// zapLevel maps Level onto zapcore levels
func zapLevel(l Level) zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Debug logs debug message
func (z *ZapLogger) Debug(format string, args ...interface{}) {
	if z.level.Enabled(zapcore.DebugLevel) {
		z.sugar.Debugf(format, args...)
	}
}

// Info logs info message
func (z *ZapLogger) Info(format string, args ...interface{}) {
	if z.level.Enabled(zapcore.InfoLevel) {
		z.sugar.Infof(format, args...)
	}
}

// Warn logs warning message
func (z *ZapLogger) Warn(format string, args ...interface{}) {
	if z.level.Enabled(zapcore.WarnLevel) {
		z.sugar.Warnf(format, args...)
	}
}

// Error logs error message
func (z *ZapLogger) Error(format string, args ...interface{}) {
	if z.level.Enabled(zapcore.ErrorLevel) {
		z.sugar.Errorf(format, args...)
	}
}

// SetLevel sets the logging level
func (z *ZapLogger) SetLevel(level Level) {
	z.level.SetLevel(zapLevel(level))
}

// Sync flushes buffered zap output
func (z *ZapLogger) Sync() error {
	return z.sugar.Sync()
}
