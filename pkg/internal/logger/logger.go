package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"
)

// Level represents logging level
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns string representation of Level
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a level name such as "debug" or "warn" to a Level
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Logger is the interface for logging
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
	SetLevel(level Level)
}

// DefaultLogger writes level-tagged lines with microsecond timestamps.
// It is safe to change the level while workers are logging.
type DefaultLogger struct {
	level  atomic.Int32
	logger *log.Logger
}

// NewDefaultLogger creates a logger writing to stderr
func NewDefaultLogger(level Level) *DefaultLogger {
	return NewDefaultLoggerTo(os.Stderr, level)
}

// NewDefaultLoggerTo creates a logger writing to w
func NewDefaultLoggerTo(w io.Writer, level Level) *DefaultLogger {
	l := &DefaultLogger{
		logger: log.New(w, "", log.LstdFlags|log.Lmicroseconds),
	}
	l.level.Store(int32(level))
	return l
}

func (l *DefaultLogger) logf(level Level, format string, args ...interface{}) {
	if Level(l.level.Load()) > level {
		return
	}
	l.logger.Printf("["+level.String()+"] "+format, args...)
}

// Debug logs debug message
func (l *DefaultLogger) Debug(format string, args ...interface{}) {
	l.logf(LevelDebug, format, args...)
}

// Info logs info message
func (l *DefaultLogger) Info(format string, args ...interface{}) {
	l.logf(LevelInfo, format, args...)
}

// Warn logs warning message
func (l *DefaultLogger) Warn(format string, args ...interface{}) {
	l.logf(LevelWarn, format, args...)
}

// Error logs error message
func (l *DefaultLogger) Error(format string, args ...interface{}) {
	l.logf(LevelError, format, args...)
}

// SetLevel sets the logging level
func (l *DefaultLogger) SetLevel(level Level) {
	l.level.Store(int32(level))
}

// NoOpLogger is a logger that doesn't log anything
type NoOpLogger struct{}

// NewNoOpLogger creates a logger that doesn't log
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (l *NoOpLogger) Debug(format string, args ...interface{}) {}
func (l *NoOpLogger) Info(format string, args ...interface{})  {}
func (l *NoOpLogger) Warn(format string, args ...interface{})  {}
func (l *NoOpLogger) Error(format string, args ...interface{}) {}
func (l *NoOpLogger) SetLevel(level Level)                     {}

// holder lets atomic.Value store loggers of different concrete types
type holder struct {
	Logger
}

var defaultLogger atomic.Value

func init() {
	defaultLogger.Store(holder{NewDefaultLogger(LevelInfo)})
}

// SetDefault sets the default logger; nil installs a NoOpLogger
func SetDefault(logger Logger) {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	defaultLogger.Store(holder{logger})
}

// GetDefault returns the default logger
func GetDefault() Logger {
	return defaultLogger.Load().(holder).Logger
}

// frameDebug gates hex dumps of every mux frame
var frameDebug atomic.Bool

// SetFrameDebug enables or disables frame hex dumps
func SetFrameDebug(enable bool) {
	frameDebug.Store(enable)
}

// FrameDebug reports whether frame hex dumps are enabled
func FrameDebug() bool {
	return frameDebug.Load()
}

// maxHexBytes bounds one frame dump
const maxHexBytes = 64

// Hex formats b as spaced hex octets. Long buffers are cut after
// maxHexBytes with the full length appended.
func Hex(b []byte) string {
	if len(b) <= maxHexBytes {
		return fmt.Sprintf("% X", b)
	}
	return fmt.Sprintf("% X ... (%d bytes)", b[:maxHexBytes], len(b))
}
