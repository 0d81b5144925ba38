package ts0710

import (
	"go.uber.org/zap"

	"avaneesh/ts0710-go/pkg/internal/logger"
)

// Logger is the printf-style logger accepted by the manager and the mux
type Logger = logger.Logger

// LogLevel represents logging level
type LogLevel int

const (
	// LevelDebug shows all log messages (most verbose)
	LevelDebug LogLevel = iota
	// LevelInfo shows info, warn, and error messages (default)
	LevelInfo
	// LevelWarn shows warn and error messages
	LevelWarn
	// LevelError shows only error messages
	LevelError
)

// SetLogLevel sets the global logging level
func SetLogLevel(level LogLevel) {
	logger.SetDefault(logger.NewDefaultLogger(logger.Level(level)))
}

// EnableFrameDebug enables or disables hex dumps of every frame sent and
// received
func EnableFrameDebug(enable bool) {
	logger.SetFrameDebug(enable)
}

// UseZap routes the global logger into z and returns the adapter. Call
// Sync on z before exit to flush buffered output.
func UseZap(z *zap.Logger, level LogLevel) Logger {
	l := logger.NewZapLogger(z, logger.Level(level))
	logger.SetDefault(l)
	return l
}

// DefaultLogger returns the current global logger
func DefaultLogger() Logger {
	return logger.GetDefault()
}

// NoOpLogger returns a logger that discards everything
func NoOpLogger() Logger {
	return logger.NewNoOpLogger()
}
