package appbase

import (
	"log/slog"
)

// Logger defines the interface for framework logging.
// The appbase framework uses structured logging with key-value pairs
// to provide consistent, parseable log output across plugins.
//
// The Logger interface uses variadic arguments in key-value pairs:
//
//	logger.Info("message", "key1", "value1", "key2", "value2")
//
// This approach is compatible with popular structured logging libraries
// like slog, logrus, zap, and others.
type Logger interface {
	// Info logs an informational message with optional key-value pairs.
	Info(msg string, args ...any)

	// Error logs an error message with optional key-value pairs.
	Error(msg string, args ...any)

	// Warn logs a warning message with optional key-value pairs.
	Warn(msg string, args ...any)

	// Debug logs a debug message with optional key-value pairs.
	Debug(msg string, args ...any)
}

// SlogLogger adapts a *slog.Logger to the Logger interface. It is the
// default logger for applications constructed without WithLogger.
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger wraps an existing slog logger. Passing nil uses the
// process-wide slog default.
func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogLogger{logger: logger}
}

func (l *SlogLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *SlogLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }
func (l *SlogLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *SlogLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
