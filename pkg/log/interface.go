// Package log provides the structured logging interface used by every estimator and
// by the pipeline orchestrator.
//
// The interface is slog-compatible (alternating key/value fields) so backends can be
// swapped: the default provider is backed by zerolog, SetupLogger can switch to a
// slog JSON handler, and tests install a TestLoggerProvider.
//
// Example usage:
//
//	logger := log.GetLoggerWithName("cluster.kmeans").With(
//	    log.ModelNameKey, "KMeans",
//	)
//	logger.Info("fit finished",
//	    log.OperationKey, log.OperationFit,
//	    log.SamplesKey, 1000,
//	    log.IterationKey, 12,
//	)
package log

import (
	"context"
)

// Logger defines a structured logging interface compatible with Go's log/slog.
//
// Fields are alternating key/value pairs. Error additionally accepts an error value as
// its first field; backends attach it under the "error" key.
type Logger interface {
	// Debug logs detailed diagnostic information, e.g. per-iteration centroid shifts.
	Debug(msg string, fields ...any)

	// Info logs general progress, e.g. a finished fit.
	Info(msg string, fields ...any)

	// Warn logs conditions that do not stop processing, e.g. a skipped pipeline stage.
	Warn(msg string, fields ...any)

	// Error logs failures. If the first field is an error it is handled specially.
	Error(msg string, fields ...any)

	// With returns a new Logger with the given fields pre-populated.
	With(fields ...any) Logger

	// Enabled reports whether the logger emits records at the given level, so callers
	// can skip building expensive fields.
	Enabled(ctx context.Context, level Level) bool
}

// Level represents a logging level, compatible with slog.Level.
type Level int

// Standard logging levels, values are compatible with slog.Level.
const (
	LevelDebug Level = -4
	LevelInfo  Level = 0
	LevelWarn  Level = 4
	LevelError Level = 8
)

// String returns the string representation of the log level.
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

// LoggerProvider creates loggers. It is swapped process-wide with SetProvider.
type LoggerProvider interface {
	// GetLogger returns the default logger instance.
	GetLogger() Logger

	// GetLoggerWithName returns a logger tagged with a component name.
	GetLoggerWithName(name string) Logger

	// SetLevel sets the minimum log level for all loggers created by this provider.
	SetLevel(level Level)
}
