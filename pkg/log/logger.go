package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/YuminosukeSato/embedcluster/pkg/errors"
)

const (
	ErrAttrKey        = "error"
	StacktraceAttrKey = "stacktrace"
)

// Output formats accepted by SetupLogger.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
	FormatSlog    = "slog"
)

// ErrAttr is a wrapper to pass err to slog.
func ErrAttr(err error) slog.Attr {
	return slog.Any(ErrAttrKey, err)
}

// ParseLevel converts "debug", "info", "warn" or "error" to a Level.
func ParseLevel(level string) (Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, errors.NewValidationError("log_level", "must be one of debug, info, warn, error", level)
	}
}

// SetupLogger installs the process-wide provider writing to stderr and routes
// library warnings (ConvergenceWarning) through it.
//
// format is FormatConsole (zerolog console writer), FormatJSON (zerolog JSON lines)
// or FormatSlog (slog JSON handler with cockroachdb stacktraces).
func SetupLogger(level, format string) error {
	return SetupLoggerTo(os.Stderr, level, format)
}

// SetupLoggerTo is SetupLogger with an explicit destination.
func SetupLoggerTo(w io.Writer, level, format string) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}

	switch format {
	case FormatConsole:
		installZerolog(NewZerologProvider(zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}, lvl))
	case FormatJSON, "":
		installZerolog(NewZerologProvider(w, lvl))
	case FormatSlog:
		p := NewSlogProvider(w, lvl)
		slog.SetDefault(p.base)
		SetProvider(p)
		errors.SetZerologWarnFunc(nil)
		errors.SetWarningHandler(func(warning error) {
			p.GetLoggerWithName("warnings").Warn(warning.Error())
		})
	default:
		return errors.NewValidationError("log_format", "must be one of console, json, slog", format)
	}
	return nil
}

func installZerolog(p *ZerologProvider) {
	SetProvider(p)
	zl := p.Zerolog()
	errors.SetZerologWarnFunc(func(warning error) {
		ev := zl.Warn()
		if m, ok := warning.(zerolog.LogObjectMarshaler); ok {
			ev = ev.EmbedObject(m)
		}
		ev.Msg(warning.Error())
	})
}

// SlogLogger implements Logger on top of *slog.Logger.
type SlogLogger struct {
	l *slog.Logger
}

// NewSlogLogger wraps l.
func NewSlogLogger(l *slog.Logger) *SlogLogger {
	return &SlogLogger{l: l}
}

func (s *SlogLogger) log(level slog.Level, msg string, fields []any) {
	if len(fields)%2 == 1 {
		if err, ok := fields[0].(error); ok {
			fields = append([]any{ErrAttr(err)}, fields[1:]...)
		}
	}
	s.l.Log(context.Background(), level, msg, fields...)
}

// Debug implements Logger.Debug.
func (s *SlogLogger) Debug(msg string, fields ...any) { s.log(slog.LevelDebug, msg, fields) }

// Info implements Logger.Info.
func (s *SlogLogger) Info(msg string, fields ...any) { s.log(slog.LevelInfo, msg, fields) }

// Warn implements Logger.Warn.
func (s *SlogLogger) Warn(msg string, fields ...any) { s.log(slog.LevelWarn, msg, fields) }

// Error implements Logger.Error.
func (s *SlogLogger) Error(msg string, fields ...any) { s.log(slog.LevelError, msg, fields) }

// With implements Logger.With.
func (s *SlogLogger) With(fields ...any) Logger {
	return &SlogLogger{l: s.l.With(fields...)}
}

// Enabled implements Logger.Enabled.
func (s *SlogLogger) Enabled(ctx context.Context, level Level) bool {
	return s.l.Enabled(ctx, slog.Level(level))
}

// SlogProvider is a LoggerProvider emitting Cloud Logging flavoured JSON through slog.
type SlogProvider struct {
	level *slog.LevelVar
	base  *slog.Logger
}

// NewSlogProvider creates a provider writing JSON records to w.
func NewSlogProvider(w io.Writer, level Level) *SlogProvider {
	lv := new(slog.LevelVar)
	lv.Set(slog.Level(level))
	ops := slog.HandlerOptions{
		AddSource: true,
		Level:     lv,
		// Replace attributes to convert to CloudLogging format.
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.LevelKey:
				attr.Key = "severity"
			case slog.MessageKey:
				attr.Key = "message"
			case slog.SourceKey:
				attr.Key = "logging.googleapis.com/sourceLocation"
			}
			return attr
		},
	}
	handler := WrapByErrFmtHandler(slog.NewJSONHandler(w, &ops))
	return &SlogProvider{level: lv, base: slog.New(handler)}
}

// GetLogger implements LoggerProvider.GetLogger.
func (p *SlogProvider) GetLogger() Logger { return NewSlogLogger(p.base) }

// GetLoggerWithName implements LoggerProvider.GetLoggerWithName.
func (p *SlogProvider) GetLoggerWithName(name string) Logger {
	return NewSlogLogger(p.base.With(ComponentKey, name))
}

// SetLevel implements LoggerProvider.SetLevel.
func (p *SlogProvider) SetLevel(level Level) { p.level.Set(slog.Level(level)) }

// String is used by fmt when a provider ends up in a log line.
func (p *SlogProvider) String() string {
	return fmt.Sprintf("SlogProvider(level=%s)", Level(p.level.Level()))
}
