// Package telemetry holds the leveled logger every runtime component writes to.
//
// Components depend on the small Logger interface; NewSlogLogger backs it with
// log/slog and Nop discards everything (tests, embedded use).
package telemetry

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Level is a user-facing log level decoupled from slog.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

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

// ParseLevel maps "debug", "info", "warn" and "error" to a Level.
// Anything else yields LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger is the minimal leveled logging interface. Args are slog-style
// key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type slogLogger struct {
	*slog.Logger
}

func (s slogLogger) Debug(msg string, args ...any) { s.Logger.Debug(msg, args...) }
func (s slogLogger) Info(msg string, args ...any) { s.Logger.Info(msg, args...) }
func (s slogLogger) Warn(msg string, args ...any) { s.Logger.Warn(msg, args...) }
func (s slogLogger) Error(msg string, args ...any) { s.Logger.Error(msg, args...) }

// NewSlogLogger builds a Logger writing to w ("json" or "text" format).
// A nil w writes to stderr.
func NewSlogLogger(level Level, format string, w io.Writer) Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: slogLevel(level)}
	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slogLogger{Logger: slog.New(h)}
}

func slogLevel(l Level) slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a logger that attaches kv to every entry. Loggers that are not
// slog-backed get a wrapper that prepends kv to each call.
func With(l Logger, kv ...any) Logger {
	if l == nil {
		return Nop()
	}
	if len(kv) == 0 {
		return l
	}
	if s, ok := l.(slogLogger); ok {
		return slogLogger{Logger: s.Logger.With(kv...)}
	}
	if _, ok := l.(nopLogger); ok {
		return l
	}
	return withLogger{next: l, kv: kv}
}

type withLogger struct {
	next Logger
	kv   []any
}

func (w withLogger) merge(args []any) []any {
	out := make([]any, 0, len(w.kv)+len(args))
	out = append(out, w.kv...)
	return append(out, args...)
}

func (w withLogger) Debug(msg string, args ...any) { w.next.Debug(msg, w.merge(args)...) }
func (w withLogger) Info(msg string, args ...any) { w.next.Info(msg, w.merge(args)...) }
func (w withLogger) Warn(msg string, args ...any) { w.next.Warn(msg, w.merge(args)...) }
func (w withLogger) Error(msg string, args ...any) { w.next.Error(msg, w.merge(args)...) }

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any) {}
func (nopLogger) Warn(string, ...any) {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a Logger that discards everything.
func Nop() Logger { return nopLogger{} }
