package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	pionlogging "github.com/pion/logging"
)

// Init installs the default slog logger. The level comes from LOG_LEVEL and
// falls back to def; LOG_FORMAT=json switches to JSON output.
func Init(def slog.Level) *slog.Logger {
	logger := New(os.Stderr, ParseLevel(os.Getenv("LOG_LEVEL"), def), os.Getenv("LOG_FORMAT"))
	slog.SetDefault(logger)
	return logger
}

// New builds a logger writing to w.
func New(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel maps a LOG_LEVEL value to a slog level.
func ParseLevel(s string, def slog.Level) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dev", "development", "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "production", "prod":
		return slog.LevelError
	}
	return def
}

// PionFactory routes pion's internal logging into slog, one "scope" attribute
// per pion subsystem.
type PionFactory struct {
	Logger *slog.Logger
}

func (f PionFactory) NewLogger(scope string) pionlogging.LeveledLogger {
	l := f.Logger
	if l == nil {
		l = slog.Default()
	}
	return pionLogger{l: l.With("scope", "pion/"+scope)}
}

type pionLogger struct {
	l *slog.Logger
}

// levelTrace sits below debug so pion trace output only shows when asked for.
const levelTrace = slog.LevelDebug - 4

func (p pionLogger) Trace(msg string) { p.l.Log(context.Background(), levelTrace, msg) }
func (p pionLogger) Tracef(format string, args ...interface{}) {
	p.l.Log(context.Background(), levelTrace, fmt.Sprintf(format, args...))
}
func (p pionLogger) Debug(msg string) { p.l.Debug(msg) }
func (p pionLogger) Debugf(format string, args ...interface{}) {
	p.l.Debug(fmt.Sprintf(format, args...))
}
func (p pionLogger) Info(msg string) { p.l.Info(msg) }
func (p pionLogger) Infof(format string, args ...interface{}) {
	p.l.Info(fmt.Sprintf(format, args...))
}
func (p pionLogger) Warn(msg string) { p.l.Warn(msg) }
func (p pionLogger) Warnf(format string, args ...interface{}) {
	p.l.Warn(fmt.Sprintf(format, args...))
}
func (p pionLogger) Error(msg string) { p.l.Error(msg) }
func (p pionLogger) Errorf(format string, args ...interface{}) {
	p.l.Error(fmt.Sprintf(format, args...))
}
