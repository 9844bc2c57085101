// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package logging wraps charmbracelet/log with the component/field
// conventions used throughout the firewall core.
package logging

import (
	"io"
	"os"
	"sync"
	"sync/atomic"

	charmlog "github.com/charmbracelet/log"
)

// Config controls how a Logger is constructed.
type Config struct {
	// Level is one of "debug", "info", "warn", "error". Empty means "info".
	Level string
	// Output defaults to os.Stderr.
	Output io.Writer
	// ReportTimestamp matches the charmbracelet/log option of the same name.
	ReportTimestamp bool
	// JSON switches to JSON formatting, for log aggregation in production.
	JSON bool
}

// DefaultConfig returns the logger configuration used when none is supplied.
func DefaultConfig() Config {
	return Config{Level: "info", Output: os.Stderr, ReportTimestamp: true}
}

// Logger is a structured logger carrying a component name and a fixed set of
// key/value fields, cheap to derive via WithComponent/WithError/WithFields.
type Logger struct {
	l *charmlog.Logger
}

// New builds a Logger from cfg.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := charmlog.Options{
		ReportTimestamp: cfg.ReportTimestamp,
	}
	if cfg.JSON {
		opts.Formatter = charmlog.JSONFormatter
	}
	l := charmlog.NewWithOptions(out, opts)
	l.SetLevel(parseLevel(cfg.Level))
	return &Logger{l: l}
}

func parseLevel(s string) charmlog.Level {
	switch s {
	case "debug":
		return charmlog.DebugLevel
	case "warn", "warning":
		return charmlog.WarnLevel
	case "error":
		return charmlog.ErrorLevel
	default:
		return charmlog.InfoLevel
	}
}

// WithComponent returns a derived Logger tagging every line with
// component=name.
func (lg *Logger) WithComponent(name string) *Logger {
	return &Logger{l: lg.l.With("component", name)}
}

// WithError returns a derived Logger with an error field attached.
func (lg *Logger) WithError(err error) *Logger {
	if err == nil {
		return lg
	}
	return &Logger{l: lg.l.With("error", err.Error())}
}

// WithFields returns a derived Logger carrying the given key/value pairs on
// every subsequent line.
func (lg *Logger) WithFields(fields map[string]any) *Logger {
	l := lg.l
	for k, v := range fields {
		l = l.With(k, v)
	}
	return &Logger{l: l}
}

func (lg *Logger) Debug(msg string, kv ...any) { lg.l.Debug(msg, kv...) }
func (lg *Logger) Info(msg string, kv ...any)  { lg.l.Info(msg, kv...) }
func (lg *Logger) Warn(msg string, kv ...any)  { lg.l.Warn(msg, kv...) }
func (lg *Logger) Error(msg string, kv ...any) { lg.l.Error(msg, kv...) }

var (
	defaultMu  sync.RWMutex
	defaultLog atomic.Value // *Logger
)

func init() {
	defaultLog.Store(New(DefaultConfig()))
}

// Default returns the process-wide default Logger.
func Default() *Logger {
	return defaultLog.Load().(*Logger)
}

// SetDefault replaces the process-wide default Logger, e.g. once
// configuration has been loaded and the desired level/format is known.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLog.Store(l)
}

// Debug logs at debug level on the default Logger.
func Debug(msg string, kv ...any) { Default().Debug(msg, kv...) }

// Info logs at info level on the default Logger.
func Info(msg string, kv ...any) { Default().Info(msg, kv...) }

// Warn logs at warn level on the default Logger.
func Warn(msg string, kv ...any) { Default().Warn(msg, kv...) }

// Error logs at error level on the default Logger.
func Error(msg string, kv ...any) { Default().Error(msg, kv...) }
