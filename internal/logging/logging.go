// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package logging provides the structured logger used throughout the
// endpoint: a thin wrapper over log/slog that tags every record with a
// component name and supports an optional syslog sink alongside stderr.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// Config controls how the root logger is constructed.
type Config struct {
	Level  slog.Level
	JSON   bool
	Output io.Writer
	Syslog SyslogConfig
}

// DefaultConfig returns the default logging configuration: text output to
// stderr at Info level, syslog disabled.
func DefaultConfig() Config {
	return Config{
		Level:  slog.LevelInfo,
		JSON:   false,
		Output: os.Stderr,
		Syslog: DefaultSyslogConfig(),
	}
}

// Logger wraps *slog.Logger with the component tagging used across the
// endpoint's packages.
type Logger struct {
	*slog.Logger
}

// New builds a root Logger from cfg. If cfg.Syslog is enabled and a writer
// can be established, log records are duplicated to both Output and syslog.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	if cfg.Syslog.Enabled {
		if w, err := NewSyslogWriter(cfg.Syslog); err == nil {
			out = io.MultiWriter(out, w)
		}
	}

	opts := &slog.HandlerOptions{Level: cfg.Level}
	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return &Logger{Logger: slog.New(handler)}
}

// WithComponent returns a child logger tagged with the given component
// name, e.g. logging.WithComponent("core") or logging.WithComponent("qos").
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{Logger: l.Logger.With("component", name)}
}

var root = New(DefaultConfig())

// WithComponent returns a component-tagged logger built on the package's
// default root logger. Packages that don't carry an injected *Logger use
// this as their fallback, matching the teacher's package-level helper.
func WithComponent(name string) *Logger {
	return root.WithComponent(name)
}
