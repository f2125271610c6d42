// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package logging builds the zerolog logger used by the CLI and the server.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects level and outputs.
type Options struct {
	Level   string // debug, info, warn, error
	Verbose bool   // forces debug
	Quiet   bool   // forces warn unless Verbose
	File    string // optional rotated log file, JSON lines
	NoColor bool

	// Console defaults to stderr.
	Console io.Writer

	MaxSizeMB  int
	MaxBackups int
}

// Logger wraps a zerolog.Logger together with the file it may own.
type Logger struct {
	zerolog.Logger
	file *lumberjack.Logger
}

// New creates a logger writing human-readable lines to the console and,
// when opts.File is set, JSON lines to a rotated file.
func New(opts Options) (*Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	switch {
	case opts.Verbose:
		level = zerolog.DebugLevel
	case opts.Quiet && level < zerolog.WarnLevel:
		level = zerolog.WarnLevel
	}

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	writers := []io.Writer{zerolog.ConsoleWriter{
		Out:        console,
		TimeFormat: time.RFC3339,
		NoColor:    opts.NoColor,
	}}

	l := &Logger{}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		l.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    defaultInt(opts.MaxSizeMB, 10),
			MaxBackups: defaultInt(opts.MaxBackups, 3),
			LocalTime:  true,
		}
		writers = append(writers, l.file)
	}

	l.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Logger()
	return l, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}

// Close flushes and closes the log file, if any.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// ParseLevel maps a level name to a zerolog level. Empty means info.
func ParseLevel(s string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zerolog.InfoLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("unknown log level %q (use debug, info, warn, error)", s)
	}
}

func defaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
