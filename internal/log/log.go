// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Portsample Contributors

package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	SupportedLevels  = "debug, info, warn, error"
	SupportedFormats = "text, json"
)

// Options configures the default logger. File is optional; when set, logs
// go to stderr and to a size-rotated file.
type Options struct {
	Level  string
	Format string
	File   FileOptions
}

type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// syncWriter calls Sync() after each Write to ensure logs appear immediately.
type syncWriter struct{ w io.Writer }

func (s syncWriter) Write(p []byte) (n int, err error) {
	n, err = s.w.Write(p)
	if f, ok := s.w.(*os.File); ok && err == nil {
		f.Sync()
	}
	return n, err
}

var (
	fileMu sync.Mutex
	file   *lumberjack.Logger
)

// Configure sets the default slog logger. Calling it again replaces the
// previous logger and closes its file.
func Configure(opts Options) error {
	l, err := parseLevel(opts.Level)
	if err != nil {
		return err
	}
	format, err := parseFormat(opts.Format)
	if err != nil {
		return err
	}

	var out io.Writer = syncWriter{w: os.Stderr}
	var lj *lumberjack.Logger
	if opts.File.Path != "" {
		lj = &lumberjack.Logger{
			Filename:   opts.File.Path,
			MaxSize:    opts.File.MaxSizeMB,
			MaxBackups: opts.File.MaxBackups,
			MaxAge:     opts.File.MaxAgeDays,
			Compress:   opts.File.Compress,
		}
		out = io.MultiWriter(out, lj)
	}
	slog.SetDefault(slog.New(newHandler(out, format, l)))

	fileMu.Lock()
	prev := file
	file = lj
	fileMu.Unlock()
	if prev != nil {
		prev.Close()
	}
	return nil
}

// Close closes the log file, if any. Later records still reach stderr and
// reopen the file.
func Close() error {
	fileMu.Lock()
	defer fileMu.Unlock()
	if file == nil {
		return nil
	}
	return file.Close()
}

func newHandler(w io.Writer, format string, l slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: l}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: must be one of %s", level, SupportedLevels)
	}
}

func parseFormat(format string) (string, error) {
	switch f := strings.ToLower(strings.TrimSpace(format)); f {
	case "text", "":
		return "text", nil
	case "json":
		return f, nil
	default:
		return "", fmt.Errorf("invalid log format %q: must be one of %s", format, SupportedFormats)
	}
}
