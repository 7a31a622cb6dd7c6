// Copyright (C) 2025 Engram Labs (dev@engramhq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging builds the process-wide structured logger.
//
// Output follows Unix CLI conventions: human-readable text on stderr
// by default, optionally mirrored to a JSON log file for machine
// processing. Everything is built on log/slog, so components receive
// a plain *slog.Logger and stay decoupled from this package.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Options configures the logger. The zero value logs Info and above
// to stderr as text.
type Options struct {
	// Level is the minimum severity: debug, info, warn or error.
	// Unrecognized values fall back to info.
	Level string

	// Format selects stderr output: text (default) or json. The file
	// destination is always JSON.
	Format string

	// File mirrors log output to a path, created (with parent
	// directories) on first use. Supports ~ expansion. Empty disables
	// the file destination.
	File string

	// Service is stamped on every record as the "service" attribute.
	Service string

	// Quiet drops the stderr destination; useful when stdout carries
	// machine-readable command output and stderr noise is unwanted.
	Quiet bool
}

// Logger is a *slog.Logger that owns its file destination.
type Logger struct {
	*slog.Logger

	file *os.File
}

// New builds a logger from options.
//
// Outputs: the logger and an error only when the log file cannot be
// opened. Close the logger when the process exits so file output is
// flushed.
func New(opts Options) (*Logger, error) {
	hopts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}

	var handlers []slog.Handler
	if !opts.Quiet {
		if opts.Format == "json" {
			handlers = append(handlers, slog.NewJSONHandler(os.Stderr, hopts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(os.Stderr, hopts))
		}
	}

	l := &Logger{}
	if opts.File != "" {
		path := expandPath(opts.File)
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		l.file = file
		handlers = append(handlers, slog.NewJSONHandler(file, hopts))
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		handler = slog.DiscardHandler
	case 1:
		handler = handlers[0]
	default:
		handler = &multiHandler{handlers: handlers}
	}
	if opts.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", opts.Service)})
	}

	l.Logger = slog.New(handler)
	return l, nil
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}

// Close syncs and closes the file destination, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		l.file.Close()
		return fmt.Errorf("sync log file: %w", err)
	}
	return l.file.Close()
}

// ParseLevel maps a level name to its slog level. Unrecognized names
// map to info.
func ParseLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// multiHandler fans one record out to every destination. stderr and
// the file can use different formats, so a single io.MultiWriter is
// not enough.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

var _ io.Closer = (*Logger)(nil)
