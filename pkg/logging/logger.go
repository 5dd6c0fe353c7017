// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for TrendAvatar components.
//
// The package is a thin layer over Go's standard library slog package.
// It standardizes three things across the service:
//
//   - JSON output to stderr by default (the service runs containerized
//     and stderr is what the collector scrapes)
//   - a "service" attribute on every entry so gateway, pipeline, and
//     scheduler logs can be separated in aggregation
//   - optional file logging for local development
//
// # Basic Usage
//
//	logger := logging.New(logging.Config{Service: "pipeline"})
//	logger.Info("run finished", "subject_id", id, "state", res.State)
//
// # Security Considerations
//
// This package does NOT automatically redact sensitive data. Access and
// refresh tokens must never be logged; log their presence instead:
//
//	logger.Info("credential loaded", "token_present", cred.AccessToken != "")
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// =============================================================================
// Configuration
// =============================================================================

// Config configures logger construction.
//
// A zero-value Config produces a JSON logger at Info level writing
// to stderr with no service attribute.
type Config struct {
	// Level sets the minimum log level. Default: slog.LevelInfo.
	Level slog.Level

	// Service identifies the component generating logs. Included as the
	// "service" attribute on every entry when non-empty.
	Service string

	// LogDir enables file logging to the given directory in addition to
	// stderr. The file is named "{Service}_{YYYY-MM-DD}.log". The
	// directory is created with 0750 permissions if missing.
	LogDir string

	// Text switches stderr output to human-readable text format.
	// File output stays JSON regardless.
	Text bool
}

// =============================================================================
// Construction
// =============================================================================

// New builds a slog.Logger from the config and returns it together with
// a close function for any file handle it opened.
//
// # Inputs
//
//   - cfg: logger configuration. Zero value is valid.
//
// # Outputs
//
//   - *slog.Logger: ready to use.
//   - func() error: closes the log file if one was opened. Never nil.
//   - error: non-nil if the log directory or file could not be created.
func New(cfg Config) (*slog.Logger, func() error, error) {
	opts := &slog.HandlerOptions{Level: cfg.Level}

	var stderrHandler slog.Handler
	if cfg.Text {
		stderrHandler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		stderrHandler = slog.NewJSONHandler(os.Stderr, opts)
	}

	closeFn := func() error { return nil }

	handler := stderrHandler
	if cfg.LogDir != "" {
		file, err := openLogFile(cfg.LogDir, cfg.Service)
		if err != nil {
			return nil, closeFn, err
		}
		closeFn = file.Close
		handler = &fanoutHandler{handlers: []slog.Handler{
			stderrHandler,
			slog.NewJSONHandler(file, opts),
		}}
	}

	logger := slog.New(handler)
	if cfg.Service != "" {
		logger = logger.With("service", cfg.Service)
	}
	return logger, closeFn, nil
}

// Default returns a JSON stderr logger at Info level.
func Default(service string) *slog.Logger {
	logger, _, _ := New(Config{Service: service})
	return logger
}

// Discard returns a logger that drops everything. For tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// openLogFile creates the log directory if needed and opens (or appends
// to) today's log file for the named service.
func openLogFile(dir, service string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating log directory %s: %w", dir, err)
	}
	if service == "" {
		service = "trendavatar"
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))
	file, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	return file, nil
}

// =============================================================================
// Fanout Handler
// =============================================================================

// fanoutHandler duplicates records to multiple handlers. A record is
// emitted when any destination accepts its level.
type fanoutHandler struct {
	handlers []slog.Handler
}

func (f *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f *fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var firstErr error
	for _, h := range f.handlers {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &fanoutHandler{handlers: next}
}

func (f *fanoutHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithGroup(name)
	}
	return &fanoutHandler{handlers: next}
}
