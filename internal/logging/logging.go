// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Genesis Contributors

// Package logging installs the process-wide slog logger: a console handler
// and an optional JSON-lines file handler.
package logging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/q-lhzp/project-genesis-core/internal/config"
	generr "github.com/q-lhzp/project-genesis-core/pkg/errors"
)

// ParseLevel maps debug, info, warn and error to a slog level. Unknown
// names fall back to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a logger writing to console at the configured level and format.
// When cfg.File is set, every record at debug level and above is also
// appended to that file as JSON lines. The returned closer releases the file.
func New(console io.Writer, cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var handlers []slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handlers = append(handlers, slog.NewJSONHandler(console, opts))
	} else {
		handlers = append(handlers, slog.NewTextHandler(console, opts))
	}

	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, nil, generr.Wrap(err, generr.CodeConfigValidateInvalidValue,
				"creating log directory", generr.FieldPath(cfg.File))
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, generr.Wrap(err, generr.CodeConfigValidateInvalidValue,
				"opening log file", generr.FieldPath(cfg.File))
		}
		handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}))
		closer = f
	}

	if len(handlers) == 1 {
		return slog.New(handlers[0]), closer, nil
	}
	return slog.New(Fanout(handlers...)), closer, nil
}

// Setup builds a logger with New and installs it as the slog default.
func Setup(console io.Writer, cfg config.LoggingConfig) (io.Closer, error) {
	logger, closer, err := New(console, cfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Fanout returns a handler that forwards each record to every handler
// enabled for its level.
func Fanout(handlers ...slog.Handler) slog.Handler {
	return fanout(handlers)
}

type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
