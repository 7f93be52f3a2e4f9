// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Genesis Contributors

// Package journal records every bus event in a SQLite table for later
// inspection.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	generr "github.com/q-lhzp/project-genesis-core/pkg/errors"
	pluginpkg "github.com/q-lhzp/project-genesis-core/pkg/plugin"
)

// DefaultLimit and MaxLimit bound Recent queries.
const (
	DefaultLimit = 50
	MaxLimit     = 1000
)

// Entry is one recorded event.
type Entry struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Source    string          `json:"source"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// Filter narrows a Recent query. An empty Type matches every event.
type Filter struct {
	Type  string
	Limit int
}

// Journal is a SQLite-backed event log.
type Journal struct {
	db *sql.DB
}

// Open opens (or creates) the journal database at path and initialises the
// events table.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, generr.Wrap(err, generr.CodeJournalOpenFailure, "creating journal directory",
			generr.FieldPath(path))
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, generr.Wrap(err, generr.CodeJournalOpenFailure, "opening journal db",
			generr.FieldPath(path))
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, generr.Wrap(err, generr.CodeJournalOpenFailure, "pinging journal db",
			generr.FieldPath(path))
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, generr.Wrap(err, generr.CodeJournalOpenFailure, "migrating journal db",
			generr.FieldPath(path))
	}

	return &Journal{db: db}, nil
}

func migrate(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS events (
	seq       INTEGER PRIMARY KEY AUTOINCREMENT,
	id        TEXT NOT NULL UNIQUE,
	type      TEXT NOT NULL,
	source    TEXT NOT NULL DEFAULT '',
	data      TEXT NOT NULL DEFAULT 'null',
	timestamp TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_type ON events(type, seq);
`
	_, err := db.Exec(ddl)
	return err
}

// Close closes the underlying database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Append records ev.
func (j *Journal) Append(ctx context.Context, ev pluginpkg.Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return generr.Wrap(err, generr.CodeJournalWriteFailure, "encoding event data",
			generr.FieldEvent(ev.Type))
	}

	const q = `INSERT INTO events (id, type, source, data, timestamp) VALUES (?, ?, ?, ?, ?)`
	if _, err := j.db.ExecContext(ctx, q, ev.ID, ev.Type, ev.Source, string(data), formatTime(ev.Timestamp)); err != nil {
		return generr.Wrap(err, generr.CodeJournalWriteFailure, "recording event",
			generr.FieldEvent(ev.Type))
	}
	return nil
}

// Handler returns a bus subscriber that records every event. Write failures
// are logged and never reach the bus.
func (j *Journal) Handler() pluginpkg.EventFunc {
	return func(ctx context.Context, ev pluginpkg.Event) error {
		if err := j.Append(ctx, ev); err != nil {
			slog.Warn("journal write failed", "event", ev.Type, "id", ev.ID, "error", err)
		}
		return nil
	}
}

// Recent returns the newest entries first.
func (j *Journal) Recent(ctx context.Context, f Filter) ([]Entry, error) {
	limit := f.Limit
	switch {
	case limit <= 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}

	q := `SELECT id, type, source, data, timestamp FROM events`
	args := []any{}
	if f.Type != "" {
		q += ` WHERE type = ?`
		args = append(args, f.Type)
	}
	q += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, generr.Wrap(err, generr.CodeJournalQueryFailure, "querying events")
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var data, ts string
		if err := rows.Scan(&e.ID, &e.Type, &e.Source, &data, &ts); err != nil {
			return nil, generr.Wrap(err, generr.CodeJournalQueryFailure, "scanning event")
		}
		e.Data = json.RawMessage(data)
		e.Timestamp = parseTime(ts)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, generr.Wrap(err, generr.CodeJournalQueryFailure, "iterating events")
	}
	return entries, nil
}

// Count returns the number of recorded events.
func (j *Journal) Count(ctx context.Context) (int, error) {
	var n int
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, generr.Wrap(err, generr.CodeJournalQueryFailure, "counting events")
	}
	return n, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
