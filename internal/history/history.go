// Package history keeps a small sqlite database under the work dir with two
// tables: a journal of update and restore runs, and a ledger describing which
// release each file in the shared download cache came from.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// RunKind is the operation recorded in the journal.
type RunKind string

const (
	KindUpdate  RunKind = "update"
	KindRestore RunKind = "restore"
)

// Outcomes recorded for a run.
const (
	OutcomeSucceeded = "succeeded"
	OutcomePartial   = "partial"
	OutcomeFailed    = "failed"
	OutcomeUpToDate  = "up_to_date"
	OutcomeAborted   = "aborted"
)

// Run is one journal row.
type Run struct {
	ID         string
	Device     string
	Kind       RunKind
	From       string
	To         string
	Outcome    string
	Detail     string
	StartedAt  time.Time
	FinishedAt time.Time
}

// NewRun starts a journal entry with a fresh id.
func NewRun(device string, kind RunKind, from string) Run {
	return Run{
		ID:        uuid.NewString(),
		Device:    device,
		Kind:      kind,
		From:      from,
		StartedAt: time.Now().UTC(),
	}
}

// CacheEntry describes one file in the download cache.
type CacheEntry struct {
	Name      string
	Version   string
	Size      int64
	FetchedAt time.Time
}

// Store is the sqlite-backed journal and cache ledger.
type Store struct {
	db   *sql.DB
	path string
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	device      TEXT NOT NULL,
	kind        TEXT NOT NULL,
	from_ver    TEXT NOT NULL DEFAULT '',
	to_ver      TEXT NOT NULL DEFAULT '',
	outcome     TEXT NOT NULL,
	detail      TEXT NOT NULL DEFAULT '',
	started_at  TEXT NOT NULL,
	finished_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_device_started ON runs(device, started_at);
CREATE TABLE IF NOT EXISTS cache_entries (
	name       TEXT PRIMARY KEY,
	version    TEXT NOT NULL,
	size       INTEGER NOT NULL,
	fetched_at TEXT NOT NULL
);`

// buildDSN creates a WAL DSN for the given path.
func buildDSN(dbPath string) string {
	u := url.URL{
		Scheme: "file",
		Path:   filepath.ToSlash(dbPath),
	}
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(3000)")
	q.Add("_pragma", "journal_mode(WAL)")
	u.RawQuery = q.Encode()
	return u.String()
}

// Open opens (creating if needed) the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("history path is empty")
	}
	//nolint:gosec // G301: work dir is user-owned
	if err := os.MkdirAll(filepath.Dir(trimmed), 0755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	db, err := sql.Open("sqlite", buildDSN(trimmed))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db, path: trimmed}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordRun inserts or replaces a journal entry. FinishedAt defaults to now.
func (s *Store) RecordRun(ctx context.Context, run Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (id, device, kind, from_ver, to_ver, outcome, detail, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Device, string(run.Kind), run.From, run.To, run.Outcome, run.Detail,
		formatTime(run.StartedAt), formatTime(run.FinishedAt))
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// RecentRuns returns up to limit runs for device, newest first.
func (s *Store) RecentRuns(ctx context.Context, device string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, device, kind, from_ver, to_ver, outcome, detail, started_at, finished_at
		FROM runs
		WHERE device = ?
		ORDER BY started_at DESC
		LIMIT ?`, device, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Run
	for rows.Next() {
		var (
			r                 Run
			kind              string
			started, finished string
		)
		if err := rows.Scan(&r.ID, &r.Device, &kind, &r.From, &r.To, &r.Outcome, &r.Detail, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Kind = RunKind(kind)
		r.StartedAt = parseTime(started)
		r.FinishedAt = parseTime(finished)
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteRuns removes every journal entry for device.
func (s *Store) DeleteRuns(ctx context.Context, device string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE device = ?`, device); err != nil {
		return fmt.Errorf("delete runs: %w", err)
	}
	return nil
}

// RecordCached notes that name in the download cache was fetched for version.
func (s *Store) RecordCached(ctx context.Context, entry CacheEntry) error {
	if entry.FetchedAt.IsZero() {
		entry.FetchedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO cache_entries (name, version, size, fetched_at)
		VALUES (?, ?, ?, ?)`,
		entry.Name, entry.Version, entry.Size, formatTime(entry.FetchedAt))
	if err != nil {
		return fmt.Errorf("record cache entry: %w", err)
	}
	return nil
}

// LookupCached returns the ledger row for name. ok is false when none exists.
func (s *Store) LookupCached(ctx context.Context, name string) (entry CacheEntry, ok bool, err error) {
	var fetched string
	row := s.db.QueryRowContext(ctx, `
		SELECT name, version, size, fetched_at FROM cache_entries WHERE name = ?`, name)
	if err := row.Scan(&entry.Name, &entry.Version, &entry.Size, &fetched); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CacheEntry{}, false, nil
		}
		return CacheEntry{}, false, fmt.Errorf("lookup cache entry: %w", err)
	}
	entry.FetchedAt = parseTime(fetched)
	return entry, true, nil
}

// ClearCached removes all ledger rows.
func (s *Store) ClearCached(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		return fmt.Errorf("clear cache entries: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
