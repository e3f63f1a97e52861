// Package sqlite stores crawl checkpoints in a SQLite database. Each save
// replaces the whole snapshot inside one transaction.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/JakeFAU/campus-crawler/internal/checkpoint"
	"github.com/JakeFAU/campus-crawler/internal/crawler"
	"github.com/JakeFAU/campus-crawler/internal/logging"
)

const schema = `
CREATE TABLE IF NOT EXISTS session (
	id            INTEGER PRIMARY KEY CHECK (id = 1),
	version       INTEGER NOT NULL,
	session_id    TEXT NOT NULL,
	saved_pages   INTEGER NOT NULL,
	processed     INTEGER NOT NULL,
	session_start TEXT NOT NULL,
	checkpoint_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS urls (
	url    TEXT PRIMARY KEY,
	status TEXT NOT NULL CHECK (status IN ('visited', 'saved', 'failed'))
);
CREATE TABLE IF NOT EXISTS retries (
	url      TEXT PRIMARY KEY,
	attempts INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS frontier (
	url      TEXT PRIMARY KEY,
	depth    INTEGER NOT NULL,
	priority INTEGER NOT NULL,
	lane     TEXT NOT NULL,
	seq      INTEGER NOT NULL,
	position INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS domain_stats (
	host  TEXT PRIMARY KEY,
	saved INTEGER NOT NULL
);
`

// Store implements checkpoint.Store on SQLite.
type Store struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

var _ checkpoint.Store = (*Store)(nil)

// Open opens or creates the database at path. A file that is not a usable
// SQLite database is renamed aside and replaced with an empty one so the
// crawl starts fresh.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("checkpoint path is required")
	}
	logger = logging.OrNop(logger)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create checkpoint dir for %s: %w", path, err)
	}
	db, err := openDB(path)
	if err != nil && isCorrupt(err) {
		aside, moveErr := moveAside(path)
		if moveErr != nil {
			return nil, fmt.Errorf("move corrupt checkpoint %s aside: %w", path, moveErr)
		}
		logger.Error("checkpoint database unreadable, starting fresh",
			zap.String("path", path),
			zap.String("moved_to", aside),
			zap.Error(err),
		)
		db, err = openDB(path)
	}
	if err != nil {
		return nil, err
	}
	return &Store{db: db, path: path, logger: logger}, nil
}

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("open sqlite checkpoint: %w", err)
	}
	// SQLite supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create checkpoint tables: %w", err)
	}
	return db, nil
}

// isCorrupt reports whether err means the file is not a readable database,
// as opposed to a path or permission problem.
func isCorrupt(err error) bool {
	var serr *msqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	switch serr.Code() & 0xff {
	case sqlite3.SQLITE_NOTADB, sqlite3.SQLITE_CORRUPT:
		return true
	}
	return false
}

// moveAside renames the database and its WAL side files to a timestamped
// name and returns the new database path.
func moveAside(path string) (string, error) {
	aside := path + ".corrupt-" + time.Now().UTC().Format("20060102T150405.000000000Z")
	if err := os.Rename(path, aside); err != nil {
		return "", err
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Rename(path+suffix, aside+suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
	}
	return aside, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save replaces the stored snapshot in a single transaction.
func (s *Store) Save(ctx context.Context, state checkpoint.State) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", crawler.ErrCheckpoint, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, table := range []string{"session", "urls", "retries", "frontier", "domain_stats"} {
		if _, err = tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("%w: clear %s: %w", crawler.ErrCheckpoint, table, err)
		}
	}

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO session (id, version, session_id, saved_pages, processed, session_start, checkpoint_at)
		 VALUES (1, ?, ?, ?, ?, ?, ?)`,
		checkpoint.Version, state.SessionID, state.SavedPages, state.Processed,
		formatTime(state.SessionStart), formatTime(state.CheckpointAt),
	); err != nil {
		return fmt.Errorf("%w: insert session: %w", crawler.ErrCheckpoint, err)
	}

	if err = insertURLs(ctx, tx, state); err != nil {
		return fmt.Errorf("%w: %w", crawler.ErrCheckpoint, err)
	}
	if err = insertEach(ctx, tx, "INSERT INTO retries (url, attempts) VALUES (?, ?)", state.RetryCounts); err != nil {
		return fmt.Errorf("%w: retries: %w", crawler.ErrCheckpoint, err)
	}
	if err = insertEach(ctx, tx, "INSERT INTO domain_stats (host, saved) VALUES (?, ?)", state.DomainStats); err != nil {
		return fmt.Errorf("%w: domain stats: %w", crawler.ErrCheckpoint, err)
	}
	if err = insertFrontier(ctx, tx, state.Frontier); err != nil {
		return fmt.Errorf("%w: %w", crawler.ErrCheckpoint, err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", crawler.ErrCheckpoint, err)
	}
	return nil
}

func insertURLs(ctx context.Context, tx *sql.Tx, state checkpoint.State) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO urls (url, status) VALUES (?, ?)
		 ON CONFLICT(url) DO UPDATE SET status = excluded.status`)
	if err != nil {
		return fmt.Errorf("prepare urls: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	// later groups win: saved overrides visited, failed overrides both
	groups := []struct {
		status string
		urls   []string
	}{
		{"visited", state.Visited},
		{"saved", state.Saved},
		{"failed", state.Failed},
	}
	for _, g := range groups {
		for _, u := range g.urls {
			if _, err := stmt.ExecContext(ctx, u, g.status); err != nil {
				return fmt.Errorf("insert url %s: %w", u, err)
			}
		}
	}
	return nil
}

func insertEach(ctx context.Context, tx *sql.Tx, query string, rows map[string]int) error {
	if len(rows) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer func() { _ = stmt.Close() }()
	for k, v := range rows {
		if _, err := stmt.ExecContext(ctx, k, v); err != nil {
			return fmt.Errorf("insert %s: %w", k, err)
		}
	}
	return nil
}

func insertFrontier(ctx context.Context, tx *sql.Tx, entries []crawler.QueuedTarget) error {
	if len(entries) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO frontier (url, depth, priority, lane, seq, position) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(url) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("prepare frontier: %w", err)
	}
	defer func() { _ = stmt.Close() }()
	for i, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.URL, e.Depth, e.Priority, string(e.Lane), int64(e.Seq), i); err != nil { //nolint:gosec // seq fits in int64
			return fmt.Errorf("insert frontier %s: %w", e.URL, err)
		}
	}
	return nil
}

// Load reads the snapshot. A missing session row or a read failure yields an
// empty state.
func (s *Store) Load(ctx context.Context) (checkpoint.State, error) {
	state, err := s.load(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		s.logger.Info("no checkpoint found, starting fresh", zap.String("path", s.path))
		return checkpoint.NewState(), nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return checkpoint.State{}, fmt.Errorf("%w: %w", crawler.ErrCheckpoint, ctx.Err())
		}
		s.logger.Error("checkpoint unreadable, starting fresh", zap.String("path", s.path), zap.Error(err))
		return checkpoint.NewState(), nil
	}
	return state, nil
}

func (s *Store) load(ctx context.Context) (checkpoint.State, error) {
	state := checkpoint.NewState()

	var start, at string
	row := s.db.QueryRowContext(ctx,
		`SELECT version, session_id, saved_pages, processed, session_start, checkpoint_at FROM session WHERE id = 1`)
	if err := row.Scan(&state.Version, &state.SessionID, &state.SavedPages, &state.Processed, &start, &at); err != nil {
		return checkpoint.State{}, err
	}
	if state.Version != checkpoint.Version {
		return checkpoint.State{}, fmt.Errorf("checkpoint version %d, want %d", state.Version, checkpoint.Version)
	}
	var err error
	if state.SessionStart, err = parseTime(start); err != nil {
		return checkpoint.State{}, err
	}
	if state.CheckpointAt, err = parseTime(at); err != nil {
		return checkpoint.State{}, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT url, status FROM urls ORDER BY url`)
	if err != nil {
		return checkpoint.State{}, fmt.Errorf("query urls: %w", err)
	}
	for rows.Next() {
		var u, status string
		if err := rows.Scan(&u, &status); err != nil {
			_ = rows.Close()
			return checkpoint.State{}, fmt.Errorf("scan url: %w", err)
		}
		switch status {
		case "visited":
			state.Visited = append(state.Visited, u)
		case "saved":
			state.Visited = append(state.Visited, u)
			state.Saved = append(state.Saved, u)
		case "failed":
			state.Failed = append(state.Failed, u)
		}
	}
	if err := closeRows(rows); err != nil {
		return checkpoint.State{}, err
	}

	if state.RetryCounts, err = s.loadCounts(ctx, `SELECT url, attempts FROM retries`); err != nil {
		return checkpoint.State{}, err
	}
	if state.DomainStats, err = s.loadCounts(ctx, `SELECT host, saved FROM domain_stats`); err != nil {
		return checkpoint.State{}, err
	}

	frows, err := s.db.QueryContext(ctx,
		`SELECT url, depth, priority, lane, seq FROM frontier ORDER BY position`)
	if err != nil {
		return checkpoint.State{}, fmt.Errorf("query frontier: %w", err)
	}
	for frows.Next() {
		var (
			e    crawler.QueuedTarget
			lane string
			seq  int64
		)
		if err := frows.Scan(&e.URL, &e.Depth, &e.Priority, &lane, &seq); err != nil {
			_ = frows.Close()
			return checkpoint.State{}, fmt.Errorf("scan frontier: %w", err)
		}
		e.Lane = crawler.Lane(lane)
		e.Seq = uint64(seq) //nolint:gosec // seq is written from a uint64 counter
		state.Frontier = append(state.Frontier, e)
	}
	if err := closeRows(frows); err != nil {
		return checkpoint.State{}, err
	}
	return state, nil
}

func (s *Store) loadCounts(ctx context.Context, query string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query counts: %w", err)
	}
	out := map[string]int{}
	for rows.Next() {
		var (
			k string
			v int
		)
		if err := rows.Scan(&k, &v); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan counts: %w", err)
		}
		out[k] = v
	}
	return out, closeRows(rows)
}

func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return fmt.Errorf("iterate rows: %w", err)
	}
	return rows.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}
