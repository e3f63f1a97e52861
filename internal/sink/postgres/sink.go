// Package postgres persists saved pages into a Postgres table.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/campus-crawler/internal/crawler"
)

// DefaultTable receives pages when Config.Table is empty.
const DefaultTable = "crawled_pages"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for page rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Sink upserts pages keyed by URL.
type Sink struct {
	pool  execCloser
	table string
}

var _ crawler.Sink = (*Sink)(nil)

// New connects to Postgres and makes sure the page table exists.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("sink.postgres_dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &Sink{pool: pool, table: table}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool constructs a sink from an existing pool (primarily for testing).
func NewWithPool(pool execCloser, table string) (*Sink, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &Sink{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *Sink) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the page table when it does not exist.
func (s *Sink) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	url         TEXT PRIMARY KEY,
	final_url   TEXT NOT NULL DEFAULT '',
	title       TEXT NOT NULL DEFAULT '',
	depth       INTEGER NOT NULL,
	host        TEXT NOT NULL,
	priority    INTEGER NOT NULL,
	status_code INTEGER NOT NULL,
	length      INTEGER NOT NULL,
	fetched_at  TIMESTAMPTZ NOT NULL,
	session_id  TEXT NOT NULL,
	body        TEXT NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Save upserts the page, so re-saving a URL replaces its row.
func (s *Sink) Save(ctx context.Context, page crawler.Page) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: postgres sink is not configured", crawler.ErrPersistence)
	}
	if page.Meta.URL == "" {
		return fmt.Errorf("%w: page url is required", crawler.ErrPersistence)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	url, final_url, title, depth, host, priority, status_code, length, fetched_at, session_id, body
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)
ON CONFLICT (url) DO UPDATE SET
	final_url = EXCLUDED.final_url,
	title = EXCLUDED.title,
	depth = EXCLUDED.depth,
	host = EXCLUDED.host,
	priority = EXCLUDED.priority,
	status_code = EXCLUDED.status_code,
	length = EXCLUDED.length,
	fetched_at = EXCLUDED.fetched_at,
	session_id = EXCLUDED.session_id,
	body = EXCLUDED.body`, s.table)

	m := page.Meta
	length := m.Length
	if length == 0 {
		length = len([]rune(page.Text))
	}
	args := []any{
		m.URL,
		m.FinalURL,
		m.Title,
		m.Depth,
		m.Host,
		m.Priority,
		m.StatusCode,
		length,
		m.FetchedAt,
		m.SessionID,
		page.Text,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: upsert page: %w", crawler.ErrPersistence, err)
	}
	return nil
}
