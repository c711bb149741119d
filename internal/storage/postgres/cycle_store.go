// Package postgres persists cycle report history in Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// CycleStoreConfig controls the Postgres connection pool used for cycle rows.
type CycleStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// CycleStore writes one row per finished cycle. It implements crawler.ReportSink.
type CycleStore struct {
	pool  querier
	table string
}

// NewCycleStore creates a Postgres-backed CycleStore using the provided config.
func NewCycleStore(ctx context.Context, cfg CycleStoreConfig) (*CycleStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
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
	return &CycleStore{pool: pool, table: table}, nil
}

// NewCycleStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewCycleStoreWithPool(pool querier, table string) (*CycleStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &CycleStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = "cycle_reports"
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *CycleStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the report table when it does not exist.
func (s *CycleStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	cycle_id TEXT PRIMARY KEY,
	mode TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	duration_ms BIGINT NOT NULL,
	planned INTEGER NOT NULL,
	fetched INTEGER NOT NULL,
	unique_entries INTEGER NOT NULL,
	sent INTEGER NOT NULL,
	added INTEGER NOT NULL,
	errors INTEGER NOT NULL,
	rate_limited INTEGER NOT NULL,
	no_proxy INTEGER NOT NULL,
	chunk_failures INTEGER NOT NULL,
	new_cursors JSONB NOT NULL,
	outcomes JSONB NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// Record inserts a report row. Replays of the same cycle id are ignored.
func (s *CycleStore) Record(ctx context.Context, report crawler.CycleReport) error {
	if s == nil || s.pool == nil {
		return errors.New("cycle store is not configured")
	}
	if report.CycleID == "" {
		return errors.New("cycle id is required")
	}
	cursorsJSON, err := json.Marshal(report.NewCursors)
	if err != nil {
		return fmt.Errorf("marshal new cursors: %w", err)
	}
	outcomesJSON, err := json.Marshal(report.Outcomes)
	if err != nil {
		return fmt.Errorf("marshal outcomes: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	cycle_id,
	mode,
	started_at,
	duration_ms,
	planned,
	fetched,
	unique_entries,
	sent,
	added,
	errors,
	rate_limited,
	no_proxy,
	chunk_failures,
	new_cursors,
	outcomes
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
ON CONFLICT (cycle_id) DO NOTHING`, s.table)

	_, err = s.pool.Exec(ctx, query,
		report.CycleID,
		report.Mode,
		report.StartedAt.UTC(),
		report.Duration.Milliseconds(),
		report.Planned,
		report.Fetched,
		report.Unique,
		report.Sent,
		report.Added,
		report.Errors,
		report.RateLimited,
		report.NoProxy,
		report.ChunkFailures,
		cursorsJSON,
		outcomesJSON,
	)
	if err != nil {
		return fmt.Errorf("insert cycle report: %w", err)
	}
	return nil
}

// Recent returns up to limit reports, newest first.
func (s *CycleStore) Recent(ctx context.Context, limit int) ([]crawler.CycleReport, error) {
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf(`
SELECT cycle_id, mode, started_at, duration_ms, planned, fetched, unique_entries,
	sent, added, errors, rate_limited, no_proxy, chunk_failures
FROM %s
ORDER BY started_at DESC
LIMIT $1`, s.table)

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query cycle reports: %w", err)
	}
	defer rows.Close()

	var out []crawler.CycleReport
	for rows.Next() {
		var (
			r          crawler.CycleReport
			durationMS int64
		)
		if err := rows.Scan(
			&r.CycleID,
			&r.Mode,
			&r.StartedAt,
			&durationMS,
			&r.Planned,
			&r.Fetched,
			&r.Unique,
			&r.Sent,
			&r.Added,
			&r.Errors,
			&r.RateLimited,
			&r.NoProxy,
			&r.ChunkFailures,
		); err != nil {
			return nil, fmt.Errorf("scan cycle report: %w", err)
		}
		r.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cycle reports: %w", err)
	}
	return out, nil
}
