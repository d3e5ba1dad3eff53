// Package postgres persists scraped records into Postgres.
//
// A store writes to two tables: <table>, one row per record, and
// <table>_runs, one row per run. EnsureSchema creates both when missing; the
// DDL is in schemaStatements.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/robots-history/internal/pipeline"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DefaultTable receives snapshot rows when no table is configured.
const DefaultTable = "robots_snapshots"

// Columns written for every record, in CopyFrom order.
var recordColumns = []string{"run_id", "domain", "capture_ts", "user_agent", "robots_txt", "content_sha256"}

// Config controls the Postgres connection pool used for record rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// schemaStatements is the DDL for a store, formatted with the table name.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS %[1]s_runs (
	run_id TEXT PRIMARY KEY,
	started_at TIMESTAMPTZ NOT NULL,
	window_start TEXT NOT NULL,
	window_end TEXT NOT NULL,
	record_count INTEGER NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS %[1]s (
	id BIGSERIAL PRIMARY KEY,
	run_id TEXT NOT NULL REFERENCES %[1]s_runs (run_id),
	domain TEXT NOT NULL,
	capture_ts TEXT NOT NULL,
	user_agent TEXT NOT NULL,
	robots_txt TEXT NOT NULL,
	content_sha256 TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS %[1]s_domain_idx ON %[1]s (domain, capture_ts)`,
	`CREATE INDEX IF NOT EXISTS %[1]s_run_idx ON %[1]s (run_id)`,
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// RecordStore bulk-loads records into a snapshot table and keeps one row per
// run in <table>_runs.
type RecordStore struct {
	pool   pool
	table  string
	hasher pipeline.Hasher
}

// NewRecordStore connects to Postgres using the provided config.
func NewRecordStore(ctx context.Context, cfg Config, hasher pipeline.Hasher) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
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
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewRecordStoreWithPool(p, cfg.Table, hasher)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewRecordStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRecordStoreWithPool(p pool, table string, hasher pipeline.Hasher) (*RecordStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if hasher == nil {
		return nil, fmt.Errorf("hasher is required")
	}
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RecordStore{pool: p, table: table, hasher: hasher}, nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the record and run tables and their indexes if they
// do not exist yet.
func (s *RecordStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, fmt.Sprintf(stmt, s.table)); err != nil {
			return fmt.Errorf("create schema for %s: %w", s.table, err)
		}
	}
	return nil
}

// Name implements pipeline.RecordSink.
func (s *RecordStore) Name() string { return "postgres" }

// Write records the run and copies its rows into the snapshot table in one
// transaction, so a failed copy leaves no run row behind.
func (s *RecordStore) Write(ctx context.Context, run pipeline.Run) (string, error) {
	if run.ID == "" {
		return "", fmt.Errorf("run id is required")
	}
	rows, err := s.rows(run)
	if err != nil {
		return "", err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	query := fmt.Sprintf(`
INSERT INTO %s_runs (
	run_id,
	started_at,
	window_start,
	window_end,
	record_count
) VALUES (
	$1,$2,$3,$4,$5
)`, s.table)
	args := []any{
		run.ID,
		run.StartedAt,
		string(run.Window.Start),
		string(run.Window.End),
		len(run.Records),
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{s.table}, recordColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return "", fmt.Errorf("copy records: %w", err)
	}
	if int(n) != len(rows) {
		return "", fmt.Errorf("copy records: wrote %d of %d rows", n, len(rows))
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	committed = true
	return fmt.Sprintf("postgres://%s?run_id=%s", s.table, run.ID), nil
}

func (s *RecordStore) rows(run pipeline.Run) ([][]any, error) {
	out := make([][]any, 0, len(run.Records))
	for i, r := range run.Records {
		digest, err := s.hasher.Hash([]byte(r.RobotsTxt))
		if err != nil {
			return nil, fmt.Errorf("hash record %d: %w", i, err)
		}
		out = append(out, []any{run.ID, r.Domain, string(r.Timestamp), r.UserAgent, r.RobotsTxt, digest})
	}
	return out, nil
}
