// Package sqlite exports scraped records into a SQLite database file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/JakeFAU/robots-history/internal/pipeline"
)

const schema = `
CREATE TABLE IF NOT EXISTS robots_snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	domain TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	user_agent TEXT NOT NULL,
	robots_txt TEXT NOT NULL,
	content_sha256 TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_robots_snapshots_domain ON robots_snapshots(domain, timestamp);
CREATE INDEX IF NOT EXISTS idx_robots_snapshots_agent ON robots_snapshots(user_agent);
CREATE INDEX IF NOT EXISTS idx_robots_snapshots_run ON robots_snapshots(run_id);
`

// RecordStore writes records into the robots_snapshots table.
type RecordStore struct {
	db     *sql.DB
	path   string
	hasher pipeline.Hasher
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string, hasher pipeline.Hasher) (*RecordStore, error) {
	if hasher == nil {
		return nil, fmt.Errorf("hasher is required")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return &RecordStore{db: db, path: path, hasher: hasher}, nil
}

// Close closes the database connection.
func (s *RecordStore) Close() error {
	return s.db.Close()
}

// Name implements pipeline.RecordSink.
func (s *RecordStore) Name() string { return "sqlite" }

// Write inserts every record of the run in one transaction.
func (s *RecordStore) Write(ctx context.Context, run pipeline.Run) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO robots_snapshots (run_id, domain, timestamp, user_agent, robots_txt, content_sha256)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, r := range run.Records {
		digest, err := s.hasher.Hash([]byte(r.RobotsTxt))
		if err != nil {
			return "", fmt.Errorf("hash record %d: %w", i, err)
		}
		if _, err := stmt.ExecContext(ctx, run.ID, r.Domain, string(r.Timestamp), r.UserAgent, r.RobotsTxt, digest); err != nil {
			return "", fmt.Errorf("insert record %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return "sqlite://" + s.path, nil
}

// Count returns the number of rows stored for a run.
func (s *RecordStore) Count(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM robots_snapshots WHERE run_id = ?`, runID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}
