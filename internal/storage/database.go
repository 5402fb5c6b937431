package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// StateStore is the local SQLite journal of ETL runs.
type StateStore struct {
	db  *sql.DB
	log *zap.Logger
}

// NewStateStore opens (or creates) the journal at path.
func NewStateStore(ctx context.Context, path string, log *zap.Logger) (*StateStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("NewStateStore(): failed to create state directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("NewStateStore(): failed to open database: %w", err)
	}
	// One writer; the API server and the CLI may share the file.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("NewStateStore(): failed to connect to database: %w", err)
	}

	createRunsTable := `
	CREATE TABLE IF NOT EXISTS runs (
			"id" TEXT PRIMARY KEY,
			"window_start" TEXT NOT NULL,
			"window_end" TEXT NOT NULL,
			"started_at" TEXT NOT NULL,
			"finished_at" TEXT,
			"status" TEXT NOT NULL,
			"extracted" INTEGER NOT NULL DEFAULT 0,
			"unpacked" INTEGER NOT NULL DEFAULT 0,
			"valid" INTEGER NOT NULL DEFAULT 0,
			"inserted" INTEGER NOT NULL DEFAULT 0,
			"failed_batches" INTEGER NOT NULL DEFAULT 0,
			"error" TEXT NOT NULL DEFAULT ''
	)`
	createRunsIndex := `CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`

	for _, stmt := range []string{createRunsTable, createRunsIndex} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("NewStateStore(): failed to create runs table: %w", err)
		}
	}
	log.Debug("state store ready", zap.String("path", path))

	return &StateStore{db: db, log: log}, nil
}

func (s *StateStore) Close() error {
	return s.db.Close()
}
