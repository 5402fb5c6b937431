package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"GraderUsageETL/internal/models"

	"modernc.org/sqlite"
)

var (
	ErrRunExists   = errors.New("run already exists")
	ErrRunNotFound = errors.New("run not found")
)

// SQLite stores times as fixed-width UTC text so ORDER BY sorts chronologically.
const stateTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// sqliteConstraintUnique is SQLITE_CONSTRAINT_UNIQUE.
const sqliteConstraintUnique = 2067

const runColumns = `id, window_start, window_end, started_at, finished_at, status,
	extracted, unpacked, valid, inserted, failed_batches, error`

// StartRun records a new run.
func (s *StateStore) StartRun(ctx context.Context, run models.Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(id, window_start, window_end, started_at, status) VALUES(?, ?, ?, ?, ?)`,
		run.ID,
		formatTime(run.Window.Start),
		formatTime(run.Window.End),
		formatTime(run.StartedAt),
		string(run.Status),
	)
	if err != nil {
		var sqliteErr *sqlite.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code() == sqliteConstraintUnique {
			return fmt.Errorf("StartRun(): %w: %s", ErrRunExists, run.ID)
		}
		return fmt.Errorf("StartRun(): %w", err)
	}
	return nil
}

// FinishRun stores the final counters and status of a run.
func (s *StateStore) FinishRun(ctx context.Context, run models.Run) error {
	var finished sql.NullString
	if run.FinishedAt != nil {
		finished = sql.NullString{String: formatTime(*run.FinishedAt), Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET finished_at = ?, status = ?, extracted = ?, unpacked = ?, valid = ?,
			inserted = ?, failed_batches = ?, error = ?
		WHERE id = ?`,
		finished, string(run.Status), run.Extracted, run.Unpacked, run.Valid,
		run.Inserted, run.FailedBatch, run.Error, run.ID,
	)
	if err != nil {
		return fmt.Errorf("FinishRun(): %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("FinishRun(): %w: %s", ErrRunNotFound, run.ID)
	}
	return nil
}

// LastSuccessful returns the succeeded run with the latest window end, or nil if none.
func (s *StateStore) LastSuccessful(ctx context.Context) (*models.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE status = ? ORDER BY window_end DESC, started_at DESC LIMIT 1`,
		string(models.RunSucceeded))
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("LastSuccessful(): %w", err)
	}
	return &run, nil
}

// GetRun returns one run by id.
func (s *StateStore) GetRun(ctx context.Context, id string) (models.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return run, fmt.Errorf("GetRun(): %w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return run, fmt.Errorf("GetRun(): %w", err)
	}
	return run, nil
}

// ListRuns returns the newest runs first. limit <= 0 means 50.
func (s *StateStore) ListRuns(ctx context.Context, limit int) ([]models.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("ListRuns(): %w", err)
	}
	defer rows.Close()

	runs := []models.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("ListRuns(): %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (models.Run, error) {
	var run models.Run
	var status, windowStart, windowEnd, startedAt string
	var finishedAt sql.NullString

	if err := row.Scan(
		&run.ID,
		&windowStart,
		&windowEnd,
		&startedAt,
		&finishedAt,
		&status,
		&run.Extracted,
		&run.Unpacked,
		&run.Valid,
		&run.Inserted,
		&run.FailedBatch,
		&run.Error,
	); err != nil {
		return run, err
	}

	var err error
	run.Status = models.RunStatus(status)
	if run.Window.Start, err = parseTime(windowStart); err != nil {
		return run, err
	}
	if run.Window.End, err = parseTime(windowEnd); err != nil {
		return run, err
	}
	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return run, err
	}
	if finishedAt.Valid {
		t, err := parseTime(finishedAt.String)
		if err != nil {
			return run, err
		}
		run.FinishedAt = &t
	}
	return run, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(stateTimeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(stateTimeLayout, s)
	if err != nil {
		return t, fmt.Errorf("parseTime(): bad timestamp %q: %w", s, err)
	}
	return t, nil
}
