package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"GraderUsageETL/internal/models"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// PostgreSQL accepts at most 65535 bind parameters per statement.
const (
	attemptColumns = 7
	maxBatchRows   = 65535 / attemptColumns
)

var (
	ErrInvalidTable = errors.New("invalid table name")
	identPattern    = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)
)

// LoadReport summarises one InsertAttempts call.
type LoadReport struct {
	Rows          int           `json:"rows"`
	Batches       int           `json:"batches"`
	Inserted      int64         `json:"inserted"`
	Duplicates    int64         `json:"duplicates"`
	FailedBatches int           `json:"failed_batches"`
	Elapsed       time.Duration `json:"elapsed"`
}

// PostgresStore loads validated attempts into the warehouse table.
type PostgresStore struct {
	db    *sql.DB
	table string
	log   *zap.Logger
}

// NewPostgresStore opens a connection pool. It does not connect; call Ping.
func NewPostgresStore(dsn, table string, log *zap.Logger) (*PostgresStore, error) {
	if !identPattern.MatchString(table) {
		return nil, fmt.Errorf("NewPostgresStore(): %w: %q", ErrInvalidTable, table)
	}
	if log == nil {
		log = zap.NewNop()
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewPostgresStore(): failed to open postgres db: %w", err)
	}
	return &PostgresStore{db: db, table: table, log: log}, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) Table() string { return s.table }

// Ping checks that the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("Ping(): failed to connect to postgres: %w", err)
	}
	return nil
}

// Version returns the server version string.
func (s *PostgresStore) Version(ctx context.Context) (string, error) {
	var v string
	if err := s.db.QueryRowContext(ctx, "SELECT version()").Scan(&v); err != nil {
		return "", fmt.Errorf("Version(): %w", err)
	}
	return v, nil
}

// EnsureSchema creates the attempts table and its indexes if they are missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements(s.table) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("EnsureSchema(): failed to create table %s: %w", s.table, err)
		}
	}
	s.log.Info("table ready", zap.String("table", s.table))
	return nil
}

func schemaStatements(table string) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
	id SERIAL PRIMARY KEY,
	user_id VARCHAR(255) NOT NULL,
	oauth_consumer_key VARCHAR(255),
	lis_result_sourcedid TEXT NOT NULL,
	lis_outcome_service_url TEXT NOT NULL,
	is_correct BOOLEAN,
	attempt_type VARCHAR(10) NOT NULL CHECK (attempt_type IN ('run', 'submit')),
	created_at TIMESTAMP NOT NULL,
	loaded_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	CONSTRAINT %[1]s_unique_attempt UNIQUE (user_id, lis_result_sourcedid, attempt_type, created_at)
)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%[1]s_user_id ON %[1]s (user_id)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%[1]s_created_at ON %[1]s (created_at)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%[1]s_attempt_type ON %[1]s (attempt_type)`, table),
	}
}

// insertStatement builds a multi-row insert that skips rows already present.
func insertStatement(table string, rows int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (user_id, oauth_consumer_key, lis_result_sourcedid, lis_outcome_service_url, is_correct, attempt_type, created_at) VALUES ", table)
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := 0; c < attemptColumns; c++ {
			if c > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", r*attemptColumns+c+1)
		}
		b.WriteByte(')')
	}
	b.WriteString(" ON CONFLICT (user_id, lis_result_sourcedid, attempt_type, created_at) DO NOTHING")
	return b.String()
}

func insertArgs(batch []models.Attempt) []any {
	args := make([]any, 0, len(batch)*attemptColumns)
	for _, a := range batch {
		args = append(args,
			a.UserID,
			a.OAuthConsumerKey,
			a.LISResultSourcedID,
			a.LISOutcomeServiceURL,
			a.IsCorrect,
			string(a.AttemptType),
			a.CreatedAt.UTC(),
		)
	}
	return args
}

// splitBatches cuts attempts into consecutive slices of at most size rows.
func splitBatches(attempts []models.Attempt, size int) [][]models.Attempt {
	if size < 1 {
		size = 1
	}
	batches := make([][]models.Attempt, 0, (len(attempts)+size-1)/size)
	for start := 0; start < len(attempts); start += size {
		end := min(start+size, len(attempts))
		batches = append(batches, attempts[start:end])
	}
	return batches
}

// InsertAttempts writes attempts in batches, each batch in its own
// transaction. A failing batch is rolled back and skipped; the rest still
// load. Up to workers batches run at once. Only context cancellation
// makes it return an error.
func (s *PostgresStore) InsertAttempts(ctx context.Context, attempts []models.Attempt, batchSize, workers int) (LoadReport, error) {
	report := LoadReport{Rows: len(attempts)}
	if len(attempts) == 0 {
		s.log.Warn("no rows given to insert")
		return report, nil
	}
	if batchSize > maxBatchRows {
		s.log.Warn("batch size capped", zap.Int("requested", batchSize), zap.Int("max", maxBatchRows))
		batchSize = maxBatchRows
	}
	if workers < 1 {
		workers = 1
	}

	started := time.Now()
	batches := splitBatches(attempts, batchSize)
	report.Batches = len(batches)
	s.log.Info("inserting rows",
		zap.String("table", s.table),
		zap.Int("rows", len(attempts)),
		zap.Int("batches", len(batches)),
		zap.Int("workers", workers))

	var inserted, loadedRows, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, batch := range batches {
		g.Go(func() error {
			n, err := s.insertBatch(gctx, batch)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Add(1)
				s.log.Error("batch insert failed, rolled back",
					zap.Int("batch", i+1),
					zap.Int("of", len(batches)),
					zap.Error(err))
				return nil
			}
			inserted.Add(n)
			loadedRows.Add(int64(len(batch)))
			s.log.Debug("batch inserted",
				zap.Int("batch", i+1),
				zap.Int("of", len(batches)),
				zap.Int64("inserted", n))
			return nil
		})
	}
	err := g.Wait()

	report.Inserted = inserted.Load()
	report.Duplicates = loadedRows.Load() - report.Inserted
	report.FailedBatches = int(failed.Load())
	report.Elapsed = time.Since(started)

	if err != nil {
		return report, fmt.Errorf("InsertAttempts(): %w", err)
	}
	s.log.Info("insert finished",
		zap.Int64("inserted", report.Inserted),
		zap.Int("rows", report.Rows),
		zap.Int64("duplicates", report.Duplicates),
		zap.Int("failed_batches", report.FailedBatches),
		zap.Duration("elapsed", report.Elapsed))
	return report, nil
}

func (s *PostgresStore) insertBatch(ctx context.Context, batch []models.Attempt) (n int64, err error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, insertStatement(s.table, len(batch)), insertArgs(batch)...)
	if err != nil {
		return 0, err
	}
	n, err = res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

// TableStats aggregates everything stored in the table.
func (s *PostgresStore) TableStats(ctx context.Context) (models.TableStats, error) {
	query := fmt.Sprintf(`
		SELECT
			COUNT(*),
			COUNT(DISTINCT user_id),
			COUNT(*) FILTER (WHERE attempt_type = 'submit'),
			COUNT(*) FILTER (WHERE attempt_type = 'run'),
			COUNT(*) FILTER (WHERE is_correct = TRUE),
			COUNT(*) FILTER (WHERE is_correct = FALSE),
			MIN(created_at),
			MAX(created_at)
		FROM %s`, s.table)

	var st models.TableStats
	var earliest, latest sql.NullTime
	err := s.db.QueryRowContext(ctx, query).Scan(
		&st.TotalRecords,
		&st.UniqueUsers,
		&st.SubmitAttempts,
		&st.RunAttempts,
		&st.CorrectAttempts,
		&st.IncorrectAttempts,
		&earliest,
		&latest,
	)
	if err != nil {
		return st, fmt.Errorf("TableStats(): %w", err)
	}
	if earliest.Valid {
		t := earliest.Time.UTC()
		st.EarliestAttempt = &t
	}
	if latest.Valid {
		t := latest.Time.UTC()
		st.LatestAttempt = &t
	}
	return st, nil
}
