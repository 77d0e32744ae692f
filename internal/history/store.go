package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ppiankov/bucketspectre/internal/engine"
)

// PersistenceError reports a failed store read or write. It is fatal for the
// run in progress.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("history: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// DuplicateResultError reports a second result for the same bucket in one run.
type DuplicateResultError struct {
	RunID  int64
	Bucket string
}

func (e *DuplicateResultError) Error() string {
	return fmt.Sprintf("history: bucket %s already recorded in run %d", e.Bucket, e.RunID)
}

// Store persists scan runs in SQLite. Runs are written inside a single
// transaction, so readers only ever see complete runs.
type Store struct {
	conn *sql.DB
}

// Open opens (creating if needed) the database at path and ensures the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &PersistenceError{Op: "create database directory", Err: err}
		}
	}

	// busy_timeout and foreign_keys are per connection, so they go in the DSN.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &PersistenceError{Op: "open database", Err: err}
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, &PersistenceError{Op: "ping database", Err: err}
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		_, _ = conn.ExecContext(ctx, pragma)
	}

	s := &Store{conn: conn}
	if err := s.migrate(ctx); err != nil {
		_ = conn.Close()
		return nil, &PersistenceError{Op: "migrate", Err: err}
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS run_ids (
		run_id INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS runs (
		run_id INTEGER PRIMARY KEY,
		started_at TEXT NOT NULL,
		completed_at TEXT,
		account_id TEXT,
		bucket_count INTEGER NOT NULL DEFAULT 0,
		finding_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS bucket_results (
		run_id INTEGER NOT NULL REFERENCES runs(run_id),
		bucket_name TEXT NOT NULL,
		risk_score INTEGER NOT NULL,
		evaluated_at TEXT NOT NULL,
		region TEXT,
		created_at TEXT,
		UNIQUE (run_id, bucket_name)
	);

	CREATE TABLE IF NOT EXISTS findings (
		run_id INTEGER NOT NULL REFERENCES runs(run_id),
		bucket_name TEXT NOT NULL,
		rule_key TEXT NOT NULL,
		severity INTEGER NOT NULL,
		description TEXT NOT NULL,
		status TEXT NOT NULL,
		details TEXT,
		ordinal INTEGER NOT NULL,
		UNIQUE (run_id, bucket_name, rule_key)
	);

	CREATE INDEX IF NOT EXISTS idx_results_bucket ON bucket_results(bucket_name, run_id);
	CREATE INDEX IF NOT EXISTS idx_results_score ON bucket_results(risk_score);
	`
	_, err := s.conn.ExecContext(ctx, schema)
	return err
}

// BeginRun allocates a run id and opens the run's transaction. The id is
// committed on its own before the transaction starts, so it is never reused
// even if the run is discarded. Cancelling ctx rolls the run back.
func (s *Store) BeginRun(ctx context.Context, startedAt time.Time, accountID string) (*Run, error) {
	var id int64
	err := s.conn.QueryRowContext(ctx, `
		INSERT INTO run_ids (run_id)
		VALUES (MAX(?, COALESCE((SELECT MAX(run_id) FROM run_ids), 0) + 1))
		RETURNING run_id
	`, startedAt.UnixMicro()).Scan(&id)
	if err != nil {
		return nil, &PersistenceError{Op: "allocate run id", Err: err}
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, &PersistenceError{Op: "begin run", Err: err}
	}
	_, err = tx.ExecContext(ctx,
		"INSERT INTO runs (run_id, started_at, account_id) VALUES (?, ?, ?)",
		id, formatTime(startedAt), nullString(accountID))
	if err != nil {
		_ = tx.Rollback()
		return nil, &PersistenceError{Op: "insert run", Err: err}
	}

	return &Run{id: id, tx: tx, seen: make(map[string]bool)}, nil
}

// PriorScore returns the most recent committed score for a bucket, or false
// if the bucket has never been recorded.
func (s *Store) PriorScore(ctx context.Context, bucket string) (int, bool, error) {
	var score int
	err := s.conn.QueryRowContext(ctx, `
		SELECT b.risk_score
		FROM bucket_results b
		JOIN runs r ON r.run_id = b.run_id
		WHERE b.bucket_name = ?
		ORDER BY b.run_id DESC
		LIMIT 1
	`, bucket).Scan(&score)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, &PersistenceError{Op: "prior score", Err: err}
	}
	return score, true, nil
}

// RunSummary is one committed run as listed by ListRuns.
type RunSummary struct {
	ID           int64     `json:"run_id"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at"`
	AccountID    string    `json:"account_id,omitempty"`
	BucketCount  int       `json:"bucket_count"`
	FindingCount int       `json:"finding_count"`
}

// ListRuns returns the most recent committed runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT run_id, started_at, COALESCE(completed_at, ''), COALESCE(account_id, ''), bucket_count, finding_count
		FROM runs
		ORDER BY run_id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, &PersistenceError{Op: "list runs", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var runs []RunSummary
	for rows.Next() {
		var r RunSummary
		var started, completed string
		if err := rows.Scan(&r.ID, &started, &completed, &r.AccountID, &r.BucketCount, &r.FindingCount); err != nil {
			return nil, &PersistenceError{Op: "list runs", Err: err}
		}
		r.StartedAt = parseTime(started)
		r.CompletedAt = parseTime(completed)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "list runs", Err: err}
	}
	return runs, nil
}

// BucketScore is one bucket's score in one run.
type BucketScore struct {
	RunID       int64     `json:"run_id"`
	Bucket      string    `json:"bucket"`
	Region      *string   `json:"region"`
	RiskScore   int       `json:"risk_score"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// HighRiskBuckets returns results across all runs scoring at least minScore,
// highest first.
func (s *Store) HighRiskBuckets(ctx context.Context, minScore, limit int) ([]BucketScore, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT b.run_id, b.bucket_name, b.region, b.risk_score, b.evaluated_at
		FROM bucket_results b
		JOIN runs r ON r.run_id = b.run_id
		WHERE b.risk_score >= ?
		ORDER BY b.risk_score DESC, b.run_id DESC, b.bucket_name ASC
		LIMIT ?
	`, minScore, limit)
	if err != nil {
		return nil, &PersistenceError{Op: "high risk buckets", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var out []BucketScore
	for rows.Next() {
		var b BucketScore
		var region sql.NullString
		var evaluated string
		if err := rows.Scan(&b.RunID, &b.Bucket, &region, &b.RiskScore, &evaluated); err != nil {
			return nil, &PersistenceError{Op: "high risk buckets", Err: err}
		}
		if region.Valid {
			b.Region = &region.String
		}
		b.EvaluatedAt = parseTime(evaluated)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "high risk buckets", Err: err}
	}
	return out, nil
}

// Runner adapts the store to the interface the scan runner drives.
func (s *Store) Runner() engine.Store {
	return runnerStore{s}
}

type runnerStore struct {
	s *Store
}

func (r runnerStore) PriorScore(ctx context.Context, bucket string) (int, bool, error) {
	return r.s.PriorScore(ctx, bucket)
}

func (r runnerStore) BeginRun(ctx context.Context, startedAt time.Time, accountID string) (engine.RunRecorder, error) {
	run, err := r.s.BeginRun(ctx, startedAt, accountID)
	if err != nil {
		return nil, err
	}
	return run, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// GetRun returns one committed run, or false if it does not exist.
func (s *Store) GetRun(ctx context.Context, runID int64) (RunSummary, bool, error) {
	var r RunSummary
	var started, completed string
	err := s.conn.QueryRowContext(ctx, `
		SELECT run_id, started_at, COALESCE(completed_at, ''), COALESCE(account_id, ''), bucket_count, finding_count
		FROM runs
		WHERE run_id = ?
	`, runID).Scan(&r.ID, &started, &completed, &r.AccountID, &r.BucketCount, &r.FindingCount)
	if err == sql.ErrNoRows {
		return RunSummary{}, false, nil
	}
	if err != nil {
		return RunSummary{}, false, &PersistenceError{Op: "get run", Err: err}
	}
	r.StartedAt = parseTime(started)
	r.CompletedAt = parseTime(completed)
	return r, true, nil
}
