package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/ppiankov/bucketspectre/internal/engine"
)

// Run is an open run. Its rows live in one transaction until Commit.
// Record is safe for concurrent use; calls are serialized.
type Run struct {
	id       int64
	mu       sync.Mutex
	tx       *sql.Tx
	seen     map[string]bool
	buckets  int
	findings int
	closed   bool
}

// ID returns the run id allocated by BeginRun.
func (r *Run) ID() int64 { return r.id }

// Record appends one bucket result to the run.
func (r *Run) Record(ctx context.Context, res engine.BucketResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return &PersistenceError{Op: "record result", Err: sql.ErrTxDone}
	}
	if r.seen[res.Bucket] {
		return &DuplicateResultError{RunID: r.id, Bucket: res.Bucket}
	}

	var region sql.NullString
	if res.Region != nil {
		region = sql.NullString{String: *res.Region, Valid: true}
	}
	var created sql.NullString
	if !res.CreatedAt.IsZero() {
		created = sql.NullString{String: formatTime(res.CreatedAt), Valid: true}
	}

	_, err := r.tx.ExecContext(ctx, `
		INSERT INTO bucket_results (run_id, bucket_name, risk_score, evaluated_at, region, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.id, res.Bucket, res.RiskScore, formatTime(res.EvaluatedAt), region, created)
	if err != nil {
		return &PersistenceError{Op: "insert bucket result", Err: err}
	}

	for i, f := range res.Findings {
		var details sql.NullString
		if len(f.Details) > 0 {
			b, err := json.Marshal(f.Details)
			if err != nil {
				return &PersistenceError{Op: "encode finding details", Err: err}
			}
			details = sql.NullString{String: string(b), Valid: true}
		}
		_, err := r.tx.ExecContext(ctx, `
			INSERT INTO findings (run_id, bucket_name, rule_key, severity, description, status, details, ordinal)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, r.id, res.Bucket, f.RuleKey, f.Severity, f.Description, string(f.Status), details, i)
		if err != nil {
			return &PersistenceError{Op: "insert finding", Err: err}
		}
	}

	r.seen[res.Bucket] = true
	r.buckets++
	r.findings += len(res.Findings)
	return nil
}

// Commit stamps the run totals and makes the whole run visible at once.
func (r *Run) Commit(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return &PersistenceError{Op: "commit run", Err: sql.ErrTxDone}
	}
	r.closed = true

	_, err := r.tx.ExecContext(ctx,
		"UPDATE runs SET completed_at = ?, bucket_count = ?, finding_count = ? WHERE run_id = ?",
		formatTime(time.Now()), r.buckets, r.findings, r.id)
	if err != nil {
		_ = r.tx.Rollback()
		return &PersistenceError{Op: "finalize run", Err: err}
	}
	if err := r.tx.Commit(); err != nil {
		return &PersistenceError{Op: "commit run", Err: err}
	}
	return nil
}

// Discard rolls the run back. Discarding a committed or already discarded
// run is a no-op.
func (r *Run) Discard() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	if err := r.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return &PersistenceError{Op: "discard run", Err: err}
	}
	return nil
}
