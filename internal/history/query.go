package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"iter"

	"github.com/ppiankov/bucketspectre/internal/engine"
)

const resultsQuery = `
	SELECT b.run_id, b.bucket_name, b.risk_score, b.evaluated_at, b.region, b.created_at,
	       f.rule_key, f.severity, f.description, f.status, f.details
	FROM bucket_results b
	JOIN runs r ON r.run_id = b.run_id
	LEFT JOIN findings f ON f.run_id = b.run_id AND f.bucket_name = b.bucket_name
`

// History returns a bucket's results, oldest run first. Each range over the
// sequence runs a fresh query; nothing is read until iteration starts.
func (s *Store) History(ctx context.Context, bucket string) iter.Seq2[engine.BucketResult, error] {
	return s.results(ctx,
		resultsQuery+" WHERE b.bucket_name = ? ORDER BY b.run_id ASC, f.ordinal ASC",
		bucket)
}

// RunResults returns every result of one committed run ordered by bucket name.
func (s *Store) RunResults(ctx context.Context, runID int64) ([]engine.BucketResult, error) {
	var out []engine.BucketResult
	for res, err := range s.results(ctx,
		resultsQuery+" WHERE b.run_id = ? ORDER BY b.bucket_name ASC, f.ordinal ASC",
		runID) {
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

// results groups joined rows into one BucketResult per (run, bucket). Rows
// must arrive grouped by that pair.
func (s *Store) results(ctx context.Context, query string, args ...any) iter.Seq2[engine.BucketResult, error] {
	return func(yield func(engine.BucketResult, error) bool) {
		rows, err := s.conn.QueryContext(ctx, query, args...)
		if err != nil {
			yield(engine.BucketResult{}, &PersistenceError{Op: "query results", Err: err})
			return
		}
		defer func() { _ = rows.Close() }()

		var (
			cur     engine.BucketResult
			started bool
		)
		for rows.Next() {
			var (
				runID                int64
				bucket, evaluated    string
				score                int
				region, created      sql.NullString
				ruleKey, description sql.NullString
				status, details      sql.NullString
				severity             sql.NullInt64
			)
			if err := rows.Scan(&runID, &bucket, &score, &evaluated, &region, &created,
				&ruleKey, &severity, &description, &status, &details); err != nil {
				yield(engine.BucketResult{}, &PersistenceError{Op: "scan results", Err: err})
				return
			}

			if !started || cur.RunID != runID || cur.Bucket != bucket {
				if started && !yield(cur, nil) {
					return
				}
				started = true
				cur = engine.BucketResult{
					Bucket:      bucket,
					RunID:       runID,
					RiskScore:   score,
					EvaluatedAt: parseTime(evaluated),
					Findings:    []engine.Finding{},
				}
				if region.Valid {
					r := region.String
					cur.Region = &r
				}
				if created.Valid {
					cur.CreatedAt = parseTime(created.String)
				}
			}

			if !ruleKey.Valid {
				continue
			}
			f := engine.Finding{
				Bucket:      bucket,
				RuleKey:     ruleKey.String,
				Severity:    int(severity.Int64),
				Description: description.String,
				Status:      engine.FindingStatus(status.String),
				DetectedAt:  cur.EvaluatedAt,
			}
			if details.Valid {
				if err := json.Unmarshal([]byte(details.String), &f.Details); err != nil {
					yield(engine.BucketResult{}, &PersistenceError{Op: "decode finding details", Err: err})
					return
				}
			}
			cur.Findings = append(cur.Findings, f)
		}
		if err := rows.Err(); err != nil {
			yield(engine.BucketResult{}, &PersistenceError{Op: "read results", Err: err})
			return
		}
		if started {
			yield(cur, nil)
		}
	}
}
