package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	awstype "github.com/ppiankov/bucketspectre/internal/aws"
	"github.com/ppiankov/bucketspectre/internal/engine"
	"github.com/ppiankov/bucketspectre/internal/rules"
)

var t0 = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func result(bucket string, score int, at time.Time) engine.BucketResult {
	region := "eu-central-1"
	res := engine.BucketResult{
		Bucket:      bucket,
		Region:      &region,
		CreatedAt:   time.Date(2022, 2, 2, 0, 0, 0, 0, time.UTC),
		RiskScore:   score,
		EvaluatedAt: at,
		Findings:    []engine.Finding{},
	}
	if score > 0 {
		res.Findings = append(res.Findings, engine.Finding{
			Bucket:      bucket,
			RuleKey:     rules.KeyLoggingDisabled,
			Severity:    score,
			Description: "Bucket logging is not enabled",
			Status:      engine.StatusViolation,
			Details:     map[string]any{"target": "none"},
			DetectedAt:  at,
		})
	}
	return res
}

func commitRun(t *testing.T, s *Store, at time.Time, results ...engine.BucketResult) int64 {
	t.Helper()
	ctx := context.Background()
	run, err := s.BeginRun(ctx, at, "123456789012")
	require.NoError(t, err)
	for _, r := range results {
		require.NoError(t, run.Record(ctx, r))
	}
	require.NoError(t, run.Commit(ctx))
	return run.ID()
}

func collect(t *testing.T, s *Store, bucket string) []engine.BucketResult {
	t.Helper()
	var out []engine.BucketResult
	for res, err := range s.History(context.Background(), bucket) {
		require.NoError(t, err)
		out = append(out, res)
	}
	return out
}

func TestPriorScore(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	_, ok, err := s.PriorScore(ctx, "data")
	require.NoError(t, err)
	assert.False(t, ok, "never scanned bucket has no prior score")

	commitRun(t, s, t0, result("data", 135, t0))
	score, ok, err := s.PriorScore(ctx, "data")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 135, score)

	commitRun(t, s, t0.Add(time.Hour), result("data", 35, t0.Add(time.Hour)))
	score, ok, err = s.PriorScore(ctx, "data")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 35, score, "latest run wins, not a sum")
}

func TestPriorScore_IgnoresOpenRun(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	commitRun(t, s, t0, result("data", 20, t0))

	run, err := s.BeginRun(ctx, t0.Add(time.Hour), "")
	require.NoError(t, err)
	require.NoError(t, run.Record(ctx, result("data", 99, t0.Add(time.Hour))))

	score, ok, err := s.PriorScore(ctx, "data")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 20, score)
	require.NoError(t, run.Discard())
}

func TestHistory_OrderedAndRestartable(t *testing.T) {
	s := openStore(t)
	first := commitRun(t, s, t0, result("logs", 15, t0), result("other", 0, t0))
	second := commitRun(t, s, t0.Add(24*time.Hour), result("logs", 0, t0.Add(24*time.Hour)))

	seq := s.History(context.Background(), "logs")
	var a, b []engine.BucketResult
	for res, err := range seq {
		require.NoError(t, err)
		a = append(a, res)
	}
	for res, err := range seq {
		require.NoError(t, err)
		b = append(b, res)
	}

	require.Len(t, a, 2)
	assert.Equal(t, a, b)
	assert.Equal(t, first, a[0].RunID)
	assert.Equal(t, second, a[1].RunID)
	assert.Equal(t, 15, a[0].RiskScore)
	require.Len(t, a[0].Findings, 1)
	assert.Equal(t, rules.KeyLoggingDisabled, a[0].Findings[0].RuleKey)
	assert.Equal(t, "none", a[0].Findings[0].Details["target"])
	assert.Equal(t, engine.StatusViolation, a[0].Findings[0].Status)
	assert.Empty(t, a[1].Findings)
	assert.Equal(t, "eu-central-1", a[1].RegionOrUnknown())
	assert.True(t, a[0].EvaluatedAt.Equal(t0))
}

func TestHistory_EarlyBreak(t *testing.T) {
	s := openStore(t)
	commitRun(t, s, t0, result("x", 1, t0))
	commitRun(t, s, t0.Add(time.Minute), result("x", 2, t0.Add(time.Minute)))

	n := 0
	for _, err := range s.History(context.Background(), "x") {
		require.NoError(t, err)
		n++
		break
	}
	assert.Equal(t, 1, n)
	assert.Len(t, collect(t, s, "x"), 2)
}

func TestHistory_UnknownBucketIsEmpty(t *testing.T) {
	s := openStore(t)
	assert.Empty(t, collect(t, s, "missing"))
}

func TestRecord_Duplicate(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	run, err := s.BeginRun(ctx, t0, "")
	require.NoError(t, err)
	require.NoError(t, run.Record(ctx, result("dup", 10, t0)))

	err = run.Record(ctx, result("dup", 10, t0))
	var dup *DuplicateResultError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, "dup", dup.Bucket)
	assert.Equal(t, run.ID(), dup.RunID)
	require.NoError(t, run.Discard())
}

func TestDiscard_LeavesHistoryUnchanged(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	commitRun(t, s, t0, result("keep", 15, t0))
	before := collect(t, s, "keep")

	run, err := s.BeginRun(ctx, t0.Add(time.Hour), "")
	require.NoError(t, err)
	require.NoError(t, run.Record(ctx, result("keep", 80, t0.Add(time.Hour))))
	require.NoError(t, run.Record(ctx, result("new", 80, t0.Add(time.Hour))))
	require.NoError(t, run.Discard())

	assert.Equal(t, before, collect(t, s, "keep"))
	assert.Empty(t, collect(t, s, "new"))
	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestCancelledRun_RollsBack(t *testing.T) {
	s := openStore(t)
	commitRun(t, s, t0, result("keep", 15, t0))
	before := collect(t, s, "keep")

	ctx, cancel := context.WithCancel(context.Background())
	run, err := s.BeginRun(ctx, t0.Add(time.Hour), "")
	require.NoError(t, err)
	require.NoError(t, run.Record(ctx, result("keep", 80, t0.Add(time.Hour))))
	cancel()

	err = run.Record(ctx, result("other", 80, t0.Add(time.Hour)))
	var perr *PersistenceError
	require.True(t, errors.As(err, &perr))
	require.NoError(t, run.Discard())

	assert.Equal(t, before, collect(t, s, "keep"))
}

func TestRunIDs_MonotonicAndNeverReused(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	discarded, err := s.BeginRun(ctx, t0, "")
	require.NoError(t, err)
	require.NoError(t, discarded.Discard())

	// same start time must still produce a fresh id
	next := commitRun(t, s, t0)
	assert.Greater(t, next, discarded.ID())

	// a clock going backwards must not produce a smaller id
	earlier := commitRun(t, s, t0.Add(-time.Hour))
	assert.Greater(t, earlier, next)
}

func TestListRuns(t *testing.T) {
	s := openStore(t)
	first := commitRun(t, s, t0, result("a", 15, t0), result("b", 0, t0))
	second := commitRun(t, s, t0.Add(time.Hour), result("a", 15, t0))

	runs, err := s.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second, runs[0].ID)
	assert.Equal(t, first, runs[1].ID)
	assert.Equal(t, 2, runs[1].BucketCount)
	assert.Equal(t, 1, runs[1].FindingCount)
	assert.Equal(t, "123456789012", runs[1].AccountID)
	assert.False(t, runs[1].CompletedAt.IsZero())

	limited, err := s.ListRuns(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	got, ok, err := s.GetRun(context.Background(), first)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, runs[1], got)

	_, ok, err = s.GetRun(context.Background(), 42)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHighRiskBuckets(t *testing.T) {
	s := openStore(t)
	commitRun(t, s, t0, result("low", 15, t0), result("high", 135, t0), result("mid", 80, t0))

	got, err := s.HighRiskBuckets(context.Background(), 50, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "high", got[0].Bucket)
	assert.Equal(t, "mid", got[1].Bucket)
}

func TestRunResults(t *testing.T) {
	s := openStore(t)
	id := commitRun(t, s, t0, result("zz", 15, t0), result("aa", 0, t0))

	got, err := s.RunResults(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "aa", got[0].Bucket)
	assert.Equal(t, "zz", got[1].Bucket)
}

type staticProvider struct {
	buckets []awstype.Bucket
	failAt  string
	cancel  context.CancelFunc
}

func (p *staticProvider) ListBuckets(context.Context) ([]awstype.Bucket, error) {
	return p.buckets, nil
}

func (p *staticProvider) Snapshot(ctx context.Context, b awstype.Bucket) (awstype.BucketSnapshot, error) {
	if b.Name == p.failAt {
		p.cancel()
		<-ctx.Done()
		return awstype.BucketSnapshot{}, ctx.Err()
	}
	return awstype.BucketSnapshot{Name: b.Name}, nil
}

func TestRunner_AbortedScanLeavesNoPartialRun(t *testing.T) {
	s := openStore(t)
	commitRun(t, s, t0, result("a", 15, t0))
	before := collect(t, s, "a")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	provider := &staticProvider{
		buckets: []awstype.Bucket{{Name: "a"}, {Name: "b"}, {Name: "c"}},
		failAt:  "c",
		cancel:  cancel,
	}
	runner := engine.NewRunner(provider, s.Runner(), rules.MustDefault(), engine.RunnerConfig{Concurrency: 1})
	_, err := runner.Run(ctx)
	require.Error(t, err)

	assert.Equal(t, before, collect(t, s, "a"))
	assert.Empty(t, collect(t, s, "b"))
	runs, err := s.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestRunner_CommitsThroughStore(t *testing.T) {
	s := openStore(t)
	provider := &staticProvider{buckets: []awstype.Bucket{{Name: "a"}, {Name: "b"}}}

	run, err := engine.NewRunner(provider, s.Runner(), rules.MustDefault(), engine.RunnerConfig{}).Run(context.Background())
	require.NoError(t, err)

	got, err := s.RunResults(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, run.Results[0].RiskScore, got[0].RiskScore)
	assert.Equal(t, len(run.Results[0].Findings), len(got[0].Findings))
}
