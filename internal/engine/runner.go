package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	awstype "github.com/ppiankov/bucketspectre/internal/aws"
	"github.com/ppiankov/bucketspectre/internal/config"
	"github.com/ppiankov/bucketspectre/internal/rules"
)

// RunRecorder is an open, uncommitted run. Nothing recorded through it is
// visible to readers until Commit succeeds.
type RunRecorder interface {
	ID() int64
	Record(ctx context.Context, result BucketResult) error
	Commit(ctx context.Context) error
	Discard() error
}

// Store is the persistence the runner needs.
type Store interface {
	PriorScore(ctx context.Context, bucket string) (int, bool, error)
	BeginRun(ctx context.Context, startedAt time.Time, accountID string) (RunRecorder, error)
}

// Observer receives scan progress. Implementations must be safe for
// concurrent use.
type Observer interface {
	BucketEvaluated(result BucketResult, fetch time.Duration)
	RunCompleted(run *ScanRun, elapsed time.Duration)
}

// RunnerConfig controls a scan.
type RunnerConfig struct {
	Concurrency int
	Exclude     config.Exclude
	Regions     []string
	AccountID   string
	Now         func() time.Time
}

// Runner drives a full scan: list, fetch in parallel, evaluate, persist.
type Runner struct {
	provider awstype.SnapshotProvider
	store    Store
	rules    *rules.RuleSet
	cfg      RunnerConfig
	observer Observer
}

// NewRunner creates a runner. A non-positive concurrency uses the default.
func NewRunner(provider awstype.SnapshotProvider, store Store, rs *rules.RuleSet, cfg RunnerConfig) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = config.DefaultConcurrency
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Runner{provider: provider, store: store, rules: rs, cfg: cfg}
}

// SetObserver sets a callback sink for per-bucket and per-run progress.
func (r *Runner) SetObserver(o Observer) {
	r.observer = o
}

// Run performs one scan. Per-bucket provider failures become evaluation_error
// findings; persistence failures and cancellation abort the run and discard
// everything recorded for it.
func (r *Runner) Run(ctx context.Context) (*ScanRun, error) {
	startedAt := r.cfg.Now().UTC()

	buckets, err := r.provider.ListBuckets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}

	targets := make([]awstype.Bucket, 0, len(buckets))
	excluded := 0
	for _, b := range buckets {
		if r.cfg.Exclude.Matches(b.Name) {
			slog.Debug("Bucket excluded", "bucket", b.Name)
			excluded++
			continue
		}
		targets = append(targets, b)
	}

	prior := make(map[string]int, len(targets))
	for _, b := range targets {
		s, ok, err := r.store.PriorScore(ctx, b.Name)
		if err != nil {
			return nil, fmt.Errorf("prior score for %s: %w", b.Name, err)
		}
		if ok {
			prior[b.Name] = s
		}
	}

	rec, err := r.store.BeginRun(ctx, startedAt, r.cfg.AccountID)
	if err != nil {
		return nil, fmt.Errorf("begin run: %w", err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if derr := rec.Discard(); derr != nil {
			slog.Warn("Discarding run failed", "run_id", rec.ID(), "error", derr)
		}
	}()

	slog.Info("Scanning buckets", "run_id", rec.ID(), "buckets", len(targets), "excluded", excluded)

	results, err := r.collect(ctx, rec, targets)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("scan cancelled: %w", err)
	}
	if err := rec.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit run: %w", err)
	}
	committed = true

	sort.Slice(results, func(i, j int) bool { return results[i].Bucket < results[j].Bucket })
	run := &ScanRun{
		ID:          rec.ID(),
		StartedAt:   startedAt,
		AccountID:   r.cfg.AccountID,
		Results:     results,
		Excluded:    excluded,
		PriorScores: prior,
	}
	if r.observer != nil {
		r.observer.RunCompleted(run, r.cfg.Now().Sub(startedAt))
	}
	return run, nil
}

// collect fetches and evaluates buckets on a bounded pool and funnels results
// to a single writer, so Record is never called concurrently.
func (r *Runner) collect(ctx context.Context, rec RunRecorder, targets []awstype.Bucket) ([]BucketResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := make(chan BucketResult)
	var (
		collected []BucketResult
		writeErr  error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for res := range out {
			if writeErr != nil {
				continue
			}
			res.RunID = rec.ID()
			if err := rec.Record(ctx, res); err != nil {
				writeErr = err
				cancel()
				continue
			}
			collected = append(collected, res)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for _, b := range targets {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, keep, err := r.evaluateBucket(gctx, b)
			if err != nil {
				return err
			}
			if !keep {
				return nil
			}
			select {
			case out <- res:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	waitErr := g.Wait()
	close(out)
	<-done

	if writeErr != nil {
		return nil, fmt.Errorf("record results: %w", writeErr)
	}
	if waitErr != nil && !errors.Is(waitErr, context.Canceled) && !errors.Is(waitErr, context.DeadlineExceeded) {
		return nil, waitErr
	}
	return collected, nil
}

// evaluateBucket returns keep=false for buckets outside the region filter.
func (r *Runner) evaluateBucket(ctx context.Context, b awstype.Bucket) (BucketResult, bool, error) {
	start := r.cfg.Now()
	snap, err := r.provider.Snapshot(ctx, b)
	fetch := r.cfg.Now().Sub(start)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return BucketResult{}, false, ctxErr
	}

	var res BucketResult
	if err != nil {
		slog.Warn("Bucket snapshot failed", "bucket", b.Name, "error", err)
		res = ProviderFailure(b, err, r.cfg.Now().UTC())
	} else {
		if !r.inRegion(snap) {
			slog.Debug("Bucket outside region filter", "bucket", b.Name, "region", snap.RegionOrUnknown())
			return BucketResult{}, false, nil
		}
		res = Evaluate(b.Name, snap, r.rules, r.cfg.Now().UTC())
	}

	slog.Debug("Bucket evaluated", "bucket", b.Name, "score", res.RiskScore, "findings", len(res.Findings))
	if r.observer != nil {
		r.observer.BucketEvaluated(res, fetch)
	}
	return res, true, nil
}

// inRegion keeps buckets with an unknown region; they cannot be ruled out.
func (r *Runner) inRegion(snap awstype.BucketSnapshot) bool {
	if len(r.cfg.Regions) == 0 || snap.Region == nil {
		return true
	}
	for _, reg := range r.cfg.Regions {
		if reg == *snap.Region {
			return true
		}
	}
	return false
}
