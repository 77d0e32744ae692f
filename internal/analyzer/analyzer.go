package analyzer

import (
	"sort"

	"github.com/ppiankov/bucketspectre/internal/config"
	"github.com/ppiankov/bucketspectre/internal/engine"
)

// Assemble aggregates a completed run into a summary. Buckets are ordered by
// descending score, then bucket name. A non-positive threshold uses the default.
func Assemble(run *engine.ScanRun, cfg AssemblerConfig) *ScanSummary {
	threshold := cfg.HighRiskThreshold
	if threshold <= 0 {
		threshold = config.DefaultHighRiskThreshold
	}
	prior := cfg.PriorScores
	if prior == nil {
		prior = run.PriorScores
	}

	summary := &ScanSummary{
		RunID:             run.ID,
		StartedAt:         run.StartedAt,
		AccountID:         run.AccountID,
		TotalBuckets:      len(run.Results),
		Excluded:          run.Excluded,
		HighRiskThreshold: threshold,
		Buckets:           make([]BucketSummary, 0, len(run.Results)),
		HighRisk:          []BucketSummary{},
		LowerRisk:         []BucketSummary{},
		ByRule:            make(map[string]int),
	}

	for _, res := range run.Results {
		b := BucketSummary{
			Bucket:         res.Bucket,
			Region:         res.RegionOrUnknown(),
			CreatedAt:      res.CreatedAt,
			RiskScore:      res.RiskScore,
			Findings:       res.Findings,
			ProviderFailed: res.ProviderFailed(),
		}
		if p, ok := prior[res.Bucket]; ok {
			d := res.RiskScore - p
			b.PriorScore = &p
			b.Delta = &d
		}

		summary.TotalFindings += len(res.Findings)
		if res.HasIssues() {
			summary.BucketsWithIssues++
		}
		for _, f := range res.Findings {
			if f.Status == engine.StatusEvaluationError {
				summary.EvaluationErrors++
				continue
			}
			summary.ByRule[f.RuleKey]++
		}
		summary.Buckets = append(summary.Buckets, b)
	}

	sort.SliceStable(summary.Buckets, func(i, j int) bool {
		a, b := summary.Buckets[i], summary.Buckets[j]
		if a.RiskScore != b.RiskScore {
			return a.RiskScore > b.RiskScore
		}
		return a.Bucket < b.Bucket
	})

	for _, b := range summary.Buckets {
		if b.RiskScore >= threshold {
			summary.HighRisk = append(summary.HighRisk, b)
		} else {
			summary.LowerRisk = append(summary.LowerRisk, b)
		}
	}
	return summary
}

// SizeTargets groups the high risk buckets by region for storage size lookup.
// Buckets in an unknown region are skipped.
func (s *ScanSummary) SizeTargets() map[string][]string {
	targets := make(map[string][]string)
	for _, b := range s.HighRisk {
		if b.Region == "unknown" {
			continue
		}
		targets[b.Region] = append(targets[b.Region], b.Bucket)
	}
	return targets
}

// AttachSizes records storage sizes, keyed by bucket name, on every list in
// the summary.
func (s *ScanSummary) AttachSizes(sizes map[string]float64) {
	for _, list := range [][]BucketSummary{s.Buckets, s.HighRisk, s.LowerRisk} {
		for i := range list {
			if v, ok := sizes[list[i].Bucket]; ok && v >= 0 {
				n := uint64(v)
				list[i].SizeBytes = &n
			}
		}
	}
}
