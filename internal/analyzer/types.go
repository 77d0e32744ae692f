package analyzer

import (
	"time"

	"github.com/ppiankov/bucketspectre/internal/engine"
)

// BucketSummary is one bucket's line in the summary.
type BucketSummary struct {
	Bucket         string           `json:"bucket"`
	Region         string           `json:"region"`
	CreatedAt      time.Time        `json:"created_at"`
	RiskScore      int              `json:"risk_score"`
	Findings       []engine.Finding `json:"findings"`
	PriorScore     *int             `json:"prior_score,omitempty"`
	Delta          *int             `json:"delta,omitempty"`
	ProviderFailed bool             `json:"provider_failed,omitempty"`
	SizeBytes      *uint64          `json:"size_bytes,omitempty"`
}

// ScanSummary holds aggregated statistics about one scan run.
type ScanSummary struct {
	RunID             int64           `json:"run_id"`
	StartedAt         time.Time       `json:"started_at"`
	AccountID         string          `json:"account_id,omitempty"`
	TotalBuckets      int             `json:"total_buckets"`
	BucketsWithIssues int             `json:"buckets_with_issues"`
	TotalFindings     int             `json:"total_findings"`
	EvaluationErrors  int             `json:"evaluation_errors"`
	Excluded          int             `json:"excluded"`
	HighRiskThreshold int             `json:"high_risk_threshold"`
	Buckets           []BucketSummary `json:"buckets"`
	HighRisk          []BucketSummary `json:"high_risk"`
	LowerRisk         []BucketSummary `json:"lower_risk"`
	ByRule            map[string]int  `json:"by_rule"`
}

// AssemblerConfig controls summary assembly.
type AssemblerConfig struct {
	HighRiskThreshold int
	PriorScores       map[string]int
}
