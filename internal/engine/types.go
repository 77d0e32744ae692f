package engine

import (
	"time"

	awstype "github.com/ppiankov/bucketspectre/internal/aws"
)

// KeyEvaluationError is the reserved rule key for a bucket whose
// configuration could not be retrieved at all.
const KeyEvaluationError = "evaluation_error"

// FindingStatus distinguishes real violations from rules that could not run.
type FindingStatus string

const (
	StatusViolation       FindingStatus = "violation"
	StatusEvaluationError FindingStatus = "evaluation_error"
)

// Finding is a single rule violation, or an inconclusive rule, detected for a
// bucket in one scan. Severity is copied from the rule at evaluation time.
type Finding struct {
	Bucket      string         `json:"bucket"`
	RuleKey     string         `json:"rule_key"`
	Severity    int            `json:"severity"`
	Description string         `json:"description"`
	Status      FindingStatus  `json:"status"`
	Details     map[string]any `json:"details,omitempty"`
	DetectedAt  time.Time      `json:"detected_at"`
}

// BucketResult is the evaluation of one bucket in one run.
type BucketResult struct {
	Bucket      string                  `json:"bucket"`
	RunID       int64                   `json:"run_id"`
	Region      *string                 `json:"region"`
	CreatedAt   time.Time               `json:"created_at"`
	Snapshot    *awstype.BucketSnapshot `json:"-"`
	Findings    []Finding               `json:"findings"`
	RiskScore   int                     `json:"risk_score"`
	EvaluatedAt time.Time               `json:"evaluated_at"`
}

// RegionOrUnknown returns the region, or "unknown" when absent.
func (r BucketResult) RegionOrUnknown() string {
	if r.Region == nil || *r.Region == "" {
		return "unknown"
	}
	return *r.Region
}

// HasIssues reports whether any finding raises the score.
func (r BucketResult) HasIssues() bool {
	for _, f := range r.Findings {
		if f.Severity > 0 {
			return true
		}
	}
	return false
}

// ProviderFailed reports whether the snapshot could not be retrieved.
func (r BucketResult) ProviderFailed() bool {
	return len(r.Findings) == 1 && r.Findings[0].RuleKey == KeyEvaluationError
}

// ScanRun is one complete pass over the discovered buckets.
type ScanRun struct {
	ID          int64          `json:"run_id"`
	StartedAt   time.Time      `json:"started_at"`
	AccountID   string         `json:"account_id,omitempty"`
	Results     []BucketResult `json:"results"`
	Excluded    int            `json:"excluded"`
	PriorScores map[string]int `json:"-"`
}

// FindingCount is the number of findings across all results.
func (r ScanRun) FindingCount() int {
	n := 0
	for _, res := range r.Results {
		n += len(res.Findings)
	}
	return n
}
