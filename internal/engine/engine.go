package engine

import (
	"errors"
	"time"

	awstype "github.com/ppiankov/bucketspectre/internal/aws"
	"github.com/ppiankov/bucketspectre/internal/rules"
)

// Evaluate runs the rule set against a snapshot and scores the result.
// The output depends only on its arguments: evaluatedAt is the single clock
// reading stamped on every finding.
func Evaluate(bucket string, snap awstype.BucketSnapshot, rs *rules.RuleSet, evaluatedAt time.Time) BucketResult {
	result := BucketResult{
		Bucket:      bucket,
		Region:      snap.Region,
		CreatedAt:   snap.CreatedAt,
		Snapshot:    &snap,
		Findings:    []Finding{},
		EvaluatedAt: evaluatedAt,
	}

	for _, o := range rs.Evaluate(snap) {
		switch o.Verdict.Status {
		case rules.StatusPass:
			continue
		case rules.StatusFail:
			result.Findings = append(result.Findings, Finding{
				Bucket:      bucket,
				RuleKey:     o.Rule.Key,
				Severity:    o.Rule.Severity,
				Description: o.Rule.Description,
				Status:      StatusViolation,
				Details:     o.Verdict.Details,
				DetectedAt:  evaluatedAt,
			})
		default:
			result.Findings = append(result.Findings, Finding{
				Bucket:      bucket,
				RuleKey:     o.Rule.Key,
				Severity:    0,
				Description: "Rule could not be evaluated: " + o.Verdict.Reason,
				Status:      StatusEvaluationError,
				Details:     map[string]any{"reason": o.Verdict.Reason},
				DetectedAt:  evaluatedAt,
			})
		}
	}

	result.RiskScore = score(result.Findings)
	return result
}

// ProviderFailure is the result for a bucket whose snapshot could not be read.
// It carries a single zero-severity finding so the bucket stays visible.
func ProviderFailure(bucket awstype.Bucket, err error, evaluatedAt time.Time) BucketResult {
	details := map[string]any{"error": err.Error()}
	var perr *awstype.ProviderError
	if errors.As(err, &perr) {
		details["operation"] = perr.Op
	}
	return BucketResult{
		Bucket:    bucket.Name,
		CreatedAt: bucket.CreatedAt,
		Findings: []Finding{{
			Bucket:      bucket.Name,
			RuleKey:     KeyEvaluationError,
			Severity:    0,
			Description: "Bucket configuration could not be retrieved: " + err.Error(),
			Status:      StatusEvaluationError,
			Details:     details,
			DetectedAt:  evaluatedAt,
		}},
		EvaluatedAt: evaluatedAt,
	}
}

func score(findings []Finding) int {
	total := 0
	for _, f := range findings {
		total += f.Severity
	}
	return total
}
