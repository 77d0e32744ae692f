package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
)

const ruleWidth = 80

// Generate writes the text report: summary, high risk buckets, then every
// bucket's findings in score order.
func (r *TextReporter) Generate(data Data) error {
	w := &errWriter{w: r.Writer}
	s := data.Summary

	w.printf("%s\n", strings.Repeat("=", ruleWidth))
	w.printf("S3 BUCKET SECURITY ANALYSIS REPORT - %s\n", data.Timestamp.Format("2006-01-02 15:04:05"))
	w.printf("%s\n", strings.Repeat("=", ruleWidth))
	w.printf("%s %s  run %d", data.Tool, data.Version, s.RunID)
	if s.AccountID != "" {
		w.printf("  account %s", s.AccountID)
	}
	w.printf("\n\n")

	w.printf("SUMMARY:\n")
	w.printf("- Total buckets analyzed: %d\n", s.TotalBuckets)
	w.printf("- Buckets with security issues: %d\n", s.BucketsWithIssues)
	w.printf("- Total issues identified: %d\n", s.TotalFindings)
	if s.EvaluationErrors > 0 {
		w.printf("- Checks that could not be evaluated: %d\n", s.EvaluationErrors)
	}
	if s.Excluded > 0 {
		w.printf("- Buckets excluded: %d\n", s.Excluded)
	}
	w.printf("\n")

	if len(s.HighRisk) > 0 {
		w.printf("HIGH RISK BUCKETS (Risk Score >= %d):\n", s.HighRiskThreshold)
		for _, b := range s.HighRisk {
			w.printf("- %s (Risk Score: %d%s)\n", b.Bucket, b.RiskScore, trend(b.Delta))
		}
		w.printf("\n")
	}

	if len(s.Buckets) == 0 {
		w.printf("No buckets found.\n\n")
	} else {
		w.printf("DETAILED FINDINGS:\n")
		for _, b := range s.Buckets {
			w.printf("%s\n", strings.Repeat("-", ruleWidth))
			w.printf("Bucket: %s\n", b.Bucket)
			w.printf("Region: %s\n", b.Region)
			if b.CreatedAt.IsZero() {
				w.printf("Creation Date: unknown\n")
			} else {
				w.printf("Creation Date: %s\n", b.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			if b.SizeBytes != nil {
				w.printf("Stored Size: %s\n", humanize.Bytes(*b.SizeBytes))
			}
			w.printf("Risk Score: %d%s\n", b.RiskScore, trend(b.Delta))

			if len(b.Findings) > 0 {
				w.printf("\nIssues (%d):\n", len(b.Findings))
				for i, f := range b.Findings {
					w.printf("  %d. %s (Severity: %d)\n", i+1, f.Description, f.Severity)
				}
			} else {
				w.printf("\nNo security issues identified.\n")
			}
			w.printf("\n")
		}
	}

	w.printf("%s\n", strings.Repeat("=", ruleWidth))
	w.printf("END OF REPORT\n")
	w.printf("%s\n", strings.Repeat("=", ruleWidth))
	if w.err != nil {
		return fmt.Errorf("write text report: %w", w.err)
	}
	return nil
}

func trend(delta *int) string {
	if delta == nil {
		return ""
	}
	switch {
	case *delta > 0:
		return fmt.Sprintf(", up %d", *delta)
	case *delta < 0:
		return fmt.Sprintf(", down %d", -*delta)
	default:
		return ", unchanged"
	}
}

// errWriter keeps the first write error so the report body stays linear.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}
