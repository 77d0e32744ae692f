package report

import (
	"encoding/json"
	"fmt"

	"github.com/ppiankov/bucketspectre/internal/analyzer"
)

type jsonEnvelope struct {
	Schema string `json:"$schema"`
	Data
}

// Generate writes the spectre/v1 JSON report.
func (r *JSONReporter) Generate(data Data) error {
	enc := json.NewEncoder(r.Writer)
	enc.SetIndent("", "  ")
	if err := enc.Encode(jsonEnvelope{Schema: "spectre/v1", Data: data}); err != nil {
		return fmt.Errorf("encode JSON report: %w", err)
	}
	return nil
}

type hubFinding struct {
	ID       string         `json:"id"`
	Severity string         `json:"severity"`
	Location string         `json:"location"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type hubEnvelope struct {
	Schema    string       `json:"$schema"`
	Tool      string       `json:"tool"`
	Version   string       `json:"version"`
	Timestamp string       `json:"timestamp"`
	Target    Target       `json:"target"`
	Findings  []hubFinding `json:"findings"`
	Summary   hubSummary   `json:"summary"`
}

type hubSummary struct {
	Total  int `json:"total"`
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

// Generate writes the spectrehub/v1 envelope: one flat finding per rule
// violation, with severity bucketed from the rule weight.
func (r *SpectreHubReporter) Generate(data Data) error {
	env := hubEnvelope{
		Schema:    "spectrehub/v1",
		Tool:      data.Tool,
		Version:   data.Version,
		Timestamp: data.Timestamp.UTC().Format("2006-01-02T15:04:05Z"),
		Target:    data.Target,
		Findings:  []hubFinding{},
	}
	for _, b := range data.Summary.Buckets {
		for _, f := range b.Findings {
			sev := severityBand(f.Severity)
			env.Findings = append(env.Findings, hubFinding{
				ID:       f.RuleKey,
				Severity: sev,
				Location: bucketURI(b),
				Message:  f.Description,
				Metadata: f.Details,
			})
			env.Summary.Total++
			switch sev {
			case "high":
				env.Summary.High++
			case "medium":
				env.Summary.Medium++
			default:
				env.Summary.Low++
			}
		}
	}

	enc := json.NewEncoder(r.Writer)
	enc.SetIndent("", "  ")
	if err := enc.Encode(env); err != nil {
		return fmt.Errorf("encode spectrehub report: %w", err)
	}
	return nil
}

// severityBand maps a rule weight to a coarse level.
func severityBand(weight int) string {
	switch {
	case weight >= 80:
		return "high"
	case weight >= 40:
		return "medium"
	default:
		return "low"
	}
}

func bucketURI(b analyzer.BucketSummary) string {
	return fmt.Sprintf("s3://%s", b.Bucket)
}
