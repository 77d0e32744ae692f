package report

import (
	"encoding/json"
	"fmt"

	"github.com/ppiankov/bucketspectre/internal/engine"
	"github.com/ppiankov/bucketspectre/internal/rules"
)

const sarifSchema = "https://raw.githubusercontent.com/oasis-tcs/sarif-spec/main/sarif-2.1/schema/sarif-schema-2.1.0.json"

// sarifReport is the top-level SARIF v2.1.0 structure.
type sarifReport struct {
	Schema  string     `json:"$schema"`
	Version string     `json:"version"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool    sarifTool     `json:"tool"`
	Results []sarifResult `json:"results"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifDriver struct {
	Name    string      `json:"name"`
	Version string      `json:"version"`
	Rules   []sarifRule `json:"rules"`
}

type sarifRule struct {
	ID               string            `json:"id"`
	ShortDescription sarifMessage      `json:"shortDescription"`
	DefaultConfig    sarifDefaultLevel `json:"defaultConfiguration"`
}

type sarifDefaultLevel struct {
	Level string `json:"level"`
}

type sarifMessage struct {
	Text string `json:"text"`
}

type sarifResult struct {
	RuleID    string         `json:"ruleId"`
	Level     string         `json:"level"`
	Message   sarifMessage   `json:"message"`
	Locations []sarifLoc     `json:"locations,omitempty"`
	Props     map[string]any `json:"properties,omitempty"`
}

type sarifLoc struct {
	PhysicalLocation sarifPhysical `json:"physicalLocation"`
}

type sarifPhysical struct {
	ArtifactLocation sarifArtifact `json:"artifactLocation"`
}

type sarifArtifact struct {
	URI string `json:"uri"`
}

// Generate writes SARIF v2.1.0 output.
func (r *SARIFReporter) Generate(data Data) error {
	results := make([]sarifResult, 0, data.Summary.TotalFindings)

	for _, b := range data.Summary.Buckets {
		for _, f := range b.Findings {
			results = append(results, sarifResult{
				RuleID:  f.RuleKey,
				Level:   sarifLevel(f),
				Message: sarifMessage{Text: fmt.Sprintf("%s: %s", b.Bucket, f.Description)},
				Locations: []sarifLoc{
					{
						PhysicalLocation: sarifPhysical{
							ArtifactLocation: sarifArtifact{URI: bucketURI(b)},
						},
					},
				},
				Props: map[string]any{
					"region":    b.Region,
					"severity":  f.Severity,
					"riskScore": b.RiskScore,
					"status":    f.Status,
					"details":   f.Details,
				},
			})
		}
	}

	report := sarifReport{
		Schema:  sarifSchema,
		Version: "2.1.0",
		Runs: []sarifRun{
			{
				Tool: sarifTool{
					Driver: sarifDriver{
						Name:    data.Tool,
						Version: data.Version,
						Rules:   buildSARIFRules(data.Config.RiskWeights),
					},
				},
				Results: results,
			},
		},
	}

	enc := json.NewEncoder(r.Writer)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encode SARIF report: %w", err)
	}
	return nil
}

func sarifLevel(f engine.Finding) string {
	if f.Status == engine.StatusEvaluationError {
		return "note"
	}
	return levelForWeight(f.Severity)
}

func levelForWeight(weight int) string {
	switch severityBand(weight) {
	case "high":
		return "error"
	case "medium":
		return "warning"
	default:
		return "note"
	}
}

func buildSARIFRules(weights map[string]int) []sarifRule {
	var out []sarifRule
	for _, r := range rules.MustDefault().Rules() {
		w, ok := weights[r.Key]
		if !ok {
			w = r.Severity
		}
		out = append(out, sarifRule{
			ID:               r.Key,
			ShortDescription: sarifMessage{Text: r.Description},
			DefaultConfig:    sarifDefaultLevel{Level: levelForWeight(w)},
		})
	}
	return append(out, sarifRule{
		ID:               engine.KeyEvaluationError,
		ShortDescription: sarifMessage{Text: "Bucket configuration could not be retrieved"},
		DefaultConfig:    sarifDefaultLevel{Level: "note"},
	})
}
