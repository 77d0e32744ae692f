package report

import (
	"io"
	"time"

	"github.com/ppiankov/bucketspectre/internal/analyzer"
)

// Reporter renders scan results to an output.
type Reporter interface {
	Generate(data Data) error
}

// Target identifies what was scanned without exposing the raw identifier.
type Target struct {
	Type    string `json:"type"`
	URIHash string `json:"uri_hash"`
}

// ReportConfig echoes the settings the scan ran with.
type ReportConfig struct {
	Regions           []string       `json:"regions,omitempty"`
	HighRiskThreshold int            `json:"high_risk_threshold"`
	Concurrency       int            `json:"concurrency"`
	RiskWeights       map[string]int `json:"risk_weights"`
	Exclusions        []string       `json:"exclusions,omitempty"`
}

// Data is everything a reporter needs.
type Data struct {
	Tool      string               `json:"tool"`
	Version   string               `json:"version"`
	Timestamp time.Time            `json:"timestamp"`
	Target    Target               `json:"target"`
	Config    ReportConfig         `json:"config"`
	Summary   analyzer.ScanSummary `json:"summary"`
}

// TextReporter writes a human-readable report.
type TextReporter struct {
	Writer io.Writer
}

// JSONReporter writes the spectre/v1 JSON envelope.
type JSONReporter struct {
	Writer io.Writer
}

// SpectreHubReporter writes the spectrehub/v1 envelope for aggregation.
type SpectreHubReporter struct {
	Writer io.Writer
}

// SARIFReporter writes SARIF v2.1.0 output.
type SARIFReporter struct {
	Writer io.Writer
}
