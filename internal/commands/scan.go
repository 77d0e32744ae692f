package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/ppiankov/bucketspectre/internal/analyzer"
	"github.com/ppiankov/bucketspectre/internal/aws"
	"github.com/ppiankov/bucketspectre/internal/engine"
	"github.com/ppiankov/bucketspectre/internal/history"
	"github.com/ppiankov/bucketspectre/internal/metrics"
	"github.com/ppiankov/bucketspectre/internal/report"
	"github.com/ppiankov/bucketspectre/internal/rules"
	"github.com/spf13/cobra"
)

const defaultTimeout = 10 * time.Minute

var scanFlags struct {
	regions           []string
	format            string
	outputFile        string
	dbFile            string
	metricsFile       string
	concurrency       int
	highRiskThreshold int
	bucketSizes       bool
	timeout           time.Duration
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan S3 buckets for security misconfigurations",
	Long: `Scan every S3 bucket visible to the credentials, evaluate each against the
built-in security rules, record the run in the history database, and print a
report ordered by risk score.

A bucket whose configuration cannot be read is reported with an
evaluation_error finding and does not fail the scan.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringSliceVar(&scanFlags.regions, "regions", nil, "Only report buckets in these regions")
	scanCmd.Flags().StringVar(&scanFlags.format, "format", "text", "Output format: text, json, sarif, spectrehub")
	scanCmd.Flags().StringVarP(&scanFlags.outputFile, "output", "o", "", "Output file path (default: stdout)")
	scanCmd.Flags().StringVar(&scanFlags.dbFile, "db-file", "", "History database path (default: bucketspectre.db)")
	scanCmd.Flags().StringVar(&scanFlags.metricsFile, "metrics-file", "", "Write Prometheus textfile metrics to this path")
	scanCmd.Flags().IntVar(&scanFlags.concurrency, "concurrency", 0, "Buckets fetched in parallel (default: 8)")
	scanCmd.Flags().IntVar(&scanFlags.highRiskThreshold, "high-risk-threshold", 0, "Score at which a bucket is high risk (default: 50)")
	scanCmd.Flags().BoolVar(&scanFlags.bucketSizes, "bucket-sizes", false, "Look up stored size of high risk buckets in CloudWatch")
	scanCmd.Flags().DurationVar(&scanFlags.timeout, "timeout", defaultTimeout, "Scan timeout")
}

func runScan(cmd *cobra.Command, _ []string) error {
	// Apply config file defaults where flags were not explicitly set
	applyConfigDefaults()
	if _, err := selectReporter(scanFlags.format, io.Discard); err != nil {
		return err
	}

	// Weights are validated before any AWS call
	ruleSet, err := rules.Load(cfg.RiskWeights)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if scanFlags.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, scanFlags.timeout)
		defer cancel()
	}

	prof := profile
	if prof == "" {
		prof = cfg.Profile
	}

	client, err := aws.NewClient(ctx, prof, "")
	if err != nil {
		return enhanceError("initialize AWS client", err)
	}

	if len(scanFlags.regions) > 0 {
		enabled, err := client.ListEnabledRegions(ctx)
		if err != nil {
			slog.Warn("Could not verify region filter", "error", err)
		} else if err := validateRegions(scanFlags.regions, enabled); err != nil {
			return err
		}
	}

	accountID, err := client.AccountID(ctx)
	if err != nil {
		slog.Warn("Could not resolve account id", "error", err)
	}

	store, err := history.Open(ctx, scanFlags.dbFile)
	if err != nil {
		return enhanceError("open history", err)
	}
	defer func() { _ = store.Close() }()

	runner := engine.NewRunner(aws.NewS3SnapshotProvider(client.S3()), store.Runner(), ruleSet, engine.RunnerConfig{
		Concurrency: scanFlags.concurrency,
		Exclude:     cfg.Exclude,
		Regions:     scanFlags.regions,
		AccountID:   accountID,
	})

	var recorder *metrics.Recorder
	if scanFlags.metricsFile != "" {
		recorder = metrics.New(scanFlags.highRiskThreshold)
		runner.SetObserver(recorder)
	}

	run, err := runner.Run(ctx)
	if err != nil {
		return enhanceError("scan buckets", err)
	}
	slog.Info("Scan complete", "run_id", run.ID, "buckets", len(run.Results), "findings", run.FindingCount())

	summary := analyzer.Assemble(run, analyzer.AssemblerConfig{
		HighRiskThreshold: scanFlags.highRiskThreshold,
	})

	if scanFlags.bucketSizes {
		fetcher := aws.NewBucketSizeFetcher(client.CloudWatch)
		sizes, err := fetcher.FetchSizes(ctx, summary.SizeTargets())
		if err != nil {
			slog.Warn("Could not fetch bucket sizes", "error", err)
		} else {
			summary.AttachSizes(sizes)
		}
	}

	data := report.Data{
		Tool:      "bucketspectre",
		Version:   version,
		Timestamp: time.Now().UTC(),
		Target: report.Target{
			Type:    "aws-account",
			URIHash: computeTargetHash(accountID, scanFlags.regions),
		},
		Config:  reportConfig(ruleSet),
		Summary: *summary,
	}

	if err := writeReport(scanFlags.format, scanFlags.outputFile, data); err != nil {
		return err
	}

	if recorder != nil {
		if err := recorder.WriteTextfile(scanFlags.metricsFile); err != nil {
			return err
		}
	}
	return nil
}

func applyConfigDefaults() {
	if scanFlags.format == "text" && cfg.Format != "" {
		scanFlags.format = cfg.Format
	}
	if len(scanFlags.regions) == 0 && len(cfg.Regions) > 0 {
		scanFlags.regions = cfg.Regions
	}
	if scanFlags.timeout == defaultTimeout && cfg.TimeoutDuration() > 0 {
		scanFlags.timeout = cfg.TimeoutDuration()
	}
	if scanFlags.dbFile == "" {
		scanFlags.dbFile = cfg.DBFile()
	}
	if scanFlags.concurrency <= 0 {
		scanFlags.concurrency = cfg.EffectiveConcurrency()
	}
	if scanFlags.highRiskThreshold <= 0 {
		scanFlags.highRiskThreshold = cfg.EffectiveHighRiskThreshold()
	}
}

func reportConfig(rs *rules.RuleSet) report.ReportConfig {
	weights := make(map[string]int)
	for _, r := range rs.Rules() {
		weights[r.Key] = r.Severity
	}
	exclusions := append([]string{}, cfg.Exclude.Buckets...)
	for _, p := range cfg.Exclude.Prefixes {
		exclusions = append(exclusions, p+"*")
	}
	return report.ReportConfig{
		Regions:           scanFlags.regions,
		HighRiskThreshold: scanFlags.highRiskThreshold,
		Concurrency:       scanFlags.concurrency,
		RiskWeights:       weights,
		Exclusions:        exclusions,
	}
}

func writeReport(format, outputFile string, data report.Data) error {
	var w io.Writer = os.Stdout
	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer func() { _ = f.Close() }()
		w = f
	}

	reporter, err := selectReporter(format, w)
	if err != nil {
		return err
	}
	return reporter.Generate(data)
}

func selectReporter(format string, w io.Writer) (report.Reporter, error) {
	switch format {
	case "json":
		return &report.JSONReporter{Writer: w}, nil
	case "text":
		return &report.TextReporter{Writer: w}, nil
	case "sarif":
		return &report.SARIFReporter{Writer: w}, nil
	case "spectrehub":
		return &report.SpectreHubReporter{Writer: w}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s (use text, json, sarif, or spectrehub)", format)
	}
}
