package commands

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/ppiankov/bucketspectre/internal/analyzer"
	"github.com/ppiankov/bucketspectre/internal/engine"
	"github.com/ppiankov/bucketspectre/internal/history"
	"github.com/ppiankov/bucketspectre/internal/report"
	"github.com/spf13/cobra"
)

var runsFlags struct {
	dbFile string
	format string
	limit  int
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded scan runs",
	Args:  cobra.NoArgs,
	RunE:  runRuns,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Print the report of a recorded run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

func init() {
	runsCmd.PersistentFlags().StringVar(&runsFlags.dbFile, "db-file", "", "History database path (default: bucketspectre.db)")
	runsCmd.PersistentFlags().StringVar(&runsFlags.format, "format", "text", "Output format (list: text, json; show: text, json, sarif, spectrehub)")
	runsCmd.Flags().IntVar(&runsFlags.limit, "limit", 10, "Number of runs to list")
	runsCmd.AddCommand(runsShowCmd)
}

func runRuns(cmd *cobra.Command, _ []string) error {
	store, err := openHistory(cmd, runsFlags.dbFile)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	runs, err := store.ListRuns(cmd.Context(), runsFlags.limit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if runsFlags.format == "json" {
		return writeJSON(out, runs)
	}
	return writeRuns(out, runs)
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid run id %q", args[0])
	}

	store, err := openHistory(cmd, runsFlags.dbFile)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx := cmd.Context()
	meta, ok, err := store.GetRun(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("run %d not found", id)
	}
	results, err := store.RunResults(ctx, id)
	if err != nil {
		return err
	}

	run := &engine.ScanRun{
		ID:        meta.ID,
		StartedAt: meta.StartedAt,
		AccountID: meta.AccountID,
		Results:   results,
	}
	summary := analyzer.Assemble(run, analyzer.AssemblerConfig{
		HighRiskThreshold: cfg.EffectiveHighRiskThreshold(),
	})
	data := report.Data{
		Tool:      "bucketspectre",
		Version:   version,
		Timestamp: meta.StartedAt,
		Target: report.Target{
			Type:    "aws-account",
			URIHash: computeTargetHash(meta.AccountID, nil),
		},
		Config:  report.ReportConfig{HighRiskThreshold: summary.HighRiskThreshold},
		Summary: *summary,
	}

	reporter, err := selectReporter(runsFlags.format, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	return reporter.Generate(data)
}

func writeRuns(w io.Writer, runs []history.RunSummary) error {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No recorded runs")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tDURATION\tACCOUNT\tBUCKETS\tFINDINGS")
	for _, r := range runs {
		account := r.AccountID
		if account == "" {
			account = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%d\n",
			r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), runDuration(r),
			account, r.BucketCount, r.FindingCount)
	}
	return tw.Flush()
}

func runDuration(r history.RunSummary) string {
	if r.CompletedAt.IsZero() || r.CompletedAt.Before(r.StartedAt) {
		return "-"
	}
	return r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
}
