package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/ppiankov/bucketspectre/internal/engine"
	"github.com/ppiankov/bucketspectre/internal/history"
	"github.com/spf13/cobra"
)

var historyFlags struct {
	dbFile   string
	format   string
	minScore int
	limit    int
}

var historyCmd = &cobra.Command{
	Use:   "history [bucket]",
	Short: "Show recorded results",
	Long: `With a bucket name, print that bucket's score in every recorded run,
oldest first. Without one, list the highest scoring bucket results across
all runs.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyFlags.dbFile, "db-file", "", "History database path (default: bucketspectre.db)")
	historyCmd.Flags().StringVar(&historyFlags.format, "format", "text", "Output format: text, json")
	historyCmd.Flags().IntVar(&historyFlags.minScore, "min-score", 0, "Minimum score when listing across runs (default: high_risk_threshold)")
	historyCmd.Flags().IntVar(&historyFlags.limit, "limit", 20, "Maximum rows when listing across runs")
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, err := openHistory(cmd, historyFlags.dbFile)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	out := cmd.OutOrStdout()
	if len(args) == 0 {
		minScore := historyFlags.minScore
		if minScore <= 0 {
			minScore = cfg.EffectiveHighRiskThreshold()
		}
		scores, err := store.HighRiskBuckets(ctx, minScore, historyFlags.limit)
		if err != nil {
			return err
		}
		if historyFlags.format == "json" {
			return writeJSON(out, scores)
		}
		return writeScores(out, scores)
	}

	var results []engine.BucketResult
	for res, err := range store.History(ctx, args[0]) {
		if err != nil {
			return err
		}
		results = append(results, res)
	}
	if historyFlags.format == "json" {
		return writeJSON(out, results)
	}
	if len(results) == 0 {
		fmt.Fprintf(out, "No recorded results for %s\n", args[0])
		return nil
	}
	return writeBucketHistory(out, results)
}

func openHistory(cmd *cobra.Command, dbFlag string) (*history.Store, error) {
	path := dbFlag
	if path == "" {
		path = cfg.DBFile()
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("history database %s not found; run 'bucketspectre scan' first", path)
	}
	return history.Open(cmd.Context(), path)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode JSON: %w", err)
	}
	return nil
}

func writeBucketHistory(w io.Writer, results []engine.BucketResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tEVALUATED\tREGION\tSCORE\tCHANGE\tFINDINGS")
	prev := -1
	for _, r := range results {
		change := "-"
		if prev >= 0 {
			change = fmt.Sprintf("%+d", r.RiskScore-prev)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\n",
			r.RunID, r.EvaluatedAt.Format("2006-01-02 15:04:05"), r.RegionOrUnknown(),
			r.RiskScore, change, findingKeys(r.Findings))
		prev = r.RiskScore
	}
	return tw.Flush()
}

func writeScores(w io.Writer, scores []history.BucketScore) error {
	if len(scores) == 0 {
		fmt.Fprintln(w, "No bucket results at or above the threshold")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "BUCKET\tREGION\tSCORE\tRUN\tEVALUATED")
	for _, s := range scores {
		region := "unknown"
		if s.Region != nil {
			region = *s.Region
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n",
			s.Bucket, region, s.RiskScore, s.RunID, s.EvaluatedAt.Format("2006-01-02 15:04:05"))
	}
	return tw.Flush()
}

func findingKeys(findings []engine.Finding) string {
	if len(findings) == 0 {
		return "-"
	}
	keys := make([]string, len(findings))
	for i, f := range findings {
		keys[i] = f.RuleKey
	}
	return strings.Join(keys, ",")
}
