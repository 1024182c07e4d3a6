package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/churnops/internal/model"
)

var runsCmd = &cobra.Command{
	Use:         "runs",
	Short:       "List generation runs",
	Long:        "Shows the generation log: one row per generate invocation, newest first.",
	Annotations: map[string]string{modeAnnotation: "warehouse"},
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		wh, err := openWarehouse(ctx)
		if err != nil {
			return err
		}
		defer wh.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := wh.ListRuns(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if stats, _ := cmd.Flags().GetBool("stats"); stats {
			formatRunStats(os.Stdout, computeRunStats(runs))
			return nil
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(runs)
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}
		formatRunsList(os.Stdout, runs)
		return nil
	},
}

func init() {
	runsCmd.Flags().Int("limit", 20, "max number of runs to display")
	runsCmd.Flags().Bool("json", false, "print runs as JSON")
	runsCmd.Flags().Bool("stats", false, "print aggregate statistics over the listed runs")
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.GenerationRun) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATUS\tSEED\tBATCHES\tCUSTOMERS\tUSAGE\tTICKETS\tCHURNED\tSTARTED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t------\t----\t-------\t---------\t-----\t-------\t-------\t-------\t--------")

	for _, r := range runs {
		dur := ""
		if r.CompletedAt != nil {
			dur = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			truncateID(r.ID),
			r.Status,
			r.Seed,
			batchProgress(r),
			r.TotalCustomers,
			r.UsageRows,
			r.TicketRows,
			r.Churned,
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
		)
		if r.Status == model.RunStatusFailed && r.Error != "" {
			_, _ = fmt.Fprintf(w, "\t  error: %s\n", truncate(r.Error, 80))
		}
	}
	_ = w.Flush()
}

// runStats holds aggregate statistics computed from a set of runs.
type runStats struct {
	Total      int
	Complete   int
	Failed     int
	Running    int
	Customers  int64
	Churned    int64
	AvgDurSecs float64
}

// computeRunStats computes aggregate statistics from a list of runs.
func computeRunStats(runs []model.GenerationRun) runStats {
	var s runStats
	s.Total = len(runs)

	var totalDur time.Duration
	var durCount int

	for _, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			s.Complete++
			s.Customers += int64(r.TotalCustomers)
			s.Churned += r.Churned
			if r.CompletedAt != nil {
				totalDur += r.CompletedAt.Sub(r.StartedAt)
				durCount++
			}
		case model.RunStatusFailed:
			s.Failed++
		default:
			s.Running++
		}
	}

	if durCount > 0 {
		s.AvgDurSecs = totalDur.Seconds() / float64(durCount)
	}
	return s
}

// formatRunStats writes aggregate stats to w.
func formatRunStats(out io.Writer, s runStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Complete:\t%d\n", s.Complete)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "Running:\t%d\n", s.Running)
	_, _ = fmt.Fprintf(w, "Customers generated:\t%d\n", s.Customers)
	if s.Customers > 0 {
		_, _ = fmt.Fprintf(w, "Churn rate:\t%.1f%%\n", float64(s.Churned)/float64(s.Customers)*100)
	}
	if s.AvgDurSecs > 0 {
		_, _ = fmt.Fprintf(w, "Avg duration:\t%.1fs\n", s.AvgDurSecs)
	}
	_ = w.Flush()
}

// batchProgress renders written/expected batches.
func batchProgress(r model.GenerationRun) string {
	if r.BatchSize <= 0 {
		return fmt.Sprint(r.BatchesWritten)
	}
	expected := (r.TotalCustomers + r.BatchSize - 1) / r.BatchSize
	return fmt.Sprintf("%d/%d", r.BatchesWritten, expected)
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
