package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/churnops/internal/config"
	"github.com/sells-group/churnops/internal/generate"
	"github.com/sells-group/churnops/internal/model"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate dirty synthetic customer data into the warehouse",
	Long: "Simulates customers, usage logs, support tickets and churn labels, corrupts them the way " +
		"real exports are corrupted, and writes them to the raw warehouse tables in batches.",
	Annotations: map[string]string{modeAnnotation: "generate"},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		wh, err := openWarehouse(ctx)
		if err != nil {
			return err
		}
		defer wh.Close() //nolint:errcheck

		var opts []generate.Option
		if noProgress, _ := cmd.Flags().GetBool("no-progress"); !noProgress {
			opts = append(opts, generate.WithProgress(newBarProgress(os.Stderr)))
		}

		res, err := generate.NewEngine(wh, cfg, opts...).Run(ctx)
		if err != nil {
			return err
		}

		zap.L().Info("generation complete",
			zap.String("run_id", res.RunID),
			zap.Duration("elapsed", res.Elapsed),
		)
		formatGenerateResult(os.Stdout, res)
		return nil
	},
}

func init() {
	generateCmd.Flags().Int("customers", 0, "number of customers (default from config)")
	generateCmd.Flags().Int("batch-size", 0, "customers per batch (default from config)")
	generateCmd.Flags().Int("orphans", -1, "orphan usage rows appended after the last batch (default from config)")
	generateCmd.Flags().Uint64("seed", 0, "random seed; 0 derives one from the clock (default from config)")
	generateCmd.Flags().Bool("no-progress", false, "disable the progress bar")

	overrides[generateCmd.Name()] = func(cmd *cobra.Command, c *config.Config) {
		if v, _ := cmd.Flags().GetInt("customers"); v > 0 {
			c.Generator.TotalCustomers = v
		}
		if v, _ := cmd.Flags().GetInt("batch-size"); v > 0 {
			c.Generator.BatchSize = v
		}
		if v, _ := cmd.Flags().GetInt("orphans"); v >= 0 {
			c.Generator.OrphanLogs = v
		}
		if cmd.Flags().Changed("seed") {
			c.Generator.Seed, _ = cmd.Flags().GetUint64("seed")
		}
	}
	rootCmd.AddCommand(generateCmd)
}

// barProgress renders batch progress on a terminal.
type barProgress struct {
	out io.Writer
	bar *progressbar.ProgressBar
}

func newBarProgress(out io.Writer) *barProgress {
	return &barProgress{out: out}
}

func (p *barProgress) Start(batches int) {
	p.bar = progressbar.NewOptions(batches,
		progressbar.OptionSetWriter(p.out),
		progressbar.OptionSetDescription("writing batches"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() { _, _ = fmt.Fprintln(p.out) }),
	)
}

func (p *barProgress) Advance(r model.BatchResult) {
	if p.bar == nil {
		return
	}
	p.bar.Describe(fmt.Sprintf("batch %d", r.Index))
	_ = p.bar.Add(1)
}

func (p *barProgress) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

// formatGenerateResult writes a run summary to w.
func formatGenerateResult(out io.Writer, res *generate.Result) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%s\n", res.RunID)
	_, _ = fmt.Fprintf(w, "Seed:\t%d\n", res.Seed)
	_, _ = fmt.Fprintf(w, "Batches:\t%d\n", res.Totals.Batches)
	_, _ = fmt.Fprintf(w, "Customers:\t%d\n", res.Totals.Customers)
	_, _ = fmt.Fprintf(w, "Usage rows:\t%d\n", res.Totals.UsageRows)
	_, _ = fmt.Fprintf(w, "Tickets:\t%d\n", res.Totals.Tickets)
	_, _ = fmt.Fprintf(w, "Churned:\t%d\n", res.Totals.Churned)
	c := res.Corruption
	_, _ = fmt.Fprintf(w, "Corruption:\tplan null %d, plan typo %d, mrr currency %d, mrr invalid %d\n",
		c.PlanNull, c.PlanTypo, c.MRRCurrency, c.MRRInvalid)
	_, _ = fmt.Fprintf(w, "\tpriority null %d, ticket typo %d, ticket duplicates %d\n",
		c.PriorityNull, c.TicketTypo, c.TicketDupe)
	_, _ = fmt.Fprintf(w, "Elapsed:\t%s\n", res.Elapsed.Round(time.Millisecond))
	_ = w.Flush()
}
