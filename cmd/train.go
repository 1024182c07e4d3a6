package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/churnops/internal/config"
	"github.com/sells-group/churnops/internal/features"
	"github.com/sells-group/churnops/internal/resilience"
	"github.com/sells-group/churnops/internal/trainer"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the churn model on the KPI table",
	Long: "Loads the customer KPI table (or a CSV export of it), fits the configured classifier on a " +
		"stratified 80/20 split with balanced class weights, prints the evaluation and saves the model.",
	Annotations: map[string]string{modeAnnotation: "train"},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		schema := features.Default()

		var src trainer.Source
		if input, _ := cmd.Flags().GetString("input"); input != "" {
			src = trainer.NewCSVSource(input, schema)
		} else {
			if err := cfg.Validate("warehouse"); err != nil {
				return err
			}
			wh, err := openWarehouse(ctx)
			if err != nil {
				return err
			}
			defer wh.Close() //nolint:errcheck
			src = trainer.NewWarehouseSource(wh, cfg.Trainer.KPITable, schema, resilience.FromConfig(cfg.Retry))
		}

		var opts []trainer.Option
		if report, _ := cmd.Flags().GetString("report"); report != "" {
			opts = append(opts, trainer.WithReport(report))
		}

		res, err := trainer.New(src, schema, cfg.Trainer, opts...).Run(ctx)
		if err != nil {
			return err
		}

		zap.L().Info("training complete",
			zap.String("model", res.ModelPath),
			zap.Duration("elapsed", res.Elapsed),
		)
		formatTrainResult(os.Stdout, res)
		return nil
	},
}

func init() {
	trainCmd.Flags().String("input", "", "train from a CSV export instead of the warehouse")
	trainCmd.Flags().String("report", "", "also write an xlsx evaluation report to this path")
	trainCmd.Flags().String("algorithm", "", "random_forest or gradient_boosting (default from config)")
	trainCmd.Flags().String("model", "", "output model path (default from config)")

	overrides[trainCmd.Name()] = func(cmd *cobra.Command, c *config.Config) {
		if v, _ := cmd.Flags().GetString("algorithm"); v != "" {
			c.Trainer.Algorithm = v
		}
		if v, _ := cmd.Flags().GetString("model"); v != "" {
			c.Trainer.ModelPath = v
		}
	}
	rootCmd.AddCommand(trainCmd)
}

// formatTrainResult prints the evaluation in the classification-report
// layout followed by where the model went.
func formatTrainResult(out io.Writer, res *trainer.Result) {
	_, _ = fmt.Fprintf(out, "Source: %s (%d rows, %d dropped without target, %d nulls filled)\n",
		res.Source, res.Cleaning.Rows, res.Cleaning.DroppedTarget, res.Cleaning.FilledValues)
	_, _ = fmt.Fprintf(out, "Train/test: %d/%d\n\n", res.Header.TrainRows, res.Header.TestRows)
	_, _ = fmt.Fprintf(out, "Accuracy: %.2f%%\n\n", res.Report.Accuracy*100)
	_, _ = fmt.Fprint(out, res.Report.String())
	_, _ = fmt.Fprintf(out, "\nROC AUC: %.3f\n", res.Report.AUC)
	_, _ = fmt.Fprintf(out, "Model saved to %s\n", res.ModelPath)
	if res.ReportPath != "" {
		_, _ = fmt.Fprintf(out, "Report saved to %s\n", res.ReportPath)
	}
}
