package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/churnops/internal/config"
	"github.com/sells-group/churnops/internal/features"
)

var predictCmd = &cobra.Command{
	Use:         "predict",
	Short:       "Score one customer from the command line",
	Long:        "Scores one customer with the trained model. Every feature has a flag; unset flags use the schema default.",
	Annotations: map[string]string{modeAnnotation: "predict"},
	RunE: func(cmd *cobra.Command, args []string) error {
		schema := features.Default()
		pred, err := loadPredictor(cfg.Dashboard.ModelPath, schema)
		if err != nil {
			return err
		}

		values := make(map[string]float64, schema.Len())
		for _, f := range schema.Features {
			v, err := cmd.Flags().GetFloat64(flagName(f.Name))
			if err != nil {
				return err
			}
			values[f.Name] = v
		}

		p, err := pred.Predict(values)
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return json.NewEncoder(os.Stdout).Encode(p)
		}
		fmt.Printf("Churn probability: %.2f%%\n", p.Probability*100)
		fmt.Printf("Risk tier: %s\n", p.Tier)
		fmt.Printf("Recommendation: %s\n", p.Recommendation)
		return nil
	},
}

// flagName turns a column name into a flag name.
func flagName(column string) string {
	b := []byte(column)
	for i, c := range b {
		if c == '_' {
			b[i] = '-'
		}
	}
	return string(b)
}

func init() {
	for _, f := range features.Default().Features {
		predictCmd.Flags().Float64(flagName(f.Name), f.Default, f.Label)
	}
	predictCmd.Flags().String("model", "", "model path (default from config)")
	predictCmd.Flags().Bool("json", false, "print the prediction as JSON")

	overrides[predictCmd.Name()] = func(cmd *cobra.Command, c *config.Config) {
		if v, _ := cmd.Flags().GetString("model"); v != "" {
			c.Dashboard.ModelPath = v
		}
	}
	rootCmd.AddCommand(predictCmd)
}
