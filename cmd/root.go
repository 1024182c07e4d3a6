package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/churnops/internal/config"
)

var cfg *config.Config

// modeAnnotation names the config section a command validates.
const modeAnnotation = "config-mode"

// overrides apply command flags to the loaded config before validation.
var overrides = map[string]func(cmd *cobra.Command, c *config.Config){}

var rootCmd = &cobra.Command{
	Use:   "churnops",
	Short: "Customer churn analytics: synthetic data, model training and a risk dashboard",
	Long: "Generates dirty synthetic customer, usage and ticket records into a warehouse, " +
		"trains a churn classifier on the cleaned KPI table, and serves a churn-risk dashboard.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}

		if fn, ok := overrides[cmd.Name()]; ok {
			fn(cmd, cfg)
		}
		if mode := commandMode(cmd); mode != "" {
			if err := cfg.Validate(mode); err != nil {
				return err
			}
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// commandMode walks up from cmd to the nearest mode annotation.
func commandMode(cmd *cobra.Command) string {
	for c := cmd; c != nil; c = c.Parent() {
		if m, ok := c.Annotations[modeAnnotation]; ok {
			return m
		}
	}
	return ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
