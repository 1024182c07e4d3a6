package main

import (
	"errors"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/churnops/internal/artifact"
	"github.com/sells-group/churnops/internal/config"
	"github.com/sells-group/churnops/internal/dashboard"
	"github.com/sells-group/churnops/internal/features"
	"github.com/sells-group/churnops/internal/predict"
)

var serveCmd = &cobra.Command{
	Use:         "serve",
	Short:       "Start the churn-risk dashboard",
	Long:        "Loads the trained model and serves the prediction form, a JSON API and Prometheus metrics.",
	Annotations: map[string]string{modeAnnotation: "serve"},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		pred, err := loadPredictor(cfg.Dashboard.ModelPath, features.Default())
		if err != nil {
			return err
		}

		srv, err := dashboard.New(pred, cfg.Dashboard)
		if err != nil {
			return err
		}
		return srv.Run(ctx)
	},
}

// loadPredictor loads the model at path and turns the common failures
// into messages that say what to do next.
func loadPredictor(path string, schema *features.Schema) (*predict.Predictor, error) {
	pred, err := predict.Load(path, schema)
	switch {
	case errors.Is(err, artifact.ErrNotFound):
		return nil, eris.Errorf("no trained model at %s: run `churnops train` first", path)
	case errors.Is(err, artifact.ErrSchemaMismatch):
		return nil, eris.Wrapf(err, "model at %s does not match the feature schema: retrain with `churnops train`", path)
	case err != nil:
		return nil, err
	}
	return pred, nil
}

func init() {
	serveCmd.Flags().Int("port", 0, "server port (default from config)")
	serveCmd.Flags().String("model", "", "model path (default from config)")

	overrides[serveCmd.Name()] = func(cmd *cobra.Command, c *config.Config) {
		if v, _ := cmd.Flags().GetInt("port"); v > 0 {
			c.Dashboard.Port = v
		}
		if v, _ := cmd.Flags().GetString("model"); v != "" {
			c.Dashboard.ModelPath = v
		}
	}
	rootCmd.AddCommand(serveCmd)
}
