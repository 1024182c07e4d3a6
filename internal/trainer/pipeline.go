// Package trainer fits the churn classifier on the KPI table and writes the
// model artifact the dashboard serves.
package trainer

import (
	"cmp"
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/churnops/internal/artifact"
	"github.com/sells-group/churnops/internal/config"
	"github.com/sells-group/churnops/internal/features"
	"github.com/sells-group/churnops/internal/ml"
)

// Result summarizes a training run.
type Result struct {
	Source     string
	Cleaning   Cleaning
	Header     artifact.Header
	Report     *ml.Report
	ModelPath  string
	ReportPath string
	Elapsed    time.Duration
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithReport also writes an xlsx evaluation report to path.
func WithReport(path string) Option {
	return func(p *Pipeline) { p.reportPath = path }
}

// WithClock overrides the training timestamp.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// Pipeline loads, cleans, splits, fits, evaluates and saves.
type Pipeline struct {
	src        Source
	schema     *features.Schema
	cfg        config.TrainerConfig
	reportPath string
	now        func() time.Time
}

// New creates a pipeline reading from src.
func New(src Source, schema *features.Schema, cfg config.TrainerConfig, opts ...Option) *Pipeline {
	p := &Pipeline{
		src:    src,
		schema: schema,
		cfg:    cfg,
		now:    time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run executes the pipeline. Any failure aborts before the artifact is
// written.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	log := zap.L().With(zap.String("component", "trainer"))

	rows, err := p.src.Load(ctx)
	if err != nil {
		return nil, err
	}
	log.Info("loaded kpi rows", zap.String("source", p.src.Describe()), zap.Int("rows", len(rows)))

	ds, cleaning, err := Prepare(rows, p.schema)
	if err != nil {
		return nil, err
	}
	if pos := ds.Positives(); pos == 0 || pos == ds.Len() {
		return nil, eris.New("trainer: training data has a single class")
	}
	if cleaning.DroppedTarget > 0 || cleaning.FilledValues > 0 {
		log.Warn("cleaned kpi rows",
			zap.Int("dropped_without_target", cleaning.DroppedTarget),
			zap.Int("filled_nulls", cleaning.FilledValues),
		)
	}

	trainIdx, testIdx, err := ml.StratifiedSplit(ds.Y, p.cfg.TestFraction, p.cfg.Seed)
	if err != nil {
		return nil, eris.Wrap(err, "trainer: split")
	}
	train, test := ds.Subset(trainIdx), ds.Subset(testIdx)
	log.Info("split dataset",
		zap.Int("train", train.Len()),
		zap.Int("test", test.Len()),
		zap.Int("train_churned", train.Positives()),
		zap.Int("test_churned", test.Positives()),
	)

	weights := ml.SampleWeights(train.Y, ml.BalancedClassWeights(train.Y))
	clf, params, err := p.fit(ctx, train, weights)
	if err != nil {
		return nil, err
	}

	proba, err := ml.PredictAll(clf, test)
	if err != nil {
		return nil, eris.Wrap(err, "trainer: score test set")
	}
	report, err := ml.Evaluate(test.Y, proba)
	if err != nil {
		return nil, eris.Wrap(err, "trainer: evaluate")
	}
	log.Info("model evaluated",
		zap.Float64("accuracy", report.Accuracy),
		zap.Float64("auc", report.AUC),
		zap.Float64("churn_recall", report.Classes[1].Recall),
	)
	for _, line := range strings.Split(strings.TrimRight(report.String(), "\n"), "\n") {
		log.Debug(line)
	}

	header := artifact.Header{
		Version:     artifact.FormatVersion,
		Algorithm:   p.cfg.Algorithm,
		Features:    p.schema.Names(),
		Signature:   p.schema.Signature(),
		Target:      p.schema.Target,
		TrainedAt:   p.now().UTC(),
		Seed:        p.cfg.Seed,
		TrainRows:   train.Len(),
		TestRows:    test.Len(),
		Evaluation:  report,
		Importances: clf.FeatureImportances(),
		Params:      params,
	}
	if err := artifact.Save(p.cfg.ModelPath, &artifact.Artifact{Header: header, Model: clf}); err != nil {
		return nil, err
	}
	log.Info("model saved", zap.String("path", p.cfg.ModelPath))

	res := &Result{
		Source:    p.src.Describe(),
		Cleaning:  cleaning,
		Header:    header,
		Report:    report,
		ModelPath: p.cfg.ModelPath,
	}
	if p.reportPath != "" {
		if err := WriteReport(p.reportPath, res); err != nil {
			return nil, err
		}
		res.ReportPath = p.reportPath
		log.Info("evaluation report written", zap.String("path", p.reportPath))
	}
	res.Elapsed = time.Since(start)
	return res, nil
}

func (p *Pipeline) fit(ctx context.Context, train *ml.Dataset, weights []float64) (ml.Classifier, map[string]any, error) {
	switch p.cfg.Algorithm {
	case config.AlgorithmRandomForest:
		fc := ml.ForestConfig{
			Trees:          p.cfg.Estimators,
			MaxDepth:       p.cfg.MaxDepth,
			MinSamplesLeaf: p.cfg.MinLeaf,
			Seed:           p.cfg.Seed,
		}
		f, err := ml.FitRandomForest(ctx, train, weights, fc)
		if err != nil {
			return nil, nil, eris.Wrap(err, "trainer: fit")
		}
		return f, map[string]any{
			"n_estimators":     fc.Trees,
			"max_depth":        fc.MaxDepth,
			"min_samples_leaf": fc.MinSamplesLeaf,
			"class_weight":     "balanced",
		}, nil
	case config.AlgorithmGradientBoosting:
		bc := ml.BoostingConfig{
			Rounds:         p.cfg.Estimators,
			LearningRate:   p.cfg.LearningRate,
			MaxDepth:       cmp.Or(p.cfg.MaxDepth, 3),
			MinSamplesLeaf: p.cfg.MinLeaf,
		}
		g, err := ml.FitGradientBoosting(ctx, train, weights, bc)
		if err != nil {
			return nil, nil, eris.Wrap(err, "trainer: fit")
		}
		return g, map[string]any{
			"n_estimators":     bc.Rounds,
			"learning_rate":    bc.LearningRate,
			"max_depth":        bc.MaxDepth,
			"min_samples_leaf": bc.MinSamplesLeaf,
			"class_weight":     "balanced",
		}, nil
	default:
		return nil, nil, eris.Errorf("trainer: unknown algorithm %q", p.cfg.Algorithm)
	}
}
