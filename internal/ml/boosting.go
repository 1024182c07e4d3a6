package ml

import (
	"context"
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// BoostingConfig controls gradient boosting.
type BoostingConfig struct {
	Rounds         int
	LearningRate   float64
	MaxDepth       int
	MinSamplesLeaf int
}

// GradientBoosting is an additive logistic model over regression trees.
// Leaf values already hold the Newton step; LearningRate scales them at
// prediction time.
type GradientBoosting struct {
	Init         float64   `msgpack:"init"`
	LearningRate float64   `msgpack:"learning_rate"`
	Trees        []*Tree   `msgpack:"trees"`
	Features     int       `msgpack:"features"`
	Importances  []float64 `msgpack:"importances"`
}

// FitGradientBoosting fits cfg.Rounds trees to the logistic-loss gradient.
func FitGradientBoosting(ctx context.Context, d *Dataset, weights []float64, cfg BoostingConfig) (*GradientBoosting, error) {
	if cfg.Rounds <= 0 {
		return nil, eris.New("ml: boosting needs at least one round")
	}
	if cfg.LearningRate <= 0 {
		return nil, eris.New("ml: learning rate must be > 0")
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 3
	}
	n, p := d.Len(), d.NumFeatures()
	if n == 0 {
		return nil, eris.New("ml: empty dataset")
	}
	if weights == nil {
		weights = SampleWeights(d.Y, [2]float64{1, 1})
	}

	var pos, total float64
	for i, c := range d.Y {
		total += weights[i]
		pos += weights[i] * float64(c)
	}
	prior := pos / total
	if prior <= 0 || prior >= 1 {
		return nil, eris.New("ml: boosting needs both classes in the training set")
	}

	rows := d.rows()
	idx := make([]int, 0, n)
	for i, w := range weights {
		if w > 0 {
			idx = append(idx, i)
		}
	}
	m := &GradientBoosting{
		Init:         math.Log(prior / (1 - prior)),
		LearningRate: cfg.LearningRate,
		Features:     p,
	}
	treeCfg := TreeConfig{
		Criterion:      SquaredError,
		MaxDepth:       cfg.MaxDepth,
		MinSamplesLeaf: cfg.MinSamplesLeaf,
	}

	score := make([]float64, n)
	for i := range score {
		score[i] = m.Init
	}
	resid := make([]float64, n)
	prob := make([]float64, n)
	imp := make([]float64, p)

	log := zap.L().With(zap.String("component", "ml.boosting"))
	for round := range cfg.Rounds {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "ml: fit gradient boosting")
		}
		for i, c := range d.Y {
			prob[i] = sigmoid(score[i])
			resid[i] = float64(c) - prob[i]
		}
		t := growTree(rows, resid, weights, idx, treeCfg, nil)
		newtonLeaves(t, rows, resid, prob, weights, idx)
		for _, i := range idx {
			score[i] += m.LearningRate * t.Predict(rows[i])
		}
		for i, v := range t.Importances {
			imp[i] += v
		}
		m.Trees = append(m.Trees, t)
		if (round+1)%50 == 0 {
			log.Debug("boosting progress", zap.Int("round", round+1), zap.Int("leaves", t.Leaves()))
		}
	}
	m.Importances = normalize(imp)
	return m, nil
}

// newtonLeaves replaces each leaf's mean residual with the one-step Newton
// update sum(w*r) / sum(w*p*(1-p)).
func newtonLeaves(t *Tree, rows [][]float64, resid, prob, weights []float64, idx []int) {
	num := make([]float64, len(t.Nodes))
	den := make([]float64, len(t.Nodes))
	for _, i := range idx {
		leaf := t.apply(rows[i])
		num[leaf] += weights[i] * resid[i]
		den[leaf] += weights[i] * prob[i] * (1 - prob[i])
	}
	for k := range t.Nodes {
		if !t.Nodes[k].leaf() {
			continue
		}
		if math.Abs(den[k]) < 1e-150 {
			t.Nodes[k].Value = 0
			continue
		}
		t.Nodes[k].Value = num[k] / den[k]
	}
}

// PredictProba returns the sigmoid of the additive score.
func (g *GradientBoosting) PredictProba(x []float64) (float64, error) {
	if err := checkVector(x, g.Features); err != nil {
		return 0, err
	}
	z := g.Init
	for _, t := range g.Trees {
		z += g.LearningRate * t.Predict(x)
	}
	return sigmoid(z), nil
}

func (g *GradientBoosting) NumFeatures() int { return g.Features }

func (g *GradientBoosting) FeatureImportances() []float64 {
	return append([]float64(nil), g.Importances...)
}
