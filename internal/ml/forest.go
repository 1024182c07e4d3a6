package ml

import (
	"context"
	"math"
	"math/rand/v2"
	"runtime"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ForestConfig controls random forest training.
type ForestConfig struct {
	Trees           int
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	// MaxFeatures per split; 0 means floor(sqrt(p)).
	MaxFeatures int
	Seed        uint64
	// Workers bounds concurrent tree fitting; 0 means GOMAXPROCS.
	Workers int
}

// RandomForest is a bagged ensemble of Gini trees.
type RandomForest struct {
	Trees       []*Tree   `msgpack:"trees"`
	Features    int       `msgpack:"features"`
	Importances []float64 `msgpack:"importances"`
}

// FitRandomForest trains cfg.Trees trees on bootstrap samples of d. Each
// tree draws from its own seeded stream, so the result does not depend on
// scheduling.
func FitRandomForest(ctx context.Context, d *Dataset, weights []float64, cfg ForestConfig) (*RandomForest, error) {
	if cfg.Trees <= 0 {
		return nil, eris.New("ml: forest needs at least one tree")
	}
	if d.Len() == 0 {
		return nil, eris.New("ml: empty dataset")
	}
	p := d.NumFeatures()
	maxFeatures := cfg.MaxFeatures
	if maxFeatures <= 0 {
		maxFeatures = max(1, int(math.Sqrt(float64(p))))
	}
	treeCfg := TreeConfig{
		Criterion:       Gini,
		MaxDepth:        cfg.MaxDepth,
		MinSamplesSplit: cfg.MinSamplesSplit,
		MinSamplesLeaf:  cfg.MinSamplesLeaf,
		MaxFeatures:     maxFeatures,
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	rows := d.rows()
	y := make([]float64, d.Len())
	for i, c := range d.Y {
		y[i] = float64(c)
	}
	if weights == nil {
		weights = SampleWeights(d.Y, [2]float64{1, 1})
	}

	log := zap.L().With(zap.String("component", "ml.forest"))
	log.Debug("fitting random forest",
		zap.Int("trees", cfg.Trees),
		zap.Int("max_features", maxFeatures),
		zap.Int("workers", workers),
	)

	trees := make([]*Tree, cfg.Trees)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for t := range trees {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewPCG(cfg.Seed, uint64(t)+1))
			idx, w := bootstrap(rng, weights)
			if len(idx) == 0 {
				return eris.Errorf("ml: tree %d drew an empty bootstrap sample", t)
			}
			trees[t] = growTree(rows, y, w, idx, treeCfg, rng)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "ml: fit random forest")
	}

	imp := make([]float64, p)
	for _, t := range trees {
		for i, v := range t.Importances {
			imp[i] += v
		}
	}
	return &RandomForest{Trees: trees, Features: p, Importances: normalize(imp)}, nil
}

// bootstrap draws n samples with replacement and folds the draw counts
// into the sample weights. Samples never drawn are left out of idx.
func bootstrap(rng *rand.Rand, weights []float64) ([]int, []float64) {
	n := len(weights)
	counts := make([]int, n)
	for range n {
		counts[rng.IntN(n)]++
	}
	w := make([]float64, n)
	idx := make([]int, 0, n)
	for i, c := range counts {
		if c == 0 || weights[i] == 0 {
			continue
		}
		w[i] = weights[i] * float64(c)
		idx = append(idx, i)
	}
	return idx, w
}

// PredictProba averages the trees' class-1 leaf fractions.
func (f *RandomForest) PredictProba(x []float64) (float64, error) {
	if err := checkVector(x, f.Features); err != nil {
		return 0, err
	}
	sum := 0.0
	for _, t := range f.Trees {
		sum += t.Predict(x)
	}
	return sum / float64(len(f.Trees)), nil
}

func (f *RandomForest) NumFeatures() int { return f.Features }

func (f *RandomForest) FeatureImportances() []float64 {
	return append([]float64(nil), f.Importances...)
}
