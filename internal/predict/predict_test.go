package predict

import (
	"context"
	"math"
	"math/rand/v2"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/churnops/internal/artifact"
	"github.com/sells-group/churnops/internal/features"
	"github.com/sells-group/churnops/internal/ml"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// trainedPredictor fits a small forest where churn follows the last
// feature and saves it through the artifact round trip.
func trainedPredictor(t *testing.T) *Predictor {
	t.Helper()
	schema := features.Default()
	rng := rand.New(rand.NewPCG(4, 4))
	rows := make([][]float64, 200)
	y := make([]int, len(rows))
	for i := range rows {
		row := make([]float64, schema.Len())
		for j := range row {
			row[j] = float64(rng.IntN(100))
		}
		rows[i] = row
		if row[schema.Len()-1] > 30 {
			y[i] = 1
		}
	}
	d, err := ml.NewDataset(rows, y, schema.Names())
	require.NoError(t, err)
	forest, err := ml.FitRandomForest(context.Background(), d, nil, ml.ForestConfig{Trees: 10, Seed: 8})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "churn.model")
	require.NoError(t, artifact.Save(path, &artifact.Artifact{
		Header: artifact.Header{Features: schema.Names(), Signature: schema.Signature()},
		Model:  forest,
	}))
	p, err := Load(path, schema)
	require.NoError(t, err)
	return p
}

func TestTierFor(t *testing.T) {
	tests := []struct {
		p    float64
		want Tier
	}{
		{0, TierLow},
		{0.29999, TierLow},
		{0.3, TierMedium},
		{0.49999, TierMedium},
		{0.5, TierHigh},
		{1, TierHigh},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TierFor(tt.p), "p=%v", tt.p)
	}

	assert.Equal(t, "Proactive CSM engagement required.", TierHigh.Recommendation())
	assert.Equal(t, "Monitor usage and check NPS.", TierMedium.Recommendation())
	assert.Equal(t, "Maintain standard engagement.", TierLow.Recommendation())
}

func TestPredictDefaults(t *testing.T) {
	p := trainedPredictor(t)

	got, err := p.Predict(p.Schema().Defaults())
	require.NoError(t, err)

	assert.GreaterOrEqual(t, got.Probability, 0.0)
	assert.LessOrEqual(t, got.Probability, 1.0)
	assert.Equal(t, TierFor(got.Probability), got.Tier)
	assert.Equal(t, got.Tier.Recommendation(), got.Recommendation)
}

func TestPredictRepeatable(t *testing.T) {
	p := trainedPredictor(t)
	values := p.Schema().Defaults()
	values["days_since_last_login"] = 80

	first, err := p.Predict(values)
	require.NoError(t, err)
	assert.Equal(t, TierHigh, first.Tier)

	var wg sync.WaitGroup
	results := make([]float64, 16)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := p.Predict(values)
			if err == nil {
				results[i] = r.Probability
			}
		}()
	}
	wg.Wait()
	for _, r := range results {
		assert.Equal(t, math.Float64bits(first.Probability), math.Float64bits(r))
	}
}

func TestPredictRejectsBadInput(t *testing.T) {
	p := trainedPredictor(t)

	missing := p.Schema().Defaults()
	delete(missing, "mrr")
	_, err := p.Predict(missing)
	assert.ErrorContains(t, err, "missing mrr")

	negative := p.Schema().Defaults()
	negative["total_logins"] = -1
	_, err = p.Predict(negative)
	assert.ErrorContains(t, err, "total_logins must be >= 0")

	fractional := p.Schema().Defaults()
	fractional["total_tickets"] = 2.5
	_, err = p.Predict(fractional)
	assert.ErrorContains(t, err, "whole number")
}

func TestLoadMissingArtifact(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "none.model"), features.Default())
	assert.ErrorIs(t, err, artifact.ErrNotFound)
}
