package ml

import (
	"math"

	"github.com/rotisserie/eris"
)

// Classifier scores a feature vector with the probability of class 1.
// Implementations are read-only after fitting and safe for concurrent use.
type Classifier interface {
	PredictProba(x []float64) (float64, error)
	NumFeatures() int
	FeatureImportances() []float64
}

// Threshold is the probability at or above which a sample is labelled 1.
const Threshold = 0.5

// Predict labels x with c.
func Predict(c Classifier, x []float64) (int, error) {
	p, err := c.PredictProba(x)
	if err != nil {
		return 0, err
	}
	if p >= Threshold {
		return 1, nil
	}
	return 0, nil
}

// PredictAll scores every sample of d.
func PredictAll(c Classifier, d *Dataset) ([]float64, error) {
	out := make([]float64, d.Len())
	for i := range out {
		p, err := c.PredictProba(d.Row(i))
		if err != nil {
			return nil, eris.Wrapf(err, "ml: predict row %d", i)
		}
		out[i] = p
	}
	return out, nil
}

func checkVector(x []float64, want int) error {
	if len(x) != want {
		return eris.Errorf("ml: got %d features, want %d", len(x), want)
	}
	for i, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return eris.Errorf("ml: feature %d is not finite", i)
		}
	}
	return nil
}

func normalize(v []float64) []float64 {
	total := 0.0
	for _, x := range v {
		total += x
	}
	if total > 0 {
		for i := range v {
			v[i] /= total
		}
	}
	return v
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}
