// Package predict scores customer feature inputs with a trained model and
// maps the probability to a risk tier.
package predict

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/churnops/internal/artifact"
	"github.com/sells-group/churnops/internal/features"
	"github.com/sells-group/churnops/internal/ml"
)

// Tier is a churn-risk bucket.
type Tier string

const (
	TierLow    Tier = "Low"
	TierMedium Tier = "Medium"
	TierHigh   Tier = "High"
)

// Tier boundaries on the churn probability.
const (
	HighThreshold   = 0.5
	MediumThreshold = 0.3
)

var recommendations = map[Tier]string{
	TierHigh:   "Proactive CSM engagement required.",
	TierMedium: "Monitor usage and check NPS.",
	TierLow:    "Maintain standard engagement.",
}

// TierFor buckets a probability: High at 0.5 and above, Medium from 0.3,
// Low below.
func TierFor(p float64) Tier {
	switch {
	case p >= HighThreshold:
		return TierHigh
	case p >= MediumThreshold:
		return TierMedium
	default:
		return TierLow
	}
}

// Recommendation returns the suggested action for t.
func (t Tier) Recommendation() string { return recommendations[t] }

// Prediction is a scored input.
type Prediction struct {
	Probability    float64 `json:"probability"`
	Tier           Tier    `json:"tier"`
	Recommendation string  `json:"recommendation"`
}

// Predictor scores inputs with a loaded model. It is read-only and safe for
// concurrent use.
type Predictor struct {
	schema *features.Schema
	model  ml.Classifier
	header artifact.Header
}

// New wraps a loaded artifact.
func New(a *artifact.Artifact, schema *features.Schema) *Predictor {
	return &Predictor{schema: schema, model: a.Model, header: a.Header}
}

// Load reads the artifact at path and checks it against schema.
func Load(path string, schema *features.Schema) (*Predictor, error) {
	a, err := artifact.Load(path, schema)
	if err != nil {
		return nil, err
	}
	return New(a, schema), nil
}

// Schema returns the feature schema inputs are validated against.
func (p *Predictor) Schema() *features.Schema { return p.schema }

// Header returns the artifact header of the loaded model.
func (p *Predictor) Header() artifact.Header { return p.header }

// Predict validates values, assembles them in schema order and scores them.
func (p *Predictor) Predict(values map[string]float64) (*Prediction, error) {
	row, err := p.schema.Vector(values)
	if err != nil {
		return nil, err
	}
	prob, err := p.model.PredictProba(row)
	if err != nil {
		return nil, eris.Wrap(err, "predict: score")
	}
	prob = min(max(prob, 0), 1)
	tier := TierFor(prob)
	return &Prediction{Probability: prob, Tier: tier, Recommendation: tier.Recommendation()}, nil
}
