// Package artifact persists trained churn models. A file is a msgpack
// document holding a header that pins the feature schema, plus the fitted
// estimator.
package artifact

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/sells-group/churnops/internal/features"
	"github.com/sells-group/churnops/internal/ml"
)

// FormatVersion is bumped whenever the file layout changes.
const FormatVersion = 1

// Algorithm names stored in the header.
const (
	AlgorithmRandomForest     = "random_forest"
	AlgorithmGradientBoosting = "gradient_boosting"
)

var (
	// ErrNotFound means no model file exists at the path.
	ErrNotFound = errors.New("artifact: model file not found")
	// ErrSchemaMismatch means the model was trained on different features.
	ErrSchemaMismatch = errors.New("artifact: feature schema mismatch")
)

// Header describes how and on what a model was trained.
type Header struct {
	Version     int            `msgpack:"version" json:"version"`
	Algorithm   string         `msgpack:"algorithm" json:"algorithm"`
	Features    []string       `msgpack:"features" json:"features"`
	Signature   string         `msgpack:"signature" json:"signature"`
	Target      string         `msgpack:"target" json:"target"`
	TrainedAt   time.Time      `msgpack:"trained_at" json:"trained_at"`
	Seed        uint64         `msgpack:"seed" json:"seed"`
	TrainRows   int            `msgpack:"train_rows" json:"train_rows"`
	TestRows    int            `msgpack:"test_rows" json:"test_rows"`
	Evaluation  *ml.Report     `msgpack:"evaluation" json:"evaluation,omitempty"`
	Importances []float64      `msgpack:"importances" json:"importances"`
	Params      map[string]any `msgpack:"params" json:"params,omitempty"`
}

// Artifact is a header plus its fitted model.
type Artifact struct {
	Header Header
	Model  ml.Classifier
}

type file struct {
	Header   Header               `msgpack:"header"`
	Forest   *ml.RandomForest     `msgpack:"forest,omitempty"`
	Boosting *ml.GradientBoosting `msgpack:"boosting,omitempty"`
}

// Save encodes a to path. The file is written to a temporary sibling and
// renamed into place, so readers never observe a partial model.
func Save(path string, a *Artifact) error {
	f := file{Header: a.Header}
	f.Header.Version = FormatVersion
	switch m := a.Model.(type) {
	case *ml.RandomForest:
		f.Header.Algorithm = AlgorithmRandomForest
		f.Forest = m
	case *ml.GradientBoosting:
		f.Header.Algorithm = AlgorithmGradientBoosting
		f.Boosting = m
	default:
		return eris.Errorf("artifact: unsupported model type %T", a.Model)
	}

	data, err := msgpack.Marshal(&f)
	if err != nil {
		return eris.Wrap(err, "artifact: encode")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "artifact: create %s", dir)
	}
	tmp, err := os.CreateTemp(dir, ".model-*.tmp")
	if err != nil {
		return eris.Wrap(err, "artifact: create temp file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return eris.Wrap(err, "artifact: write")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return eris.Wrap(err, "artifact: sync")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "artifact: close")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return eris.Wrapf(err, "artifact: rename to %s", path)
	}
	return nil
}

// Load decodes the model at path and checks it against schema. It returns
// ErrNotFound when the file does not exist and ErrSchemaMismatch when the
// model's features differ from the schema's.
func Load(path string, schema *features.Schema) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrapf(ErrNotFound, "artifact: %s", path)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "artifact: read %s", path)
	}

	var f file
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "artifact: decode %s", path)
	}
	h := f.Header
	if h.Version != FormatVersion {
		return nil, eris.Errorf("artifact: %s has format version %d, want %d", path, h.Version, FormatVersion)
	}

	var model ml.Classifier
	switch h.Algorithm {
	case AlgorithmRandomForest:
		if f.Forest == nil || len(f.Forest.Trees) == 0 {
			return nil, eris.Errorf("artifact: %s has no forest", path)
		}
		model = f.Forest
	case AlgorithmGradientBoosting:
		if f.Boosting == nil {
			return nil, eris.Errorf("artifact: %s has no boosting model", path)
		}
		model = f.Boosting
	default:
		return nil, eris.Errorf("artifact: %s has unknown algorithm %q", path, h.Algorithm)
	}

	if !schema.Matches(h.Features) || h.Signature != schema.Signature() {
		return nil, eris.Wrapf(ErrSchemaMismatch, "artifact: %s was trained on [%v]", path, h.Features)
	}
	if model.NumFeatures() != schema.Len() {
		return nil, eris.Wrapf(ErrSchemaMismatch, "artifact: %s model expects %d features", path, model.NumFeatures())
	}
	return &Artifact{Header: h, Model: model}, nil
}
