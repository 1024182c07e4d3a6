// Package features defines the ordered input contract shared by model
// training and inference.
package features

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed features.yaml
var schemaYAML []byte

// Kind is the numeric type of a feature.
type Kind string

const (
	KindFloat Kind = "float"
	KindInt   Kind = "int"
)

// Feature describes one model input column.
type Feature struct {
	Name    string   `yaml:"name" json:"name"`
	Label   string   `yaml:"label" json:"label"`
	Group   string   `yaml:"group" json:"group"`
	Kind    Kind     `yaml:"kind" json:"kind"`
	Min     float64  `yaml:"min" json:"min"`
	Max     *float64 `yaml:"max,omitempty" json:"max,omitempty"`
	Default float64  `yaml:"default" json:"default"`
	Step    float64  `yaml:"step" json:"step"`
}

// Schema is the ordered feature list plus the target column.
type Schema struct {
	Target   string    `yaml:"target" json:"target"`
	Features []Feature `yaml:"features" json:"features"`
}

var (
	defaultOnce   sync.Once
	defaultSchema *Schema
	defaultErr    error
)

// Default returns the embedded schema. It panics if the embedded file is
// malformed, which can only happen at build time.
func Default() *Schema {
	defaultOnce.Do(func() {
		defaultSchema, defaultErr = Parse(schemaYAML)
	})
	if defaultErr != nil {
		panic(defaultErr)
	}
	return defaultSchema
}

// Parse decodes and validates a schema document.
func Parse(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, eris.Wrap(err, "features: parse schema")
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Schema) validate() error {
	if s.Target == "" {
		return eris.New("features: schema has no target")
	}
	if len(s.Features) == 0 {
		return eris.New("features: schema has no features")
	}
	seen := make(map[string]bool, len(s.Features))
	for _, f := range s.Features {
		if f.Name == "" {
			return eris.New("features: feature without name")
		}
		if seen[f.Name] || f.Name == s.Target {
			return eris.Errorf("features: duplicate column %q", f.Name)
		}
		seen[f.Name] = true
		if f.Kind != KindFloat && f.Kind != KindInt {
			return eris.Errorf("features: %s: unknown kind %q", f.Name, f.Kind)
		}
		if f.Default < f.Min || (f.Max != nil && f.Default > *f.Max) {
			return eris.Errorf("features: %s: default %v out of bounds", f.Name, f.Default)
		}
	}
	return nil
}

// Len returns the number of features.
func (s *Schema) Len() int { return len(s.Features) }

// Names returns the feature names in model order.
func (s *Schema) Names() []string {
	names := make([]string, len(s.Features))
	for i, f := range s.Features {
		names[i] = f.Name
	}
	return names
}

// Defaults returns the example value of every feature keyed by name.
func (s *Schema) Defaults() map[string]float64 {
	out := make(map[string]float64, len(s.Features))
	for _, f := range s.Features {
		out[f.Name] = f.Default
	}
	return out
}

// Groups returns the distinct feature groups in first-seen order.
func (s *Schema) Groups() []string {
	var groups []string
	seen := map[string]bool{}
	for _, f := range s.Features {
		if !seen[f.Group] {
			seen[f.Group] = true
			groups = append(groups, f.Group)
		}
	}
	return groups
}

// Signature is a stable digest of the ordered column names and kinds. Two
// schemas with the same signature assemble identical vectors.
func (s *Schema) Signature() string {
	h := sha256.New()
	for _, f := range s.Features {
		h.Write([]byte(f.Name))
		h.Write([]byte{':'})
		h.Write([]byte(f.Kind))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Check validates a single value against the feature's bounds and kind.
func (f Feature) Check(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return eris.Errorf("features: %s must be a finite number", f.Name)
	}
	if v < f.Min {
		return eris.Errorf("features: %s must be >= %v, got %v", f.Name, f.Min, v)
	}
	if f.Max != nil && v > *f.Max {
		return eris.Errorf("features: %s must be <= %v, got %v", f.Name, *f.Max, v)
	}
	if f.Kind == KindInt && v != math.Trunc(v) {
		return eris.Errorf("features: %s must be a whole number, got %v", f.Name, v)
	}
	return nil
}

// Vector assembles values into a row in schema order. Every feature must be
// present and within bounds; unknown keys are rejected.
func (s *Schema) Vector(values map[string]float64) ([]float64, error) {
	known := make(map[string]bool, len(s.Features))
	row := make([]float64, len(s.Features))
	var missing []string
	for i, f := range s.Features {
		known[f.Name] = true
		v, ok := values[f.Name]
		if !ok {
			missing = append(missing, f.Name)
			continue
		}
		if err := f.Check(v); err != nil {
			return nil, err
		}
		row[i] = v
	}
	if len(missing) > 0 {
		return nil, eris.Errorf("features: missing %s", strings.Join(missing, ", "))
	}

	var unknown []string
	for k := range values {
		if !known[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, eris.Errorf("features: unknown %s", strings.Join(unknown, ", "))
	}
	return row, nil
}

// Matches reports whether an ordered list of names equals the schema's.
func (s *Schema) Matches(names []string) bool {
	if len(names) != len(s.Features) {
		return false
	}
	for i, f := range s.Features {
		if names[i] != f.Name {
			return false
		}
	}
	return true
}
