// Package ml implements the binary classifiers used for churn scoring:
// CART trees, a random forest and gradient-boosted trees, plus the
// stratified split and evaluation metrics around them.
package ml

import (
	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/mat"
)

// Dataset is a dense feature matrix with 0/1 labels.
type Dataset struct {
	X        *mat.Dense
	Y        []int
	Features []string
}

// NewDataset copies rows into a dense matrix. Every row must have one value
// per feature and every label must be 0 or 1.
func NewDataset(rows [][]float64, y []int, features []string) (*Dataset, error) {
	if len(rows) == 0 {
		return nil, eris.New("ml: empty dataset")
	}
	if len(rows) != len(y) {
		return nil, eris.Errorf("ml: %d rows but %d labels", len(rows), len(y))
	}
	p := len(features)
	data := make([]float64, 0, len(rows)*p)
	for i, r := range rows {
		if len(r) != p {
			return nil, eris.Errorf("ml: row %d has %d values, want %d", i, len(r), p)
		}
		if y[i] != 0 && y[i] != 1 {
			return nil, eris.Errorf("ml: row %d has label %d, want 0 or 1", i, y[i])
		}
		data = append(data, r...)
	}
	return &Dataset{
		X:        mat.NewDense(len(rows), p, data),
		Y:        append([]int(nil), y...),
		Features: append([]string(nil), features...),
	}, nil
}

// Len returns the number of samples.
func (d *Dataset) Len() int { return len(d.Y) }

// NumFeatures returns the number of columns.
func (d *Dataset) NumFeatures() int { return len(d.Features) }

// Row returns a view of sample i. Callers must not modify it.
func (d *Dataset) Row(i int) []float64 { return d.X.RawRowView(i) }

// rows returns views of every sample.
func (d *Dataset) rows() [][]float64 {
	out := make([][]float64, d.Len())
	for i := range out {
		out[i] = d.Row(i)
	}
	return out
}

// Subset copies the samples at idx into a new dataset.
func (d *Dataset) Subset(idx []int) *Dataset {
	p := d.NumFeatures()
	x := mat.NewDense(len(idx), p, nil)
	y := make([]int, len(idx))
	for k, i := range idx {
		x.SetRow(k, d.Row(i))
		y[k] = d.Y[i]
	}
	return &Dataset{X: x, Y: y, Features: d.Features}
}

// Positives counts samples labelled 1.
func (d *Dataset) Positives() int {
	n := 0
	for _, v := range d.Y {
		n += v
	}
	return n
}
