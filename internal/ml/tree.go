package ml

import (
	"math/rand/v2"
	"sort"
)

// Criterion selects the impurity measure used to grow a tree.
type Criterion string

const (
	// Gini grows classification trees on 0/1 targets.
	Gini Criterion = "gini"
	// SquaredError grows regression trees.
	SquaredError Criterion = "squared_error"
)

// minGain is the smallest impurity decrease accepted for a split.
const minGain = 1e-12

// TreeConfig controls tree growth. Zero values mean unlimited depth, all
// features per split, and the smallest legal split/leaf sizes.
type TreeConfig struct {
	Criterion       Criterion `msgpack:"criterion"`
	MaxDepth        int       `msgpack:"max_depth"`
	MinSamplesSplit int       `msgpack:"min_samples_split"`
	MinSamplesLeaf  int       `msgpack:"min_samples_leaf"`
	MaxFeatures     int       `msgpack:"max_features"`
}

func (c TreeConfig) withDefaults() TreeConfig {
	if c.Criterion == "" {
		c.Criterion = Gini
	}
	if c.MinSamplesSplit < 2 {
		c.MinSamplesSplit = 2
	}
	if c.MinSamplesLeaf < 1 {
		c.MinSamplesLeaf = 1
	}
	return c
}

// Node is one tree node. Leaves have Feature -1. Samples with
// x[Feature] <= Threshold go left.
type Node struct {
	Feature   int     `msgpack:"f"`
	Threshold float64 `msgpack:"t"`
	Left      int     `msgpack:"l"`
	Right     int     `msgpack:"r"`
	Value     float64 `msgpack:"v"`
	Samples   int     `msgpack:"n"`
}

func (n Node) leaf() bool { return n.Feature < 0 }

// Tree is a fitted CART tree stored as a flat node slice rooted at index 0.
// For Gini trees a leaf value is the weighted fraction of class 1; for
// squared-error trees it is the weighted mean target.
type Tree struct {
	Nodes       []Node    `msgpack:"nodes"`
	Importances []float64 `msgpack:"importances"`
}

// Predict returns the value of the leaf x falls into.
func (t *Tree) Predict(x []float64) float64 {
	return t.Nodes[t.apply(x)].Value
}

func (t *Tree) apply(x []float64) int {
	i := 0
	for {
		n := t.Nodes[i]
		if n.leaf() {
			return i
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// Leaves counts the leaf nodes.
func (t *Tree) Leaves() int {
	n := 0
	for _, node := range t.Nodes {
		if node.leaf() {
			n++
		}
	}
	return n
}

// FitTree grows a single tree on d. weights may be nil for unit weights;
// rng is only consulted when cfg.MaxFeatures subsamples columns.
func FitTree(d *Dataset, weights []float64, cfg TreeConfig, rng *rand.Rand) *Tree {
	y := make([]float64, d.Len())
	for i, c := range d.Y {
		y[i] = float64(c)
	}
	if weights == nil {
		weights = make([]float64, d.Len())
		for i := range weights {
			weights[i] = 1
		}
	}
	idx := make([]int, d.Len())
	for i := range idx {
		idx[i] = i
	}
	return growTree(d.rows(), y, weights, idx, cfg, rng)
}

// growTree fits a tree on the samples in idx. Samples with zero weight
// must already be excluded.
func growTree(rows [][]float64, y, w []float64, idx []int, cfg TreeConfig, rng *rand.Rand) *Tree {
	b := &builder{
		rows: rows,
		y:    y,
		w:    w,
		cfg:  cfg.withDefaults(),
		rng:  rng,
		imp:  make([]float64, len(rows[0])),
	}
	b.build(idx, 0)
	return &Tree{Nodes: b.nodes, Importances: normalize(b.imp)}
}

type builder struct {
	rows  [][]float64
	y     []float64
	w     []float64
	cfg   TreeConfig
	rng   *rand.Rand
	nodes []Node
	imp   []float64
}

// stats are the weighted sums a node's impurity is computed from.
type stats struct {
	w, s, q float64
}

func (st *stats) add(w, y float64) {
	st.w += w
	st.s += w * y
	st.q += w * y * y
}

func (st stats) sub(o stats) stats {
	return stats{w: st.w - o.w, s: st.s - o.s, q: st.q - o.q}
}

func (st stats) mean() float64 {
	if st.w <= 0 {
		return 0
	}
	return st.s / st.w
}

// impurity returns the node impurity scaled by its weight.
func (b *builder) impurity(st stats) float64 {
	if st.w <= 0 {
		return 0
	}
	if b.cfg.Criterion == Gini {
		p := st.s / st.w
		return st.w * 2 * p * (1 - p)
	}
	v := st.q - st.s*st.s/st.w
	if v < 0 {
		return 0
	}
	return v
}

type split struct {
	feature   int
	threshold float64
	score     float64
	ok        bool
}

func (b *builder) build(idx []int, depth int) int {
	var st stats
	for _, i := range idx {
		st.add(b.w[i], b.y[i])
	}
	id := len(b.nodes)
	b.nodes = append(b.nodes, Node{Feature: -1, Value: st.mean(), Samples: len(idx)})

	parent := b.impurity(st)
	if (b.cfg.MaxDepth > 0 && depth >= b.cfg.MaxDepth) ||
		len(idx) < b.cfg.MinSamplesSplit ||
		len(idx) < 2*b.cfg.MinSamplesLeaf ||
		parent <= minGain {
		return id
	}

	best := b.findSplit(idx, st, parent)
	if !best.ok {
		return id
	}

	var left, right []int
	for _, i := range idx {
		if b.rows[i][best.feature] <= best.threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	b.imp[best.feature] += parent - best.score

	l := b.build(left, depth+1)
	r := b.build(right, depth+1)
	b.nodes[id].Feature = best.feature
	b.nodes[id].Threshold = best.threshold
	b.nodes[id].Left = l
	b.nodes[id].Right = r
	return id
}

func (b *builder) candidates() []int {
	p := len(b.imp)
	m := b.cfg.MaxFeatures
	if m <= 0 || m >= p || b.rng == nil {
		out := make([]int, p)
		for i := range out {
			out[i] = i
		}
		return out
	}
	return b.rng.Perm(p)[:m]
}

func (b *builder) findSplit(idx []int, total stats, parent float64) split {
	best := split{score: parent - minGain}
	minLeaf := b.cfg.MinSamplesLeaf
	n := len(idx)
	sorted := make([]int, n)

	for _, f := range b.candidates() {
		copy(sorted, idx)
		sort.SliceStable(sorted, func(a, c int) bool {
			return b.rows[sorted[a]][f] < b.rows[sorted[c]][f]
		})

		var left stats
		for k := 0; k < n-1; k++ {
			i := sorted[k]
			left.add(b.w[i], b.y[i])
			if k+1 < minLeaf {
				continue
			}
			if n-k-1 < minLeaf {
				break
			}
			lo, hi := b.rows[i][f], b.rows[sorted[k+1]][f]
			if lo == hi {
				continue
			}
			score := b.impurity(left) + b.impurity(total.sub(left))
			if score < best.score {
				t := lo + (hi-lo)/2
				if t >= hi {
					t = lo
				}
				best = split{feature: f, threshold: t, score: score, ok: true}
			}
		}
	}
	return best
}
