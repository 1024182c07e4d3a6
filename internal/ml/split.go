package ml

import (
	"math"
	"math/rand/v2"
	"sort"

	"github.com/rotisserie/eris"
)

// StratifiedSplit partitions sample indices into train and test sets. The
// test set holds ceil(n*testFraction) samples, allocated across classes by
// largest remainder so each partition keeps the class proportions of y up to
// rounding. Within a class, membership is drawn by a seeded shuffle. Both
// index slices are returned in ascending order.
func StratifiedSplit(y []int, testFraction float64, seed uint64) (train, test []int, err error) {
	n := len(y)
	if testFraction <= 0 || testFraction >= 1 {
		return nil, nil, eris.Errorf("ml: test fraction %v must be in (0, 1)", testFraction)
	}

	byClass := map[int][]int{}
	for i, c := range y {
		byClass[c] = append(byClass[c], i)
	}
	classes := make([]int, 0, len(byClass))
	for c, members := range byClass {
		if len(members) < 2 {
			return nil, nil, eris.Errorf("ml: class %d has %d member(s); stratification needs at least 2", c, len(members))
		}
		classes = append(classes, c)
	}
	sort.Ints(classes)

	nTest := int(math.Ceil(float64(n) * testFraction))
	nTrain := n - nTest
	if nTest < len(classes) || nTrain < len(classes) {
		return nil, nil, eris.Errorf("ml: %d samples cannot be split %d/%d across %d classes", n, nTrain, nTest, len(classes))
	}

	counts := make([]int, len(classes))
	for k, c := range classes {
		counts[k] = len(byClass[c])
	}
	alloc := largestRemainder(counts, n, nTest)

	rng := rand.New(rand.NewPCG(seed, 0x5851f42d4c957f2d))
	for k, c := range classes {
		members := append([]int(nil), byClass[c]...)
		rng.Shuffle(len(members), func(i, j int) { members[i], members[j] = members[j], members[i] })
		test = append(test, members[:alloc[k]]...)
		train = append(train, members[alloc[k]:]...)
	}
	sort.Ints(train)
	sort.Ints(test)
	return train, test, nil
}

// largestRemainder splits total across classes proportionally to counts
// (which sum to n). Leftover units go to the largest fractional parts, ties
// to the larger class, then to the lower index.
func largestRemainder(counts []int, n, total int) []int {
	alloc := make([]int, len(counts))
	rem := make([]float64, len(counts))
	assigned := 0
	for k, c := range counts {
		exact := float64(c) * float64(total) / float64(n)
		alloc[k] = int(math.Floor(exact))
		rem[k] = exact - float64(alloc[k])
		assigned += alloc[k]
	}

	order := make([]int, len(counts))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ka, kb := order[a], order[b]
		if rem[ka] != rem[kb] {
			return rem[ka] > rem[kb]
		}
		return counts[ka] > counts[kb]
	})
	for i := 0; assigned < total; i = (i + 1) % len(order) {
		k := order[i]
		if alloc[k] < counts[k] {
			alloc[k]++
			assigned++
		}
	}
	return alloc
}

// BalancedClassWeights returns n / (k * n_c) for classes 0 and 1, where k is
// the number of classes present. A class that does not occur gets weight 0.
func BalancedClassWeights(y []int) [2]float64 {
	var counts [2]int
	for _, c := range y {
		counts[c]++
	}
	k := 0
	for _, nc := range counts {
		if nc > 0 {
			k++
		}
	}
	var w [2]float64
	for c, nc := range counts {
		if nc > 0 {
			w[c] = float64(len(y)) / (float64(k) * float64(nc))
		}
	}
	return w
}

// SampleWeights expands class weights to one weight per sample.
func SampleWeights(y []int, classWeights [2]float64) []float64 {
	w := make([]float64, len(y))
	for i, c := range y {
		w[i] = classWeights[c]
	}
	return w
}
