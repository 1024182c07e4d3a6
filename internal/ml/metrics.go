package ml

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// ClassMetrics holds precision, recall and F1 for one class or average.
type ClassMetrics struct {
	Label     string  `json:"label"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// Report summarizes a binary evaluation. Confusion is indexed
// [actual][predicted].
type Report struct {
	Accuracy    float64        `json:"accuracy"`
	AUC         float64        `json:"auc"`
	Classes     []ClassMetrics `json:"classes"`
	MacroAvg    ClassMetrics   `json:"macro_avg"`
	WeightedAvg ClassMetrics   `json:"weighted_avg"`
	Confusion   [2][2]int      `json:"confusion"`
	Support     int            `json:"support"`
}

// Evaluate scores predicted probabilities against labels using Threshold.
func Evaluate(yTrue []int, proba []float64) (*Report, error) {
	if len(yTrue) != len(proba) {
		return nil, eris.Errorf("ml: %d labels but %d predictions", len(yTrue), len(proba))
	}
	if len(yTrue) == 0 {
		return nil, eris.New("ml: nothing to evaluate")
	}

	r := &Report{Support: len(yTrue)}
	correct := 0
	for i, c := range yTrue {
		pred := 0
		if proba[i] >= Threshold {
			pred = 1
		}
		r.Confusion[c][pred]++
		if pred == c {
			correct++
		}
	}
	r.Accuracy = float64(correct) / float64(len(yTrue))

	for c := range 2 {
		tp := r.Confusion[c][c]
		predicted := r.Confusion[0][c] + r.Confusion[1][c]
		actual := r.Confusion[c][0] + r.Confusion[c][1]
		m := ClassMetrics{
			Label:     strconv.Itoa(c),
			Precision: ratio(tp, predicted),
			Recall:    ratio(tp, actual),
			Support:   actual,
		}
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		r.Classes = append(r.Classes, m)
	}

	r.MacroAvg = ClassMetrics{Label: "macro avg", Support: r.Support}
	r.WeightedAvg = ClassMetrics{Label: "weighted avg", Support: r.Support}
	for _, m := range r.Classes {
		r.MacroAvg.Precision += m.Precision / 2
		r.MacroAvg.Recall += m.Recall / 2
		r.MacroAvg.F1 += m.F1 / 2
		share := float64(m.Support) / float64(r.Support)
		r.WeightedAvg.Precision += m.Precision * share
		r.WeightedAvg.Recall += m.Recall * share
		r.WeightedAvg.F1 += m.F1 * share
	}
	r.AUC = rocAUC(yTrue, proba)
	return r, nil
}

func ratio(a, b int) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}

// rocAUC is the Mann-Whitney statistic with average ranks for ties. It is
// 0.5 when only one class is present.
func rocAUC(y []int, score []float64) float64 {
	n := len(y)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return score[order[a]] < score[order[b]] })

	ranks := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j+1 < n && score[order[j+1]] == score[order[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[order[k]] = avg
		}
		i = j + 1
	}

	var pos, neg int
	var rankSum float64
	for i, c := range y {
		if c == 1 {
			pos++
			rankSum += ranks[i]
		} else {
			neg++
		}
	}
	if pos == 0 || neg == 0 {
		return 0.5
	}
	return (rankSum - float64(pos*(pos+1))/2) / float64(pos*neg)
}

// String renders the report in the usual classification-report layout.
func (r *Report) String() string {
	const width = 12
	var b strings.Builder
	fmt.Fprintf(&b, "%*s %9s %9s %9s %9s\n\n", width, "", "precision", "recall", "f1-score", "support")
	for _, m := range r.Classes {
		writeMetrics(&b, width, m)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "%*s %9s %9s %9.2f %9d\n", width, "accuracy", "", "", r.Accuracy, r.Support)
	writeMetrics(&b, width, r.MacroAvg)
	writeMetrics(&b, width, r.WeightedAvg)
	return b.String()
}

func writeMetrics(b *strings.Builder, width int, m ClassMetrics) {
	fmt.Fprintf(b, "%*s %9.2f %9.2f %9.2f %9d\n", width, m.Label, m.Precision, m.Recall, m.F1, m.Support)
}
