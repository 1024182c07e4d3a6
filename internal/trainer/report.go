package trainer

import (
	"fmt"
	"slices"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// WriteReport writes the evaluation of res to an xlsx workbook with a
// summary sheet, the per-class metrics, the confusion matrix and the
// feature importances.
func WriteReport(path string, res *Result) error {
	f := xlsx.NewFile()

	summary, err := f.AddSheet("Summary")
	if err != nil {
		return eris.Wrap(err, "trainer: add summary sheet")
	}
	h := res.Header
	addPair(summary, "Algorithm", h.Algorithm)
	addPair(summary, "Source", res.Source)
	addPair(summary, "Trained at", h.TrainedAt.Format("2006-01-02 15:04:05 UTC"))
	addPair(summary, "Seed", fmt.Sprint(h.Seed))
	addPair(summary, "Schema signature", h.Signature)
	addNumber(summary, "Rows loaded", float64(res.Cleaning.Rows))
	addNumber(summary, "Rows dropped (no target)", float64(res.Cleaning.DroppedTarget))
	addNumber(summary, "Null values filled", float64(res.Cleaning.FilledValues))
	addNumber(summary, "Train rows", float64(h.TrainRows))
	addNumber(summary, "Test rows", float64(h.TestRows))
	addNumber(summary, "Accuracy", res.Report.Accuracy)
	addNumber(summary, "ROC AUC", res.Report.AUC)

	metrics, err := f.AddSheet("Classification")
	if err != nil {
		return eris.Wrap(err, "trainer: add classification sheet")
	}
	addHeader(metrics, "class", "precision", "recall", "f1-score", "support")
	for _, m := range append(slices.Clone(res.Report.Classes), res.Report.MacroAvg, res.Report.WeightedAvg) {
		row := metrics.AddRow()
		row.AddCell().SetString(m.Label)
		row.AddCell().SetFloat(m.Precision)
		row.AddCell().SetFloat(m.Recall)
		row.AddCell().SetFloat(m.F1)
		row.AddCell().SetInt(m.Support)
	}

	confusion, err := f.AddSheet("Confusion")
	if err != nil {
		return eris.Wrap(err, "trainer: add confusion sheet")
	}
	addHeader(confusion, "actual \\ predicted", "0", "1")
	for actual, counts := range res.Report.Confusion {
		row := confusion.AddRow()
		row.AddCell().SetInt(actual)
		row.AddCell().SetInt(counts[0])
		row.AddCell().SetInt(counts[1])
	}

	importance, err := f.AddSheet("Importances")
	if err != nil {
		return eris.Wrap(err, "trainer: add importance sheet")
	}
	addHeader(importance, "feature", "importance")
	order := make([]int, len(h.Importances))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return h.Importances[order[a]] > h.Importances[order[b]] })
	for _, i := range order {
		row := importance.AddRow()
		row.AddCell().SetString(h.Features[i])
		row.AddCell().SetFloat(h.Importances[i])
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "trainer: save report %s", path)
	}
	return nil
}

func addHeader(s *xlsx.Sheet, names ...string) {
	row := s.AddRow()
	for _, n := range names {
		row.AddCell().SetString(n)
	}
}

func addPair(s *xlsx.Sheet, key, value string) {
	row := s.AddRow()
	row.AddCell().SetString(key)
	row.AddCell().SetString(value)
}

func addNumber(s *xlsx.Sheet, key string, value float64) {
	row := s.AddRow()
	row.AddCell().SetString(key)
	row.AddCell().SetFloat(value)
}
