package trainer

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/churnops/internal/features"
	"github.com/sells-group/churnops/internal/ml"
	"github.com/sells-group/churnops/internal/model"
)

// Cleaning counts what Prepare did to the raw rows.
type Cleaning struct {
	Rows          int `json:"rows"`
	DroppedTarget int `json:"dropped_target"`
	FilledValues  int `json:"filled_values"`
}

// Prepare turns KPI rows into a dataset: rows without a target are dropped,
// missing features become 0 and the target must be 0 or 1.
func Prepare(rows []model.KPIRow, schema *features.Schema) (*ml.Dataset, Cleaning, error) {
	c := Cleaning{Rows: len(rows)}
	n := schema.Len()
	x := make([][]float64, 0, len(rows))
	y := make([]int, 0, len(rows))
	for i, r := range rows {
		if r.Target == nil {
			c.DroppedTarget++
			continue
		}
		if len(r.Features) != n {
			return nil, c, eris.Errorf("trainer: row %d has %d features, want %d", i, len(r.Features), n)
		}
		switch *r.Target {
		case 0, 1:
		default:
			return nil, c, eris.Errorf("trainer: row %d has target %v, want 0 or 1", i, *r.Target)
		}
		vec := make([]float64, n)
		for j, v := range r.Features {
			if v == nil {
				c.FilledValues++
				continue
			}
			vec[j] = *v
		}
		x = append(x, vec)
		y = append(y, int(*r.Target))
	}
	if len(x) == 0 {
		return nil, c, eris.New("trainer: no rows with a target")
	}
	ds, err := ml.NewDataset(x, y, schema.Names())
	if err != nil {
		return nil, c, eris.Wrap(err, "trainer: build dataset")
	}
	return ds, c, nil
}
