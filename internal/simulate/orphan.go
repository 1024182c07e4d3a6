package simulate

import (
	"fmt"

	"github.com/sells-group/churnops/internal/model"
)

// Orphans fabricates n usage rows that reference model.OrphanCustomerID,
// dated within the last 30 days.
func (s *Simulator) Orphans(n int) []model.UsageLog {
	rows := make([]model.UsageLog, 0, n)
	for i := range n {
		rows = append(rows, model.UsageLog{
			ID:         fmt.Sprintf("log_orphan_%d", i),
			CustomerID: model.OrphanCustomerID,
			Date:       s.today.AddDate(0, 0, -(1 + s.rng.IntN(30))),
			Feature:    model.ProductFeatures[s.rng.IntN(len(model.ProductFeatures))],
			Minutes:    5 + s.rng.IntN(11),
		})
	}
	return rows
}
