package warehouse

import (
	"fmt"
	"strings"
	"time"

	"github.com/sells-group/churnops/internal/model"
)

const runSelectColumns = `id, project, status, seed, total_customers, batch_size,
	batches_written, usage_rows, ticket_rows, churned, error, started_at, completed_at`

const (
	defaultRunLimit = 20
	maxRunLimit     = 1000
)

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultRunLimit
	}
	return min(limit, maxRunLimit)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.GenerationRun, error) {
	var (
		r         model.GenerationRun
		status    string
		seed      int64
		errStr    *string
		completed *time.Time
	)
	if err := row.Scan(&r.ID, &r.Project, &status, &seed, &r.TotalCustomers, &r.BatchSize,
		&r.BatchesWritten, &r.UsageRows, &r.TicketRows, &r.Churned, &errStr, &r.StartedAt, &completed); err != nil {
		return nil, err
	}
	r.Status = model.RunStatus(status)
	r.Seed = uint64(seed)
	if errStr != nil {
		r.Error = *errStr
	}
	r.CompletedAt = completed
	return &r, nil
}

// kpiSelect renders the KPI read with every column cast to a float type.
func kpiSelect(q KPIQuery, table, floatType string) string {
	cols := make([]string, 0, len(q.Features)+1)
	for _, f := range append(append([]string(nil), q.Features...), q.Target) {
		cols = append(cols, fmt.Sprintf("CAST(%s AS %s)", f, floatType))
	}
	return "SELECT " + strings.Join(cols, ", ") + " FROM " + table
}

type kpiScan struct {
	features []*float64
	target   *float64
}

func newKPIRow(n int) (*kpiScan, []any) {
	s := &kpiScan{features: make([]*float64, n)}
	dest := make([]any, 0, n+1)
	for i := range s.features {
		dest = append(dest, &s.features[i])
	}
	return s, append(dest, &s.target)
}

func (s *kpiScan) finish() model.KPIRow {
	return model.KPIRow{Features: s.features, Target: s.target}
}
