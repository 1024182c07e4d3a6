// Package warehouse persists generated batches and the generation log, and
// reads the KPI table the trainer learns from.
package warehouse

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/churnops/internal/config"
	"github.com/sells-group/churnops/internal/model"
)

// Warehouse is the storage collaborator of the generator and the trainer.
type Warehouse interface {
	// Migrate creates the raw tables and the generation log.
	Migrate(ctx context.Context) error

	// WriteBatch loads one batch as a single transaction keyed by
	// (run ID, batch index). Replaying the same request is harmless.
	WriteBatch(ctx context.Context, req WriteRequest) (*model.BatchResult, error)

	// AppendOrphans appends orphan usage rows under OrphanBatchIndex.
	AppendOrphans(ctx context.Context, runID string, rows []model.UsageLog) (int64, error)

	// Generation log.
	StartRun(ctx context.Context, run model.GenerationRun) error
	RecordBatch(ctx context.Context, runID string) error
	CompleteRun(ctx context.Context, runID string, totals model.RunTotals) error
	FailRun(ctx context.Context, runID string, errMsg string) error
	ListRuns(ctx context.Context, limit int) ([]model.GenerationRun, error)

	// ReadKPIs reads the feature and target columns of a KPI table.
	ReadKPIs(ctx context.Context, q KPIQuery) ([]model.KPIRow, error)

	Close() error
}

// WriteRequest is one batch unit.
type WriteRequest struct {
	RunID string
	Mode  model.WriteMode
	Batch *model.Batch
}

// KPIQuery selects numeric columns from a KPI table.
type KPIQuery struct {
	Table    string
	Features []string
	Target   string
}

func (q KPIQuery) validate() error {
	if !identRe.MatchString(q.Table) {
		return eris.Errorf("warehouse: invalid table %q", q.Table)
	}
	for _, c := range append([]string{q.Target}, q.Features...) {
		if !identRe.MatchString(c) {
			return eris.Errorf("warehouse: invalid column %q", c)
		}
	}
	return nil
}

// Open connects to the warehouse selected by cfg.Driver.
func Open(ctx context.Context, cfg config.WarehouseConfig) (Warehouse, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return ConnectPostgres(ctx, cfg.DatabaseURL, cfg.Dataset)
	case config.DriverSQLite:
		return OpenSQLite(ctx, cfg.DatabaseURL, cfg.Dataset)
	case config.DriverMySQL:
		return OpenMySQL(ctx, cfg.DatabaseURL, cfg.Dataset)
	default:
		return nil, eris.Errorf("warehouse: unknown driver %q", cfg.Driver)
	}
}
