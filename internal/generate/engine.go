// Package generate drives the simulator batch by batch into the warehouse.
package generate

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/churnops/internal/config"
	"github.com/sells-group/churnops/internal/model"
	"github.com/sells-group/churnops/internal/resilience"
	"github.com/sells-group/churnops/internal/simulate"
	"github.com/sells-group/churnops/internal/warehouse"
)

// Progress receives batch-level progress. Implementations must be cheap;
// they run between batches.
type Progress interface {
	Start(batches int)
	Advance(res model.BatchResult)
	Finish()
}

type nopProgress struct{}

func (nopProgress) Start(int)                 {}
func (nopProgress) Advance(model.BatchResult) {}
func (nopProgress) Finish()                   {}

// Result summarizes a finished run.
type Result struct {
	RunID      string                   `json:"run_id"`
	Seed       uint64                   `json:"seed"`
	Totals     model.RunTotals          `json:"totals"`
	Corruption simulate.CorruptionStats `json:"corruption"`
	Elapsed    time.Duration            `json:"elapsed"`
}

// Engine generates one run: sequential batches, then orphan rows.
type Engine struct {
	wh       warehouse.Warehouse
	project  string
	cfg      config.GeneratorConfig
	retry    resilience.RetryConfig
	progress Progress
	now      func() time.Time
	newID    func() string
}

// Option customizes an Engine.
type Option func(*Engine)

// WithProgress reports batch progress to p.
func WithProgress(p Progress) Option {
	return func(e *Engine) { e.progress = p }
}

// WithClock overrides the time source used for "today" and the run log.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRunID fixes the run ID instead of generating a UUID.
func WithRunID(id string) Option {
	return func(e *Engine) { e.newID = func() string { return id } }
}

// WithRetry overrides the batch retry policy.
func WithRetry(r resilience.RetryConfig) Option {
	return func(e *Engine) { e.retry = r }
}

// NewEngine creates an engine writing to wh.
func NewEngine(wh warehouse.Warehouse, cfg *config.Config, opts ...Option) *Engine {
	e := &Engine{
		wh:       wh,
		project:  cfg.Project,
		cfg:      cfg.Generator,
		retry:    resilience.FromConfig(cfg.Retry),
		progress: nopProgress{},
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run generates every batch in order. A batch that still fails after retries
// aborts the run; batches already committed stay in the warehouse and the
// run is marked failed.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	started := e.now().UTC()
	cfg := e.cfg
	if cfg.Seed == 0 {
		cfg.Seed = uint64(started.UnixNano())
	}

	res := &Result{RunID: e.newID(), Seed: cfg.Seed}
	log := zap.L().With(zap.String("component", "generate.engine"), zap.String("run_id", res.RunID))

	if err := e.wh.StartRun(ctx, model.GenerationRun{
		ID:             res.RunID,
		Project:        e.project,
		Status:         model.RunStatusRunning,
		Seed:           cfg.Seed,
		TotalCustomers: cfg.TotalCustomers,
		BatchSize:      cfg.BatchSize,
		StartedAt:      started,
	}); err != nil {
		return nil, eris.Wrap(err, "generate: start run")
	}

	batches := simulate.BatchCount(cfg.TotalCustomers, cfg.BatchSize)
	log.Info("starting generation",
		zap.Uint64("seed", cfg.Seed),
		zap.Int("customers", cfg.TotalCustomers),
		zap.Int("batches", batches),
	)

	sim := simulate.New(cfg, started)
	e.progress.Start(batches)
	defer e.progress.Finish()

	for i := range batches {
		if err := ctx.Err(); err != nil {
			return nil, e.fail(ctx, res.RunID, eris.Wrap(err, "generate: cancelled"))
		}

		batch := sim.Batch(i, cfg.BatchSize, cfg.TotalCustomers)
		addStats(&res.Corruption, sim.Corrupt(batch))

		mode := model.WriteAppend
		if i == 0 {
			mode = model.WriteReplace
		}

		req := warehouse.WriteRequest{RunID: res.RunID, Mode: mode, Batch: batch}
		written, err := resilience.DoVal(ctx, e.retryFor("write_batch", zap.Int("batch", i)),
			func(ctx context.Context) (*model.BatchResult, error) {
				return e.wh.WriteBatch(ctx, req)
			})
		if err != nil {
			return nil, e.fail(ctx, res.RunID, eris.Wrapf(err, "generate: batch %d", i))
		}

		if err := e.wh.RecordBatch(ctx, res.RunID); err != nil {
			log.Warn("failed to record batch progress", zap.Int("batch", i), zap.Error(err))
		}

		res.Totals.Batches++
		res.Totals.Customers += written.Customers
		res.Totals.UsageRows += written.Usage
		res.Totals.Tickets += written.Tickets
		res.Totals.Churned += written.Churn
		e.progress.Advance(*written)

		log.Debug("batch committed",
			zap.Int("batch", i),
			zap.String("mode", string(mode)),
			zap.Int64("customers", written.Customers),
			zap.Int64("usage", written.Usage),
			zap.Int64("tickets", written.Tickets),
		)
	}

	if cfg.OrphanLogs > 0 {
		orphans := sim.Orphans(cfg.OrphanLogs)
		n, err := resilience.DoVal(ctx, e.retryFor("append_orphans"),
			func(ctx context.Context) (int64, error) {
				return e.wh.AppendOrphans(ctx, res.RunID, orphans)
			})
		if err != nil {
			return nil, e.fail(ctx, res.RunID, eris.Wrap(err, "generate: orphans"))
		}
		res.Totals.UsageRows += n
	}

	if err := e.wh.CompleteRun(ctx, res.RunID, res.Totals); err != nil {
		return nil, e.fail(ctx, res.RunID, eris.Wrap(err, "generate: complete run"))
	}

	res.Elapsed = e.now().Sub(started)
	log.Info("generation complete",
		zap.Int64("customers", res.Totals.Customers),
		zap.Int64("usage_rows", res.Totals.UsageRows),
		zap.Int64("tickets", res.Totals.Tickets),
		zap.Int64("churned", res.Totals.Churned),
		zap.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

func (e *Engine) retryFor(operation string, fields ...zap.Field) resilience.RetryConfig {
	r := e.retry
	r.OnRetry = resilience.RetryLogger(operation, fields...)
	return r
}

// fail records the failure in the run log and returns err.
func (e *Engine) fail(ctx context.Context, runID string, err error) error {
	if logErr := e.wh.FailRun(context.WithoutCancel(ctx), runID, err.Error()); logErr != nil {
		zap.L().Error("failed to record run failure", zap.String("run_id", runID), zap.Error(logErr))
	}
	return err
}

func addStats(dst *simulate.CorruptionStats, s simulate.CorruptionStats) {
	dst.PlanNull += s.PlanNull
	dst.PlanTypo += s.PlanTypo
	dst.MRRCurrency += s.MRRCurrency
	dst.MRRInvalid += s.MRRInvalid
	dst.PriorityNull += s.PriorityNull
	dst.TicketTypo += s.TicketTypo
	dst.TicketDupe += s.TicketDupe
}
