package warehouse

import (
	"context"
	"embed"
	"errors"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/churnops/internal/db"
	"github.com/sells-group/churnops/internal/model"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// migrationLockID guards concurrent migrate runs.
const migrationLockID = 7402211

// Postgres implements Warehouse on a pgx pool. Tables live in a schema named
// after the dataset.
type Postgres struct {
	pool    db.Pool
	schema  string
	closeFn func()
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool db.Pool, schema string) (*Postgres, error) {
	if !identRe.MatchString(schema) {
		return nil, eris.Errorf("postgres: invalid schema %q", schema)
	}
	return &Postgres{pool: pool, schema: schema}, nil
}

// ConnectPostgres creates a pool for connString and pings it.
func ConnectPostgres(ctx context.Context, connString, schema string) (*Postgres, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 4
	pgxCfg.MinConns = 1
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}

	p, err := NewPostgres(pool, schema)
	if err != nil {
		pool.Close()
		return nil, err
	}
	p.closeFn = pool.Close
	return p, nil
}

// Close releases the pool when this warehouse owns it.
func (p *Postgres) Close() error {
	if p.closeFn != nil {
		p.closeFn()
	}
	return nil
}

func (p *Postgres) table(name string) string {
	return pgx.Identifier{p.schema, name}.Sanitize()
}

// Migrate applies the embedded migrations that have not run yet, in
// filename order, under an advisory lock.
func (p *Postgres) Migrate(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "warehouse.migrate"), zap.String("schema", p.schema))

	if _, err := p.pool.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return eris.Wrap(err, "postgres: acquire migration advisory lock")
	}
	defer func() {
		if _, err := p.pool.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID); err != nil {
			log.Warn("postgres: failed to release migration advisory lock", zap.Error(err))
		}
	}()

	schema := pgx.Identifier{p.schema}.Sanitize()
	if _, err := p.pool.Exec(ctx, `
		CREATE SCHEMA IF NOT EXISTS `+schema+`;
		CREATE TABLE IF NOT EXISTS `+p.table("schema_migrations")+` (
			filename   TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`); err != nil {
		return eris.Wrap(err, "postgres: ensure migration table")
	}

	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return eris.Wrap(err, "postgres: read migration dir")
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	applied, err := p.appliedMigrations(ctx)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		name := entry.Name()
		if applied[name] {
			continue
		}

		data, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return eris.Wrapf(err, "postgres: read migration %s", name)
		}

		log.Info("applying migration", zap.String("file", name))
		if _, err := p.pool.Exec(ctx, strings.ReplaceAll(string(data), "{schema}", schema)); err != nil {
			return eris.Wrapf(err, "postgres: apply migration %s", name)
		}
		if _, err := p.pool.Exec(ctx,
			"INSERT INTO "+p.table("schema_migrations")+" (filename) VALUES ($1)",
			name,
		); err != nil {
			return eris.Wrapf(err, "postgres: record migration %s", name)
		}
	}
	return nil
}

func (p *Postgres) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := p.pool.Query(ctx, "SELECT filename FROM "+p.table("schema_migrations"))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query applied migrations")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "postgres: scan migration row")
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

// WriteBatch replaces the rows keyed by (run, batch) via COPY and records the
// batch marker in the same transaction.
func (p *Postgres) WriteBatch(ctx context.Context, req WriteRequest) (*model.BatchResult, error) {
	b := req.Batch
	loads := batchLoads(req.RunID, b)

	counts, err := p.replace(ctx, req.RunID, b.Index, req.Mode == model.WriteReplace, loads, int64(b.Churned()))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: write batch %d", b.Index)
	}
	return batchResult(b, counts), nil
}

// AppendOrphans loads orphan usage rows under model.OrphanBatchIndex.
func (p *Postgres) AppendOrphans(ctx context.Context, runID string, logs []model.UsageLog) (int64, error) {
	loads := []tableLoad{{TableUsage, usageColumns, usageRows(runID, model.OrphanBatchIndex, logs)}}

	counts, err := p.replace(ctx, runID, model.OrphanBatchIndex, false, loads, 0)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: append orphans")
	}
	return counts[TableUsage], nil
}

func (p *Postgres) replace(ctx context.Context, runID string, index int, truncate bool, loads []tableLoad, churned int64) (map[string]int64, error) {
	cfg := db.ReplaceConfig{
		Schema:   p.schema,
		Key:      db.BatchKey{Columns: batchKey, Values: []any{runID, index}},
		Truncate: truncate,
	}
	for _, l := range loads {
		cfg.Loads = append(cfg.Loads, db.Load{Table: l.table, Columns: l.columns, Rows: l.rows})
	}
	cfg.Finalize = func(ctx context.Context, tx pgx.Tx, counts map[string]int64) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO `+p.table(TableBatches)+` (`+strings.Join(batchColumns, ", ")+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (run_id, batch_index) DO UPDATE SET
			 customers = EXCLUDED.customers, usage_rows = EXCLUDED.usage_rows,
			 tickets = EXCLUDED.tickets, churned = EXCLUDED.churned, written_at = EXCLUDED.written_at`,
			runID, index, counts[TableCustomers], counts[TableUsage], counts[TableTickets], churned, time.Now().UTC(),
		)
		return err
	}
	return db.ReplaceBatch(ctx, p.pool, cfg)
}

// StartRun inserts a running entry into the generation log.
func (p *Postgres) StartRun(ctx context.Context, run model.GenerationRun) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO `+p.table(TableRuns)+` (id, project, status, seed, total_customers, batch_size, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.Project, string(model.RunStatusRunning), int64(run.Seed), run.TotalCustomers, run.BatchSize, run.StartedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: start run %s", run.ID)
	}
	return nil
}

// RecordBatch refreshes the run's progress counters from its batch markers.
func (p *Postgres) RecordBatch(ctx context.Context, runID string) error {
	batches := p.table(TableBatches)
	_, err := p.pool.Exec(ctx,
		`UPDATE `+p.table(TableRuns)+` SET
		 batches_written = (SELECT COUNT(*) FROM `+batches+` WHERE run_id = $1 AND batch_index >= 0),
		 usage_rows = (SELECT COALESCE(SUM(usage_rows), 0) FROM `+batches+` WHERE run_id = $1),
		 ticket_rows = (SELECT COALESCE(SUM(tickets), 0) FROM `+batches+` WHERE run_id = $1),
		 churned = (SELECT COALESCE(SUM(churned), 0) FROM `+batches+` WHERE run_id = $1)
		 WHERE id = $1`,
		runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: record batch progress for %s", runID)
	}
	return nil
}

// CompleteRun marks a run complete with its final totals.
func (p *Postgres) CompleteRun(ctx context.Context, runID string, totals model.RunTotals) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE `+p.table(TableRuns)+`
		 SET status = $1, completed_at = $2, batches_written = $3, usage_rows = $4, ticket_rows = $5, churned = $6
		 WHERE id = $7`,
		string(model.RunStatusComplete), time.Now().UTC(), totals.Batches, totals.UsageRows, totals.Tickets, totals.Churned, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

// FailRun marks a run failed with an error message.
func (p *Postgres) FailRun(ctx context.Context, runID string, errMsg string) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE `+p.table(TableRuns)+` SET status = $1, completed_at = $2, error = $3 WHERE id = $4`,
		string(model.RunStatusFailed), time.Now().UTC(), errMsg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

// ListRuns returns the most recent runs first.
func (p *Postgres) ListRuns(ctx context.Context, limit int) ([]model.GenerationRun, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+runSelectColumns+` FROM `+p.table(TableRuns)+` ORDER BY started_at DESC LIMIT $1`,
		normalizeLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.GenerationRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// ReadKPIs reads the requested numeric columns of a KPI table in the dataset
// schema. NULLs are preserved.
func (p *Postgres) ReadKPIs(ctx context.Context, q KPIQuery) ([]model.KPIRow, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}

	rows, err := p.pool.Query(ctx, kpiSelect(q, p.table(q.Table), "DOUBLE PRECISION"))
	if err != nil {
		var pgErr interface{ SQLState() string }
		if errors.As(err, &pgErr) && pgErr.SQLState() == "42P01" {
			return nil, eris.Wrapf(err, "postgres: KPI table %s does not exist", q.Table)
		}
		return nil, eris.Wrapf(err, "postgres: read %s", q.Table)
	}
	defer rows.Close()

	var out []model.KPIRow
	for rows.Next() {
		row, dest := newKPIRow(len(q.Features))
		if err := rows.Scan(dest...); err != nil {
			return nil, eris.Wrapf(err, "postgres: scan %s", q.Table)
		}
		out = append(out, row.finish())
	}
	return out, rows.Err()
}
