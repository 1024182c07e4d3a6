package warehouse

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/churnops/internal/model"
)

func newMockPostgres(t *testing.T) (*Postgres, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	p, err := NewPostgres(mock, "cs_ops")
	require.NoError(t, err)
	return p, mock
}

func migrationFileNames(t *testing.T) []string {
	t.Helper()
	entries, err := fs.ReadDir(migrationFS, "migrations")
	require.NoError(t, err)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestNewPostgresRejectsBadSchema(t *testing.T) {
	_, err := NewPostgres(nil, "cs-ops")
	assert.Error(t, err)
}

func TestPostgres_MigrateFresh(t *testing.T) {
	p, mock := newMockPostgres(t)
	names := migrationFileNames(t)
	require.Len(t, names, 2)

	mock.ExpectExec("SELECT pg_advisory_lock").WithArgs(migrationLockID).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`CREATE SCHEMA IF NOT EXISTS "cs_ops"`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery(`SELECT filename FROM "cs_ops"."schema_migrations"`).
		WillReturnRows(pgxmock.NewRows([]string{"filename"}))
	for _, name := range names {
		mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "cs_ops"\.`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
		mock.ExpectExec(`INSERT INTO "cs_ops"."schema_migrations"`).WithArgs(name).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectExec("SELECT pg_advisory_unlock").WithArgs(migrationLockID).WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, p.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_MigrateSkipsApplied(t *testing.T) {
	p, mock := newMockPostgres(t)
	names := migrationFileNames(t)

	rows := pgxmock.NewRows([]string{"filename"})
	for _, n := range names {
		rows.AddRow(n)
	}

	mock.ExpectExec("SELECT pg_advisory_lock").WithArgs(migrationLockID).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec("CREATE SCHEMA IF NOT EXISTS").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery("SELECT filename").WillReturnRows(rows)
	mock.ExpectExec("SELECT pg_advisory_unlock").WithArgs(migrationLockID).WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, p.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_MigrateLockError(t *testing.T) {
	p, mock := newMockPostgres(t)
	mock.ExpectExec("SELECT pg_advisory_lock").WithArgs(migrationLockID).WillReturnError(fmt.Errorf("connection refused"))

	err := p.Migrate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "advisory lock")
}

func TestPostgres_WriteBatchReplace(t *testing.T) {
	p, mock := newMockPostgres(t)
	b := testBatch(0)

	mock.ExpectBegin()
	mock.ExpectExec(`TRUNCATE "cs_ops"."raw_customers", "cs_ops"."raw_usage", "cs_ops"."raw_tickets", "cs_ops"."raw_churn_target"`).
		WillReturnResult(pgxmock.NewResult("TRUNCATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"cs_ops", TableCustomers}, customerColumns).WillReturnResult(2)
	mock.ExpectCopyFrom(pgx.Identifier{"cs_ops", TableUsage}, usageColumns).WillReturnResult(3)
	mock.ExpectCopyFrom(pgx.Identifier{"cs_ops", TableTickets}, ticketColumns).WillReturnResult(1)
	mock.ExpectCopyFrom(pgx.Identifier{"cs_ops", TableChurn}, churnColumns).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "cs_ops"."generation_batches"`).
		WithArgs("run-1", 0, int64(2), int64(3), int64(1), int64(1), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	res, err := p.WriteBatch(context.Background(), WriteRequest{RunID: "run-1", Mode: model.WriteReplace, Batch: b})
	require.NoError(t, err)
	assert.Equal(t, &model.BatchResult{Index: 0, Customers: 2, Usage: 3, Tickets: 1, Churn: 1}, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_WriteBatchAppendClearsKey(t *testing.T) {
	p, mock := newMockPostgres(t)
	b := testBatch(3)

	mock.ExpectBegin()
	for _, table := range []string{TableCustomers, TableUsage, TableTickets, TableChurn} {
		mock.ExpectExec(`DELETE FROM "cs_ops"."` + table + `" WHERE "run_id" = \$1 AND "batch_index" = \$2`).
			WithArgs("run-1", 3).
			WillReturnResult(pgxmock.NewResult("DELETE", 0))
	}
	mock.ExpectCopyFrom(pgx.Identifier{"cs_ops", TableCustomers}, customerColumns).WillReturnResult(2)
	mock.ExpectCopyFrom(pgx.Identifier{"cs_ops", TableUsage}, usageColumns).WillReturnResult(3)
	mock.ExpectCopyFrom(pgx.Identifier{"cs_ops", TableTickets}, ticketColumns).WillReturnResult(1)
	mock.ExpectCopyFrom(pgx.Identifier{"cs_ops", TableChurn}, churnColumns).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "cs_ops"."generation_batches"`).
		WithArgs("run-1", 3, int64(2), int64(3), int64(1), int64(1), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	res, err := p.WriteBatch(context.Background(), WriteRequest{RunID: "run-1", Mode: model.WriteAppend, Batch: b})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Index)
	assert.Equal(t, int64(2), res.Customers)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_WriteBatchCopyFailure(t *testing.T) {
	p, mock := newMockPostgres(t)

	mock.ExpectBegin()
	mock.ExpectExec("TRUNCATE").WillReturnResult(pgxmock.NewResult("TRUNCATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"cs_ops", TableCustomers}, customerColumns).WillReturnError(fmt.Errorf("conn busy"))
	mock.ExpectRollback()

	_, err := p.WriteBatch(context.Background(), WriteRequest{RunID: "run-1", Mode: model.WriteReplace, Batch: testBatch(0)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write batch 0")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_AppendOrphans(t *testing.T) {
	p, mock := newMockPostgres(t)
	logs := []model.UsageLog{
		{ID: "log_orphan_0", CustomerID: model.OrphanCustomerID, Date: time.Now(), Feature: "feature_A_finance", Minutes: 5},
		{ID: "log_orphan_1", CustomerID: model.OrphanCustomerID, Date: time.Now(), Feature: "feature_C_invoicing", Minutes: 15},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "cs_ops"."raw_usage"`).WithArgs("run-1", model.OrphanBatchIndex).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"cs_ops", TableUsage}, usageColumns).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "cs_ops"."generation_batches"`).
		WithArgs("run-1", model.OrphanBatchIndex, int64(0), int64(2), int64(0), int64(0), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := p.AppendOrphans(context.Background(), "run-1", logs)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_RunLifecycle(t *testing.T) {
	p, mock := newMockPostgres(t)
	ctx := context.Background()
	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO "cs_ops"."generation_log"`).
		WithArgs("run-1", "demo", "running", int64(42), 10000, 500, started).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE "cs_ops"."generation_log" SET\s+batches_written`).
		WithArgs("run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE "cs_ops"."generation_log"\s+SET status`).
		WithArgs("complete", pgxmock.AnyArg(), 20, int64(901234), int64(3456), int64(2100), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE "cs_ops"."generation_log" SET status`).
		WithArgs("failed", pgxmock.AnyArg(), "boom", "run-2").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, p.StartRun(ctx, model.GenerationRun{
		ID: "run-1", Project: "demo", Seed: 42, TotalCustomers: 10000, BatchSize: 500, StartedAt: started,
	}))
	require.NoError(t, p.RecordBatch(ctx, "run-1"))
	require.NoError(t, p.CompleteRun(ctx, "run-1", model.RunTotals{
		Customers: 10000, UsageRows: 901234, Tickets: 3456, Churned: 2100, Batches: 20,
	}))
	require.NoError(t, p.FailRun(ctx, "run-2", "boom"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_FinishUnknownRun(t *testing.T) {
	p, mock := newMockPostgres(t)
	ctx := context.Background()

	mock.ExpectExec(`UPDATE "cs_ops"."generation_log"\s+SET status`).
		WithArgs("complete", pgxmock.AnyArg(), 0, int64(0), int64(0), int64(0), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec(`UPDATE "cs_ops"."generation_log" SET status`).
		WithArgs("failed", pgxmock.AnyArg(), "boom", "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := p.CompleteRun(ctx, "missing", model.RunTotals{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found: missing")

	err = p.FailRun(ctx, "missing", "boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found: missing")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ListRuns(t *testing.T) {
	p, mock := newMockPostgres(t)
	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	done := started.Add(3 * time.Minute)
	errMsg := "write batch 4: deadlock"

	cols := []string{"id", "project", "status", "seed", "total_customers", "batch_size",
		"batches_written", "usage_rows", "ticket_rows", "churned", "error", "started_at", "completed_at"}
	mock.ExpectQuery(`SELECT id, project, status`).
		WithArgs(defaultRunLimit).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow("run-2", "demo", "failed", int64(-1), 10000, 500, 4, int64(1000), int64(20), int64(300), &errMsg, started, &done).
			AddRow("run-1", "demo", "running", int64(7), 100, 50, 1, int64(10), int64(0), int64(5), nil, started, nil))

	runs, err := p.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, model.RunStatusFailed, runs[0].Status)
	assert.Equal(t, uint64(1<<64-1), runs[0].Seed)
	assert.Equal(t, errMsg, runs[0].Error)
	require.NotNil(t, runs[0].CompletedAt)
	assert.Equal(t, done, *runs[0].CompletedAt)

	assert.Equal(t, model.RunStatusRunning, runs[1].Status)
	assert.Empty(t, runs[1].Error)
	assert.Nil(t, runs[1].CompletedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ReadKPIs(t *testing.T) {
	p, mock := newMockPostgres(t)
	f := func(v float64) *float64 { return &v }

	mock.ExpectQuery(`SELECT CAST\(mrr AS DOUBLE PRECISION\), CAST\(total_logins AS DOUBLE PRECISION\), CAST\(churn_status AS DOUBLE PRECISION\) FROM "cs_ops"."fct_customer_kpis"`).
		WillReturnRows(pgxmock.NewRows([]string{"mrr", "total_logins", "churn_status"}).
			AddRow(f(120.5), f(40), f(1)).
			AddRow(nil, f(3), nil))

	rows, err := p.ReadKPIs(context.Background(), KPIQuery{
		Table: "fct_customer_kpis", Features: []string{"mrr", "total_logins"}, Target: "churn_status",
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 120.5, *rows[0].Features[0])
	assert.Equal(t, 1.0, *rows[0].Target)
	assert.Nil(t, rows[1].Features[0])
	assert.Equal(t, 3.0, *rows[1].Features[1])
	assert.Nil(t, rows[1].Target)
	assert.NoError(t, mock.ExpectationsWereMet())
}
