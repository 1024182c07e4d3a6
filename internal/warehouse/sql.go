package warehouse

import (
	"context"
	"database/sql"
	"net/url"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/churnops/internal/model"
)

// insertChunk bounds the rows per multi-row INSERT, keeping the placeholder
// count under every backend's limit.
const insertChunk = 250

// SQL implements Warehouse on database/sql for SQLite and MySQL. Tables are
// prefixed with the dataset name.
type SQL struct {
	db      *sql.DB
	dialect dialect
	prefix  string
}

// OpenSQLite opens a SQLite warehouse at dsn and configures WAL mode.
func OpenSQLite(ctx context.Context, dsn, dataset string) (*SQL, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One writer at a time; batches are sequential anyway.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return newSQL(db, sqliteDialect, dataset)
}

// OpenMySQL opens a MySQL or MariaDB warehouse. dsn may be a driver DSN or a
// mysql:// / mariadb:// URL.
func OpenMySQL(ctx context.Context, dsn, dataset string) (*SQL, error) {
	driverDSN, err := MySQLDSN(dsn)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("mysql", driverDSN)
	if err != nil {
		return nil, eris.Wrap(err, "mysql: open")
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "mysql: ping")
	}
	return newSQL(db, mysqlDialect, dataset)
}

func newSQL(db *sql.DB, d dialect, dataset string) (*SQL, error) {
	prefix := ""
	if dataset != "" {
		if !identRe.MatchString(dataset) {
			db.Close()
			return nil, eris.Errorf("%s: invalid dataset %q", d.name, dataset)
		}
		prefix = dataset + "_"
	}
	return &SQL{db: db, dialect: d, prefix: prefix}, nil
}

// Close closes the database handle.
func (s *SQL) Close() error {
	return s.db.Close()
}

func (s *SQL) table(name string) string {
	return s.prefix + name
}

// Migrate creates every table that does not exist yet.
func (s *SQL) Migrate(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "warehouse.migrate"), zap.String("driver", s.dialect.name))
	for _, stmt := range s.dialect.ddl(s.prefix) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return eris.Wrapf(err, "%s: migrate", s.dialect.name)
		}
	}
	log.Info("warehouse tables ready", zap.String("prefix", s.prefix))
	return nil
}

// WriteBatch replaces the rows keyed by (run, batch) in one transaction and
// records the batch marker.
func (s *SQL) WriteBatch(ctx context.Context, req WriteRequest) (*model.BatchResult, error) {
	b := req.Batch
	counts, err := s.replace(ctx, req.RunID, b.Index, req.Mode == model.WriteReplace, batchLoads(req.RunID, b), int64(b.Churned()))
	if err != nil {
		return nil, eris.Wrapf(err, "%s: write batch %d", s.dialect.name, b.Index)
	}
	return batchResult(b, counts), nil
}

// AppendOrphans loads orphan usage rows under model.OrphanBatchIndex.
func (s *SQL) AppendOrphans(ctx context.Context, runID string, logs []model.UsageLog) (int64, error) {
	loads := []tableLoad{{TableUsage, usageColumns, usageRows(runID, model.OrphanBatchIndex, logs)}}
	counts, err := s.replace(ctx, runID, model.OrphanBatchIndex, false, loads, 0)
	if err != nil {
		return 0, eris.Wrapf(err, "%s: append orphans", s.dialect.name)
	}
	return counts[TableUsage], nil
}

func (s *SQL) replace(ctx context.Context, runID string, index int, truncate bool, loads []tableLoad, churned int64) (counts map[string]int64, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "begin tx")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, l := range loads {
		if truncate {
			_, err = tx.ExecContext(ctx, "DELETE FROM "+s.table(l.table))
		} else {
			_, err = tx.ExecContext(ctx, "DELETE FROM "+s.table(l.table)+" WHERE run_id = ? AND batch_index = ?", runID, index)
		}
		if err != nil {
			return nil, eris.Wrapf(err, "clear %s", l.table)
		}
	}

	counts = make(map[string]int64, len(loads))
	for _, l := range loads {
		n, err := s.insertRows(ctx, tx, l)
		if err != nil {
			return nil, err
		}
		counts[l.table] = n
	}

	if _, err = tx.ExecContext(ctx,
		"DELETE FROM "+s.table(TableBatches)+" WHERE run_id = ? AND batch_index = ?", runID, index,
	); err != nil {
		return nil, eris.Wrap(err, "clear batch marker")
	}
	if _, err = tx.ExecContext(ctx,
		"INSERT INTO "+s.table(TableBatches)+" ("+strings.Join(batchColumns, ", ")+") VALUES "+placeholders(1, len(batchColumns)),
		runID, index, counts[TableCustomers], counts[TableUsage], counts[TableTickets], churned, time.Now().UTC(),
	); err != nil {
		return nil, eris.Wrap(err, "insert batch marker")
	}

	if err = tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "commit tx")
	}
	return counts, nil
}

func (s *SQL) insertRows(ctx context.Context, tx *sql.Tx, l tableLoad) (int64, error) {
	prefix := "INSERT INTO " + s.table(l.table) + " (" + strings.Join(l.columns, ", ") + ") VALUES "

	var total int64
	for start := 0; start < len(l.rows); start += insertChunk {
		chunk := l.rows[start:min(start+insertChunk, len(l.rows))]
		args := make([]any, 0, len(chunk)*len(l.columns))
		for _, r := range chunk {
			args = append(args, r...)
		}
		res, err := tx.ExecContext(ctx, prefix+placeholders(len(chunk), len(l.columns)), args...)
		if err != nil {
			return 0, eris.Wrapf(err, "insert into %s", l.table)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "rows affected")
		}
		total += n
	}
	return total, nil
}

// StartRun inserts a running entry into the generation log.
func (s *SQL) StartRun(ctx context.Context, run model.GenerationRun) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO "+s.table(TableRuns)+" (id, project, status, seed, total_customers, batch_size, started_at) VALUES "+placeholders(1, 7),
		run.ID, run.Project, string(model.RunStatusRunning), int64(run.Seed), run.TotalCustomers, run.BatchSize, run.StartedAt.UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "%s: start run %s", s.dialect.name, run.ID)
	}
	return nil
}

// RecordBatch refreshes the run's progress counters from its batch markers.
func (s *SQL) RecordBatch(ctx context.Context, runID string) error {
	batches := s.table(TableBatches)
	_, err := s.db.ExecContext(ctx,
		`UPDATE `+s.table(TableRuns)+` SET
		 batches_written = (SELECT COUNT(*) FROM `+batches+` WHERE run_id = ? AND batch_index >= 0),
		 usage_rows = (SELECT COALESCE(SUM(usage_rows), 0) FROM `+batches+` WHERE run_id = ?),
		 ticket_rows = (SELECT COALESCE(SUM(tickets), 0) FROM `+batches+` WHERE run_id = ?),
		 churned = (SELECT COALESCE(SUM(churned), 0) FROM `+batches+` WHERE run_id = ?)
		 WHERE id = ?`,
		runID, runID, runID, runID, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "%s: record batch progress for %s", s.dialect.name, runID)
	}
	return nil
}

// CompleteRun marks a run complete with its final totals.
func (s *SQL) CompleteRun(ctx context.Context, runID string, totals model.RunTotals) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE `+s.table(TableRuns)+`
		 SET status = ?, completed_at = ?, batches_written = ?, usage_rows = ?, ticket_rows = ?, churned = ?
		 WHERE id = ?`,
		string(model.RunStatusComplete), time.Now().UTC(), totals.Batches, totals.UsageRows, totals.Tickets, totals.Churned, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "%s: complete run %s", s.dialect.name, runID)
	}
	return checkRowsAffected(res, runID)
}

// FailRun marks a run failed with an error message.
func (s *SQL) FailRun(ctx context.Context, runID string, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE "+s.table(TableRuns)+" SET status = ?, completed_at = ?, error = ? WHERE id = ?",
		string(model.RunStatusFailed), time.Now().UTC(), errMsg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "%s: fail run %s", s.dialect.name, runID)
	}
	return checkRowsAffected(res, runID)
}

// ListRuns returns the most recent runs first.
func (s *SQL) ListRuns(ctx context.Context, limit int) ([]model.GenerationRun, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+runSelectColumns+" FROM "+s.table(TableRuns)+" ORDER BY started_at DESC LIMIT ?",
		normalizeLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: list runs", s.dialect.name)
	}
	defer rows.Close()

	var runs []model.GenerationRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "%s: scan run", s.dialect.name)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// ReadKPIs reads the requested numeric columns of a dataset-prefixed KPI
// table. NULLs are preserved.
func (s *SQL) ReadKPIs(ctx context.Context, q KPIQuery) ([]model.KPIRow, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, kpiSelect(q, s.table(q.Table), s.dialect.floatType))
	if err != nil {
		return nil, eris.Wrapf(err, "%s: read %s", s.dialect.name, s.table(q.Table))
	}
	defer rows.Close()

	var out []model.KPIRow
	for rows.Next() {
		row, dest := newKPIRow(len(q.Features))
		if err := rows.Scan(dest...); err != nil {
			return nil, eris.Wrapf(err, "%s: scan %s", s.dialect.name, q.Table)
		}
		out = append(out, row.finish())
	}
	return out, rows.Err()
}

func checkRowsAffected(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

// MySQLDSN converts mysql:// and mariadb:// URLs to a driver DSN. Other
// values are parsed as driver DSNs. Times are always parsed, in UTC.
func MySQLDSN(dsn string) (string, error) {
	var cfg *mysql.Config
	if strings.HasPrefix(dsn, "mysql://") || strings.HasPrefix(dsn, "mariadb://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", eris.Wrap(err, "mysql: parse url")
		}
		cfg = mysql.NewConfig()
		if u.User != nil {
			cfg.User = u.User.Username()
			cfg.Passwd, _ = u.User.Password()
		}
		cfg.Net = "tcp"
		cfg.Addr = u.Host
		cfg.DBName = strings.TrimPrefix(u.Path, "/")
		if cfg.User == "" || cfg.Addr == "" || cfg.DBName == "" {
			return "", eris.New("mysql: url needs user, host and database")
		}
	} else {
		var err error
		if cfg, err = mysql.ParseDSN(dsn); err != nil {
			return "", eris.Wrap(err, "mysql: parse dsn")
		}
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.InterpolateParams = true
	return cfg.FormatDSN(), nil
}
