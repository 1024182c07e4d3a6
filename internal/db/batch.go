package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Load is one table's share of a batch.
type Load struct {
	Table   string
	Columns []string
	Rows    [][]any
}

// BatchKey names the columns and values that tag every row of a batch.
type BatchKey struct {
	Columns []string
	Values  []any
}

// ReplaceConfig defines a keyed batch replacement.
type ReplaceConfig struct {
	Schema string
	Key    BatchKey
	// Truncate empties every table in Loads before loading.
	Truncate bool
	Loads    []Load
	// Finalize runs inside the transaction after all loads.
	Finalize func(ctx context.Context, tx pgx.Tx, counts map[string]int64) error
}

// ReplaceBatch loads a batch as one transaction:
//  1. TRUNCATE every table (Truncate) or DELETE the rows carrying Key
//  2. COPY each Load
//  3. Finalize
//
// Replaying the same key converges to the same table contents.
func ReplaceBatch(ctx context.Context, pool Pool, cfg ReplaceConfig) (counts map[string]int64, err error) {
	if len(cfg.Loads) == 0 {
		return nil, eris.New("db: replace batch: no tables")
	}
	if len(cfg.Key.Columns) == 0 || len(cfg.Key.Columns) != len(cfg.Key.Values) {
		return nil, eris.New("db: replace batch: key columns and values must match")
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "db: replace batch: begin tx")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if cfg.Truncate {
		tables := make([]string, len(cfg.Loads))
		for i, l := range cfg.Loads {
			tables[i] = qualify(cfg.Schema, l.Table)
		}
		if _, err = tx.Exec(ctx, "TRUNCATE "+strings.Join(tables, ", ")); err != nil {
			return nil, eris.Wrap(err, "db: replace batch: truncate")
		}
	} else {
		where := keyPredicate(cfg.Key.Columns)
		for _, l := range cfg.Loads {
			sql := fmt.Sprintf("DELETE FROM %s WHERE %s", qualify(cfg.Schema, l.Table), where)
			if _, err = tx.Exec(ctx, sql, cfg.Key.Values...); err != nil {
				return nil, eris.Wrapf(err, "db: replace batch: clear %s", l.Table)
			}
		}
	}

	counts = make(map[string]int64, len(cfg.Loads))
	for _, l := range cfg.Loads {
		var n int64
		if cfg.Schema != "" {
			n, err = CopyFromSchema(ctx, tx, cfg.Schema, l.Table, l.Columns, l.Rows)
		} else {
			n, err = CopyFrom(ctx, tx, l.Table, l.Columns, l.Rows)
		}
		if err != nil {
			return nil, eris.Wrap(err, "db: replace batch")
		}
		counts[l.Table] = n
	}

	if cfg.Finalize != nil {
		if err = cfg.Finalize(ctx, tx, counts); err != nil {
			return nil, eris.Wrap(err, "db: replace batch: finalize")
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "db: replace batch: commit tx")
	}
	return counts, nil
}

// qualify sanitizes an optionally schema-qualified table name.
func qualify(schema, table string) string {
	if schema == "" {
		return pgx.Identifier{table}.Sanitize()
	}
	return pgx.Identifier{schema, table}.Sanitize()
}

// keyPredicate renders "a" = $1 AND "b" = $2 for the given columns.
func keyPredicate(cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprintf("%s = $%d", pgx.Identifier{c}.Sanitize(), i+1)
	}
	return strings.Join(parts, " AND ")
}
