package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// CopyFrom bulk-inserts rows into a table using PostgreSQL COPY protocol.
func CopyFrom(ctx context.Context, c Copier, table string, columns []string, rows [][]any) (int64, error) {
	return copyInto(ctx, c, pgx.Identifier{table}, columns, rows)
}

// CopyFromSchema bulk-inserts rows into a schema-qualified table.
func CopyFromSchema(ctx context.Context, c Copier, schema, table string, columns []string, rows [][]any) (int64, error) {
	return copyInto(ctx, c, pgx.Identifier{schema, table}, columns, rows)
}

func copyInto(ctx context.Context, c Copier, ident pgx.Identifier, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	n, err := c.CopyFrom(ctx, ident, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, eris.Wrapf(err, "db: COPY INTO %s", ident.Sanitize())
	}
	return n, nil
}
