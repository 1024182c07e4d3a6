package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testReplaceConfig(truncate bool) ReplaceConfig {
	return ReplaceConfig{
		Schema:   "cs_ops",
		Key:      BatchKey{Columns: []string{"run_id", "batch_index"}, Values: []any{"run-1", 2}},
		Truncate: truncate,
		Loads: []Load{
			{Table: "raw_customers", Columns: []string{"run_id", "batch_index", "customer_id"}, Rows: [][]any{{"run-1", 2, "cli_1000"}, {"run-1", 2, "cli_1001"}}},
			{Table: "raw_usage", Columns: []string{"run_id", "batch_index", "log_id"}, Rows: [][]any{{"run-1", 2, "log_1"}}},
		},
	}
}

func TestReplaceBatch_DeletesByKey(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "cs_ops"."raw_customers" WHERE "run_id" = \$1 AND "batch_index" = \$2`).
		WithArgs("run-1", 2).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`DELETE FROM "cs_ops"."raw_usage"`).
		WithArgs("run-1", 2).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectCopyFrom(pgx.Identifier{"cs_ops", "raw_customers"}, []string{"run_id", "batch_index", "customer_id"}).WillReturnResult(2)
	mock.ExpectCopyFrom(pgx.Identifier{"cs_ops", "raw_usage"}, []string{"run_id", "batch_index", "log_id"}).WillReturnResult(1)
	mock.ExpectCommit()

	counts, err := ReplaceBatch(context.Background(), mock, testReplaceConfig(false))
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"raw_customers": 2, "raw_usage": 1}, counts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceBatch_TruncateAndFinalize(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`TRUNCATE "cs_ops"."raw_customers", "cs_ops"."raw_usage"`).
		WillReturnResult(pgxmock.NewResult("TRUNCATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"cs_ops", "raw_customers"}, []string{"run_id", "batch_index", "customer_id"}).WillReturnResult(2)
	mock.ExpectCopyFrom(pgx.Identifier{"cs_ops", "raw_usage"}, []string{"run_id", "batch_index", "log_id"}).WillReturnResult(1)
	mock.ExpectExec("INSERT INTO marker").WithArgs(int64(2)).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	cfg := testReplaceConfig(true)
	cfg.Finalize = func(ctx context.Context, tx pgx.Tx, counts map[string]int64) error {
		_, err := tx.Exec(ctx, "INSERT INTO marker VALUES ($1)", counts["raw_customers"])
		return err
	}

	_, err = ReplaceBatch(context.Background(), mock, cfg)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceBatch_CopyErrorRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("TRUNCATE").WillReturnResult(pgxmock.NewResult("TRUNCATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"cs_ops", "raw_customers"}, []string{"run_id", "batch_index", "customer_id"}).
		WillReturnError(fmt.Errorf("conn closed"))
	mock.ExpectRollback()

	_, err = ReplaceBatch(context.Background(), mock, testReplaceConfig(true))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "replace batch")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceBatch_BeginError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin().WillReturnError(fmt.Errorf("too many connections"))

	_, err = ReplaceBatch(context.Background(), mock, testReplaceConfig(false))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "begin tx")
}

func TestReplaceBatch_InvalidConfig(t *testing.T) {
	_, err := ReplaceBatch(context.Background(), nil, ReplaceConfig{})
	assert.Error(t, err)

	cfg := testReplaceConfig(false)
	cfg.Key.Values = cfg.Key.Values[:1]
	_, err = ReplaceBatch(context.Background(), nil, cfg)
	assert.Error(t, err)
}

func TestKeyPredicate(t *testing.T) {
	assert.Equal(t, `"run_id" = $1 AND "batch_index" = $2`, keyPredicate([]string{"run_id", "batch_index"}))
	assert.Equal(t, `"a"."b"`, qualify("a", "b"))
	assert.Equal(t, `"b"`, qualify("", "b"))
}
