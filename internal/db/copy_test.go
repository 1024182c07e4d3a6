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

func TestCopyFrom_EmptyRows(t *testing.T) {
	n, err := CopyFrom(context.TODO(), nil, "raw_usage", []string{"a", "b"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"raw_usage"}, []string{"a", "b"}).WillReturnResult(3)

	rows := [][]any{{1, "x"}, {2, "y"}, {3, "z"}}
	n, err := CopyFrom(context.Background(), mock, "raw_usage", []string{"a", "b"}, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"raw_usage"}, []string{"a", "b"}).WillReturnError(fmt.Errorf("copy failed"))

	_, err = CopyFrom(context.Background(), mock, "raw_usage", []string{"a", "b"}, [][]any{{1, "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `COPY INTO "raw_usage"`)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFromSchema_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"cs_ops", "raw_churn_target"}, []string{"a", "b"}).WillReturnResult(5)

	rows := [][]any{{1, "x"}, {2, "y"}, {3, "z"}, {4, "w"}, {5, "v"}}
	n, err := CopyFromSchema(context.Background(), mock, "cs_ops", "raw_churn_target", []string{"a", "b"}, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFromSchema_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"cs_ops", "raw_tickets"}, []string{"a"}).WillReturnError(fmt.Errorf("permission denied"))

	_, err = CopyFromSchema(context.Background(), mock, "cs_ops", "raw_tickets", []string{"a"}, [][]any{{1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `COPY INTO "cs_ops"."raw_tickets"`)
	assert.NoError(t, mock.ExpectationsWereMet())
}
