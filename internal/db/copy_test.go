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
	n, err := CopyFrom(context.TODO(), nil, "evidence", []string{"id", "field_id"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"evidence"}, []string{"id", "field_id"}).WillReturnResult(3)

	rows := [][]any{{"e1", "tax_id"}, {"e2", "tax_id"}, {"e3", "legal_name"}}
	n, err := CopyFrom(context.Background(), mock, "evidence", []string{"id", "field_id"}, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_SchemaQualified(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"audit", "view_events"}, []string{"id"}).WillReturnResult(1)

	n, err := CopyFrom(context.Background(), mock, "audit.view_events", []string{"id"}, [][]any{{"v1"}})
	assert.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"evidence"}, []string{"id"}).WillReturnError(fmt.Errorf("copy failed"))

	_, err = CopyFrom(context.Background(), mock, "evidence", []string{"id"}, [][]any{{"e1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO evidence")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdentifier(t *testing.T) {
	assert.Equal(t, pgx.Identifier{"evidence"}, Identifier("evidence"))
	assert.Equal(t, pgx.Identifier{"audit", "view_events"}, Identifier("audit.view_events"))
}
