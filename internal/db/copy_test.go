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
	n, err := CopyFrom(context.TODO(), nil, "citations", []string{"answer_id", "url"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cols := []string{"answer_id", "url", "domain", "is_brand_domain"}
	mock.ExpectCopyFrom(pgx.Identifier{"citations"}, cols).WillReturnResult(2)

	rows := [][]any{
		{"a1", "https://sunsetapts.com/x", "sunsetapts.com", true},
		{"a1", "https://apartmentlist.com/austin", "apartmentlist.com", false},
	}
	n, err := CopyFrom(context.Background(), mock, "citations", cols, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cols := []string{"answer_id", "url"}
	mock.ExpectCopyFrom(pgx.Identifier{"citations"}, cols).WillReturnError(fmt.Errorf("copy failed"))

	_, err = CopyFrom(context.Background(), mock, "citations", cols, [][]any{{"a1", "u"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO citations")
}
