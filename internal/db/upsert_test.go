package db

import (
	"context"
	"fmt"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var actionsUpsert = UpsertConfig{
	Table:        "corporate_actions",
	Columns:      []string{"id", "security_id", "status"},
	ConflictKeys: []string{"id"},
}

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.Background(), nil, actionsUpsert, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:        "corporate_actions",
		ConflictKeys: []string{"id"},
	}, [][]any{{1, "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:   "corporate_actions",
		Columns: []string{"id", "name"},
	}, [][]any{{1, "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestBulkUpsert_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TEMP TABLE "_tmp_upsert_corporate_actions" (LIKE "corporate_actions" INCLUDING DEFAULTS) ON COMMIT DROP`)).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_corporate_actions"}, actionsUpsert.Columns).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "corporate_actions"`).WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	rows := [][]any{{"CORP-1", "DBS-SG", "pending"}, {"CORP-2", "OCBC-SG", "pending"}}
	n, err := BulkUpsert(context.Background(), mock, actionsUpsert, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_CopyError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_corporate_actions"}, actionsUpsert.Columns).WillReturnError(fmt.Errorf("disk full"))
	mock.ExpectRollback()

	_, err = BulkUpsert(context.Background(), mock, actionsUpsert, [][]any{{"CORP-1", "DBS-SG", "pending"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY into temp table for corporate_actions")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSQL(t *testing.T) {
	got := actionsUpsert.upsertSQL("_tmp")
	assert.Equal(t,
		`INSERT INTO "corporate_actions" ("id", "security_id", "status") SELECT "id", "security_id", "status" FROM "_tmp" ON CONFLICT ("id") DO UPDATE SET "security_id" = EXCLUDED."security_id", "status" = EXCLUDED."status"`,
		got)

	keysOnly := UpsertConfig{Table: "kv", Columns: []string{"key"}, ConflictKeys: []string{"key"}}
	assert.Contains(t, keysOnly.upsertSQL("_tmp"), "DO NOTHING")
}

func TestIdentifier(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"archive.corporate_actions", `"archive"."corporate_actions"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, identifier(tt.input).Sanitize())
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	assert.Equal(t, `"id", "name", "value"`, quoteAndJoin([]string{"id", "name", "value"}))
}
