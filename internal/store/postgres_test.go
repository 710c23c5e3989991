package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/corpaction-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

var securityCols = []string{"id", "name", "asset_class", "exchange", "currency", "status", "created_at", "updated_at"}

func TestPostgresStore_GetSecurity_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM securities s WHERE s.id = \$1`).
		WithArgs("NOPE").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetSecurity(context.Background(), "NOPE")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertSecurity_CopiesIdentifiers(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	sec := &model.Security{
		ID:         "UOB-SG",
		Name:       "United Overseas Bank Limited",
		AssetClass: model.AssetClassEquity,
		Exchange:   "SGX",
		Currency:   "SGD",
		Status:     model.SecurityStatusActive,
		Identifiers: []model.Identifier{
			{Type: model.IdentifierISIN, Value: "SG1M31001969", ValidFrom: model.MustDate("2010-01-01")},
			{Type: model.IdentifierRIC, Value: "UOBH.SI", ValidFrom: model.MustDate("2010-01-01")},
		},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO securities`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM security_identifiers WHERE security_id = \$1`).
		WithArgs("UOB-SG").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectCopyFrom(pgx.Identifier{"security_identifiers"}, identifierColumns).WillReturnResult(2)
	mock.ExpectCommit()

	require.NoError(t, s.UpsertSecurity(context.Background(), sec))
	assert.False(t, sec.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertSecurity_CopyError(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	sec := &model.Security{
		ID: "UOB-SG", Name: "UOB", AssetClass: model.AssetClassEquity, Exchange: "SGX", Currency: "SGD",
		Status:      model.SecurityStatusActive,
		Identifiers: []model.Identifier{{Type: model.IdentifierISIN, Value: "SG1M31001969", ValidFrom: model.MustDate("2010-01-01")}},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO securities`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM security_identifiers`).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"security_identifiers"}, identifierColumns).WillReturnError(errors.New("copy failed"))
	mock.ExpectRollback()

	err := s.UpsertSecurity(context.Background(), sec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert identifiers UOB-SG")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetSecurity_WithIdentifiers(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM securities s WHERE s.id = \$1`).
		WithArgs("DBS-SG").
		WillReturnRows(pgxmock.NewRows(securityCols).
			AddRow("DBS-SG", "DBS Group Holdings Limited", "equity", "SGX", "SGD", "active", now, now))
	mock.ExpectQuery(`FROM security_identifiers\s+WHERE security_id = ANY\(\$1\)`).
		WithArgs([]string{"DBS-SG"}).
		WillReturnRows(pgxmock.NewRows([]string{"security_id", "type", "value", "valid_from", "valid_to"}).
			AddRow("DBS-SG", "ISIN", "SG9999009436", time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC), nil).
			AddRow("DBS-SG", "RIC", "DBSM.SI", time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC), nil))

	sec, err := s.GetSecurity(context.Background(), "DBS-SG")
	require.NoError(t, err)
	assert.Equal(t, model.AssetClassEquity, sec.AssetClass)
	require.Len(t, sec.Identifiers, 2)
	assert.Equal(t, model.IdentifierRIC, sec.Identifiers[1].Type)
	assert.Equal(t, "2010-01-01", sec.Identifiers[0].ValidFrom.String())
	assert.True(t, sec.Identifiers[0].ValidTo.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindByIdentifier_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`WHERE value_key = \$1 ORDER BY security_id, position LIMIT 1`).
		WithArgs("INVALID123").
		WillReturnError(pgx.ErrNoRows)

	_, _, err := s.FindByIdentifier(context.Background(), "INVALID123")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetAction(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()
	ex := time.Date(2024, 11, 15, 0, 0, 0, 0, time.UTC)

	cols := []string{"id", "security_id", "security_name", "event_type", "announcement_date", "ex_date", "record_date",
		"payment_date", "amount", "rate", "currency", "tax_treatment", "status", "source", "notes", "created_at",
		"created_by", "archived_at"}
	mock.ExpectQuery(`FROM corporate_actions WHERE id = \$1`).
		WithArgs("CORP-12345").
		WillReturnRows(pgxmock.NewRows(cols).AddRow(
			"CORP-12345", "DBS-SG", "DBS Group Holdings Limited", "dividend", nil, ex, nil, ex.AddDate(0, 0, 30),
			"0.50", "", "SGD", "", "pending", "Bloomberg", "", now, "system_ingest", nil,
		))

	a, err := s.GetAction(context.Background(), "CORP-12345")
	require.NoError(t, err)
	assert.Equal(t, model.EventDividend, a.EventType)
	assert.Equal(t, "2024-11-15", a.ExDate.String())
	assert.True(t, a.AnnouncementDate.IsZero())
	assert.Equal(t, "2024-12-15", a.PaymentDate.String())
	require.NotNil(t, a.Amount)
	assert.True(t, a.Amount.Equal(decimal.RequireFromString("0.5")))
	assert.Nil(t, a.ArchivedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListActions_Placeholders(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM corporate_actions WHERE security_id = \$1 AND status IN \(\$2, \$3\) AND archived_at IS NULL ORDER BY ex_date DESC, id LIMIT \$4`).
		WithArgs("DBS-SG", "pending", "confirmed", 500).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	list, err := s.ListActions(context.Background(), ActionFilter{
		SecurityID: "DBS-SG",
		Statuses:   []model.EventStatus{model.EventPending, model.EventConfirmed},
	})
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertActions_BulkUpsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	amount := decimal.RequireFromString("0.50")

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_corporate_actions"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_corporate_actions"}, actionUpsert.Columns).WillReturnResult(1)
	mock.ExpectExec(`INSERT INTO "corporate_actions" .* ON CONFLICT \("id"\) DO UPDATE SET`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := s.UpsertActions(context.Background(), []model.CorporateAction{{
		ID: "CORP-1", SecurityID: "DBS-SG", EventType: model.EventDividend,
		ExDate: model.MustDate("2024-11-15"), Amount: &amount, Currency: "SGD",
		Status: model.EventPending, Source: "Bloomberg",
	}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActionUpsert_KeepsLifecycleColumns(t *testing.T) {
	for _, col := range actionUpsert.UpdateCols {
		assert.NotContains(t, []string{"status", "created_at", "created_by", "archived_at", "source"}, col)
	}
}

func TestPostgresStore_UpdateActionStatus_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE corporate_actions SET status = \$1 WHERE id = \$2`).
		WithArgs("confirmed", "CORP-404").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateActionStatus(context.Background(), "CORP-404", model.EventConfirmed)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ArchiveSettledActions(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	cutoff := model.MustDate("2024-01-01")

	mock.ExpectExec(`UPDATE corporate_actions SET archived_at = now\(\)`).
		WithArgs("settled", pgtype.Date{Time: cutoff.Time, Valid: true}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	n, err := s.ArchiveSettledActions(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertConflict(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	c := &model.Conflict{
		ID: "CONF-1", SecurityID: "DBS-SG", EventType: model.EventDividend, ConflictType: model.ConflictAmount,
		Sources: []model.Observation{{Source: "Bloomberg", Data: map[string]string{"amount": "0.50"}}},
		Status:  model.ConflictUnresolved,
	}

	mock.ExpectExec(`INSERT INTO conflicts .* ON CONFLICT \(id\) DO NOTHING`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO conflicts .* ON CONFLICT \(id\) DO NOTHING`).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	created, err := s.InsertConflict(context.Background(), c)
	require.NoError(t, err)
	assert.True(t, created)
	assert.False(t, c.CreatedAt.IsZero())

	created, err = s.InsertConflict(context.Background(), c)
	require.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SyncLog(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`INSERT INTO sync_log .* RETURNING id`).
		WithArgs("Bloomberg").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("sync-1"))
	mock.ExpectExec(`UPDATE sync_log SET status = 'complete'`).
		WithArgs(int64(10), []byte(`{"rejected":0}`), "sync-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE sync_log SET status = 'failed'`).
		WithArgs("timeout", "sync-2").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ctx := context.Background()
	id, err := s.StartSync(ctx, "Bloomberg")
	require.NoError(t, err)
	assert.Equal(t, "sync-1", id)

	require.NoError(t, s.CompleteSync(ctx, id, 10, map[string]any{"rejected": 0}))
	assert.True(t, errors.Is(s.FailSync(ctx, "sync-2", "timeout"), ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_KeyValue(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT value FROM kv_entries WHERE key = \$1`).
		WithArgs("settings").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`INSERT INTO kv_entries .* ON CONFLICT \(key\) DO UPDATE`).
		WithArgs("settings", []byte(`{}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	_, err := s.GetValue(context.Background(), "settings")
	assert.True(t, errors.Is(err, ErrNotFound))
	require.NoError(t, s.SetValue(context.Background(), "settings", []byte(`{}`)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS securities`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgNumeric(t *testing.T) {
	assert.False(t, pgNumeric(nil).Valid)

	d := decimal.RequireFromString("12.345")
	n := pgNumeric(&d)
	require.True(t, n.Valid)
	assert.Equal(t, int32(-3), n.Exp)
	assert.Equal(t, "12345", n.Int.String())
}
