package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/corpaction-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testSecurity(id, name, exchange string, ids ...model.Identifier) *model.Security {
	return &model.Security{
		ID:          id,
		Name:        name,
		AssetClass:  model.AssetClassEquity,
		Exchange:    exchange,
		Currency:    "SGD",
		Status:      model.SecurityStatusActive,
		Identifiers: ids,
	}
}

func ident(t model.IdentifierType, v string) model.Identifier {
	return model.Identifier{Type: t, Value: v, ValidFrom: model.MustDate("2010-01-01")}
}

func seedSecurities(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.UpsertSecurity(ctx, testSecurity("DBS-SG", "DBS Group Holdings Limited", "SGX",
		ident(model.IdentifierISIN, "SG9999009436"), ident(model.IdentifierRIC, "DBSM.SI"), ident(model.IdentifierStockCode, "D05"))))
	require.NoError(t, st.UpsertSecurity(ctx, testSecurity("OCBC-SG", "Oversea-Chinese Banking Corporation", "SGX",
		ident(model.IdentifierISIN, "SG1S04926220"), ident(model.IdentifierRIC, "OCBC.SI"))))
	require.NoError(t, st.UpsertSecurity(ctx, testSecurity("HSBC-HK", "HSBC Holdings plc", "HKEX",
		ident(model.IdentifierRIC, "0005.HK"))))
}

func testAction(id, secID string, ex string, amount string, source string) model.CorporateAction {
	a := model.CorporateAction{
		ID:          id,
		SecurityID:  secID,
		EventType:   model.EventDividend,
		ExDate:      model.MustDate(ex),
		PaymentDate: model.MustDate(ex).AddDays(30),
		Currency:    "SGD",
		Status:      model.EventPending,
		Source:      source,
		CreatedBy:   "system_ingest",
	}
	if amount != "" {
		d := decimal.RequireFromString(amount)
		a.Amount = &d
	}
	return a
}

// --- Securities ---

func TestSQLite_Securities_RoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedSecurities(t, st)

	sec, err := st.GetSecurity(ctx, "DBS-SG")
	require.NoError(t, err)
	assert.Equal(t, "DBS Group Holdings Limited", sec.Name)
	require.Len(t, sec.Identifiers, 3)
	assert.Equal(t, model.IdentifierISIN, sec.Identifiers[0].Type)
	assert.Equal(t, "D05", sec.Identifiers[2].Value)
	assert.Equal(t, "2010-01-01", sec.Identifiers[0].ValidFrom.String())
	assert.True(t, sec.Identifiers[0].ValidTo.IsZero())

	_, err = st.GetSecurity(ctx, "NOPE")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_Securities_UpsertReplacesIdentifiers(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedSecurities(t, st)

	sec := testSecurity("HSBC-HK", "HSBC Holdings plc", "HKEX", ident(model.IdentifierStockCode, "0005"))
	require.NoError(t, st.UpsertSecurity(ctx, sec))

	got, err := st.GetSecurity(ctx, "HSBC-HK")
	require.NoError(t, err)
	require.Len(t, got.Identifiers, 1)
	assert.Equal(t, "0005", got.Identifiers[0].Value)

	_, _, err = st.FindByIdentifier(ctx, "0005.HK")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_Securities_RejectsInvalid(t *testing.T) {
	st := newTestSQLiteStore(t)
	sec := testSecurity("X", "X", "SGX", ident(model.IdentifierRIC, "X.SI"), ident(model.IdentifierRIC, "x.si"))
	assert.Error(t, st.UpsertSecurity(context.Background(), sec))
}

func TestSQLite_FindByIdentifier(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedSecurities(t, st)

	for _, q := range []string{"SG9999009436", "dbsm.si", "d05"} {
		sec, id, err := st.FindByIdentifier(ctx, q)
		require.NoError(t, err, q)
		assert.Equal(t, "DBS-SG", sec.ID)
		assert.True(t, len(id.Value) > 0)
	}

	_, _, err := st.FindByIdentifier(ctx, "INVALID123")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_FindByIdentifier_NonASCII(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, st.UpsertSecurity(ctx, testSecurity("SEB-SE", "Skandinaviska Enskilda Banken", "XSTO",
		ident(model.IdentifierStockCode, "SEBÅ"))))

	for _, q := range []string{"SEBÅ", "sebå", "Sebå"} {
		sec, id, err := st.FindByIdentifier(ctx, q)
		require.NoError(t, err, q)
		assert.Equal(t, "SEB-SE", sec.ID)
		assert.Equal(t, "SEBÅ", id.Value)
	}
}

func TestSQLite_ListSecurities_Filters(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedSecurities(t, st)

	tests := []struct {
		name   string
		filter SecurityFilter
		want   []string
	}{
		{"all sorted by name", SecurityFilter{}, []string{"DBS-SG", "HSBC-HK", "OCBC-SG"}},
		{"name substring", SecurityFilter{Query: "banking"}, []string{"OCBC-SG"}},
		{"identifier substring", SecurityFilter{Query: "0005"}, []string{"HSBC-HK"}},
		{"exchange", SecurityFilter{Exchange: "SGX"}, []string{"DBS-SG", "OCBC-SG"}},
		{"asset class miss", SecurityFilter{AssetClass: model.AssetClassBond}, nil},
		{"status", SecurityFilter{Status: model.SecurityStatusActive, Limit: 1}, []string{"DBS-SG"}},
		{"percent is literal", SecurityFilter{Query: "%"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			secs, err := st.ListSecurities(ctx, tt.filter)
			require.NoError(t, err)
			var ids []string
			for _, s := range secs {
				ids = append(ids, s.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}

	exchanges, err := st.ListExchanges(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"HKEX", "SGX"}, exchanges)

	nSec, nID, err := st.CountSecurities(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, nSec)
	assert.Equal(t, 6, nID)
}

// --- Corporate actions ---

func TestSQLite_Actions_UpsertAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedSecurities(t, st)

	a := testAction("CORP-1", "DBS-SG", "2024-11-15", "0.50", "Bloomberg")
	a.SecurityName = "DBS Group Holdings Limited"
	n, err := st.UpsertActions(ctx, []model.CorporateAction{a})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := st.GetAction(ctx, "CORP-1")
	require.NoError(t, err)
	assert.Equal(t, "2024-11-15", got.ExDate.String())
	assert.Equal(t, "2024-12-15", got.PaymentDate.String())
	assert.True(t, got.AnnouncementDate.IsZero())
	require.NotNil(t, got.Amount)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("0.5")))
	assert.Nil(t, got.ArchivedAt)

	_, err = st.GetAction(ctx, "CORP-404")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_Actions_ReingestKeepsStatus(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedSecurities(t, st)

	a := testAction("CORP-1", "DBS-SG", "2024-11-15", "0.50", "Bloomberg")
	_, err := st.UpsertActions(ctx, []model.CorporateAction{a})
	require.NoError(t, err)
	require.NoError(t, st.UpdateActionStatus(ctx, "CORP-1", model.EventConfirmed))

	d := decimal.RequireFromString("0.55")
	a.Amount = &d
	_, err = st.UpsertActions(ctx, []model.CorporateAction{a})
	require.NoError(t, err)

	got, err := st.GetAction(ctx, "CORP-1")
	require.NoError(t, err)
	assert.Equal(t, model.EventConfirmed, got.Status)
	assert.Equal(t, "0.55", got.Amount.String())
}

func TestSQLite_Actions_ListFilters(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedSecurities(t, st)

	a1 := testAction("CORP-1", "DBS-SG", "2024-11-15", "0.50", "Bloomberg")
	a1.SecurityName = "DBS Group Holdings Limited"
	a2 := testAction("CORP-2", "OCBC-SG", "2024-11-20", "0.40", "SGX")
	a2.SecurityName = "Oversea-Chinese Banking Corporation"
	a2.Status = model.EventConfirmed
	a3 := testAction("CORP-3", "DBS-SG", "2023-05-10", "0.42", "Bloomberg")
	a3.Status = model.EventSettled
	_, err := st.UpsertActions(ctx, []model.CorporateAction{a1, a2, a3})
	require.NoError(t, err)

	list, err := st.ListActions(ctx, ActionFilter{})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "CORP-2", list[0].ID, "newest ex date first")

	list, err = st.ListActions(ctx, ActionFilter{Query: "dbs"})
	require.NoError(t, err)
	assert.Len(t, list, 1, "security name match")

	list, err = st.ListActions(ctx, ActionFilter{Query: "corp-3"})
	require.NoError(t, err)
	assert.Len(t, list, 1, "id match")

	n, err := st.CountActions(ctx, ActionFilter{Statuses: []model.EventStatus{model.EventPending, model.EventConfirmed}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = st.CountActions(ctx, ActionFilter{SecurityID: "DBS-SG", Source: "Bloomberg"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = st.CountActions(ctx, ActionFilter{CreatedSince: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Archive settled actions older than 2024.
	archived, err := st.ArchiveSettledActions(ctx, model.MustDate("2024-01-01"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), archived)

	list, err = st.ListActions(ctx, ActionFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	list, err = st.ListActions(ctx, ActionFilter{IncludeArchived: true, EventType: model.EventDividend})
	require.NoError(t, err)
	assert.Len(t, list, 3)

	archived, err = st.ArchiveSettledActions(ctx, model.MustDate("2024-01-01"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), archived, "archive is idempotent")
}

func TestSQLite_UpdateActionStatus_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	err := st.UpdateActionStatus(context.Background(), "nope", model.EventConfirmed)
	assert.True(t, errors.Is(err, ErrNotFound))
}

// --- Conflicts ---

func TestSQLite_Conflicts(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	c := &model.Conflict{
		ID:           "CONF-1",
		SecurityID:   "DBS-SG",
		SecurityName: "DBS Group Holdings Limited",
		EventType:    model.EventDividend,
		ConflictType: model.ConflictAmount,
		Sources: []model.Observation{
			{Source: "Bloomberg", Data: map[string]string{"amount": "0.50"}, Confidence: model.ConfidenceHigh},
			{Source: "Custodian", Data: map[string]string{"amount": "0.49"}, Confidence: model.ConfidenceMedium},
		},
		Details: "0.50 vs 0.49",
		Status:  model.ConflictUnresolved,
	}
	created, err := st.InsertConflict(ctx, c)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = st.InsertConflict(ctx, c)
	require.NoError(t, err)
	assert.False(t, created, "duplicate ids are ignored")

	n, err := st.CountConflicts(ctx, ConflictFilter{Status: model.ConflictUnresolved})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, c.Resolve("Bloomberg", "jane@firm.com", "vendor of record", time.Now()))
	require.NoError(t, st.UpdateConflict(ctx, c))

	got, err := st.GetConflict(ctx, "CONF-1")
	require.NoError(t, err)
	assert.Equal(t, model.ConflictResolved, got.Status)
	assert.Equal(t, "Bloomberg", got.Resolution)
	require.NotNil(t, got.ResolvedAt)
	require.Len(t, got.Sources, 2)
	assert.Equal(t, "0.49", got.Sources[1].Data["amount"])

	list, err := st.ListConflicts(ctx, ConflictFilter{Status: model.ConflictUnresolved})
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = st.GetConflict(ctx, "CONF-404")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(st.UpdateConflict(ctx, &model.Conflict{ID: "CONF-404"}), ErrNotFound))
}

// --- Sync log ---

func TestSQLite_SyncLog(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	id1, err := st.StartSync(ctx, "Bloomberg")
	require.NoError(t, err)
	require.NoError(t, st.CompleteSync(ctx, id1, 42, map[string]any{"rejected": 1}))

	id2, err := st.StartSync(ctx, "SGX")
	require.NoError(t, err)
	require.NoError(t, st.FailSync(ctx, id2, "connection refused"))

	entries, err := st.ListSyncs(ctx, SyncFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	bloomberg, err := st.ListSyncs(ctx, SyncFilter{Source: "Bloomberg", Status: model.SyncComplete})
	require.NoError(t, err)
	require.Len(t, bloomberg, 1)
	assert.Equal(t, int64(42), bloomberg[0].RowsSynced)
	assert.NotNil(t, bloomberg[0].CompletedAt)
	assert.EqualValues(t, 1, bloomberg[0].Metadata["rejected"])

	failed, err := st.ListSyncs(ctx, SyncFilter{Status: model.SyncFailed, Since: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "connection refused", failed[0].Error)

	assert.True(t, errors.Is(st.CompleteSync(ctx, "missing", 0, nil), ErrNotFound))
}

// --- Users and audit ---

func TestSQLite_UsersAndAudit(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertUser(ctx, &model.User{ID: "U1", Email: "b@firm.com", Name: "B", Role: model.RoleAnalyst, Status: "active"}))
	require.NoError(t, st.UpsertUser(ctx, &model.User{ID: "U2", Email: "a@firm.com", Name: "A", Role: model.RoleAdmin, Status: "active"}))
	users, err := st.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "a@firm.com", users[0].Email)
	assert.Nil(t, users[0].LastLogin)

	old := time.Now().Add(-48 * time.Hour).UTC()
	require.NoError(t, st.AppendAudit(ctx, &model.AuditEntry{Timestamp: old, User: "system", Action: model.AuditLookup, Status: model.AuditFailure}))
	require.NoError(t, st.AppendAudit(ctx, &model.AuditEntry{User: "system", Action: model.AuditLookup, Status: model.AuditFailure}))
	require.NoError(t, st.AppendAudit(ctx, &model.AuditEntry{User: "a@firm.com", Action: model.AuditResolveConflict, Status: model.AuditSuccess}))

	n, err := st.CountAudit(ctx, AuditFilter{Action: model.AuditLookup, Status: model.AuditFailure, Since: time.Now().Add(-24 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	entries, err := st.ListAudit(ctx, AuditFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].Timestamp.After(old))

	entries, err = st.ListAudit(ctx, AuditFilter{User: "a@firm.com"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotEmpty(t, entries[0].ID)
}

// --- Key/value ---

func TestSQLite_KeyValue(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.GetValue(ctx, "settings")
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, st.SetValue(ctx, "settings", []byte(`{"a":1}`)))
	require.NoError(t, st.SetValue(ctx, "settings", []byte(`{"a":2}`)))
	v, err := st.GetValue(ctx, "settings")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":2}`, string(v))

	assert.NoError(t, st.Ping(ctx))
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	assert.NoError(t, st.Migrate(context.Background()))
}
