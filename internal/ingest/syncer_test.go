package ingest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/corpaction-cli/internal/config"
	"github.com/sells-group/corpaction-cli/internal/fetcher"
	"github.com/sells-group/corpaction-cli/internal/model"
	"github.com/sells-group/corpaction-cli/internal/reconcile"
	"github.com/sells-group/corpaction-cli/internal/registry"
	"github.com/sells-group/corpaction-cli/internal/resilience"
	"github.com/sells-group/corpaction-cli/internal/store"
)

const sgxFeed = `ISIN,RIC,Stock Code,Event Type,Ex Date,Record Date,Amount,Currency
,,U11,dividend,2024-11-20,2024-11-21,0.80,SGD
XX0000000000,,,dividend,2024-11-20,,0.10,
SG9999009436,OCBC.SI,,dividend,2024-12-01,,0.40,SGD
,,,dividend,2024-11-20,,0.10,
`

func newStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))
	f, err := registry.Load()
	require.NoError(t, err)
	_, err = registry.Seed(ctx, st, f)
	require.NoError(t, err)
	return st
}

func writeFeed(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feed.csv")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func newSyncer(t *testing.T, st store.Store, sources ...config.SourceConfig) *Syncer {
	t.Helper()
	det := reconcile.NewDetector(st, 3, Confidences(sources))
	router := fetcher.NewRouter(fetcher.HTTPOptions{RequestsPerSecond: 100, Burst: 10}, fetcher.FTPOptions{})
	return NewSyncer(st, router, config.SyncConfig{Sources: sources, MaxConcurrent: 2, Retries: 1}, det)
}

func auditCount(t *testing.T, st store.Store, action, status string) int {
	t.Helper()
	n, err := st.CountAudit(context.Background(), store.AuditFilter{Action: action, Status: status})
	require.NoError(t, err)
	return n
}

func TestSyncSource_File(t *testing.T) {
	st := newStore(t)
	s := newSyncer(t, st, config.SourceConfig{Name: "SGX", URL: writeFeed(t, sgxFeed), Format: "csv", Confidence: "HIGH"})
	ctx := context.Background()
	events := auditCount(t, st, model.AuditIngestEvent, model.AuditSuccess)

	res, err := s.SyncSource(ctx, "sgx")
	require.NoError(t, err)
	assert.Equal(t, "SGX", res.Source)
	assert.NotEmpty(t, res.SyncID)
	assert.Equal(t, 4, res.Records)
	assert.EqualValues(t, 1, res.Rows)
	assert.Equal(t, 1, res.New)
	assert.Equal(t, 2, res.Rejected)
	assert.Equal(t, 1, res.Conflicts)

	a, err := st.GetAction(ctx, ActionID("SGX", "UOB-SG", model.EventDividend, model.MustDate("2024-11-20")))
	require.NoError(t, err)
	assert.Equal(t, "0.80", a.Amount.StringFixed(2))
	assert.Equal(t, model.EventPending, a.Status)

	assert.Equal(t, 2, auditCount(t, st, model.AuditRejectRecord, model.AuditFailure))
	assert.Equal(t, events+1, auditCount(t, st, model.AuditIngestEvent, model.AuditSuccess))
	entries, err := st.ListAudit(ctx, store.AuditFilter{Action: model.AuditSync, Limit: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "1 records updated", entries[0].Details)
	assert.Equal(t, SystemUser, entries[0].User)

	syncs, err := st.ListSyncs(ctx, store.SyncFilter{Source: "SGX", Limit: 1})
	require.NoError(t, err)
	require.Len(t, syncs, 1)
	assert.Equal(t, model.SyncComplete, syncs[0].Status)
	assert.EqualValues(t, 1, syncs[0].RowsSynced)

	conflicts, err := st.ListConflicts(ctx, store.ConflictFilter{SecurityID: "DBS-SG"})
	require.NoError(t, err)
	var ident *model.Conflict
	for i := range conflicts {
		if conflicts[i].ConflictType == model.ConflictIdentifier {
			ident = &conflicts[i]
		}
	}
	require.NotNil(t, ident)
	require.Len(t, ident.Sources, 2)
	assert.Equal(t, "DBS-SG", ident.Sources[0].Source)
	assert.Equal(t, "OCBC-SG", ident.Sources[1].Source)
	assert.Equal(t, "SGX", ident.Sources[0].Data["feed"])

	// Re-ingesting the same feed adds nothing and keeps the conflict unique.
	res, err = s.SyncSource(ctx, "SGX")
	require.NoError(t, err)
	assert.Equal(t, 0, res.New)
	assert.Equal(t, events+1, auditCount(t, st, model.AuditIngestEvent, model.AuditSuccess))
	n, err := st.CountConflicts(ctx, store.ConflictFilter{SecurityID: "DBS-SG"})
	require.NoError(t, err)
	assert.Equal(t, len(conflicts), n)
}

func TestSyncAll_DetectsConflicts(t *testing.T) {
	st := newStore(t)
	s := newSyncer(t, st,
		config.SourceConfig{Name: "Bloomberg", Format: "csv"},
		config.SourceConfig{Name: "SGX", URL: writeFeed(t, sgxFeed), Format: "csv"},
	)
	ctx := context.Background()

	results, err := s.SyncAll(ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Skipped)
	assert.EqualValues(t, 1, results[1].Rows)

	conflicts, err := st.ListConflicts(ctx, store.ConflictFilter{SecurityID: "UOB-SG"})
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, model.ConflictAmount, conflicts[0].ConflictType)
	assert.Equal(t, "0.75 vs 0.80", conflicts[0].Details)

	_, err = s.SyncAll(ctx, "Reuters")
	assert.True(t, errors.Is(err, ErrUnknownSource))
}

func TestSyncSource_FailureOpensBreaker(t *testing.T) {
	st := newStore(t)
	missing := filepath.Join(t.TempDir(), "missing.csv")
	s := newSyncer(t, st, config.SourceConfig{Name: "Reuters", URL: missing, Format: "csv"})
	ctx := context.Background()

	for range 3 {
		res, err := s.SyncSource(ctx, "Reuters")
		require.Error(t, err)
		assert.NotEmpty(t, res.Error)
	}
	syncs, err := st.ListSyncs(ctx, store.SyncFilter{Source: "Reuters"})
	require.NoError(t, err)
	require.Len(t, syncs, 3)
	assert.Equal(t, model.SyncFailed, syncs[0].Status)
	assert.NotEmpty(t, syncs[0].Error)
	assert.Equal(t, 3, auditCount(t, st, model.AuditSync, model.AuditFailure))

	_, err = s.SyncSource(ctx, "Reuters")
	assert.True(t, errors.Is(err, resilience.ErrBreakerOpen))
	assert.Equal(t, resilience.BreakerOpen, s.BreakerStates()["Reuters"])

	statuses, err := s.Statuses(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, model.SyncDegraded, statuses[0].Status)
	assert.NotEmpty(t, statuses[0].ErrorMessage)
}

func TestSyncSource_ETag(t *testing.T) {
	var hits, notModified atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			notModified.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(sgxFeed))
	}))
	defer srv.Close()

	st := newStore(t)
	s := newSyncer(t, st, config.SourceConfig{Name: "SGX", URL: srv.URL + "/actions.csv", Format: "csv"})
	ctx := context.Background()

	res, err := s.SyncSource(ctx, "SGX")
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Rows)
	assert.False(t, res.NotModified)

	res, err = s.SyncSource(ctx, "SGX")
	require.NoError(t, err)
	assert.True(t, res.NotModified)
	assert.EqualValues(t, 0, res.Rows)
	assert.EqualValues(t, 2, hits.Load())
	assert.EqualValues(t, 1, notModified.Load())

	syncs, err := st.ListSyncs(ctx, store.SyncFilter{Source: "SGX", Limit: 1})
	require.NoError(t, err)
	require.Len(t, syncs, 1)
	assert.Equal(t, true, syncs[0].Metadata["not_modified"])
}

func TestSyncSource_Skipped(t *testing.T) {
	st := newStore(t)
	s := newSyncer(t, st, config.SourceConfig{Name: "Custodian", Format: "xlsx"})

	res, err := s.SyncSource(context.Background(), "Custodian")
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Empty(t, res.SyncID)

	_, err = s.SyncSource(context.Background(), "Nope")
	assert.True(t, errors.Is(err, ErrUnknownSource))
}

func TestConfidences(t *testing.T) {
	got := Confidences([]config.SourceConfig{
		{Name: "Bloomberg", Confidence: "high"},
		{Name: "Custodian"},
	})
	assert.Equal(t, model.ConfidenceHigh, got["Bloomberg"])
	assert.Equal(t, model.ConfidenceMedium, got["Custodian"])
}

func TestSyncSource_OnSyncedHooks(t *testing.T) {
	st := newStore(t)
	s := newSyncer(t, st,
		config.SourceConfig{Name: "SGX", URL: writeFeed(t, sgxFeed), Format: "csv"},
		config.SourceConfig{Name: "Bloomberg"},
	)
	var got []Result
	s.OnSynced(func(r Result) { got = append(got, r) })

	_, err := s.SyncSource(context.Background(), "SGX")
	require.NoError(t, err)
	res, err := s.SyncSource(context.Background(), "Bloomberg")
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	require.Len(t, got, 1, "skipped sources do not fire hooks")
	assert.Equal(t, "SGX", got[0].Source)
	assert.EqualValues(t, 1, got[0].Rows)
}
