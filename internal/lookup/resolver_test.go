package lookup

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sells-group/corpaction-cli/internal/model"
	"github.com/sells-group/corpaction-cli/internal/registry"
	"github.com/sells-group/corpaction-cli/internal/store"
)

func newSeededStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "lookup.db"))
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

func TestResolve_Fixtures(t *testing.T) {
	st := newSeededStore(t)
	r := New(st, Options{})
	ctx := context.Background()

	for _, q := range []string{"SG9999009436", "dbsm.si", "  d05  "} {
		res, err := r.Resolve(ctx, q)
		require.NoError(t, err, q)
		assert.True(t, res.Found, q)
		assert.Equal(t, "DBS-SG", res.Security.ID)
		assert.Equal(t, "DBS Group Holdings Limited", res.Security.Name)
		assert.Equal(t, model.ConfidenceHigh, res.Confidence)
		assert.Equal(t, strings.TrimSpace(q), res.Query)
	}

	res, err := r.Resolve(ctx, "dbsm.si")
	require.NoError(t, err)
	require.NotNil(t, res.Matched)
	assert.Equal(t, model.IdentifierRIC, res.Matched.Type)

	var sources []string
	for _, s := range res.DataSources {
		sources = append(sources, s.Source)
		assert.NotNil(t, s.LastSynced, s.Source)
	}
	assert.Equal(t, []string{"Bloomberg", "Custodian"}, sources)
}

func TestResolve_EveryIdentifierAnyCase(t *testing.T) {
	st := newSeededStore(t)
	r := New(st, Options{CacheTTL: -1})
	f, err := registry.Load()
	require.NoError(t, err)

	for _, sec := range f.Securities {
		for _, id := range sec.Identifiers {
			for _, q := range []string{id.Value, strings.ToLower(id.Value), strings.ToUpper(id.Value)} {
				res, err := r.Resolve(context.Background(), q)
				require.NoError(t, err)
				require.True(t, res.Found, q)
				assert.Equal(t, sec.ID, res.Security.ID, q)
			}
		}
	}
}

func TestResolve_NotFound(t *testing.T) {
	st := newSeededStore(t)
	r := New(st, Options{})
	ctx := context.Background()

	res, err := r.Resolve(ctx, "INVALID123")
	require.NoError(t, err)
	assert.False(t, res.Found)
	assert.Nil(t, res.Security)
	assert.GreaterOrEqual(t, len(res.Suggestions), 1)
	assert.LessOrEqual(t, len(res.Suggestions), 3)

	again, err := r.Resolve(ctx, "INVALID123")
	require.NoError(t, err)
	assert.Equal(t, res.Suggestions, again.Suggestions)

	n, err := st.CountAudit(ctx, store.AuditFilter{Action: model.AuditLookup, Status: model.AuditFailure, Since: time.Now().Add(-time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, 2, n, "misses are audited, not cached")

	stats := r.Stats()
	assert.Equal(t, int64(2), stats.Lookups)
	assert.Equal(t, int64(2), stats.NotFound)
}

func TestResolve_Empty(t *testing.T) {
	r := New(newSeededStore(t), Options{})
	for _, q := range []string{"", "   ", "\t\n"} {
		_, err := r.Resolve(context.Background(), q)
		assert.True(t, errors.Is(err, ErrEmptyIdentifier))
	}
	assert.Zero(t, r.Stats().Lookups)
}

func TestResolve_CacheHit(t *testing.T) {
	r := New(newSeededStore(t), Options{})
	ctx := context.Background()

	_, err := r.Resolve(ctx, "SG9999009436")
	require.NoError(t, err)
	res, err := r.Resolve(ctx, "sg9999009436")
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, "sg9999009436", res.Query)

	stats := r.Stats()
	assert.Equal(t, int64(1), stats.CacheHits)
	assert.Equal(t, int64(2), stats.Found)
	assert.InDelta(t, 50.0, stats.HitRate, 0.001)

	r.Purge()
	_, err = r.Resolve(ctx, "SG9999009436")
	require.NoError(t, err)
	assert.Equal(t, int64(1), r.Stats().CacheHits)
}

func TestResolve_FallsBackToConfiguredSources(t *testing.T) {
	r := New(newSeededStore(t), Options{Sources: []string{"SGX", "Reuters"}})
	res, err := r.Resolve(context.Background(), "0005.HK")
	require.NoError(t, err)
	require.Len(t, res.DataSources, 2)
	assert.Equal(t, "Reuters", res.DataSources[0].Source)
	assert.Nil(t, res.DataSources[0].LastSynced, "never synced")
	assert.NotNil(t, res.DataSources[1].LastSynced)
}

// blockingStore parks FindByIdentifier until release is closed or the
// context ends.
type blockingStore struct {
	Store
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingStore) FindByIdentifier(ctx context.Context, _ string) (*model.Security, *model.Identifier, error) {
	b.once.Do(func() { close(b.entered) })
	select {
	case <-b.release:
		return nil, nil, store.ErrNotFound
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

func (b *blockingStore) ListSecurities(context.Context, store.SecurityFilter) ([]model.Security, error) {
	return nil, nil
}

func (b *blockingStore) AppendAudit(context.Context, *model.AuditEntry) error { return nil }

func TestResolve_OverloadedAndTimeout(t *testing.T) {
	bs := &blockingStore{entered: make(chan struct{}), release: make(chan struct{})}
	r := New(bs, Options{MaxConcurrent: 1, Timeout: 100 * time.Millisecond})

	errc := make(chan error, 1)
	go func() {
		_, err := r.Resolve(context.Background(), "FIRST")
		errc <- err
	}()
	<-bs.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.Resolve(ctx, "SECOND")
	assert.True(t, errors.Is(err, ErrOverloaded), "got %v", err)

	err = <-errc
	assert.True(t, errors.Is(err, ErrTimeout), "got %v", err)
	assert.Equal(t, int64(2), r.Stats().Errors)
	close(bs.release)
}

func TestResolver_Reconfigure(t *testing.T) {
	r := New(newSeededStore(t), Options{})
	r.Reconfigure(-1, 2*time.Second, 10)

	timeout, _ := r.limits()
	assert.Equal(t, 2*time.Second, timeout)
	assert.Equal(t, int64(10), r.opts.MaxConcurrent)

	_, err := r.Resolve(context.Background(), "D05")
	require.NoError(t, err)
	assert.Equal(t, 0, r.cache.Len(), "cache disabled")
}

// countingStore blocks every FindByIdentifier until release is closed and
// counts the calls.
type countingStore struct {
	Store
	calls   atomic.Int64
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newCountingStore() *countingStore {
	return &countingStore{entered: make(chan struct{}), release: make(chan struct{})}
}

func (c *countingStore) FindByIdentifier(ctx context.Context, _ string) (*model.Security, *model.Identifier, error) {
	c.calls.Add(1)
	c.once.Do(func() { close(c.entered) })
	select {
	case <-c.release:
		return nil, nil, store.ErrNotFound
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

func (c *countingStore) ListSecurities(context.Context, store.SecurityFilter) ([]model.Security, error) {
	return []model.Security{{ID: "XYZ-SG", Name: "XYZ Holdings"}}, nil
}

func (c *countingStore) AppendAudit(context.Context, *model.AuditEntry) error { return nil }

func TestResolve_ConcurrentQueriesShareOneResolution(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cs := newCountingStore()
	r := New(cs, Options{CacheTTL: -1, Timeout: 5 * time.Second})

	queries := []string{"XYZ", "xyz", "Xyz", " xYz ", "XYZ"}
	results := make([]*model.LookupResult, len(queries))
	errs := make([]error, len(queries))
	var wg sync.WaitGroup
	for i, q := range queries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = r.Resolve(context.Background(), q)
		}()
	}

	<-cs.entered
	require.Eventually(t, func() bool {
		return r.Stats().Lookups == int64(len(queries))
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(cs.release)
	wg.Wait()

	assert.Equal(t, int64(1), cs.calls.Load())
	for i, q := range queries {
		require.NoError(t, errs[i], q)
		require.NotNil(t, results[i], q)
		assert.False(t, results[i].Found)
		assert.Equal(t, strings.TrimSpace(q), results[i].Query)
		require.Len(t, results[i].Suggestions, 1)
		assert.Equal(t, "XYZ-SG", results[i].Suggestions[0].SecurityID)
	}
	assert.Zero(t, r.Stats().Errors)
}

func TestResolve_CancelledCallerDoesNotFailOthers(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cs := newCountingStore()
	r := New(cs, Options{CacheTTL: -1, Timeout: 5 * time.Second})

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := r.Resolve(first, "XYZ")
		firstErr <- err
	}()
	<-cs.entered

	type outcome struct {
		res *model.LookupResult
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		res, err := r.Resolve(context.Background(), "xyz")
		second <- outcome{res, err}
	}()
	require.Eventually(t, func() bool { return r.Stats().Lookups == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	cancel()
	err := <-firstErr
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)

	close(cs.release)
	got := <-second
	require.NoError(t, got.err)
	assert.False(t, got.res.Found)
	assert.Equal(t, "xyz", got.res.Query)
	assert.Equal(t, int64(1), cs.calls.Load())
	assert.Zero(t, r.Stats().Errors, "a cancelled caller is not an engine error")
}
