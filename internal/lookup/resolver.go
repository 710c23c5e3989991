// Package lookup resolves free-text security identifiers against the
// securities master.
package lookup

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/corpaction-cli/internal/auth"
	"github.com/sells-group/corpaction-cli/internal/model"
	"github.com/sells-group/corpaction-cli/internal/store"
)

var (
	// ErrEmptyIdentifier is returned for empty or whitespace-only input.
	ErrEmptyIdentifier = errors.New("lookup: identifier is required")
	// ErrOverloaded is returned when no resolution slot frees up in time.
	ErrOverloaded = errors.New("lookup: too many concurrent lookups")
	// ErrTimeout is returned when a resolution exceeds its deadline.
	ErrTimeout = errors.New("lookup: timed out")
)

// Store is the subset of store.Store the resolver reads and audits through.
type Store interface {
	FindByIdentifier(ctx context.Context, value string) (*model.Security, *model.Identifier, error)
	ListSecurities(ctx context.Context, filter store.SecurityFilter) ([]model.Security, error)
	ListActions(ctx context.Context, filter store.ActionFilter) ([]model.CorporateAction, error)
	ListSyncs(ctx context.Context, filter store.SyncFilter) ([]model.SyncEntry, error)
	AppendAudit(ctx context.Context, e *model.AuditEntry) error
}

// Options tunes a Resolver. Zero values take the defaults below.
type Options struct {
	CacheTTL       time.Duration // default 30m; negative disables the cache
	MaxConcurrent  int64         // default 100
	Timeout        time.Duration // default 5s
	MaxSuggestions int           // default 3
	MinScore       int
	Sources        []string // configured source names, used when a security has no actions
}

func (o *Options) applyDefaults() {
	if o.CacheTTL == 0 {
		o.CacheTTL = 30 * time.Minute
	}
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 100
	}
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.MaxSuggestions <= 0 {
		o.MaxSuggestions = 3
	}
}

// Stats are cumulative resolver counters.
type Stats struct {
	Lookups   int64   `json:"lookups"`
	Found     int64   `json:"found"`
	NotFound  int64   `json:"not_found"`
	Errors    int64   `json:"errors"`
	CacheHits int64   `json:"cache_hits"`
	HitRate   float64 `json:"cache_hit_rate"`
}

// ErrorRatio returns the share of lookups that failed with an error.
func (s Stats) ErrorRatio() float64 {
	if s.Lookups == 0 {
		return 0
	}
	return float64(s.Errors) / float64(s.Lookups)
}

// Resolver answers identifier lookups with caching, a concurrency cap and a
// per-call deadline. Identical concurrent queries share one resolution.
type Resolver struct {
	st    Store
	cache *Cache
	group singleflight.Group

	mu   sync.RWMutex
	opts Options
	sem  *semaphore.Weighted

	lookups, found, notFound, errs, hits atomic.Int64
}

// New creates a Resolver.
func New(st Store, opts Options) *Resolver {
	opts.applyDefaults()
	return &Resolver{
		st:    st,
		cache: NewCache(opts.CacheTTL),
		opts:  opts,
		sem:   semaphore.NewWeighted(opts.MaxConcurrent),
	}
}

// Reconfigure applies new limits. In-flight lookups keep the slot they hold.
func (r *Resolver) Reconfigure(cacheTTL, timeout time.Duration, maxConcurrent int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cacheTTL != 0 {
		r.opts.CacheTTL = cacheTTL
		r.cache.SetTTL(cacheTTL)
	}
	if timeout > 0 {
		r.opts.Timeout = timeout
	}
	if maxConcurrent > 0 && maxConcurrent != r.opts.MaxConcurrent {
		r.opts.MaxConcurrent = maxConcurrent
		r.sem = semaphore.NewWeighted(maxConcurrent)
	}
}

func (r *Resolver) limits() (time.Duration, *semaphore.Weighted) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.opts.Timeout, r.sem
}

// Purge drops cached results, e.g. after new identifiers are loaded.
func (r *Resolver) Purge() { r.cache.Purge() }

// Stats returns a snapshot of the counters.
func (r *Resolver) Stats() Stats {
	return Stats{
		Lookups:   r.lookups.Load(),
		Found:     r.found.Load(),
		NotFound:  r.notFound.Load(),
		Errors:    r.errs.Load(),
		CacheHits: r.hits.Load(),
		HitRate:   r.cache.HitRate(),
	}
}

// Resolve looks up identifier. A miss is a result with Found=false and
// ranked suggestions, not an error.
func (r *Resolver) Resolve(ctx context.Context, identifier string) (*model.LookupResult, error) {
	q := strings.TrimSpace(identifier)
	if q == "" {
		return nil, ErrEmptyIdentifier
	}
	r.lookups.Add(1)

	if cached, ok := r.cache.Get(q); ok {
		r.hits.Add(1)
		r.found.Add(1)
		cached.Query = q
		return &cached, nil
	}

	timeout, sem := r.limits()
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := sem.Acquire(waitCtx, 1); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, eris.Wrapf(ctx.Err(), "lookup %q", q)
		}
		r.errs.Add(1)
		return nil, eris.Wrapf(ErrOverloaded, "lookup %q", q)
	}
	defer sem.Release(1)

	// The shared resolution is detached from any one caller's cancellation.
	ch := r.group.DoChan(cacheKey(q), func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		return r.resolve(shared, q)
	})
	select {
	case <-waitCtx.Done():
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, eris.Wrapf(ctx.Err(), "lookup %q", q)
		}
		r.errs.Add(1)
		return nil, eris.Wrapf(ErrTimeout, "lookup %q", q)
	case res := <-ch:
		if res.Err != nil {
			r.errs.Add(1)
			if errors.Is(res.Err, context.DeadlineExceeded) {
				return nil, eris.Wrapf(ErrTimeout, "lookup %q", q)
			}
			return nil, res.Err
		}
		out := *res.Val.(*model.LookupResult)
		out.Query = q
		if out.Found {
			r.found.Add(1)
		} else {
			r.notFound.Add(1)
			r.auditMiss(ctx, q, len(out.Suggestions))
		}
		return &out, nil
	}
}

func (r *Resolver) resolve(ctx context.Context, q string) (*model.LookupResult, error) {
	sec, id, err := r.st.FindByIdentifier(ctx, q)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, eris.Wrap(err, "lookup: find identifier")
	}
	if err == nil {
		sources, err := r.dataSources(ctx, sec.ID)
		if err != nil {
			return nil, err
		}
		res := &model.LookupResult{
			Query:       q,
			Found:       true,
			Security:    sec,
			Matched:     id,
			Confidence:  model.ConfidenceHigh,
			DataSources: sources,
		}
		r.cache.Put(q, *res)
		return res, nil
	}

	secs, err := r.st.ListSecurities(ctx, store.SecurityFilter{Limit: -1})
	if err != nil {
		return nil, eris.Wrap(err, "lookup: list securities")
	}
	r.mu.RLock()
	limit, minScore := r.opts.MaxSuggestions, r.opts.MinScore
	r.mu.RUnlock()
	return &model.LookupResult{
		Query:       q,
		Found:       false,
		Suggestions: Suggest(q, secs, limit, minScore),
	}, nil
}

// dataSources lists the sources that reported actions for the security, or
// every configured source when none did, with each one's last successful sync.
func (r *Resolver) dataSources(ctx context.Context, securityID string) ([]model.SourceSync, error) {
	actions, err := r.st.ListActions(ctx, store.ActionFilter{SecurityID: securityID, IncludeArchived: true, Limit: -1})
	if err != nil {
		return nil, eris.Wrap(err, "lookup: list actions")
	}
	seen := make(map[string]bool)
	var names []string
	for _, a := range actions {
		if a.Source != "" && !seen[a.Source] {
			seen[a.Source] = true
			names = append(names, a.Source)
		}
	}
	if len(names) == 0 {
		names = append(names, r.opts.Sources...)
	}
	sort.Strings(names)

	out := make([]model.SourceSync, 0, len(names))
	for _, name := range names {
		syncs, err := r.st.ListSyncs(ctx, store.SyncFilter{Source: name, Status: model.SyncComplete, Limit: 1})
		if err != nil {
			return nil, eris.Wrapf(err, "lookup: last sync %s", name)
		}
		ss := model.SourceSync{Source: name}
		if len(syncs) > 0 {
			ss.LastSynced = syncs[0].CompletedAt
		}
		out = append(out, ss)
	}
	return out, nil
}

func (r *Resolver) auditMiss(ctx context.Context, q string, suggestions int) {
	entry := &model.AuditEntry{
		User:    auth.Actor(ctx),
		Action:  model.AuditLookup,
		Entity:  q,
		Details: "Identifier not found in registry",
		Status:  model.AuditFailure,
	}
	if err := r.st.AppendAudit(context.WithoutCancel(ctx), entry); err != nil {
		zap.L().Warn("lookup: audit failed lookup", zap.String("query", q), zap.Error(err))
	}
	zap.L().Debug("lookup miss", zap.String("query", q), zap.Int("suggestions", suggestions))
}
