// Package monitoring derives dashboard metrics, system health and the
// activity feed from the store, and raises webhook alerts.
package monitoring

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/corpaction-cli/internal/lookup"
	"github.com/sells-group/corpaction-cli/internal/model"
	"github.com/sells-group/corpaction-cli/internal/store"
)

// Lookup engine states reported by Health.
const (
	EngineOperational = "operational"
	EngineDegraded    = "degraded"
	EngineDown        = "down"
)

// degradedErrorRatio is the lookup error ratio above which the engine is
// reported as degraded.
const degradedErrorRatio = 0.1

// Store is the subset of store.Store the collector reads.
type Store interface {
	CountActions(ctx context.Context, filter store.ActionFilter) (int, error)
	CountConflicts(ctx context.Context, filter store.ConflictFilter) (int, error)
	CountSecurities(ctx context.Context) (int, int, error)
	CountAudit(ctx context.Context, filter store.AuditFilter) (int, error)
	ListAudit(ctx context.Context, filter store.AuditFilter) ([]model.AuditEntry, error)
	ListSyncs(ctx context.Context, filter store.SyncFilter) ([]model.SyncEntry, error)
	Ping(ctx context.Context) error
}

// StatsSource reports resolver counters.
type StatsSource interface {
	Stats() lookup.Stats
}

// Metrics is the dashboard's point-in-time view.
type Metrics struct {
	ActionsProcessed    int     `json:"actions_processed"`
	FailedLookups       int     `json:"failed_lookups"`
	UnresolvedConflicts int     `json:"unresolved_conflicts"`
	IngestionRate       float64 `json:"ingestion_rate"`
	SecuritiesCount     int     `json:"securities_count"`
	IdentifierMappings  int     `json:"identifier_mappings"`
	ActiveActions       int     `json:"active_actions"`
	APICalls24h         int64   `json:"api_calls_24h"`

	// Window counts used for alerting.
	NewConflicts int `json:"new_conflicts"`
	SyncsFailed  int `json:"syncs_failed"`
	SyncsTotal   int `json:"syncs_total"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Health summarizes the lookup engine and its dependencies.
type Health struct {
	LookupEngine         string     `json:"lookup_engine"`
	DatabaseResponseTime int64      `json:"database_response_time_ms"`
	CacheHitRate         float64    `json:"cache_hit_rate"`
	LastDataSync         *time.Time `json:"last_data_sync,omitempty"`
	Error                string     `json:"error,omitempty"`
}

// Collector gathers metrics from the store, the resolver and the API request
// counter. stats and calls may be nil.
type Collector struct {
	store Store
	stats StatsSource
	calls *RequestCounter
	now   func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(st Store, stats StatsSource, calls *RequestCounter) *Collector {
	return &Collector{store: st, stats: stats, calls: calls, now: time.Now}
}

// Collect gathers dashboard metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Metrics, error) {
	if lookbackHours <= 0 {
		lookbackHours = 24
	}
	now := c.now().UTC()
	m, err := c.collectSince(ctx, now.Add(-time.Duration(lookbackHours)*time.Hour))
	if err != nil {
		return nil, err
	}
	m.LookbackHours = lookbackHours
	return m, nil
}

func (c *Collector) collectSince(ctx context.Context, cutoff time.Time) (*Metrics, error) {
	now := c.now().UTC()
	m := &Metrics{CollectedAt: now}
	var err error

	if m.ActionsProcessed, err = c.store.CountActions(ctx, store.ActionFilter{CreatedSince: cutoff, IncludeArchived: true}); err != nil {
		return nil, eris.Wrap(err, "monitoring: count processed actions")
	}
	if m.ActiveActions, err = c.store.CountActions(ctx, store.ActionFilter{
		Statuses: []model.EventStatus{model.EventPending, model.EventConfirmed},
	}); err != nil {
		return nil, eris.Wrap(err, "monitoring: count active actions")
	}
	if m.FailedLookups, err = c.store.CountAudit(ctx, store.AuditFilter{
		Action: model.AuditLookup, Status: model.AuditFailure, Since: cutoff,
	}); err != nil {
		return nil, eris.Wrap(err, "monitoring: count failed lookups")
	}
	if m.NewConflicts, err = c.store.CountAudit(ctx, store.AuditFilter{Action: model.AuditConflict, Since: cutoff}); err != nil {
		return nil, eris.Wrap(err, "monitoring: count new conflicts")
	}
	if m.UnresolvedConflicts, err = c.store.CountConflicts(ctx, store.ConflictFilter{Status: model.ConflictUnresolved}); err != nil {
		return nil, eris.Wrap(err, "monitoring: count unresolved conflicts")
	}
	if m.SecuritiesCount, m.IdentifierMappings, err = c.store.CountSecurities(ctx); err != nil {
		return nil, eris.Wrap(err, "monitoring: count securities")
	}

	syncs, err := c.store.ListSyncs(ctx, store.SyncFilter{Since: cutoff, Limit: -1})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list syncs")
	}
	var rows int64
	for _, s := range syncs {
		m.SyncsTotal++
		switch s.Status {
		case model.SyncComplete:
			rows += s.RowsSynced
		case model.SyncFailed:
			m.SyncsFailed++
		}
	}
	if hours := now.Sub(cutoff).Hours(); hours > 0 {
		m.IngestionRate = math.Round(float64(rows)/hours*10) / 10
	}

	if c.calls != nil {
		m.APICalls24h = c.calls.Last24h()
	}
	return m, nil
}

// Health probes the store and reads resolver counters.
func (c *Collector) Health(ctx context.Context) *Health {
	h := &Health{LookupEngine: EngineOperational}

	start := time.Now()
	if err := c.store.Ping(ctx); err != nil {
		h.LookupEngine = EngineDown
		h.Error = err.Error()
		return h
	}
	h.DatabaseResponseTime = time.Since(start).Milliseconds()

	if c.stats != nil {
		s := c.stats.Stats()
		h.CacheHitRate = math.Round(s.HitRate*10) / 10
		if s.ErrorRatio() > degradedErrorRatio {
			h.LookupEngine = EngineDegraded
		}
	}

	syncs, err := c.store.ListSyncs(ctx, store.SyncFilter{Status: model.SyncComplete, Limit: 1})
	if err != nil {
		h.LookupEngine = EngineDegraded
		h.Error = err.Error()
		return h
	}
	if len(syncs) > 0 {
		h.LastDataSync = syncs[0].CompletedAt
	}
	return h
}
