package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/corpaction-cli/internal/config"
	"github.com/sells-group/corpaction-cli/internal/model"
	"github.com/sells-group/corpaction-cli/internal/resilience"
	"github.com/sells-group/corpaction-cli/internal/store"
)

// Statuses reports the sync health of every configured source, in
// configuration order.
func (s *Syncer) Statuses(ctx context.Context) ([]model.DataSourceStatus, error) {
	now := s.now()
	breakers := s.breakers.States()
	out := make([]model.DataSourceStatus, 0, len(s.sources))
	for _, src := range s.sources {
		st, err := s.status(ctx, src, now, breakers[src.Name])
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

func (s *Syncer) status(ctx context.Context, src config.SourceConfig, now time.Time, breaker resilience.BreakerState) (model.DataSourceStatus, error) {
	ds := model.DataSourceStatus{
		Name:          src.Name,
		Status:        model.SyncDisconnected,
		SyncFrequency: FrequencyLabel(src.Frequency),
	}

	runs, err := s.st.ListSyncs(ctx, store.SyncFilter{Source: src.Name, Since: now.Add(-24 * time.Hour), Limit: -1})
	if err != nil {
		return ds, eris.Wrapf(err, "ingest: syncs for %s", src.Name)
	}
	for _, r := range runs {
		if r.Status == model.SyncComplete {
			ds.RecordsSynced24h += r.RowsSynced
		}
	}

	latest, err := s.st.ListSyncs(ctx, store.SyncFilter{Source: src.Name, Limit: 1})
	if err != nil {
		return ds, eris.Wrapf(err, "ingest: last sync for %s", src.Name)
	}
	ok, err := s.st.ListSyncs(ctx, store.SyncFilter{Source: src.Name, Status: model.SyncComplete, Limit: 1})
	if err != nil {
		return ds, eris.Wrapf(err, "ingest: last success for %s", src.Name)
	}

	lastFailed := len(latest) > 0 && latest[0].Status == model.SyncFailed
	if lastFailed {
		ds.ErrorMessage = latest[0].Error
	}
	if len(ok) == 0 || ok[0].CompletedAt == nil {
		if lastFailed {
			ds.Status = model.SyncDegraded
		}
		return ds, nil
	}

	last := *ok[0].CompletedAt
	ds.LastSync = &last
	freq := src.Frequency
	if freq <= 0 {
		freq = time.Hour
	}
	if src.URL != "" {
		next := last.Add(freq)
		ds.NextSync = &next
	}

	age := now.Sub(last)
	switch {
	case age > 4*freq && src.URL != "":
		ds.Status = model.SyncDisconnected
	case lastFailed, breaker == resilience.BreakerOpen, age > 2*freq && src.URL != "":
		ds.Status = model.SyncDegraded
	default:
		ds.Status = model.SyncConnected
	}
	return ds, nil
}

// FrequencyLabel renders a sync interval for display.
func FrequencyLabel(d time.Duration) string {
	switch {
	case d <= time.Minute:
		return "Real-time"
	case d == time.Hour:
		return "Hourly"
	case d == 24*time.Hour:
		return "Daily"
	case d%(24*time.Hour) == 0:
		return fmt.Sprintf("Every %d days", d/(24*time.Hour))
	case d%time.Hour == 0:
		return fmt.Sprintf("Every %d hours", d/time.Hour)
	default:
		return fmt.Sprintf("Every %d minutes", d/time.Minute)
	}
}
