package monitoring

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/corpaction-cli/internal/model"
	"github.com/sells-group/corpaction-cli/internal/store"
)

// Activity feed item states.
const (
	ActivitySuccess = "success"
	ActivityFailure = "failure"
	ActivityWarning = "warning"
)

// Activity returns the most recent audit entries as feed items, newest
// first. Settings changes are not part of the feed.
func (c *Collector) Activity(ctx context.Context, limit int) ([]model.ActivityItem, error) {
	if limit <= 0 {
		limit = 20
	}
	entries, err := c.store.ListAudit(ctx, store.AuditFilter{Limit: limit * 2})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list audit")
	}
	out := make([]model.ActivityItem, 0, limit)
	for _, e := range entries {
		item, ok := ActivityOf(e)
		if !ok {
			continue
		}
		out = append(out, item)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// ActivityOf maps one audit entry to a feed item.
func ActivityOf(e model.AuditEntry) (model.ActivityItem, bool) {
	item := model.ActivityItem{
		ID:        e.ID,
		Timestamp: e.Timestamp,
		Status:    ActivitySuccess,
		Details:   e.Details,
	}
	if e.Status == model.AuditFailure {
		item.Status = ActivityFailure
	}
	name := entityName(e.Entity)

	switch e.Action {
	case model.AuditLookup:
		item.Type = model.ActivityLookup
		item.Description = "Lookup: " + name
		if e.Status == model.AuditFailure {
			item.Description = "Failed lookup: " + name
		}
	case model.AuditIngestEvent:
		item.Type = model.ActivityIngest
		item.Description = "New corporate action ingested"
		if e.Details != "" {
			item.Description = e.Details
			item.Details = name
		}
	case model.AuditRejectRecord:
		item.Type = model.ActivityIngest
		item.Description = "Record rejected from " + name
	case model.AuditConflict:
		item.Type = model.ActivityConflict
		item.Description = "Conflict flagged: " + name
		item.Status = ActivityWarning
	case model.AuditSync:
		item.Type = model.ActivitySync
		item.Description = "Data sync completed from " + name
		if e.Status == model.AuditFailure {
			item.Description = "Data sync failed for " + name
		}
	case model.AuditResolveConflict:
		item.Type = model.ActivityResolution
		item.Description = "Conflict resolved: " + name
	case model.AuditArchiveConflict:
		item.Type = model.ActivityResolution
		item.Description = "Conflict archived: " + name
	case model.AuditActionStatus:
		item.Type = model.ActivityResolution
		item.Description = "Action status changed: " + name
	case model.AuditArchiveActions:
		item.Type = model.ActivitySync
		item.Description = "Settled actions archived"
	default:
		return item, false
	}
	return item, true
}

// entityName strips a "Kind:" prefix such as "Source:" or "Event:". Lookup
// entities keep theirs ("ISIN:SG9999009436").
func entityName(entity string) string {
	for _, prefix := range []string{"Source:", "Event:"} {
		if after, ok := strings.CutPrefix(entity, prefix); ok {
			return after
		}
	}
	return entity
}
