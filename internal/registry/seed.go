package registry

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/corpaction-cli/internal/model"
	"github.com/sells-group/corpaction-cli/internal/store"
)

// SeedStats counts what Seed wrote.
type SeedStats struct {
	Users      int `json:"users"`
	Securities int `json:"securities"`
	Actions    int `json:"actions"`
	Conflicts  int `json:"conflicts"`
	Audit      int `json:"audit"`
	Syncs      int `json:"syncs"`
}

// Seed writes the fixture set into st. Users, securities and actions are
// upserted and conflicts inserted by ID, so reseeding is safe. Audit history
// is only written into an empty audit log, and each sync fixture records one
// run against the current clock.
func Seed(ctx context.Context, st store.Store, f *Fixtures) (SeedStats, error) {
	var stats SeedStats
	if err := f.Validate(); err != nil {
		return stats, err
	}
	log := zap.L().With(zap.String("component", "registry"))

	for i := range f.Users {
		if err := st.UpsertUser(ctx, &f.Users[i]); err != nil {
			return stats, eris.Wrapf(err, "registry: seed user %s", f.Users[i].Email)
		}
		stats.Users++
	}

	for i := range f.Securities {
		if err := st.UpsertSecurity(ctx, &f.Securities[i]); err != nil {
			return stats, eris.Wrapf(err, "registry: seed security %s", f.Securities[i].ID)
		}
		stats.Securities++
	}

	if len(f.Actions) > 0 {
		n, err := st.UpsertActions(ctx, f.Actions)
		if err != nil {
			return stats, eris.Wrap(err, "registry: seed actions")
		}
		stats.Actions = int(n)
	}

	for i := range f.Conflicts {
		created, err := st.InsertConflict(ctx, &f.Conflicts[i])
		if err != nil {
			return stats, eris.Wrapf(err, "registry: seed conflict %s", f.Conflicts[i].ID)
		}
		if created {
			stats.Conflicts++
		}
	}

	existing, err := st.CountAudit(ctx, store.AuditFilter{})
	if err != nil {
		return stats, eris.Wrap(err, "registry: count audit")
	}
	if existing == 0 {
		for i := range f.Audit {
			if err := st.AppendAudit(ctx, &f.Audit[i]); err != nil {
				return stats, eris.Wrapf(err, "registry: seed audit %s", f.Audit[i].ID)
			}
			stats.Audit++
		}
	}

	for _, s := range f.Syncs {
		if err := seedSync(ctx, st, s); err != nil {
			return stats, err
		}
		stats.Syncs++
	}

	log.Info("seeded reference data",
		zap.Int("users", stats.Users),
		zap.Int("securities", stats.Securities),
		zap.Int("actions", stats.Actions),
		zap.Int("conflicts", stats.Conflicts),
		zap.Int("audit", stats.Audit),
		zap.Int("syncs", stats.Syncs),
	)
	return stats, nil
}

func seedSync(ctx context.Context, st store.Store, s model.SyncEntry) error {
	id, err := st.StartSync(ctx, s.Source)
	if err != nil {
		return eris.Wrapf(err, "registry: seed sync %s", s.Source)
	}
	if s.Status == model.SyncFailed {
		return eris.Wrapf(st.FailSync(ctx, id, s.Error), "registry: seed sync %s", s.Source)
	}
	md := map[string]any{"seeded": true}
	return eris.Wrapf(st.CompleteSync(ctx, id, s.RowsSynced, md), "registry: seed sync %s", s.Source)
}
