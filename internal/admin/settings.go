// Package admin manages runtime settings, retention and access to the
// user list and audit log.
package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/corpaction-cli/internal/auth"
	"github.com/sells-group/corpaction-cli/internal/config"
	"github.com/sells-group/corpaction-cli/internal/kv"
	"github.com/sells-group/corpaction-cli/internal/model"
	"github.com/sells-group/corpaction-cli/internal/monitoring"
	"github.com/sells-group/corpaction-cli/internal/store"
)

// SettingsKey is the KV key the settings document is stored under.
const SettingsKey = "admin.settings"

// ErrInvalidSettings is returned for out-of-range settings.
var ErrInvalidSettings = errors.New("admin: invalid settings")

// Settings are the operator-tunable knobs. Unsaved settings take their
// values from configuration.
type Settings struct {
	CacheTTLMinutes      int    `json:"cache_ttl_minutes"`
	MaxConcurrentLookups int    `json:"max_concurrent_lookups"`
	LookupTimeoutSecs    int    `json:"lookup_timeout_secs"`
	RetentionDays        int    `json:"retention_days"`
	AlertOnConflicts     bool   `json:"alert_on_conflicts"`
	AlertOnSyncFailures  bool   `json:"alert_on_sync_failures"`
	AlertSeverity        string `json:"alert_severity"`
}

// DefaultSettings derives settings from configuration.
func DefaultSettings(cfg *config.Config) Settings {
	return Settings{
		CacheTTLMinutes:      cfg.Lookup.CacheTTLMinutes,
		MaxConcurrentLookups: cfg.Lookup.MaxConcurrent,
		LookupTimeoutSecs:    cfg.Lookup.TimeoutSecs,
		RetentionDays:        cfg.Retention.Days,
		AlertOnConflicts:     cfg.Monitoring.AlertOnConflicts,
		AlertOnSyncFailures:  cfg.Monitoring.AlertOnSyncFailures,
		AlertSeverity:        cfg.Monitoring.AlertSeverity,
	}
}

// Validate checks every field and reports all violations at once.
func (s Settings) Validate() error {
	var errs []string
	if s.CacheTTLMinutes < 0 || s.CacheTTLMinutes > 1440 {
		errs = append(errs, "cache_ttl_minutes must be between 0 and 1440")
	}
	if s.MaxConcurrentLookups < 1 || s.MaxConcurrentLookups > 10000 {
		errs = append(errs, "max_concurrent_lookups must be between 1 and 10000")
	}
	if s.LookupTimeoutSecs < 1 || s.LookupTimeoutSecs > 300 {
		errs = append(errs, "lookup_timeout_secs must be between 1 and 300")
	}
	if s.RetentionDays < 1 {
		errs = append(errs, "retention_days must be >= 1")
	}
	if monitoring.SeverityRank(s.AlertSeverity) == 0 {
		errs = append(errs, fmt.Sprintf("alert_severity %q must be low, medium or high", s.AlertSeverity))
	}
	if len(errs) > 0 {
		return eris.Wrap(ErrInvalidSettings, strings.Join(errs, "; "))
	}
	return nil
}

// Store is the persistence the admin service needs.
type Store interface {
	kv.Backend
	ArchiveSettledActions(ctx context.Context, cutoff model.Date) (int64, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	ListAudit(ctx context.Context, filter store.AuditFilter) ([]model.AuditEntry, error)
	CountAudit(ctx context.Context, filter store.AuditFilter) (int, error)
	AppendAudit(ctx context.Context, e *model.AuditEntry) error
}

// Reconfigurer accepts new lookup limits. *lookup.Resolver implements it.
type Reconfigurer interface {
	Reconfigure(cacheTTL, timeout time.Duration, maxConcurrent int64)
}

// Service reads and applies settings and runs maintenance.
type Service struct {
	st                    Store
	defaults              Settings
	failedLookupThreshold int
	resolver              Reconfigurer
	now                   func() time.Time
}

// NewService creates a Service. resolver may be nil when no lookups run in
// this process.
func NewService(st Store, cfg *config.Config, resolver Reconfigurer) *Service {
	return &Service{
		st:                    st,
		defaults:              DefaultSettings(cfg),
		failedLookupThreshold: cfg.Monitoring.FailedLookupThreshold,
		resolver:              resolver,
		now:                   time.Now,
	}
}

// Settings returns the saved settings, or the configured defaults.
func (s *Service) Settings(ctx context.Context) (Settings, error) {
	return kv.Get(ctx, s.st, SettingsKey, s.defaults)
}

// UpdateSettings validates, saves and applies next.
func (s *Service) UpdateSettings(ctx context.Context, next Settings) (Settings, error) {
	if err := auth.Require(ctx, model.RoleAdmin); err != nil {
		return Settings{}, err
	}
	next.AlertSeverity = strings.ToLower(strings.TrimSpace(next.AlertSeverity))
	if err := next.Validate(); err != nil {
		return Settings{}, err
	}
	prev, err := s.Settings(ctx)
	if err != nil {
		return Settings{}, err
	}
	if err := kv.Set(ctx, s.st, SettingsKey, next); err != nil {
		return Settings{}, err
	}
	s.apply(next)
	s.audit(ctx, model.AuditSettings, "Settings", diff(prev, next))
	zap.L().Info("settings updated", zap.String("user", auth.Actor(ctx)), zap.Any("settings", next))
	return next, nil
}

// Apply pushes the saved settings into the resolver. Call it at startup.
func (s *Service) Apply(ctx context.Context) (Settings, error) {
	cur, err := s.Settings(ctx)
	if err != nil {
		return cur, err
	}
	s.apply(cur)
	return cur, nil
}

func (s *Service) apply(st Settings) {
	if s.resolver == nil {
		return
	}
	ttl := time.Duration(st.CacheTTLMinutes) * time.Minute
	if ttl == 0 {
		ttl = -1
	}
	s.resolver.Reconfigure(ttl, time.Duration(st.LookupTimeoutSecs)*time.Second, int64(st.MaxConcurrentLookups))
}

// AlertPolicy returns the alert policy the current settings describe. It
// falls back to the defaults when settings cannot be read.
func (s *Service) AlertPolicy(ctx context.Context) monitoring.AlertPolicy {
	cur, err := s.Settings(ctx)
	if err != nil {
		zap.L().Warn("admin: read settings for alert policy", zap.Error(err))
		cur = s.defaults
	}
	return monitoring.AlertPolicy{
		OnConflicts:           cur.AlertOnConflicts,
		OnSyncFailures:        cur.AlertOnSyncFailures,
		MinSeverity:           cur.AlertSeverity,
		FailedLookupThreshold: s.failedLookupThreshold,
	}
}

func diff(prev, next Settings) string {
	var parts []string
	add := func(name string, a, b any) {
		if a != b {
			parts = append(parts, fmt.Sprintf("%s %v -> %v", name, a, b))
		}
	}
	add("cache_ttl_minutes", prev.CacheTTLMinutes, next.CacheTTLMinutes)
	add("max_concurrent_lookups", prev.MaxConcurrentLookups, next.MaxConcurrentLookups)
	add("lookup_timeout_secs", prev.LookupTimeoutSecs, next.LookupTimeoutSecs)
	add("retention_days", prev.RetentionDays, next.RetentionDays)
	add("alert_on_conflicts", prev.AlertOnConflicts, next.AlertOnConflicts)
	add("alert_on_sync_failures", prev.AlertOnSyncFailures, next.AlertOnSyncFailures)
	add("alert_severity", prev.AlertSeverity, next.AlertSeverity)
	if len(parts) == 0 {
		return "no changes"
	}
	return strings.Join(parts, ", ")
}

func (s *Service) audit(ctx context.Context, action, entity, details string) {
	err := s.st.AppendAudit(ctx, &model.AuditEntry{
		User:    auth.Actor(ctx),
		Action:  action,
		Entity:  entity,
		Details: details,
		Status:  model.AuditSuccess,
	})
	if err != nil {
		zap.L().Warn("admin: audit", zap.String("action", action), zap.Error(err))
	}
}
