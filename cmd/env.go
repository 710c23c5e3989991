package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/corpaction-cli/internal/admin"
	"github.com/sells-group/corpaction-cli/internal/auth"
	"github.com/sells-group/corpaction-cli/internal/config"
	"github.com/sells-group/corpaction-cli/internal/fetcher"
	"github.com/sells-group/corpaction-cli/internal/ingest"
	"github.com/sells-group/corpaction-cli/internal/lookup"
	"github.com/sells-group/corpaction-cli/internal/monitoring"
	"github.com/sells-group/corpaction-cli/internal/reconcile"
	"github.com/sells-group/corpaction-cli/internal/resilience"
	"github.com/sells-group/corpaction-cli/internal/store"
)

// initStore opens the configured backend.
func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	switch c.Store.Driver {
	case "sqlite":
		dsn := c.Store.DatabaseURL
		if dsn == "" {
			dsn = "corpaction.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, c.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: c.Store.MaxConns,
			MinConns: c.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
}

// appEnv holds the services a command needs, wired from config.
type appEnv struct {
	Store     store.Store
	Resolver  *lookup.Resolver
	Detector  *reconcile.Detector
	Reconcile *reconcile.Service
	Syncer    *ingest.Syncer
	Calls     *monitoring.RequestCounter
	Collector *monitoring.Collector
	Admin     *admin.Service
	Auth      *auth.Service
}

// newEnv opens the store, applies migrations and wires every service.
func newEnv(ctx context.Context, c *config.Config) (*appEnv, error) {
	st, err := initStore(ctx, c)
	if err != nil {
		return nil, eris.Wrap(err, "init store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	env, err := wire(c, st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	if _, err := env.Admin.Apply(ctx); err != nil {
		zap.L().Warn("apply saved settings", zap.Error(err))
	}
	return env, nil
}

func wire(c *config.Config, st store.Store) (*appEnv, error) {
	policy, err := reconcile.LoadPolicy(c.Reconcile.PolicyPath)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(c.Sync.Sources))
	for _, s := range c.Sync.Sources {
		names = append(names, s.Name)
	}
	resolver := lookup.New(st, lookup.Options{
		CacheTTL:       time.Duration(c.Lookup.CacheTTLMinutes) * time.Minute,
		MaxConcurrent:  int64(c.Lookup.MaxConcurrent),
		Timeout:        time.Duration(c.Lookup.TimeoutSecs) * time.Second,
		MaxSuggestions: c.Lookup.MaxSuggestions,
		MinScore:       c.Lookup.MinScore,
		Sources:        names,
	})

	// The syncer retries whole downloads; the fetchers make one attempt each.
	retry := resilience.DefaultRetryConfig().WithAttempts(1)
	router := fetcher.NewRouter(
		fetcher.HTTPOptions{
			UserAgent:         "corpaction/1.0",
			Timeout:           2 * time.Minute,
			Retry:             retry,
			RequestsPerSecond: c.Sync.RateLimitRPS,
		},
		fetcher.FTPOptions{Timeout: 2 * time.Minute, Retry: retry},
	)
	detector := reconcile.NewDetector(st, c.Reconcile.DateWindowDays, ingest.Confidences(c.Sync.Sources))
	calls := monitoring.NewRequestCounter()

	// Cached lookups carry last-sync times.
	syncer := ingest.NewSyncer(st, router, c.Sync, detector)
	syncer.OnSynced(func(ingest.Result) { resolver.Purge() })

	return &appEnv{
		Store:     st,
		Resolver:  resolver,
		Detector:  detector,
		Reconcile: reconcile.NewService(st, policy),
		Syncer:    syncer,
		Calls:     calls,
		Collector: monitoring.NewCollector(st, resolver, calls),
		Admin:     admin.NewService(st, c, resolver),
		Auth:      auth.NewService(c.Auth.JWTSecret, time.Duration(c.Auth.TokenTTLHours)*time.Hour),
	}, nil
}

// Close releases the store.
func (e *appEnv) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}
