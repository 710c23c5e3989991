package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Lookup     LookupConfig     `yaml:"lookup" mapstructure:"lookup"`
	Sync       SyncConfig       `yaml:"sync" mapstructure:"sync"`
	Reconcile  ReconcileConfig  `yaml:"reconcile" mapstructure:"reconcile"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Retention  RetentionConfig  `yaml:"retention" mapstructure:"retention"`
	Auth       AuthConfig       `yaml:"auth" mapstructure:"auth"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	CORSOrigins    []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	RateLimitBurst int      `yaml:"rate_limit_burst" mapstructure:"rate_limit_burst"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// LookupConfig tunes identifier resolution.
type LookupConfig struct {
	CacheTTLMinutes int `yaml:"cache_ttl_minutes" mapstructure:"cache_ttl_minutes"`
	MaxConcurrent   int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	TimeoutSecs     int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxSuggestions  int `yaml:"max_suggestions" mapstructure:"max_suggestions"`
	MinScore        int `yaml:"min_score" mapstructure:"min_score"`
}

// SourceConfig describes one corporate-action feed.
type SourceConfig struct {
	Name       string        `yaml:"name" mapstructure:"name"`
	URL        string        `yaml:"url" mapstructure:"url"`
	Format     string        `yaml:"format" mapstructure:"format"`
	Sheet      string        `yaml:"sheet" mapstructure:"sheet"`
	Frequency  time.Duration `yaml:"frequency" mapstructure:"frequency"`
	Confidence string        `yaml:"confidence" mapstructure:"confidence"`
}

// SyncConfig configures source ingestion.
type SyncConfig struct {
	Sources       []SourceConfig `yaml:"sources" mapstructure:"sources"`
	MaxConcurrent int            `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	Retries       int            `yaml:"retries" mapstructure:"retries"`
	RateLimitRPS  float64        `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
}

// Source returns the configured source with the given name.
func (c SyncConfig) Source(name string) (SourceConfig, bool) {
	for _, s := range c.Sources {
		if strings.EqualFold(s.Name, name) {
			return s, true
		}
	}
	return SourceConfig{}, false
}

// ReconcileConfig configures conflict detection and resolution policy.
type ReconcileConfig struct {
	PolicyPath     string `yaml:"policy_path" mapstructure:"policy_path"`
	DateWindowDays int    `yaml:"date_window_days" mapstructure:"date_window_days"`
}

// MonitoringConfig configures dashboard metrics and alerting.
type MonitoringConfig struct {
	CheckIntervalSecs     int    `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours   int    `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	WebhookURL            string `yaml:"webhook_url" mapstructure:"webhook_url"`
	AlertOnConflicts      bool   `yaml:"alert_on_conflicts" mapstructure:"alert_on_conflicts"`
	AlertOnSyncFailures   bool   `yaml:"alert_on_sync_failures" mapstructure:"alert_on_sync_failures"`
	AlertSeverity         string `yaml:"alert_severity" mapstructure:"alert_severity"`
	FailedLookupThreshold int    `yaml:"failed_lookup_threshold" mapstructure:"failed_lookup_threshold"`
}

// RetentionConfig configures archival of settled actions.
type RetentionConfig struct {
	Days int `yaml:"days" mapstructure:"days"`
}

// AuthConfig configures bearer-token authentication. An empty secret
// disables authentication.
type AuthConfig struct {
	JWTSecret     string `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	TokenTTLHours int    `yaml:"token_ttl_hours" mapstructure:"token_ttl_hours"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CORPACTION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "corpaction.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.rate_limit_rps", 50.0)
	v.SetDefault("server.rate_limit_burst", 100)
	v.SetDefault("lookup.cache_ttl_minutes", 30)
	v.SetDefault("lookup.max_concurrent", 100)
	v.SetDefault("lookup.timeout_secs", 5)
	v.SetDefault("lookup.max_suggestions", 3)
	v.SetDefault("lookup.min_score", 0)
	v.SetDefault("sync.sources", defaultSources())
	v.SetDefault("sync.max_concurrent", 4)
	v.SetDefault("sync.retries", 3)
	v.SetDefault("sync.rate_limit_rps", 2.0)
	v.SetDefault("reconcile.date_window_days", 3)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.alert_on_conflicts", true)
	v.SetDefault("monitoring.alert_on_sync_failures", true)
	v.SetDefault("monitoring.alert_severity", "medium")
	v.SetDefault("monitoring.failed_lookup_threshold", 50)
	v.SetDefault("retention.days", 365)
	v.SetDefault("auth.token_ttl_hours", 12)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// defaultSources mirrors the feeds the desk subscribes to. URLs are left for
// deployment config; a source without a URL is reported but never fetched.
func defaultSources() []map[string]any {
	return []map[string]any{
		{"name": "Bloomberg", "format": "csv", "frequency": "1m", "confidence": "HIGH"},
		{"name": "SGX", "format": "csv", "frequency": "1h", "confidence": "HIGH"},
		{"name": "Custodian", "format": "xlsx", "frequency": "2h", "confidence": "MEDIUM"},
		{"name": "Bursa Malaysia", "format": "csv", "frequency": "3h", "confidence": "MEDIUM"},
	}
}

// Validate checks the settings a command mode depends on. Known modes are
// "serve", "sync", and "cli".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	if c.Lookup.MaxConcurrent < 1 {
		errs = append(errs, "lookup.max_concurrent must be >= 1")
	}
	if c.Lookup.TimeoutSecs < 1 {
		errs = append(errs, "lookup.timeout_secs must be >= 1")
	}
	if c.Lookup.MaxSuggestions < 1 || c.Lookup.MaxSuggestions > 10 {
		errs = append(errs, "lookup.max_suggestions must be between 1 and 10")
	}
	if c.Lookup.MinScore < 0 || c.Lookup.MinScore > 100 {
		errs = append(errs, "lookup.min_score must be between 0 and 100")
	}
	if c.Retention.Days < 1 {
		errs = append(errs, "retention.days must be >= 1")
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Server.RateLimitRPS < 0 {
			errs = append(errs, "server.rate_limit_rps must be >= 0")
		}
		errs = append(errs, c.validateSync()...)
	case "sync":
		errs = append(errs, c.validateSync()...)
	case "cli":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateSync() []string {
	var errs []string
	if c.Sync.MaxConcurrent < 1 || c.Sync.MaxConcurrent > 32 {
		errs = append(errs, "sync.max_concurrent must be between 1 and 32")
	}
	seen := make(map[string]bool, len(c.Sync.Sources))
	for i, s := range c.Sync.Sources {
		if s.Name == "" {
			errs = append(errs, "sync.sources["+strconv.Itoa(i)+"].name is required")
			continue
		}
		key := strings.ToLower(s.Name)
		if seen[key] {
			errs = append(errs, "sync.sources: duplicate source "+s.Name)
		}
		seen[key] = true
		switch s.Format {
		case "csv", "xlsx":
		default:
			errs = append(errs, "sync.sources."+s.Name+".format must be csv or xlsx")
		}
		if s.Frequency <= 0 {
			errs = append(errs, "sync.sources."+s.Name+".frequency must be > 0")
		}
		switch s.Confidence {
		case "HIGH", "MEDIUM", "LOW":
		default:
			errs = append(errs, "sync.sources."+s.Name+".confidence must be HIGH, MEDIUM or LOW")
		}
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
