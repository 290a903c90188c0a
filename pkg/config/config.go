// Package config handles application configuration loading.
//
// Configuration follows the same patterns as other Open Cloud Ops modules:
// CUSTODIAN_* prefixed environment variables with sensible defaults for local
// development, and the shared POSTGRES_* and REDIS_* variables for backing
// services. Values may also come from an optional custodian.yaml file or from
// command-line flags bound through viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// minAPIKeyLength is the shortest accepted API key.
const minAPIKeyLength = 16

// maxWindowDays is the widest accepted SLA window.
const maxWindowDays = 3650

// Config holds all configuration values for Custodian.
type Config struct {
	// Port is the HTTP port the API server listens on.
	Port string

	// LogLevel controls the verbosity of log output (debug, info, warn, error).
	LogLevel string

	// LogFormat is "console" for human-readable output or "json".
	LogFormat string

	// Store selects the persistence backend: "postgres" or "memory".
	Store string

	// DatabaseURL is the PostgreSQL connection string.
	DatabaseURL string

	// RedisURL is the Redis address or redis:// URL. Empty disables caching
	// and alert deduplication.
	RedisURL string

	// NATSURL is the NATS server URL. Empty logs alerts instead of
	// publishing them.
	NATSURL string

	// NATSSubject is the subject prefix alerts are published on.
	NATSSubject string

	// APIKey is required on every /api/v1 request. Empty disables auth.
	APIKey string

	// OfflineWarningDays is the age after which an offline copy is stale.
	OfflineWarningDays int

	// SLAWindowDays is the default SLA and report window.
	SLAWindowDays int

	// CheckSchedule is the cron expression of the compliance sweep.
	CheckSchedule string

	// SLATargetsFile optionally names a YAML file of extra SLA targets.
	SLATargetsFile string

	// AlertDedupWindow suppresses identical alerts within this duration.
	AlertDedupWindow time.Duration

	// CacheTTL is how long a cached compliance result stays valid.
	CacheTTL time.Duration

	// RateLimitRequests is the number of API requests allowed per key per
	// RateLimitWindow. Zero disables rate limiting.
	RateLimitRequests int64
	RateLimitWindow   time.Duration

	// AllowedOrigins defines the CORS allowed origins for the API.
	AllowedOrigins []string
}

// NewViper returns a viper instance with Custodian's defaults, environment
// bindings and config file search path applied.
func NewViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("port", "8084")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("store", StorePostgres)
	v.SetDefault("redis_url", "localhost:6379")
	v.SetDefault("nats_subject", "custodian.alerts")
	v.SetDefault("offline_warning_days", 7)
	v.SetDefault("sla_window_days", 30)
	v.SetDefault("check_schedule", "0 * * * *")
	v.SetDefault("alert_dedup_window", "24h")
	v.SetDefault("cache_ttl", "24h")
	v.SetDefault("rate_limit_requests", 600)
	v.SetDefault("rate_limit_window", "1m")
	v.SetDefault("allowed_origins", "http://localhost:3000")

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", "5432")
	v.SetDefault("postgres.db", "custodian")
	v.SetDefault("postgres.user", "custodian")
	v.SetDefault("postgres.sslmode", "require")

	v.SetEnvPrefix("CUSTODIAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Shared variables used by every Open Cloud Ops module.
	_ = v.BindEnv("postgres.host", "POSTGRES_HOST")
	_ = v.BindEnv("postgres.port", "POSTGRES_PORT")
	_ = v.BindEnv("postgres.db", "POSTGRES_DB")
	_ = v.BindEnv("postgres.user", "POSTGRES_USER")
	_ = v.BindEnv("postgres.password", "POSTGRES_PASSWORD")
	_ = v.BindEnv("postgres.sslmode", "POSTGRES_SSLMODE")
	_ = v.BindEnv("database_url", "CUSTODIAN_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("redis_url", "CUSTODIAN_REDIS_URL", "REDIS_URL")

	v.SetConfigName("custodian")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/custodian")
	return v
}

// Load reads the optional config file and returns the resulting Config.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "config: read config file")
		}
	}

	cfg := &Config{
		Port:               v.GetString("port"),
		LogLevel:           v.GetString("log_level"),
		LogFormat:          v.GetString("log_format"),
		Store:              strings.ToLower(v.GetString("store")),
		DatabaseURL:        v.GetString("database_url"),
		RedisURL:           v.GetString("redis_url"),
		NATSURL:            v.GetString("nats_url"),
		NATSSubject:        v.GetString("nats_subject"),
		APIKey:             v.GetString("api_key"),
		OfflineWarningDays: v.GetInt("offline_warning_days"),
		SLAWindowDays:      v.GetInt("sla_window_days"),
		CheckSchedule:      v.GetString("check_schedule"),
		SLATargetsFile:     v.GetString("sla_targets_file"),
		AlertDedupWindow:   v.GetDuration("alert_dedup_window"),
		CacheTTL:           v.GetDuration("cache_ttl"),
		RateLimitRequests:  v.GetInt64("rate_limit_requests"),
		RateLimitWindow:    v.GetDuration("rate_limit_window"),
		AllowedOrigins:     splitList(v.GetStringSlice("allowed_origins")),
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = postgresURL(v)
	}
	return cfg, nil
}

// postgresURL builds the connection URL from the POSTGRES_* components.
func postgresURL(v *viper.Viper) string {
	dsn := &url.URL{
		Scheme:   "postgres",
		Host:     fmt.Sprintf("%s:%s", v.GetString("postgres.host"), v.GetString("postgres.port")),
		Path:     v.GetString("postgres.db"),
		RawQuery: fmt.Sprintf("sslmode=%s", v.GetString("postgres.sslmode")),
	}
	// url.UserPassword percent-encodes reserved characters in credentials.
	if password := v.GetString("postgres.password"); password != "" {
		dsn.User = url.UserPassword(v.GetString("postgres.user"), password)
	} else {
		dsn.User = url.User(v.GetString("postgres.user"))
	}
	return dsn.String()
}

// splitList accepts both YAML lists and comma-separated strings.
func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate checks that all required configuration fields are set and valid.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("config: CUSTODIAN_PORT is required")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return errors.Errorf("config: invalid CUSTODIAN_LOG_LEVEL %q", c.LogLevel)
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		return errors.Errorf("config: CUSTODIAN_LOG_FORMAT must be console or json, got %q", c.LogFormat)
	}
	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: database URL could not be constructed")
		}
	case StoreMemory:
	default:
		return errors.Errorf("config: CUSTODIAN_STORE must be %s or %s, got %q", StorePostgres, StoreMemory, c.Store)
	}
	if c.APIKey != "" && len(c.APIKey) < minAPIKeyLength {
		return errors.Errorf("config: CUSTODIAN_API_KEY must be at least %d characters", minAPIKeyLength)
	}
	if c.OfflineWarningDays <= 0 {
		return errors.New("config: CUSTODIAN_OFFLINE_WARNING_DAYS must be positive")
	}
	if c.SLAWindowDays <= 0 || c.SLAWindowDays > maxWindowDays {
		return errors.Errorf("config: CUSTODIAN_SLA_WINDOW_DAYS must be between 1 and %d", maxWindowDays)
	}
	if c.CheckSchedule == "" {
		return errors.New("config: CUSTODIAN_CHECK_SCHEDULE is required")
	}
	if c.NATSURL != "" && c.NATSSubject == "" {
		return errors.New("config: CUSTODIAN_NATS_SUBJECT is required when NATS is enabled")
	}
	if c.AlertDedupWindow < 0 || c.CacheTTL < 0 {
		return errors.New("config: durations must not be negative")
	}
	if c.RateLimitRequests < 0 {
		return errors.New("config: CUSTODIAN_RATE_LIMIT_REQUESTS must not be negative")
	}
	if c.RateLimitRequests > 0 && c.RateLimitWindow <= 0 {
		return errors.New("config: CUSTODIAN_RATE_LIMIT_WINDOW must be positive")
	}
	return nil
}
