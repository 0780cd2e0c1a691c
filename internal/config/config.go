// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Store      StoreConfig      `mapstructure:"store"`
	DB         DBConfig         `mapstructure:"db"`
	Instapaper InstapaperConfig `mapstructure:"instapaper"`
	Sync       SyncConfig       `mapstructure:"sync"`
	Metadata   MetadataConfig   `mapstructure:"metadata"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
	// RequestTimeout bounds one request end to end. Enrichment-heavy
	// sync cycles can run long, so this is tunable rather than fixed.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// StoreConfig selects the bookmark store backend.
type StoreConfig struct {
	Provider string `mapstructure:"provider"` // postgres or memory
}

// DBConfig controls the Postgres connection pool.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// InstapaperConfig holds the OAuth consumer and user token material.
type InstapaperConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	ConsumerKey    string `mapstructure:"consumer_key"`
	ConsumerSecret string `mapstructure:"consumer_secret"`
	Token          string `mapstructure:"token"`
	TokenSecret    string `mapstructure:"token_secret"`
}

// SyncConfig governs the reconciliation loop and its trigger surfaces.
type SyncConfig struct {
	Limit           int           `mapstructure:"limit"`
	ScheduleLimit   int           `mapstructure:"schedule_limit"`
	ScheduleSecret  string        `mapstructure:"schedule_secret"`
	Interval        time.Duration `mapstructure:"interval"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	EnrichMetadata  bool          `mapstructure:"enrich_metadata"`
}

// MetadataConfig configures page metadata extraction.
type MetadataConfig struct {
	TimeoutSeconds int           `mapstructure:"timeout_seconds"`
	UserAgent      string        `mapstructure:"user_agent"`
	CacheSize      int           `mapstructure:"cache_size"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
}

// HTTPConfig configures outbound HTTP retry behavior.
type HTTPConfig struct {
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
}

// PubSubConfig holds metadata for sync-completed event publishing.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BOOKMARKSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", 60*time.Second)
	v.SetDefault("logging.development", true)
	v.SetDefault("store.provider", "memory")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("instapaper.base_url", "https://www.instapaper.com")
	v.SetDefault("sync.limit", 100)
	v.SetDefault("sync.schedule_limit", 50)
	v.SetDefault("sync.interval", 15*time.Minute)
	v.SetDefault("sync.refresh_interval", 24*time.Hour)
	v.SetDefault("sync.enrich_metadata", true)
	v.SetDefault("metadata.timeout_seconds", 10)
	v.SetDefault("metadata.user_agent", "Mozilla/5.0 (compatible; BookmarkSyncBot/1.0; +https://github.com/jstrand/bookmark-sync)")
	v.SetDefault("metadata.cache_size", 100)
	v.SetDefault("metadata.cache_ttl", time.Hour)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("pubsub.enabled", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server.request_timeout must be > 0")
	}
	switch c.Store.Provider {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when store.provider is postgres")
		}
	default:
		return fmt.Errorf("unknown store provider %q", c.Store.Provider)
	}
	if c.Sync.Limit <= 0 {
		return fmt.Errorf("sync.limit must be > 0")
	}
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("sync.interval must be > 0")
	}
	if c.Metadata.TimeoutSeconds <= 0 {
		return fmt.Errorf("metadata.timeout_seconds must be > 0")
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	return nil
}

// MetadataTimeout converts the configured extraction timeout into a duration.
func (c Config) MetadataTimeout() time.Duration {
	return time.Duration(c.Metadata.TimeoutSeconds) * time.Second
}

// BackoffInitial converts the configured initial backoff into a duration.
func (c Config) BackoffInitial() time.Duration {
	return time.Duration(c.HTTP.BackoffInitialMs) * time.Millisecond
}
