// Package config loads and validates harvester configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Listing   ListingConfig   `mapstructure:"listing"`
	Cycle     CycleConfig     `mapstructure:"cycle"`
	Proxy     ProxyConfig     `mapstructure:"proxy"`
	Dedup     DedupConfig     `mapstructure:"dedup"`
	Cursor    CursorConfig    `mapstructure:"cursor"`
	Uplink    UplinkConfig    `mapstructure:"uplink"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls the status HTTP server.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	HistorySize     int           `mapstructure:"history_size"`
}

// ListingConfig points at the remote listing endpoint.
type ListingConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	PlaceID          string        `mapstructure:"place_id"`
	PageSize         int           `mapstructure:"page_size"`
	ExcludeFullGames bool          `mapstructure:"exclude_full_games"`
	UserAgent        string        `mapstructure:"user_agent"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// IntensityConfig is one fetch budget profile.
type IntensityConfig struct {
	Concurrency int           `mapstructure:"concurrency"`
	Interval    time.Duration `mapstructure:"interval"`
	PageBudget  int           `mapstructure:"page_budget"`
	DepthSample int           `mapstructure:"depth_sample"`
}

// CycleConfig governs the fetch loop.
type CycleConfig struct {
	Normal           IntensityConfig `mapstructure:"normal"`
	Peak             IntensityConfig `mapstructure:"peak"`
	PeakStart        int             `mapstructure:"peak_start"`
	PeakEnd          int             `mapstructure:"peak_end"`
	Timezone         string          `mapstructure:"timezone"`
	MaxAttempts      int             `mapstructure:"max_attempts"`
	RateLimitBackoff time.Duration   `mapstructure:"rate_limit_backoff"`
	MinPlaying       int             `mapstructure:"min_playing"`
	SampleMode       string          `mapstructure:"sample_mode"`
	ErrorDelay       time.Duration   `mapstructure:"error_delay"`
	SinkTimeout      time.Duration   `mapstructure:"sink_timeout"`
}

// ProxyConfig configures the proxy pool and its providers.
type ProxyConfig struct {
	Static            []string       `mapstructure:"static"`
	Scheme            string         `mapstructure:"scheme"`
	MinSize           int            `mapstructure:"min_size"`
	BatchSize         int            `mapstructure:"batch_size"`
	Lifetime          time.Duration  `mapstructure:"lifetime"`
	Region            string         `mapstructure:"region"`
	FailureThreshold  int            `mapstructure:"failure_threshold"`
	EvictAfter        int            `mapstructure:"evict_after"`
	CooldownBase      time.Duration  `mapstructure:"cooldown_base"`
	CooldownStep      time.Duration  `mapstructure:"cooldown_step"`
	CooldownMax       time.Duration  `mapstructure:"cooldown_max"`
	ReplenishInterval time.Duration  `mapstructure:"replenish_interval"`
	ProvisionRPS      float64        `mapstructure:"provision_rps"`
	ProvisionBurst    int            `mapstructure:"provision_burst"`
	Session           SessionConfig  `mapstructure:"session"`
	Provider          ProviderConfig `mapstructure:"provider"`
}

// SessionConfig describes a rotating-session gateway.
type SessionConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// ProviderConfig describes the provisioning API.
type ProviderConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	APIKey   string        `mapstructure:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// DedupConfig bounds the forwarded-id buffer.
type DedupConfig struct {
	MaxSize   int     `mapstructure:"max_size"`
	KeepRatio float64 `mapstructure:"keep_ratio"`
}

// CursorConfig bounds the per-direction cursor queues.
type CursorConfig struct {
	Capacity int `mapstructure:"capacity"`
}

// UplinkConfig points at the downstream collector.
type UplinkConfig struct {
	CollectorURL string        `mapstructure:"collector_url"`
	Path         string        `mapstructure:"path"`
	Source       string        `mapstructure:"source"`
	BatchSize    int           `mapstructure:"batch_size"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// RateLimitConfig paces listing requests. Non-positive rates disable a bucket.
type RateLimitConfig struct {
	GlobalRPS     float64 `mapstructure:"global_rps"`
	GlobalBurst   int     `mapstructure:"global_burst"`
	PerProxyRPS   float64 `mapstructure:"per_proxy_rps"`
	PerProxyBurst int     `mapstructure:"per_proxy_burst"`
}

// DBConfig controls the optional cycle-report history table.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig holds the optional report notification topic.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
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

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return Config{}, fmt.Errorf("parse PORT %q: %w", port, err)
		}
		cfg.Server.Port = p
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.history_size", 50)

	v.SetDefault("listing.base_url", "https://games.roblox.com")
	v.SetDefault("listing.place_id", "")
	v.SetDefault("listing.page_size", 100)
	v.SetDefault("listing.exclude_full_games", true)
	v.SetDefault("listing.user_agent", "")
	v.SetDefault("listing.timeout", 15*time.Second)

	v.SetDefault("cycle.normal.concurrency", 6)
	v.SetDefault("cycle.normal.interval", 2*time.Second)
	v.SetDefault("cycle.normal.page_budget", 30)
	v.SetDefault("cycle.normal.depth_sample", 15)
	v.SetDefault("cycle.peak.concurrency", 0)
	v.SetDefault("cycle.peak.interval", 0)
	v.SetDefault("cycle.peak.page_budget", 0)
	v.SetDefault("cycle.peak.depth_sample", 0)
	v.SetDefault("cycle.peak_start", 0)
	v.SetDefault("cycle.peak_end", 0)
	v.SetDefault("cycle.timezone", "UTC")
	v.SetDefault("cycle.max_attempts", 2)
	v.SetDefault("cycle.rate_limit_backoff", 2*time.Second)
	v.SetDefault("cycle.min_playing", 5)
	v.SetDefault("cycle.sample_mode", "deepest")
	v.SetDefault("cycle.error_delay", 5*time.Second)
	v.SetDefault("cycle.sink_timeout", 5*time.Second)

	v.SetDefault("proxy.static", []string{})
	v.SetDefault("proxy.scheme", "http")
	v.SetDefault("proxy.min_size", 5)
	v.SetDefault("proxy.batch_size", 10)
	v.SetDefault("proxy.lifetime", 10*time.Minute)
	v.SetDefault("proxy.region", "")
	v.SetDefault("proxy.failure_threshold", 2)
	v.SetDefault("proxy.evict_after", 6)
	v.SetDefault("proxy.cooldown_base", 30*time.Second)
	v.SetDefault("proxy.cooldown_step", 15*time.Second)
	v.SetDefault("proxy.cooldown_max", 120*time.Second)
	v.SetDefault("proxy.replenish_interval", 5*time.Second)
	v.SetDefault("proxy.provision_rps", 0.5)
	v.SetDefault("proxy.provision_burst", 2)
	v.SetDefault("proxy.session.host", "")
	v.SetDefault("proxy.session.port", 0)
	v.SetDefault("proxy.session.username", "")
	v.SetDefault("proxy.session.password", "")
	v.SetDefault("proxy.provider.endpoint", "")
	v.SetDefault("proxy.provider.api_key", "")
	v.SetDefault("proxy.provider.timeout", 10*time.Second)

	v.SetDefault("dedup.max_size", 100000)
	v.SetDefault("dedup.keep_ratio", 0.5)
	v.SetDefault("cursor.capacity", 1500)

	v.SetDefault("uplink.collector_url", "")
	v.SetDefault("uplink.path", "/add-pool")
	v.SetDefault("uplink.source", "mini-api")
	v.SetDefault("uplink.batch_size", 500)
	v.SetDefault("uplink.timeout", 15*time.Second)

	v.SetDefault("ratelimit.global_rps", 0)
	v.SetDefault("ratelimit.global_burst", 1)
	v.SetDefault("ratelimit.per_proxy_rps", 0)
	v.SetDefault("ratelimit.per_proxy_burst", 1)

	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "cycle_reports")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", 30*time.Minute)

	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")

	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, errors.New("server.port must be within 1-65535"))
	}
	if c.Listing.PlaceID == "" {
		errs = append(errs, errors.New("listing.place_id is required"))
	}
	if c.Listing.BaseURL == "" {
		errs = append(errs, errors.New("listing.base_url is required"))
	}
	if c.Uplink.CollectorURL == "" {
		errs = append(errs, errors.New("uplink.collector_url is required"))
	}
	if c.Uplink.BatchSize <= 0 {
		errs = append(errs, errors.New("uplink.batch_size must be > 0"))
	}
	if c.Cycle.Normal.Concurrency <= 0 {
		errs = append(errs, errors.New("cycle.normal.concurrency must be > 0"))
	}
	if c.Cycle.Normal.PageBudget <= 0 {
		errs = append(errs, errors.New("cycle.normal.page_budget must be > 0"))
	}
	if c.Cycle.Normal.Interval < 0 || c.Cycle.Peak.Interval < 0 {
		errs = append(errs, errors.New("cycle intervals must be >= 0"))
	}
	if c.Cycle.PeakStart < 0 || c.Cycle.PeakStart > 23 || c.Cycle.PeakEnd < 0 || c.Cycle.PeakEnd > 23 {
		errs = append(errs, errors.New("cycle.peak_start and cycle.peak_end must be within 0-23"))
	}
	switch c.Cycle.SampleMode {
	case "", "deepest", "spread":
	default:
		errs = append(errs, fmt.Errorf("cycle.sample_mode %q must be deepest or spread", c.Cycle.SampleMode))
	}
	if c.Cursor.Capacity <= 0 {
		errs = append(errs, errors.New("cursor.capacity must be > 0"))
	}
	if c.Dedup.MaxSize <= 0 {
		errs = append(errs, errors.New("dedup.max_size must be > 0"))
	}
	if c.Dedup.KeepRatio <= 0 || c.Dedup.KeepRatio >= 1 {
		errs = append(errs, errors.New("dedup.keep_ratio must be within (0, 1)"))
	}
	if !c.Proxy.HasSource() {
		errs = append(errs, errors.New("proxy: configure static entries, a session gateway or a provider endpoint"))
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		errs = append(errs, errors.New("pubsub.project_id must be set when pubsub.topic_name is set"))
	}
	return errors.Join(errs...)
}

// HasSource reports whether at least one proxy provider is configured.
func (p ProxyConfig) HasSource() bool {
	return len(p.Static) > 0 || p.Session.Host != "" || p.Provider.Endpoint != ""
}
