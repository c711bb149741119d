package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
listing:
  place_id: "920587237"
  page_size: 50
  exclude_full_games: false
cycle:
  normal:
    concurrency: 4
    interval: 3s
    page_budget: 20
    depth_sample: 10
  peak:
    concurrency: 12
  peak_start: 18
  peak_end: 2
  timezone: America/New_York
  min_playing: 8
  sample_mode: spread
proxy:
  static: ["10.0.0.1:8080", "10.0.0.2:8080:u:p"]
  cooldown_max: 90s
  session:
    host: gw.example
    port: 7000
uplink:
  collector_url: http://collector:5000
  batch_size: 250
dedup:
  max_size: 5000
  keep_ratio: 0.25
logging:
  development: true
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "920587237", cfg.Listing.PlaceID)
	require.Equal(t, 50, cfg.Listing.PageSize)
	require.False(t, cfg.Listing.ExcludeFullGames)
	require.Equal(t, 3*time.Second, cfg.Cycle.Normal.Interval)
	require.Equal(t, 12, cfg.Cycle.Peak.Concurrency)
	require.Equal(t, 18, cfg.Cycle.PeakStart)
	require.Equal(t, 2, cfg.Cycle.PeakEnd)
	require.Equal(t, 8, cfg.Cycle.MinPlaying)
	require.Equal(t, "spread", cfg.Cycle.SampleMode)
	require.Equal(t, []string{"10.0.0.1:8080", "10.0.0.2:8080:u:p"}, cfg.Proxy.Static)
	require.Equal(t, 90*time.Second, cfg.Proxy.CooldownMax)
	require.Equal(t, "gw.example", cfg.Proxy.Session.Host)
	require.Equal(t, 250, cfg.Uplink.BatchSize)
	require.Equal(t, "/add-pool", cfg.Uplink.Path)
	require.Equal(t, 0.25, cfg.Dedup.KeepRatio)
	require.True(t, cfg.Logging.Development)
}

func TestLoadDefaultsFromEnv(t *testing.T) {
	t.Setenv("HARVESTER_LISTING_PLACE_ID", "42")
	t.Setenv("HARVESTER_UPLINK_COLLECTOR_URL", "http://collector")
	t.Setenv("HARVESTER_PROXY_PROVIDER_ENDPOINT", "http://provider/list")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "42", cfg.Listing.PlaceID)
	require.Equal(t, 100, cfg.Listing.PageSize)
	require.True(t, cfg.Listing.ExcludeFullGames)
	require.Equal(t, 6, cfg.Cycle.Normal.Concurrency)
	require.Equal(t, 2*time.Second, cfg.Cycle.Normal.Interval)
	require.Equal(t, 30, cfg.Cycle.Normal.PageBudget)
	require.Equal(t, 15, cfg.Cycle.Normal.DepthSample)
	require.Equal(t, 5, cfg.Cycle.MinPlaying)
	require.Equal(t, 2, cfg.Cycle.MaxAttempts)
	require.Equal(t, 1500, cfg.Cursor.Capacity)
	require.Equal(t, 100000, cfg.Dedup.MaxSize)
	require.Equal(t, 500, cfg.Uplink.BatchSize)
	require.Equal(t, "mini-api", cfg.Uplink.Source)
	require.Equal(t, "http://provider/list", cfg.Proxy.Provider.Endpoint)
	require.Equal(t, 30*time.Second, cfg.Proxy.CooldownBase)
}

func TestLoadPortOverride(t *testing.T) {
	t.Setenv("HARVESTER_LISTING_PLACE_ID", "42")
	t.Setenv("HARVESTER_UPLINK_COLLECTOR_URL", "http://collector")
	t.Setenv("HARVESTER_PROXY_SESSION_HOST", "gw")
	t.Setenv("PORT", "7070")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)

	t.Setenv("PORT", "not-a-port")
	_, err = Load("")
	require.ErrorContains(t, err, "PORT")
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "read config")
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:  ServerConfig{Port: 8080},
		Listing: ListingConfig{BaseURL: "https://games.example", PlaceID: "1"},
		Cycle: CycleConfig{
			Normal:     IntensityConfig{Concurrency: 1, PageBudget: 1},
			SampleMode: "deepest",
		},
		Proxy:  ProxyConfig{Static: []string{"1.1.1.1:80"}},
		Dedup:  DedupConfig{MaxSize: 10, KeepRatio: 0.5},
		Cursor: CursorConfig{Capacity: 10},
		Uplink: UplinkConfig{CollectorURL: "http://c", BatchSize: 1},
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "missing place", mutate: func(c *Config) { c.Listing.PlaceID = "" }, want: "listing.place_id"},
		{name: "missing collector", mutate: func(c *Config) { c.Uplink.CollectorURL = "" }, want: "uplink.collector_url"},
		{name: "invalid concurrency", mutate: func(c *Config) { c.Cycle.Normal.Concurrency = 0 }, want: "cycle.normal.concurrency"},
		{name: "invalid budget", mutate: func(c *Config) { c.Cycle.Normal.PageBudget = 0 }, want: "cycle.normal.page_budget"},
		{name: "peak hours", mutate: func(c *Config) { c.Cycle.PeakEnd = 24 }, want: "peak_end"},
		{name: "sample mode", mutate: func(c *Config) { c.Cycle.SampleMode = "random" }, want: "sample_mode"},
		{name: "keep ratio", mutate: func(c *Config) { c.Dedup.KeepRatio = 1 }, want: "dedup.keep_ratio"},
		{name: "no proxy source", mutate: func(c *Config) { c.Proxy.Static = nil }, want: "proxy"},
		{name: "pubsub project", mutate: func(c *Config) { c.PubSub.TopicName = "reports" }, want: "pubsub.project_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			cfg.Proxy.Static = append([]string(nil), base.Proxy.Static...)
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected error containing %q", tt.want)
			}
			require.ErrorContains(t, err, tt.want)
		})
	}
}
