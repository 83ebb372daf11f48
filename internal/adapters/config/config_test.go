package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionsurface/pkg/errors"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("FEED_URLS", "wss://feed.local/ticks")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "optionsurface", cfg.App.Name)
	assert.Equal(t, "Asia/Kolkata", cfg.Session.Timezone)
	assert.Equal(t, "09:15", cfg.Session.Open)
	assert.Equal(t, "15:30", cfg.Session.Close)
	assert.Equal(t, 5*time.Minute, cfg.Session.PreOpenWindow)
	assert.Equal(t, 10*time.Second, cfg.Session.MisfireGrace)
	assert.Equal(t, "forward", cfg.Analytics.SpotStrategy)
	assert.Equal(t, []string{"NIFTY", "BANKNIFTY"}, cfg.Analytics.Underlyings)
	assert.Equal(t, 70*time.Millisecond, cfg.Feed.PollInterval)
	assert.Equal(t, 5*time.Second, cfg.Sink.RetryDelay)
	assert.Equal(t, 1, cfg.Sink.Retries)
	assert.True(t, cfg.Sink.Has(SinkPostgres))
	assert.False(t, cfg.Sink.Has(SinkKafka))
	assert.Equal(t, []string{"wss://feed.local/ticks"}, cfg.Feed.URLs)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("FEED_TRANSPORT", "kafka")
	t.Setenv("KAFKA_TICK_TOPICS", "xts.ticks,kite.ticks")
	t.Setenv("SINK_TARGETS", "clickhouse, redis ,kafka")
	t.Setenv("ANALYTICS_SPOT_STRATEGY", "synthetic")
	t.Setenv("SESSION_HOLIDAYS", "2025-01-26,2025-02-26")
	t.Setenv("ANALYTICS_CONTRACTS_FILE", "testdata/universe.json")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"xts.ticks", "kite.ticks"}, cfg.Feed.Topics)
	assert.True(t, cfg.Sink.Has(SinkRedis))
	assert.True(t, cfg.Sink.Has(SinkKafka))
	assert.False(t, cfg.Sink.Has(SinkPostgres))
	assert.Equal(t, []string{"2025-01-26", "2025-02-26"}, cfg.Session.Holidays)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Session:   SessionConfig{Open: "09:15", Close: "15:30", MisfireGrace: 10 * time.Second},
			Analytics: AnalyticsConfig{SpotStrategy: "direct"},
			Feed:      FeedConfig{Mode: "full", Transport: "websocket", URLs: []string{"ws://x"}},
			Sink:      SinkConfig{Targets: []string{"memory"}},
			Postgres:  PostgresConfig{Host: "localhost"},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"spot strategy", func(c *Config) { c.Analytics.SpotStrategy = "vwap" }},
		{"feed mode", func(c *Config) { c.Feed.Mode = "depth" }},
		{"transport", func(c *Config) { c.Feed.Transport = "grpc" }},
		{"websocket without urls", func(c *Config) { c.Feed.URLs = nil }},
		{"unknown sink", func(c *Config) { c.Sink.Targets = []string{"s3"} }},
		{"no sinks", func(c *Config) { c.Sink.Targets = nil }},
		{"session open", func(c *Config) { c.Session.Open = "9am" }},
		{"misfire grace", func(c *Config) { c.Session.MisfireGrace = 0 }},
		{"negative retries", func(c *Config) { c.Sink.Retries = -1 }},
		{"sentry without dsn", func(c *Config) { c.ErrorTracking = ErrorTrackingConfig{Enabled: true, Provider: "sentry"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrInvalidInput))
		})
	}
}

func TestPostgresDSN(t *testing.T) {
	c := PostgresConfig{Host: "db", Port: 5432, User: "u", Password: "p", Database: "d", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=d sslmode=disable", c.DSN())
}
