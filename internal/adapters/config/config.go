package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"optionsurface/pkg/errors"
)

// Sink targets
const (
	SinkPostgres   = "postgres"
	SinkClickHouse = "clickhouse"
	SinkRedis      = "redis"
	SinkKafka      = "kafka"
	SinkMemory     = "memory"
)

// Feed transports
const (
	TransportWebSocket = "websocket"
	TransportKafka     = "kafka"
)

type Config struct {
	App           AppConfig
	Session       SessionConfig
	Analytics     AnalyticsConfig
	Feed          FeedConfig
	Sink          SinkConfig
	Postgres      PostgresConfig
	ClickHouse    ClickHouseConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Metrics       MetricsConfig
	ErrorTracking ErrorTrackingConfig
	Workers       WorkerConfig
	Archive       ArchiveConfig
}

type AppConfig struct {
	Name     string `envconfig:"APP_NAME" default:"optionsurface"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Version  string `envconfig:"APP_VERSION" default:"dev"`
}

// SessionConfig describes the exchange session the scheduler and DTE follow
type SessionConfig struct {
	Timezone      string        `envconfig:"SESSION_TIMEZONE" default:"Asia/Kolkata"`
	Open          string        `envconfig:"SESSION_OPEN" default:"09:15"`
	Close         string        `envconfig:"SESSION_CLOSE" default:"15:30"`
	PreOpenWindow time.Duration `envconfig:"SESSION_PREOPEN_WINDOW" default:"5m"`
	MisfireGrace  time.Duration `envconfig:"SESSION_MISFIRE_GRACE" default:"10s"`
	Holidays      []string      `envconfig:"SESSION_HOLIDAYS"` // empty means the built-in NSE list
}

type AnalyticsConfig struct {
	SpotStrategy  string   `envconfig:"ANALYTICS_SPOT_STRATEGY" default:"forward"` // direct|synthetic|forward
	RiskFreeRate  float64  `envconfig:"ANALYTICS_RISK_FREE_RATE" default:"0"`
	DividendYield float64  `envconfig:"ANALYTICS_DIVIDEND_YIELD" default:"0"`
	Underlyings   []string `envconfig:"ANALYTICS_UNDERLYINGS" default:"NIFTY,BANKNIFTY"`
	ContractsFile string   `envconfig:"ANALYTICS_CONTRACTS_FILE"` // JSON universe; empty loads from Postgres
	RefreshCron   string   `envconfig:"ANALYTICS_CONTRACTS_REFRESH" default:"0 45 8 * * MON-FRI"`
}

// FeedConfig configures the ingestion pipelines. One pipeline runs per URL
// (websocket) or per topic (kafka).
type FeedConfig struct {
	Mode         string        `envconfig:"FEED_MODE" default:"full"`           // full|touchline
	Transport    string        `envconfig:"FEED_TRANSPORT" default:"websocket"` // websocket|kafka
	URLs         []string      `envconfig:"FEED_URLS"`
	Topics       []string      `envconfig:"KAFKA_TICK_TOPICS" default:"feed.ticks"`
	QueueSize    int           `envconfig:"FEED_QUEUE_SIZE" default:"4096"`
	PollInterval time.Duration `envconfig:"FEED_POLL_INTERVAL" default:"70ms"`
	StopTimeout  time.Duration `envconfig:"FEED_STOP_TIMEOUT" default:"5s"`
	PingInterval time.Duration `envconfig:"FEED_PING_INTERVAL" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"FEED_READ_TIMEOUT" default:"30s"`
}

type SinkConfig struct {
	Targets    []string      `envconfig:"SINK_TARGETS" default:"postgres"`
	RetryDelay time.Duration `envconfig:"SINK_RETRY_DELAY" default:"5s"`
	Retries    int           `envconfig:"SINK_RETRIES" default:"1"`
	Timeout    time.Duration `envconfig:"SINK_TIMEOUT" default:"20s"`
}

// Has reports whether target is enabled
func (c SinkConfig) Has(target string) bool {
	for _, t := range c.Targets {
		if strings.EqualFold(strings.TrimSpace(t), target) {
			return true
		}
	}
	return false
}

type PostgresConfig struct {
	Host     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER" default:"postgres"`
	Password string `envconfig:"POSTGRES_PASSWORD"`
	Database string `envconfig:"POSTGRES_DB" default:"optionsurface"`
	SSLMode  string `envconfig:"POSTGRES_SSL_MODE" default:"disable"`
	MaxConns int    `envconfig:"POSTGRES_MAX_CONNS" default:"10"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

type ClickHouseConfig struct {
	Host     string `envconfig:"CLICKHOUSE_HOST" default:"localhost"`
	Port     int    `envconfig:"CLICKHOUSE_PORT" default:"9000"`
	User     string `envconfig:"CLICKHOUSE_USER" default:"default"`
	Password string `envconfig:"CLICKHOUSE_PASSWORD"`
	Database string `envconfig:"CLICKHOUSE_DB" default:"optionsurface"`
}

type RedisConfig struct {
	Host      string        `envconfig:"REDIS_HOST" default:"localhost"`
	Port      int           `envconfig:"REDIS_PORT" default:"6379"`
	Password  string        `envconfig:"REDIS_PASSWORD"`
	DB        int           `envconfig:"REDIS_DB" default:"0"`
	KeyPrefix string        `envconfig:"REDIS_KEY_PREFIX" default:"optionsurface"`
	TTL       time.Duration `envconfig:"REDIS_TTL" default:"24h"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type KafkaConfig struct {
	Brokers []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	GroupID string   `envconfig:"KAFKA_GROUP_ID" default:"optionsurface"`
}

type MetricsConfig struct {
	Enabled bool `envconfig:"METRICS_ENABLED" default:"true"`
	Port    int  `envconfig:"METRICS_PORT" default:"9090"`
}

type ErrorTrackingConfig struct {
	Enabled     bool   `envconfig:"ERROR_TRACKING_ENABLED" default:"false"`
	Provider    string `envconfig:"ERROR_TRACKING_PROVIDER" default:"sentry"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"SENTRY_ENVIRONMENT" default:"production"`
}

// WorkerConfig contains intervals for the interval-driven background workers
type WorkerConfig struct {
	QuoteMirrorInterval     time.Duration `envconfig:"WORKER_QUOTE_MIRROR_INTERVAL" default:"5s"`
	PipelineMonitorInterval time.Duration `envconfig:"WORKER_PIPELINE_MONITOR_INTERVAL" default:"30s"`
}

// ArchiveConfig controls the ClickHouse tick archive
type ArchiveConfig struct {
	TicksEnabled  bool          `envconfig:"ARCHIVE_TICKS_ENABLED" default:"false"`
	BatchSize     int           `envconfig:"ARCHIVE_BATCH_SIZE" default:"500"`
	FlushInterval time.Duration `envconfig:"ARCHIVE_FLUSH_INTERVAL" default:"5s"`
}

// Validate checks enumerations and cross-section requirements
func (c *Config) Validate() error {
	var errs errors.MultiError

	switch strings.ToLower(c.Analytics.SpotStrategy) {
	case "direct", "synthetic", "forward":
	default:
		errs.Add(errors.NewValidationError("ANALYTICS_SPOT_STRATEGY", "must be direct, synthetic or forward", c.Analytics.SpotStrategy))
	}

	switch strings.ToLower(c.Feed.Mode) {
	case "full", "touchline":
	default:
		errs.Add(errors.NewValidationError("FEED_MODE", "must be full or touchline", c.Feed.Mode))
	}

	switch strings.ToLower(c.Feed.Transport) {
	case TransportWebSocket:
		if len(c.Feed.URLs) == 0 {
			errs.Add(errors.NewValidationError("FEED_URLS", "at least one URL is required for the websocket transport", nil))
		}
	case TransportKafka:
		if len(c.Feed.Topics) == 0 {
			errs.Add(errors.NewValidationError("KAFKA_TICK_TOPICS", "at least one topic is required for the kafka transport", nil))
		}
	default:
		errs.Add(errors.NewValidationError("FEED_TRANSPORT", "must be websocket or kafka", c.Feed.Transport))
	}

	if len(c.Sink.Targets) == 0 {
		errs.Add(errors.NewValidationError("SINK_TARGETS", "at least one target is required", nil))
	}
	for _, t := range c.Sink.Targets {
		switch strings.ToLower(strings.TrimSpace(t)) {
		case SinkPostgres, SinkClickHouse, SinkRedis, SinkKafka, SinkMemory:
		default:
			errs.Add(errors.NewValidationError("SINK_TARGETS", "unknown target", t))
		}
	}
	if c.Sink.Retries < 0 {
		errs.Add(errors.NewValidationError("SINK_RETRIES", "must not be negative", c.Sink.Retries))
	}

	if c.Analytics.ContractsFile == "" && !c.Sink.Has(SinkPostgres) && c.Postgres.Host == "" {
		errs.Add(errors.NewValidationError("ANALYTICS_CONTRACTS_FILE", "required when Postgres is not configured", nil))
	}

	if _, err := time.Parse("15:04", c.Session.Open); err != nil {
		errs.Add(errors.NewValidationError("SESSION_OPEN", "expected HH:MM", c.Session.Open))
	}
	if _, err := time.Parse("15:04", c.Session.Close); err != nil {
		errs.Add(errors.NewValidationError("SESSION_CLOSE", "expected HH:MM", c.Session.Close))
	}
	if c.Session.MisfireGrace <= 0 {
		errs.Add(errors.NewValidationError("SESSION_MISFIRE_GRACE", "must be positive", c.Session.MisfireGrace))
	}

	if c.ErrorTracking.Enabled && c.ErrorTracking.Provider == "sentry" && c.ErrorTracking.SentryDSN == "" {
		errs.Add(errors.NewValidationError("SENTRY_DSN", "required when error tracking is enabled", nil))
	}

	return errs.ToError()
}

// Load reads configuration from environment variables
// It first tries to load .env file (useful for local development)
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not exists)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}

	return &cfg, nil
}
