package bootstrap

import (
	"context"
	"fmt"
	"strings"
	"time"

	chclient "optionsurface/internal/adapters/clickhouse"
	"optionsurface/internal/adapters/config"
	errnoop "optionsurface/internal/adapters/errors/noop"
	"optionsurface/internal/adapters/errors/sentry"
	"optionsurface/internal/adapters/kafka"
	pgclient "optionsurface/internal/adapters/postgres"
	redisclient "optionsurface/internal/adapters/redis"
	"optionsurface/internal/adapters/websocket"
	"optionsurface/internal/analytics"
	"optionsurface/internal/api"
	"optionsurface/internal/api/health"
	"optionsurface/internal/domain/calendar"
	"optionsurface/internal/domain/contract"
	"optionsurface/internal/domain/quote"
	"optionsurface/internal/domain/surface"
	"optionsurface/internal/events"
	"optionsurface/internal/feed"
	"optionsurface/internal/metrics"
	chrepo "optionsurface/internal/repository/clickhouse"
	"optionsurface/internal/repository/jsonfile"
	pgrepo "optionsurface/internal/repository/postgres"
	redisrepo "optionsurface/internal/repository/redis"
	"optionsurface/internal/sink"
	"optionsurface/internal/workers"
	"optionsurface/internal/workers/maintenance"
	"optionsurface/internal/workers/pricing"
	"optionsurface/pkg/errors"
	"optionsurface/pkg/logger"
)

const connectTimeout = 15 * time.Second

// ========================================
// Phase 1: Configuration & Logging
// ========================================

// MustInitConfig loads configuration, logger and error tracker
func (c *Container) MustInitConfig() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	c.Config = cfg

	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		panic("failed to init logger: " + err.Error())
	}

	c.Log = logger.Get()
	c.Log.Infof("Starting %s %s in %s mode", cfg.App.Name, cfg.App.Version, cfg.App.Env)

	c.ErrorTracker = provideErrorTracker(cfg, c.Log)
	logger.SetErrorTracker(c.ErrorTracker)
}

// provideErrorTracker returns Sentry when enabled, a no-op tracker otherwise
func provideErrorTracker(cfg *config.Config, log *logger.Logger) errors.Tracker {
	if !cfg.ErrorTracking.Enabled || cfg.ErrorTracking.SentryDSN == "" {
		log.Info("Error tracking disabled")
		return errnoop.New()
	}

	tracker, err := sentry.New(cfg.ErrorTracking.SentryDSN, cfg.ErrorTracking.Environment, cfg.App.Name)
	if err != nil {
		log.Warnf("Failed to initialize Sentry: %v", err)
		return errnoop.New()
	}

	log.Info("Error tracking initialized (Sentry)")
	return tracker
}

// ========================================
// Phase 2: Infrastructure Layer
// ========================================

// MustInitInfrastructure connects only the data stores some component uses
// and ensures their schemas
func (c *Container) MustInitInfrastructure() {
	cfg := c.Config
	ctx, cancel := context.WithTimeout(c.Context, connectTimeout)
	defer cancel()

	var err error

	if cfg.Sink.Has(config.SinkPostgres) || cfg.Analytics.ContractsFile == "" {
		c.Log.Info("Connecting to PostgreSQL...")
		c.PG, err = pgclient.NewClient(ctx, cfg.Postgres)
		if err != nil {
			c.Log.Fatalf("failed to connect postgres: %v", err)
		}
		if err := pgrepo.EnsureSchema(ctx, c.PG.DB()); err != nil {
			c.Log.Fatalf("failed to ensure postgres schema: %v", err)
		}
		c.Log.Info("PostgreSQL connected")
	}

	if cfg.Sink.Has(config.SinkClickHouse) || cfg.Archive.TicksEnabled {
		c.Log.Info("Connecting to ClickHouse...")
		c.CH, err = chclient.NewClient(ctx, cfg.ClickHouse)
		if err != nil {
			c.Log.Fatalf("failed to connect clickhouse: %v", err)
		}
		if err := chrepo.EnsureSchema(ctx, c.CH.Conn()); err != nil {
			c.Log.Fatalf("failed to ensure clickhouse schema: %v", err)
		}
		c.Log.Info("ClickHouse connected")
	}

	if cfg.Sink.Has(config.SinkRedis) {
		c.Log.Info("Connecting to Redis...")
		c.Redis, err = redisclient.NewClient(ctx, cfg.Redis)
		if err != nil {
			c.Log.Fatalf("failed to connect redis: %v", err)
		}
		c.Log.Info("Redis connected")
	}
}

// ========================================
// Phase 3: Domain
// ========================================

// MustInitDomain builds the exchange calendar, the contract store and the
// quote table
func (c *Container) MustInitDomain() {
	cfg := c.Config.Session

	holidays := cfg.Holidays
	if len(holidays) == 0 {
		holidays = calendar.DefaultHolidays
	}

	cal, err := calendar.New(calendar.Config{
		Timezone:      cfg.Timezone,
		Open:          cfg.Open,
		Close:         cfg.Close,
		PreOpenWindow: cfg.PreOpenWindow,
		Holidays:      holidays,
	})
	if err != nil {
		c.Log.Fatalf("invalid session calendar: %v", err)
	}
	c.Calendar = cal
	c.Quotes = quote.NewTable()

	c.Log.Infow("Exchange calendar ready",
		"timezone", cfg.Timezone,
		"open", cfg.Open,
		"close", cfg.Close,
		"holidays", len(holidays),
	)
}

// ========================================
// Phase 4: Repositories
// ========================================

// MustInitRepositories picks the contract source and loads today's universe
func (c *Container) MustInitRepositories() {
	if path := c.Config.Analytics.ContractsFile; path != "" {
		c.Repos.Contracts = jsonfile.NewContractRepository(path)
		c.Log.Infow("Contracts loaded from file", "path", path)
	} else {
		c.Repos.Contracts = pgrepo.NewContractRepository(c.PG.DB())
	}

	if c.Redis != nil {
		c.Repos.Latest = redisrepo.NewLatestRepository(c.Redis.Client(), c.Config.Redis.KeyPrefix, c.Config.Redis.TTL)
	}
	if c.CH != nil {
		c.Repos.Ticks = chrepo.NewTickRepository(c.CH.Conn())
	}

	ctx, cancel := context.WithTimeout(c.Context, connectTimeout)
	defer cancel()

	day := c.Calendar.Date(time.Now())
	u, err := c.Repos.Contracts.LoadUniverse(ctx, day, c.Config.Analytics.Underlyings)
	if err != nil {
		c.Log.Fatalf("failed to load contract universe: %v", err)
	}
	c.Contracts = contract.NewStore(u)

	c.Log.Infow("Contract universe loaded",
		"day", day.Format("2006-01-02"),
		"contracts", len(u.Contracts),
		"underlyings", u.Underlyings(),
	)
}

// ========================================
// Phase 5: External Adapters
// ========================================

// MustInitAdapters creates the Kafka producer and the tick archive
func (c *Container) MustInitAdapters() {
	cfg := c.Config

	if cfg.Sink.Has(config.SinkKafka) {
		c.Adapters.KafkaProducer = kafka.NewProducer(kafka.ProducerConfig{Brokers: cfg.Kafka.Brokers})
		c.Log.Infow("Kafka producer initialized", "brokers", cfg.Kafka.Brokers)
	}

	if cfg.Archive.TicksEnabled && c.Repos.Ticks != nil {
		c.Adapters.TickArchive = chrepo.NewTickArchive(chrepo.TickArchiveConfig{
			BatchSize:     cfg.Archive.BatchSize,
			FlushInterval: cfg.Archive.FlushInterval,
		}, c.Repos.Ticks.InsertTicks, c.Log)
		c.Log.Info("Tick archive enabled")
	}
}

// ========================================
// Phase 6: Ingestion
// ========================================

// MustInitIngestion builds one pipeline per feed URL or per Kafka topic, all
// writing into the shared quote table
func (c *Container) MustInitIngestion() {
	cfg := c.Config.Feed

	mode, err := feed.ParseMode(cfg.Mode)
	if err != nil {
		c.Log.Fatalf("invalid feed mode: %v", err)
	}

	var recorder feed.TickRecorder
	if c.Adapters.TickArchive != nil {
		recorder = c.Adapters.TickArchive
	}

	newPipeline := func(name string, transport feed.Transport) {
		// Normalizers keep per-feed state, so every pipeline gets its own
		normalizer, err := feed.NewNormalizer(mode, c.Calendar.Location())
		if err != nil {
			c.Log.Fatalf("failed to create normalizer: %v", err)
		}
		p := feed.NewPipeline(feed.Config{
			Name:         name,
			QueueSize:    cfg.QueueSize,
			PollInterval: cfg.PollInterval,
			StopTimeout:  cfg.StopTimeout,
		}, transport, normalizer, c.Quotes, c.Contracts, recorder, c.Log)
		c.Ingestion.Pipelines = append(c.Ingestion.Pipelines, p)
	}

	switch strings.ToLower(cfg.Transport) {
	case config.TransportKafka:
		for _, topic := range cfg.Topics {
			consumer := kafka.NewConsumer(kafka.ConsumerConfig{
				Brokers: c.Config.Kafka.Brokers,
				GroupID: c.Config.Kafka.GroupID,
				Topic:   topic,
			})
			newPipeline("kafka-"+topic, feed.NewKafkaTransport(consumer, topic))
		}
	default:
		for i, url := range cfg.URLs {
			name := fmt.Sprintf("ws-%d", i)
			transport := feed.NewChanTransport(cfg.QueueSize)
			c.Adapters.FeedManagers = append(c.Adapters.FeedManagers, websocket.NewFeedManager(name, websocket.ClientConfig{
				URL:          url,
				Mode:         string(mode),
				PingInterval: cfg.PingInterval,
				ReadTimeout:  cfg.ReadTimeout,
			}, transport, websocket.ManagerConfig{}, c.Log))
			newPipeline(name, transport)
		}
	}

	c.Log.Infow("Ingestion pipelines created",
		"transport", cfg.Transport,
		"mode", mode,
		"pipelines", len(c.Ingestion.Pipelines),
	)
}

// ========================================
// Phase 7: Analytics
// ========================================

// MustInitAnalytics builds the pricing engine and the sink fan-out. Every
// target retries transient failures once before the rows are dropped.
func (c *Container) MustInitAnalytics() {
	cfg := c.Config

	strategy, err := analytics.ParseSpotStrategy(cfg.Analytics.SpotStrategy)
	if err != nil {
		c.Log.Fatalf("invalid spot strategy: %v", err)
	}
	c.Analytics.Engine = analytics.NewEngine(analytics.Config{
		Strategy:     strategy,
		RiskFreeRate: cfg.Analytics.RiskFreeRate,
		DivYield:     cfg.Analytics.DividendYield,
	}, c.Calendar, c.Log)

	retry := sink.RetryConfig{Delay: cfg.Sink.RetryDelay, Retries: cfg.Sink.Retries}
	var targets []surface.Sink
	add := func(name string, s surface.Sink) {
		targets = append(targets, sink.NewRetrying(name, s, retry, c.Log))
	}

	for _, t := range cfg.Sink.Targets {
		switch strings.ToLower(strings.TrimSpace(t)) {
		case config.SinkPostgres:
			add(config.SinkPostgres, pgrepo.NewSurfaceRepository(c.PG.DB()))
		case config.SinkClickHouse:
			add(config.SinkClickHouse, chrepo.NewSurfaceRepository(c.CH.Conn()))
		case config.SinkRedis:
			add(config.SinkRedis, c.Repos.Latest)
		case config.SinkKafka:
			add(config.SinkKafka, events.NewPublisher(c.Adapters.KafkaProducer, c.Log))
		case config.SinkMemory:
			add(config.SinkMemory, sink.NewMemory())
		}
	}
	c.Analytics.Sink = sink.NewFanout(targets...)

	c.Log.Infow("Analytics engine ready",
		"spot_strategy", strategy,
		"risk_free_rate", cfg.Analytics.RiskFreeRate,
		"sinks", cfg.Sink.Targets,
	)
}

// ========================================
// Phase 8: Background Processing
// ========================================

// MustInitBackground registers the session jobs and the interval workers
func (c *Container) MustInitBackground() {
	cfg := c.Config

	c.Background.SessionScheduler = workers.NewSessionScheduler(c.Calendar, cfg.Session.MisfireGrace, cfg.Sink.Timeout+time.Minute, c.Log)

	listeners := make([]pricing.UniverseListener, 0, len(c.Adapters.FeedManagers))
	for _, m := range c.Adapters.FeedManagers {
		listeners = append(listeners, m)
	}

	jobs := []struct {
		spec   string
		window workers.Window
		job    workers.Job
	}{
		{workers.EveryMinute, workers.WindowSession,
			pricing.NewAnalyticsJob(c.Quotes, c.Contracts, c.Analytics.Engine, c.Analytics.Sink, cfg.Sink.Timeout, c.Log)},
		{workers.EveryMinute, workers.WindowPreOpen,
			pricing.NewPreOpenJob(c.Quotes, c.Analytics.Sink, cfg.Sink.Timeout, c.Log)},
		{cfg.Analytics.RefreshCron, workers.WindowTradingDay,
			pricing.NewContractsRefresher(c.Repos.Contracts, c.Contracts, c.Calendar, cfg.Analytics.Underlyings, c.Log, listeners...)},
	}
	for _, j := range jobs {
		if err := c.Background.SessionScheduler.Schedule(j.spec, j.window, j.job); err != nil {
			c.Log.Fatalf("failed to schedule %s: %v", j.job.Name(), err)
		}
	}

	c.Background.WorkerScheduler = workers.NewScheduler(c.Log, 30*time.Second)

	if c.Repos.Latest != nil {
		c.Background.WorkerScheduler.RegisterWorker(maintenance.NewQuoteMirror(
			c.Quotes, c.Repos.Latest, cfg.Workers.QuoteMirrorInterval, true, c.Log,
		))
	}

	pipelines := make([]maintenance.PipelineStats, 0, len(c.Ingestion.Pipelines))
	for _, p := range c.Ingestion.Pipelines {
		pipelines = append(pipelines, p)
	}
	var archive maintenance.ArchiveStats
	if c.Adapters.TickArchive != nil {
		archive = c.Adapters.TickArchive
	}
	c.Background.WorkerScheduler.RegisterWorker(maintenance.NewPipelineMonitor(
		pipelines, archive,
		func(t time.Time) bool { return c.Calendar.Phase(t) == calendar.PhaseOpen },
		cfg.Workers.PipelineMonitorInterval, true, c.Log,
	))

	c.Log.Infow("Background processing configured", "session_jobs", len(jobs))
}

// ========================================
// Phase 9: Application Layer
// ========================================

// MustInitApplication builds the health handler and the HTTP server
func (c *Container) MustInitApplication() {
	cfg := c.Config

	if cfg.Metrics.Enabled {
		metrics.Init()
		metrics.RegisterCustomCollector(metrics.NewCustomCollector(c.Log, c.pgDB(), c.chConn()))
	}

	h := health.New(c.Log, cfg.App.Name, cfg.App.Version)
	if c.PG != nil {
		h.Register("postgres", c.PG)
	}
	if c.CH != nil {
		h.Register("clickhouse", c.CH)
	}
	if c.Redis != nil {
		h.Register("redis", c.Redis)
	}
	if len(c.Adapters.FeedManagers) > 0 {
		h.Register("feed", health.CheckerFunc(c.feedHealth))
	}
	h.Register("workers", health.CheckerFunc(c.workerHealth))
	c.Application.HealthHandler = h

	c.Application.HTTPServer = api.NewServer(api.ServerConfig{
		Port:           cfg.Metrics.Port,
		ServiceName:    cfg.App.Name,
		Version:        cfg.App.Version,
		MetricsEnabled: cfg.Metrics.Enabled,
	}, h, c.Log)
}

// feedHealth fails when no websocket feed is connected
func (c *Container) feedHealth(context.Context) error {
	for _, m := range c.Adapters.FeedManagers {
		if m.Client().IsConnected() {
			return nil
		}
	}
	return errors.Wrap(errors.ErrWSNotConnected, "no feed connected")
}

// maxWorkerFailures is the number of consecutive failed iterations after
// which a worker reports unhealthy
const maxWorkerFailures = 3

// workerHealth fails when an interval worker keeps failing
func (c *Container) workerHealth(context.Context) error {
	var errs errors.MultiError
	for _, w := range c.Background.WorkerScheduler.GetWorkers() {
		hw, ok := w.(interface{ Health() workers.WorkerHealth })
		if !ok {
			continue
		}
		if h := hw.Health(); h.ConsecutiveFailures >= maxWorkerFailures {
			errs.Add(errors.Wrapf(errors.ErrUnavailable, "%s failed %d times in a row: %v", w.Name(), h.ConsecutiveFailures, h.LastError))
		}
	}
	return errs.ToError()
}
