package bootstrap

import (
	"context"
	"sync"

	chclient "optionsurface/internal/adapters/clickhouse"
	"optionsurface/internal/adapters/config"
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
	"optionsurface/internal/feed"
	chrepo "optionsurface/internal/repository/clickhouse"
	redisrepo "optionsurface/internal/repository/redis"
	"optionsurface/internal/workers"
	"optionsurface/pkg/errors"
	"optionsurface/pkg/logger"
)

// Container holds all application dependencies and their lifecycle
// Components are organized in initialization order
type Container struct {
	// Core configuration & logging
	Config       *config.Config
	Log          *logger.Logger
	ErrorTracker errors.Tracker

	// Infrastructure Layer (Data stores). Nil when no component needs them.
	PG    *pgclient.Client
	CH    *chclient.Client
	Redis *redisclient.Client

	// Domain Layer
	Calendar  *calendar.Calendar
	Contracts *contract.Store
	Quotes    *quote.Table

	Repos       *Repositories
	Adapters    *Adapters
	Ingestion   *Ingestion
	Analytics   *Analytics
	Application *Application
	Background  *Background

	// Lifecycle management
	Lifecycle *Lifecycle
	WG        *sync.WaitGroup
	Context   context.Context
	Cancel    context.CancelFunc
}

// Repositories groups the data access components
type Repositories struct {
	Contracts contract.Repository
	Latest    *redisrepo.LatestRepository
	Ticks     *chrepo.TickRepository
}

// Adapters groups external adapters
type Adapters struct {
	KafkaProducer *kafka.Producer
	FeedManagers  []*websocket.FeedManager
	TickArchive   *chrepo.TickArchive
}

// Ingestion groups the feed pipelines writing into the quote table
type Ingestion struct {
	Pipelines []*feed.Pipeline
}

// Analytics groups the pricing engine and its output
type Analytics struct {
	Engine *analytics.Engine
	Sink   surface.Sink
}

// Application groups application layer components
type Application struct {
	HTTPServer    *api.Server
	HealthHandler *health.Handler
}

// Background groups the schedulers
type Background struct {
	SessionScheduler *workers.SessionScheduler
	WorkerScheduler  *workers.Scheduler
}

// NewContainer creates a new dependency container
func NewContainer() *Container {
	ctx, cancel := context.WithCancel(context.Background())

	return &Container{
		Repos:       &Repositories{},
		Adapters:    &Adapters{},
		Ingestion:   &Ingestion{},
		Analytics:   &Analytics{},
		Application: &Application{},
		Background:  &Background{},
		Lifecycle:   NewLifecycle(),
		WG:          &sync.WaitGroup{},
		Context:     ctx,
		Cancel:      cancel,
	}
}

// MustInit initializes all components in the correct order
// Panics on any initialization error (fail-fast at startup)
func (c *Container) MustInit() {
	c.MustInitConfig()
	c.MustInitInfrastructure()
	c.MustInitDomain()
	c.MustInitRepositories()
	c.MustInitAdapters()
	c.MustInitIngestion()
	c.MustInitAnalytics()
	c.MustInitBackground()
	c.MustInitApplication()
}

// Start starts the feeds, the pipelines, the schedulers and the HTTP server
func (c *Container) Start() error {
	c.Log.Info("Starting all systems...")

	if c.Adapters.TickArchive != nil {
		c.Adapters.TickArchive.Start(c.Context)
	}

	for _, p := range c.Ingestion.Pipelines {
		if err := p.Start(c.Context); err != nil {
			return errors.Wrapf(err, "failed to start pipeline %s", p.Name())
		}
	}

	ids := c.Contracts.Current().InstrumentIDs()
	for _, m := range c.Adapters.FeedManagers {
		if err := m.Start(c.Context, ids); err != nil {
			return errors.Wrap(err, "failed to start feed manager")
		}
	}
	c.Log.Infow("Feeds started",
		"transport", c.Config.Feed.Transport,
		"pipelines", len(c.Ingestion.Pipelines),
		"instruments", len(ids),
	)

	if err := c.Background.SessionScheduler.Start(c.Context); err != nil {
		return errors.Wrap(err, "failed to start session scheduler")
	}
	if err := c.Background.WorkerScheduler.Start(c.Context); err != nil {
		return errors.Wrap(err, "failed to start workers")
	}

	c.WG.Add(1)
	go func() {
		defer c.WG.Done()
		if err := c.Application.HTTPServer.Start(); err != nil {
			c.Log.Errorf("HTTP server failed: %v", err)
			c.Cancel() // Trigger shutdown on fatal HTTP error
		}
	}()

	c.Log.Info("All systems operational")
	return nil
}

// Shutdown performs graceful shutdown in the correct order
func (c *Container) Shutdown() {
	c.Log.Info("Initiating graceful shutdown...")
	c.Lifecycle.Shutdown(c)
}
