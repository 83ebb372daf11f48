package bootstrap

import (
	"context"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/jmoiron/sqlx"

	"optionsurface/pkg/errors"
	"optionsurface/pkg/logger"
)

// Lifecycle manages graceful shutdown of components
type Lifecycle struct {
	shutdownTimeout time.Duration
}

// NewLifecycle creates a new lifecycle manager
func NewLifecycle() *Lifecycle {
	return &Lifecycle{
		shutdownTimeout: 2 * time.Minute,
	}
}

// Shutdown stops components in dependency order:
// 1. No new HTTP requests
// 2. No new job firings; running jobs are cancelled and awaited
// 3. Interval workers
// 4. Feed connections, then the pipelines draining them
// 5. Tick archive flush
// 6. Kafka producer after every publisher is gone
// 7. Errors and logs flushed
// 8. Database connections last
func (l *Lifecycle) Shutdown(c *Container) {
	log := c.Log
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), l.shutdownTimeout)
	defer shutdownCancel()

	log.Info("[1/9] Stopping HTTP server...")
	if c.Application.HTTPServer != nil {
		httpCtx, httpCancel := context.WithTimeout(shutdownCtx, 5*time.Second)
		if err := c.Application.HTTPServer.Shutdown(httpCtx); err != nil {
			log.Errorw("HTTP server shutdown failed", "error", err)
		}
		httpCancel()
	}

	log.Info("[2/9] Stopping session scheduler...")
	if c.Background.SessionScheduler != nil {
		if err := c.Background.SessionScheduler.Stop(); err != nil {
			log.Errorw("Session scheduler shutdown failed", "error", err)
		}
	}

	log.Info("[3/9] Stopping background workers...")
	if c.Background.WorkerScheduler != nil && c.Background.WorkerScheduler.IsRunning() {
		if err := c.Background.WorkerScheduler.Stop(); err != nil {
			log.Errorw("Workers shutdown failed", "error", err)
		}
	}

	// Everything below no longer needs the application context
	c.Cancel()

	log.Info("[4/9] Stopping feeds and pipelines...")
	for _, m := range c.Adapters.FeedManagers {
		wsCtx, wsCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		if err := m.Stop(wsCtx); err != nil {
			log.Errorw("Feed manager shutdown failed", "error", err)
		}
		wsCancel()
	}
	// Pipelines close their transports, which closes the Kafka tick consumers
	for _, p := range c.Ingestion.Pipelines {
		if err := p.Stop(); err != nil {
			log.Errorw("Pipeline shutdown failed", "pipeline", p.Name(), "error", err)
		}
	}

	log.Info("[5/9] Flushing tick archive...")
	if c.Adapters.TickArchive != nil {
		archiveCtx, archiveCancel := context.WithTimeout(shutdownCtx, 30*time.Second)
		if err := c.Adapters.TickArchive.Stop(archiveCtx); err != nil {
			log.Errorw("Tick archive flush failed", "error", err)
		}
		archiveCancel()
	}

	log.Info("[6/9] Waiting for goroutines...")
	l.waitForGoroutines(c.WG, 5*time.Second, log)

	log.Info("[7/9] Closing Kafka producer...")
	if c.Adapters.KafkaProducer != nil {
		if err := c.Adapters.KafkaProducer.Close(); err != nil {
			log.Errorw("Kafka producer close failed", "error", err)
		}
	}

	log.Info("[8/9] Flushing error tracker and logs...")
	l.flushErrorTracker(shutdownCtx, c.ErrorTracker, log)
	_ = logger.Sync()

	// LAST - other components may need them during shutdown
	log.Info("[9/9] Closing database connections...")
	l.closeDatabases(c, log)

	log.Info("Graceful shutdown complete")
}

// waitForGoroutines waits for all goroutines with a timeout
func (l *Lifecycle) waitForGoroutines(wg *sync.WaitGroup, timeout time.Duration, log *logger.Logger) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		log.Warnw("Some goroutines did not finish within timeout", "timeout", timeout)
	}
}

// flushErrorTracker flushes the error tracker (Sentry, etc.)
func (l *Lifecycle) flushErrorTracker(ctx context.Context, tracker errors.Tracker, log *logger.Logger) {
	if tracker == nil {
		return
	}

	flushCtx, flushCancel := context.WithTimeout(ctx, 3*time.Second)
	defer flushCancel()

	if err := tracker.Flush(flushCtx); err != nil {
		log.Errorw("Error tracker flush failed", "error", err)
	}
}

// closeDatabases closes all database connections
func (l *Lifecycle) closeDatabases(c *Container, log *logger.Logger) {
	var errs errors.MultiError

	if c.PG != nil {
		if err := c.PG.Close(); err != nil {
			errs.Add(errors.Wrap(err, "postgres"))
		}
	}
	if c.CH != nil {
		if err := c.CH.Close(); err != nil {
			errs.Add(errors.Wrap(err, "clickhouse"))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs.Add(errors.Wrap(err, "redis"))
		}
	}

	if err := errs.ToError(); err != nil {
		log.Errorw("Database close errors", "error", err)
	}
}

func (c *Container) pgDB() *sqlx.DB {
	if c.PG == nil {
		return nil
	}
	return c.PG.DB()
}

func (c *Container) chConn() driver.Conn {
	if c.CH == nil {
		return nil
	}
	return c.CH.Conn()
}
