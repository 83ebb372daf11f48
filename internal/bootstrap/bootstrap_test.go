package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionsurface/internal/adapters/config"
	errnoop "optionsurface/internal/adapters/errors/noop"
	"optionsurface/internal/adapters/websocket"
	"optionsurface/internal/feed"
	"optionsurface/internal/workers"
	"optionsurface/pkg/errors"
	"optionsurface/pkg/logger"
)

func TestProvideErrorTrackerDisabled(t *testing.T) {
	cfg := &config.Config{}
	cfg.ErrorTracking.Enabled = true // no DSN

	tracker := provideErrorTracker(cfg, logger.NewNop())
	_, ok := tracker.(*errnoop.Tracker)
	assert.True(t, ok)
}

func TestShutdownWithNothingStarted(t *testing.T) {
	c := NewContainer()
	c.Log = logger.NewNop()

	c.Shutdown()
	assert.Error(t, c.Context.Err(), "application context is cancelled")
}

func TestShutdownStopsSchedulersAndPipelines(t *testing.T) {
	c := NewContainer()
	c.Log = logger.NewNop()

	c.Background.WorkerScheduler = workers.NewScheduler(c.Log, time.Second)
	require.NoError(t, c.Background.WorkerScheduler.Start(c.Context))

	transport := feed.NewChanTransport(1)
	normalizer, err := feed.NewNormalizer(feed.ModeFull, time.UTC)
	require.NoError(t, err)
	p := feed.NewPipeline(feed.Config{Name: "ws-0"}, transport, normalizer, nil, nil, nil, c.Log)
	require.NoError(t, p.Start(c.Context))
	c.Ingestion.Pipelines = append(c.Ingestion.Pipelines, p)

	c.Shutdown()

	assert.False(t, c.Background.WorkerScheduler.IsRunning())
	assert.ErrorIs(t, transport.Push(context.Background(), [][]byte{[]byte(`{}`)}), errors.ErrTransportClosed,
		"stopping the pipeline closes its transport")
}

func TestFeedHealth(t *testing.T) {
	c := NewContainer()
	c.Log = logger.NewNop()
	c.Adapters.FeedManagers = []*websocket.FeedManager{
		websocket.NewFeedManager("ws-0", websocket.ClientConfig{URL: "ws://127.0.0.1:1"}, feed.NewChanTransport(1), websocket.ManagerConfig{}, c.Log),
	}

	err := c.feedHealth(context.Background())
	assert.True(t, errors.Is(err, errors.ErrWSNotConnected))
}

type flakyWorker struct {
	*workers.BaseWorker
}

func (w *flakyWorker) Run(context.Context) error { return errors.ErrUnavailable }

func TestWorkerHealth(t *testing.T) {
	c := NewContainer()
	c.Log = logger.NewNop()
	c.Background.WorkerScheduler = workers.NewScheduler(c.Log, time.Second)

	w := &flakyWorker{BaseWorker: workers.NewBaseWorker("quote_mirror", time.Hour, true, c.Log)}
	c.Background.WorkerScheduler.RegisterWorker(w)
	require.NoError(t, c.workerHealth(context.Background()))

	for i := 0; i < maxWorkerFailures; i++ {
		w.RecordError(errors.ErrUnavailable, time.Millisecond)
	}
	err := c.workerHealth(context.Background())
	assert.True(t, errors.Is(err, errors.ErrUnavailable))
	assert.Contains(t, err.Error(), "quote_mirror")

	w.RecordRun(time.Millisecond)
	assert.NoError(t, c.workerHealth(context.Background()))
}
