package websocket

import (
	"context"
	"sync"
	"time"

	"optionsurface/internal/domain/contract"
	"optionsurface/internal/metrics"
	"optionsurface/pkg/errors"
	"optionsurface/pkg/logger"
	"optionsurface/pkg/reconnect"
)

// FeedManager keeps one FeedClient connected: it watches liveness and
// reconnects with backoff, and resubscribes when the universe changes
type FeedManager struct {
	name   string
	client *FeedClient
	logger *logger.Logger

	reconnectMgr        *reconnect.Manager
	healthCheckInterval time.Duration

	mu              sync.RWMutex
	lastHealthCheck time.Time
	totalReconnects int

	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
}

// ManagerConfig configures the FeedManager
type ManagerConfig struct {
	HealthCheckInterval time.Duration
	ReconnectConfig     reconnect.Config
}

// NewFeedManager creates a manager for one feed URL pushing into sink
func NewFeedManager(name string, cfg ClientConfig, sink BatchSink, managerCfg ManagerConfig, log *logger.Logger) *FeedManager {
	if log == nil {
		log = logger.Get()
	}
	if managerCfg.HealthCheckInterval == 0 {
		managerCfg.HealthCheckInterval = 3 * time.Second
	}
	if managerCfg.ReconnectConfig.MinBackoff == 0 {
		managerCfg.ReconnectConfig = reconnect.Config{
			MinBackoff:          time.Second,
			MaxBackoff:          time.Minute,
			BackoffMultiplier:   2.0,
			MaxRetries:          8,
			HealthCheckInterval: managerCfg.HealthCheckInterval,
			HeartbeatTimeout:    cfg.ReadTimeout,
			CircuitResetAfter:   2 * time.Minute,
		}
	}

	log = log.With("feed", name)
	reconnectMgr := reconnect.NewManager(managerCfg.ReconnectConfig, log)

	return &FeedManager{
		name:                name,
		client:              NewFeedClient(cfg, sink, reconnectMgr.RecordMessageReceived, log),
		logger:              log,
		reconnectMgr:        reconnectMgr,
		healthCheckInterval: managerCfg.HealthCheckInterval,
		stopChan:            make(chan struct{}),
		doneChan:            make(chan struct{}),
	}
}

// Client returns the managed connection
func (m *FeedManager) Client() *FeedClient {
	return m.client
}

// Start subscribes ids, connects and starts health monitoring. A failed
// initial connection is retried by the health loop.
func (m *FeedManager) Start(ctx context.Context, ids []int64) error {
	_ = m.client.Subscribe(ids)

	if err := m.client.Connect(ctx); err != nil {
		m.logger.Errorw("Failed initial feed connection", "error", err)
		m.reconnectMgr.RecordFailure()
	} else {
		m.reconnectMgr.RecordSuccess()
	}

	go m.healthCheckLoop(ctx)

	m.logger.Infow("Feed manager started",
		"instruments", len(ids),
		"health_check_interval", m.healthCheckInterval,
	)
	return nil
}

// UniverseChanged resubscribes with the instruments of the new universe
func (m *FeedManager) UniverseChanged(_ context.Context, u *contract.Universe) error {
	err := m.client.Subscribe(u.InstrumentIDs())
	if errors.Is(err, errors.ErrWSNotConnected) {
		// replayed on reconnect
		return nil
	}
	return err
}

// Stop shuts down health monitoring and closes the connection
func (m *FeedManager) Stop(ctx context.Context) error {
	m.stopOnce.Do(func() { close(m.stopChan) })

	err := m.client.Stop(ctx)

	select {
	case <-m.doneChan:
	case <-ctx.Done():
		m.logger.Warnw("Feed manager stop timeout")
	}
	return err
}

func (m *FeedManager) healthCheckLoop(ctx context.Context) {
	defer close(m.doneChan)

	ticker := time.NewTicker(m.healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.performHealthCheck(ctx)
		case <-m.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (m *FeedManager) performHealthCheck(ctx context.Context) {
	m.mu.Lock()
	m.lastHealthCheck = time.Now()
	m.mu.Unlock()

	connected := m.client.IsConnected()
	healthy := m.reconnectMgr.IsHealthy()
	if connected && healthy {
		return
	}

	stats := m.reconnectMgr.GetStats()
	m.logger.Warnw("Feed connection unhealthy, reconnecting",
		"connected", connected,
		"healthy", healthy,
		"time_since_last_message", stats.TimeSinceLastMessage,
		"consecutive_failures", stats.ConsecutiveFailures,
	)

	if err := m.reconnectMgr.ReconnectWithBackoff(ctx, m.reconnect); err != nil {
		m.logger.Errorw("Failed to reconnect feed", "error", err)
		metrics.FeedReconnects.WithLabelValues(m.name, "failed").Inc()
		return
	}

	m.mu.Lock()
	m.totalReconnects++
	total := m.totalReconnects
	m.mu.Unlock()

	m.logger.Infow("Feed reconnected", "total_reconnects", total)
	metrics.FeedReconnects.WithLabelValues(m.name, "success").Inc()
}

func (m *FeedManager) reconnect(ctx context.Context) error {
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := m.client.Stop(stopCtx); err != nil {
		m.logger.Warnw("Failed to stop old connection gracefully", "error", err)
	}
	cancel()

	return m.client.Connect(ctx)
}

// GetStats returns manager and connection statistics
func (m *FeedManager) GetStats() map[string]interface{} {
	m.mu.RLock()
	total := m.totalReconnects
	lastCheck := m.lastHealthCheck
	m.mu.RUnlock()

	rs := m.reconnectMgr.GetStats()
	cs := m.client.GetStats()

	return map[string]interface{}{
		"connected":               m.client.IsConnected(),
		"total_reconnects":        total,
		"last_health_check":       lastCheck,
		"messages_received":       cs.MessagesReceived,
		"subscribed":              cs.Subscribed,
		"consecutive_failures":    rs.ConsecutiveFailures,
		"circuit_open":            rs.CircuitOpen,
		"time_since_last_message": rs.TimeSinceLastMessage,
		"current_backoff":         rs.CurrentBackoff,
	}
}
