package reconnect

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"optionsurface/pkg/errors"
	"optionsurface/pkg/logger"
)

// Manager tracks connection liveness and paces reconnect attempts with
// exponential backoff and a circuit breaker. It is transport agnostic.
type Manager struct {
	minBackoff        time.Duration
	maxBackoff        time.Duration
	backoffMultiplier float64
	maxRetries        int
	heartbeatTimeout  time.Duration
	circuitResetAfter time.Duration

	mu                  sync.RWMutex
	currentBackoff      time.Duration
	consecutiveFailures int
	totalReconnects     int
	circuitOpen         bool
	circuitOpenedAt     time.Time

	lastMessage atomic.Int64 // unix nanos, 0 until the first message

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	logger *logger.Logger
}

// Config configures the reconnect manager. Zero fields take defaults.
type Config struct {
	MinBackoff          time.Duration // first wait, default 1s
	MaxBackoff          time.Duration // cap, default 5m
	BackoffMultiplier   float64       // default 2
	MaxRetries          int           // consecutive failures before the circuit opens, default 10
	HealthCheckInterval time.Duration // used by callers that poll IsHealthy
	HeartbeatTimeout    time.Duration // silence after which the connection is dead, default 60s
	CircuitResetAfter   time.Duration // how long an open circuit blocks retries, default 5m
}

// NewManager creates a reconnect manager
func NewManager(cfg Config, log *logger.Logger) *Manager {
	if cfg.MinBackoff == 0 {
		cfg.MinBackoff = time.Second
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = 5 * time.Minute
	}
	if cfg.BackoffMultiplier == 0 {
		cfg.BackoffMultiplier = 2.0
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 10
	}
	if cfg.HeartbeatTimeout == 0 {
		cfg.HeartbeatTimeout = 60 * time.Second
	}
	if cfg.CircuitResetAfter == 0 {
		cfg.CircuitResetAfter = 5 * time.Minute
	}
	if log == nil {
		log = logger.Get()
	}

	return &Manager{
		minBackoff:        cfg.MinBackoff,
		maxBackoff:        cfg.MaxBackoff,
		backoffMultiplier: cfg.BackoffMultiplier,
		maxRetries:        cfg.MaxRetries,
		heartbeatTimeout:  cfg.HeartbeatTimeout,
		circuitResetAfter: cfg.CircuitResetAfter,
		currentBackoff:    cfg.MinBackoff,
		now:               time.Now,
		sleep:             sleepCtx,
		logger:            log,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RecordMessageReceived marks the connection alive. Call it for every message.
func (m *Manager) RecordMessageReceived() {
	m.lastMessage.Store(m.now().UnixNano())
}

// IsHealthy reports whether the circuit is closed and a message arrived
// within the heartbeat timeout. A connection that has not received anything
// yet counts as healthy.
func (m *Manager) IsHealthy() bool {
	m.mu.RLock()
	open := m.circuitOpen
	m.mu.RUnlock()
	if open {
		return false
	}

	last := m.lastMessage.Load()
	if last == 0 {
		return true
	}
	silence := m.now().Sub(time.Unix(0, last))
	if silence > m.heartbeatTimeout {
		m.logger.Warnw("Connection silent past heartbeat timeout",
			"silence", silence,
			"heartbeat_timeout", m.heartbeatTimeout,
		)
		return false
	}
	return true
}

// ShouldRetry reports whether another reconnect attempt is allowed
func (m *Manager) ShouldRetry() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.circuitOpen {
		return m.now().Sub(m.circuitOpenedAt) >= m.circuitResetAfter
	}
	return m.maxRetries <= 0 || m.consecutiveFailures < m.maxRetries
}

// GetBackoff returns the wait before the next attempt
func (m *Manager) GetBackoff() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentBackoff
}

// RecordFailure grows the backoff and opens the circuit after too many
// consecutive failures
func (m *Manager) RecordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.consecutiveFailures++
	next := time.Duration(float64(m.currentBackoff) * m.backoffMultiplier)
	if next > m.maxBackoff {
		next = m.maxBackoff
	}
	m.currentBackoff = next

	m.logger.Warnw("Reconnection failed",
		"consecutive_failures", m.consecutiveFailures,
		"next_backoff", m.currentBackoff,
	)

	if m.maxRetries > 0 && m.consecutiveFailures >= m.maxRetries {
		m.circuitOpen = true
		m.circuitOpenedAt = m.now()
		m.logger.Errorw("Circuit breaker opened",
			"consecutive_failures", m.consecutiveFailures,
			"circuit_reset_after", m.circuitResetAfter,
		)
	}
}

// RecordSuccess resets backoff, failures and the circuit
func (m *Manager) RecordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.consecutiveFailures > 0 {
		m.logger.Infow("Reconnection succeeded, backoff reset",
			"previous_failures", m.consecutiveFailures,
		)
	}
	if m.circuitOpen {
		m.logger.Infow("Circuit breaker closed", "total_reconnects", m.totalReconnects+1)
	}

	m.currentBackoff = m.minBackoff
	m.consecutiveFailures = 0
	m.totalReconnects++
	m.circuitOpen = false
	m.circuitOpenedAt = time.Time{}
	m.lastMessage.Store(m.now().UnixNano())
}

// ResetCircuit closes an open circuit without waiting for the reset period
func (m *Manager) ResetCircuit() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.circuitOpen {
		return
	}
	m.circuitOpen = false
	m.circuitOpenedAt = time.Time{}
	m.consecutiveFailures = 0
	m.currentBackoff = m.minBackoff
	m.logger.Infow("Circuit breaker reset manually")
}

// Stats is a point-in-time view of the manager
type Stats struct {
	ConsecutiveFailures  int
	TotalReconnects      int
	CurrentBackoff       time.Duration
	CircuitOpen          bool
	CircuitOpenedAt      time.Time
	LastMessageTime      time.Time
	TimeSinceLastMessage time.Duration
	IsHealthy            bool
}

// GetStats returns current statistics
func (m *Manager) GetStats() Stats {
	healthy := m.IsHealthy()

	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Stats{
		ConsecutiveFailures: m.consecutiveFailures,
		TotalReconnects:     m.totalReconnects,
		CurrentBackoff:      m.currentBackoff,
		CircuitOpen:         m.circuitOpen,
		CircuitOpenedAt:     m.circuitOpenedAt,
		IsHealthy:           healthy,
	}
	if last := m.lastMessage.Load(); last != 0 {
		st.LastMessageTime = time.Unix(0, last)
		st.TimeSinceLastMessage = m.now().Sub(st.LastMessageTime)
	}
	return st
}

// ReconnectWithBackoff waits the current backoff and then calls reconnectFn.
// It refuses to try while the circuit is open or retries are exhausted.
func (m *Manager) ReconnectWithBackoff(ctx context.Context, reconnectFn func(context.Context) error) error {
	if !m.ShouldRetry() {
		m.mu.RLock()
		open, failures := m.circuitOpen, m.consecutiveFailures
		m.mu.RUnlock()

		if open {
			return errors.Wrap(errors.ErrUnavailable, "circuit breaker is open")
		}
		return errors.Wrapf(errors.ErrUnavailable, "max retries reached after %d consecutive failures", failures)
	}

	if backoff := m.GetBackoff(); backoff > 0 {
		m.logger.Infow("Waiting before reconnect attempt", "backoff", backoff)
		if err := m.sleep(ctx, backoff); err != nil {
			return err
		}
	}

	if err := reconnectFn(ctx); err != nil {
		m.RecordFailure()
		return errors.Wrap(err, "reconnection failed")
	}

	m.RecordSuccess()
	return nil
}
