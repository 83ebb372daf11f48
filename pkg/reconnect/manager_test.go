package reconnect

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionsurface/pkg/errors"
	"optionsurface/pkg/logger"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestManager(cfg Config) (*Manager, *fakeClock, *[]time.Duration) {
	clock := &fakeClock{t: time.Date(2024, 2, 5, 4, 0, 0, 0, time.UTC)}
	var slept []time.Duration
	m := NewManager(cfg, logger.NewNop())
	m.now = clock.Now
	m.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return m, clock, &slept
}

func TestNewManagerDefaults(t *testing.T) {
	m := NewManager(Config{}, logger.NewNop())

	assert.Equal(t, time.Second, m.minBackoff)
	assert.Equal(t, 5*time.Minute, m.maxBackoff)
	assert.Equal(t, 2.0, m.backoffMultiplier)
	assert.Equal(t, 10, m.maxRetries)
	assert.Equal(t, 60*time.Second, m.heartbeatTimeout)
	assert.Equal(t, 5*time.Minute, m.circuitResetAfter)
	assert.Equal(t, time.Second, m.GetBackoff())
}

func TestIsHealthy(t *testing.T) {
	m, clock, _ := newTestManager(Config{HeartbeatTimeout: 30 * time.Second})

	assert.True(t, m.IsHealthy(), "no message yet")

	m.RecordMessageReceived()
	clock.Advance(29 * time.Second)
	assert.True(t, m.IsHealthy())

	clock.Advance(2 * time.Second)
	assert.False(t, m.IsHealthy(), "silent past the heartbeat timeout")

	m.RecordMessageReceived()
	assert.True(t, m.IsHealthy())
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	m, _, _ := newTestManager(Config{
		MinBackoff:        time.Second,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2,
		MaxRetries:        100,
	})

	want := []time.Duration{2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for _, w := range want {
		m.RecordFailure()
		assert.Equal(t, w, m.GetBackoff())
	}

	m.RecordSuccess()
	assert.Equal(t, time.Second, m.GetBackoff())
	assert.Equal(t, 0, m.GetStats().ConsecutiveFailures)
}

func TestCircuitBreaker(t *testing.T) {
	m, clock, _ := newTestManager(Config{MaxRetries: 3, CircuitResetAfter: time.Minute})

	for i := 0; i < 3; i++ {
		assert.True(t, m.ShouldRetry())
		m.RecordFailure()
	}

	st := m.GetStats()
	assert.True(t, st.CircuitOpen)
	assert.False(t, st.IsHealthy)
	assert.False(t, m.ShouldRetry())

	clock.Advance(time.Minute)
	assert.True(t, m.ShouldRetry(), "reset period elapsed")

	m.RecordSuccess()
	assert.False(t, m.GetStats().CircuitOpen)
}

func TestResetCircuit(t *testing.T) {
	m, _, _ := newTestManager(Config{MaxRetries: 1})
	m.RecordFailure()
	require.True(t, m.GetStats().CircuitOpen)

	m.ResetCircuit()
	st := m.GetStats()
	assert.False(t, st.CircuitOpen)
	assert.Equal(t, 0, st.ConsecutiveFailures)
	assert.Equal(t, time.Second, st.CurrentBackoff)
}

func TestReconnectWithBackoff(t *testing.T) {
	m, _, slept := newTestManager(Config{MinBackoff: time.Second, MaxRetries: 2})
	ctx := context.Background()

	calls := 0
	failing := func(context.Context) error {
		calls++
		return errors.New("connection refused")
	}

	require.Error(t, m.ReconnectWithBackoff(ctx, failing))
	require.Error(t, m.ReconnectWithBackoff(ctx, failing))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *slept)

	err := m.ReconnectWithBackoff(ctx, failing)
	assert.True(t, errors.Is(err, errors.ErrUnavailable))
	assert.Equal(t, 2, calls, "an open circuit blocks further attempts")

	m.ResetCircuit()
	require.NoError(t, m.ReconnectWithBackoff(ctx, func(context.Context) error { return nil }))
	assert.Equal(t, 1, m.GetStats().TotalReconnects)
}

func TestReconnectWithBackoffContextCancelled(t *testing.T) {
	m, _, _ := newTestManager(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := m.ReconnectWithBackoff(ctx, func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestConcurrentAccess(t *testing.T) {
	m := NewManager(Config{MaxRetries: 1000}, logger.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				switch (i + j) % 4 {
				case 0:
					m.RecordMessageReceived()
				case 1:
					m.RecordFailure()
				case 2:
					m.RecordSuccess()
				default:
					_ = m.GetStats()
				}
			}
		}(i)
	}
	wg.Wait()
}
