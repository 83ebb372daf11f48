package sink

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionsurface/internal/domain/contract"
	"optionsurface/internal/domain/surface"
	"optionsurface/pkg/errors"
	"optionsurface/pkg/logger"
)

var ts = time.Date(2024, 2, 5, 4, 31, 0, 0, time.UTC)

func optionRows() []surface.OptionCalcRow {
	ltp := 118.5
	return []surface.OptionCalcRow{
		{Timestamp: ts, Symbol: "NIFTY24FEB21500CE", Underlying: "NIFTY", Strike: 21500, OptionType: contract.Call, LTP: &ltp},
		{Timestamp: ts, Symbol: "NIFTY24FEB21500PE", Underlying: "NIFTY", Strike: 21500, OptionType: contract.Put},
	}
}

// scriptedSink fails with the queued errors, then succeeds
type scriptedSink struct {
	mu    sync.Mutex
	errs  []error
	calls int
	*Memory
}

func newScripted(errs ...error) *scriptedSink {
	return &scriptedSink{errs: errs, Memory: NewMemory()}
}

func (s *scriptedSink) next() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

func (s *scriptedSink) InsertOptionCalc(ctx context.Context, rows []surface.OptionCalcRow) error {
	if err := s.next(); err != nil {
		return err
	}
	return s.Memory.InsertOptionCalc(ctx, rows)
}

func (s *scriptedSink) InsertStraddle(ctx context.Context, rows []surface.StraddleRow) error {
	if err := s.next(); err != nil {
		return err
	}
	return s.Memory.InsertStraddle(ctx, rows)
}

func newTestRetrying(next surface.Sink, slept *[]time.Duration) *Retrying {
	r := NewRetrying("test", next, RetryConfig{Delay: 5 * time.Second, Retries: 1}, logger.NewNop())
	r.sleep = func(ctx context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return ctx.Err()
	}
	return r
}

func TestRetryingRetriesTransientOnce(t *testing.T) {
	var slept []time.Duration
	inner := newScripted(errors.Wrap(errors.ErrUnavailable, "connection reset"))
	r := newTestRetrying(inner, &slept)

	err := r.InsertOptionCalc(context.Background(), optionRows())
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, []time.Duration{5 * time.Second}, slept)
	assert.Len(t, inner.OptionCalc(), 2)
}

func TestRetryingDropsAfterExhaustingRetries(t *testing.T) {
	var slept []time.Duration
	inner := newScripted(errors.ErrTimeout, context.DeadlineExceeded)
	r := newTestRetrying(inner, &slept)

	err := r.InsertOptionCalc(context.Background(), optionRows())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDropped))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, 2, inner.calls)
	assert.Len(t, slept, 1)
	assert.Empty(t, inner.OptionCalc())
}

func TestRetryingDoesNotRetryPermanentErrors(t *testing.T) {
	var slept []time.Duration
	inner := newScripted(errors.Wrap(errors.ErrInvalidInput, "column does not exist"))
	r := newTestRetrying(inner, &slept)

	err := r.InsertStraddle(context.Background(), []surface.StraddleRow{{Timestamp: ts, Underlying: "NIFTY", Strike: 21500}})
	assert.True(t, errors.Is(err, errors.ErrDropped))
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
	assert.Equal(t, 1, inner.calls)
	assert.Empty(t, slept)
}

func TestRetryingStopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var slept []time.Duration
	inner := newScripted(errors.ErrUnavailable)
	r := newTestRetrying(inner, &slept)

	err := r.InsertOptionCalc(ctx, optionRows())
	assert.True(t, errors.Is(err, errors.ErrDropped))
	assert.Equal(t, 1, inner.calls)
}

func TestMemoryIsIdempotentOnNaturalKey(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	rows := optionRows()
	require.NoError(t, m.InsertOptionCalc(ctx, rows))
	require.NoError(t, m.InsertOptionCalc(ctx, rows))
	assert.Len(t, m.OptionCalc(), 2)

	straddle := surface.StraddleRow{Timestamp: ts, Underlying: "NIFTY", Expiry: ts, Strike: 21500}
	require.NoError(t, m.InsertStraddle(ctx, []surface.StraddleRow{straddle, straddle}))
	require.NoError(t, m.InsertStraddle(ctx, []surface.StraddleRow{straddle}))
	assert.Len(t, m.Straddles(), 1)

	snap := surface.SnapshotRecord{Timestamp: ts}
	require.NoError(t, m.InsertSnapshot(ctx, snap))
	require.NoError(t, m.InsertSnapshot(ctx, snap))
	assert.Len(t, m.Snapshots(), 1)
}

func TestRetriedBatchLeavesOneRowPerKey(t *testing.T) {
	var slept []time.Duration
	inner := newScripted(errors.ErrUnavailable)
	r := newTestRetrying(inner, &slept)

	// the failed attempt may have partially landed before; resubmission is a no-op for those keys
	require.NoError(t, inner.Memory.InsertOptionCalc(context.Background(), optionRows()[:1]))
	require.NoError(t, r.InsertOptionCalc(context.Background(), optionRows()))
	require.NoError(t, r.InsertOptionCalc(context.Background(), optionRows()))

	assert.Len(t, inner.OptionCalc(), 2)
}

func TestFanoutCollectsFailures(t *testing.T) {
	good := NewMemory()
	bad := newScripted(errors.ErrInvalidInput)
	f := NewFanout(good, bad)

	err := f.InsertOptionCalc(context.Background(), optionRows())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
	assert.Len(t, good.OptionCalc(), 2, "a failing sink does not block the others")
	assert.Equal(t, 2, f.Len())

	assert.NoError(t, NewFanout(good).InsertSnapshot(context.Background(), surface.SnapshotRecord{Timestamp: ts}))
}
