package feed

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionsurface/internal/domain/quote"
	"optionsurface/pkg/errors"
	"optionsurface/pkg/logger"
)

type symbolMap map[int64]string

func (m symbolMap) SymbolFor(id int64) (string, bool) {
	s, ok := m[id]
	return s, ok
}

type countingRecorder struct {
	n atomic.Int64
}

func (r *countingRecorder) RecordTick(string, Tick) {
	r.n.Add(1)
}

func fullTickJSON(id int64, price float64) []byte {
	return []byte(fmt.Sprintf(`{"instrument_token":%d,"last_price":%v,"exchange_timestamp":"2024-02-05 10:01:07"}`, id, price))
}

func newTestPipeline(t *testing.T, transport Transport, mode Mode, table *quote.Table, recorder TickRecorder) *Pipeline {
	t.Helper()
	n, err := NewNormalizer(mode, kolkata(t))
	require.NoError(t, err)

	return NewPipeline(Config{
		Name:         "test",
		QueueSize:    16,
		PollInterval: 5 * time.Millisecond,
		StopTimeout:  time.Second,
	}, transport, n, table, symbolMap{11: "NIFTY21500CE", 12: "NIFTY21500PE", 68094: "NIFTY24APR22200CE"}, recorder, logger.NewNop())
}

func TestPipelineLastWriteWins(t *testing.T) {
	transport := NewChanTransport(16)
	table := quote.NewTable()
	recorder := &countingRecorder{}
	p := newTestPipeline(t, transport, ModeFull, table, recorder)

	ctx := context.Background()
	require.NoError(t, p.Start(ctx))
	defer func() { _ = p.Stop() }()

	// interleave another symbol between writes to 11
	require.NoError(t, transport.Push(ctx, [][]byte{fullTickJSON(11, 100), fullTickJSON(12, 80)}))
	require.NoError(t, transport.Push(ctx, [][]byte{fullTickJSON(11, 101), fullTickJSON(12, 79)}))
	require.NoError(t, transport.Push(ctx, [][]byte{fullTickJSON(11, 102.5)}))

	require.Eventually(t, func() bool { return p.Stats().Applied == 5 }, time.Second, 5*time.Millisecond)

	q, ok := table.Get("NIFTY21500CE")
	require.True(t, ok)
	assert.Equal(t, 102.5, *q.LastPrice)

	q, ok = table.Get("NIFTY21500PE")
	require.True(t, ok)
	assert.Equal(t, 79.0, *q.LastPrice)

	assert.Equal(t, int64(5), recorder.n.Load())
	assert.Equal(t, uint64(3), p.Stats().Batches)
}

func TestPipelineIsolatesBadMessages(t *testing.T) {
	transport := NewChanTransport(16)
	table := quote.NewTable()
	p := newTestPipeline(t, transport, ModeFull, table, nil)

	ctx := context.Background()
	require.NoError(t, p.Start(ctx))
	defer func() { _ = p.Stop() }()

	require.NoError(t, transport.Push(ctx, [][]byte{
		[]byte(`{"instrument_token":`),
		fullTickJSON(999, 1),
		fullTickJSON(11, 100),
	}))

	require.Eventually(t, func() bool { return p.Stats().Applied == 1 }, time.Second, 5*time.Millisecond)

	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.Malformed)
	assert.Equal(t, uint64(1), stats.Unknown)
	assert.Equal(t, 1, table.Len())
}

type panicNormalizer struct{}

func (panicNormalizer) Normalize(raw []byte) (Tick, bool, error) {
	if string(raw) == "boom" {
		panic("boom")
	}
	return Tick{InstrumentID: 11, LastPrice: 1}, true, nil
}

func TestPipelineRecoversFromPanics(t *testing.T) {
	transport := NewChanTransport(4)
	table := quote.NewTable()
	p := NewPipeline(Config{Name: "panic", PollInterval: time.Millisecond}, transport, panicNormalizer{}, table,
		symbolMap{11: "NIFTY21500CE"}, nil, logger.NewNop())

	ctx := context.Background()
	require.NoError(t, p.Start(ctx))
	defer func() { _ = p.Stop() }()

	require.NoError(t, transport.Push(ctx, [][]byte{[]byte("boom"), []byte("ok")}))
	require.Eventually(t, func() bool { return p.Stats().Applied == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, uint64(1), p.Stats().Panics)
}

func TestPipelineTouchlineOpenInterest(t *testing.T) {
	transport := NewChanTransport(16)
	table := quote.NewTable()
	p := newTestPipeline(t, transport, ModeTouchline, table, nil)

	ctx := context.Background()
	require.NoError(t, p.Start(ctx))
	defer func() { _ = p.Stop() }()

	require.NoError(t, transport.Push(ctx, [][]byte{touchline(68094, 1396448201, 518.75)}))
	require.Eventually(t, func() bool { return p.Stats().Applied == 1 }, time.Second, 5*time.Millisecond)

	q, _ := table.Get("NIFTY24APR22200CE")
	assert.Nil(t, q.OpenInterest)

	require.NoError(t, transport.Push(ctx, [][]byte{openInterest(68094, 3400), touchline(68094, 1396448262, 519.1)}))
	require.Eventually(t, func() bool { return p.Stats().Applied == 2 }, time.Second, 5*time.Millisecond)

	q, _ = table.Get("NIFTY24APR22200CE")
	require.NotNil(t, q.OpenInterest)
	assert.Equal(t, int64(3400), *q.OpenInterest)
	assert.Equal(t, uint64(1), p.Stats().OIUpdates)
}

// blockingTransport never delivers and only returns once closed
type blockingTransport struct {
	done   chan struct{}
	closed atomic.Bool
}

func (b *blockingTransport) Receive(ctx context.Context) ([][]byte, error) {
	<-b.done
	return nil, errors.ErrTransportClosed
}

func (b *blockingTransport) Close() error {
	if b.closed.CompareAndSwap(false, true) {
		close(b.done)
	}
	return nil
}

func TestPipelineStopIsBoundedAndFinal(t *testing.T) {
	transport := NewChanTransport(64)
	table := quote.NewTable()
	p := newTestPipeline(t, transport, ModeFull, table, nil)

	ctx := context.Background()
	require.NoError(t, p.Start(ctx))

	require.NoError(t, transport.Push(ctx, [][]byte{fullTickJSON(11, 100)}))
	require.Eventually(t, func() bool { return p.Stats().Applied == 1 }, time.Second, 5*time.Millisecond)

	start := time.Now()
	require.NoError(t, p.Stop())
	assert.Less(t, time.Since(start), time.Second)

	// the transport is closed and nothing reaches the table any more
	err := transport.Push(ctx, [][]byte{fullTickJSON(11, 200)})
	assert.True(t, errors.Is(err, errors.ErrTransportClosed))
	time.Sleep(20 * time.Millisecond)

	q, _ := table.Get("NIFTY21500CE")
	assert.Equal(t, 100.0, *q.LastPrice)
	assert.Equal(t, uint64(1), p.Stats().Applied)

	assert.NoError(t, p.Stop(), "stop is idempotent")
}

func TestPipelineStopUnblocksPendingReceive(t *testing.T) {
	transport := &blockingTransport{done: make(chan struct{})}
	p := newTestPipeline(t, transport, ModeFull, quote.NewTable(), nil)

	require.NoError(t, p.Start(context.Background()))
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, p.Stop())
	assert.True(t, transport.closed.Load())
}

func TestPipelineStartTwice(t *testing.T) {
	p := newTestPipeline(t, NewChanTransport(1), ModeFull, quote.NewTable(), nil)
	require.NoError(t, p.Start(context.Background()))
	defer func() { _ = p.Stop() }()

	assert.Error(t, p.Start(context.Background()))
}

func TestSplitBatch(t *testing.T) {
	batch, err := SplitBatch([]byte(` [{"a":1}, {"b":2}] `))
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.JSONEq(t, `{"b":2}`, string(batch[1]))

	batch, err = SplitBatch([]byte(`{"a":1}`))
	require.NoError(t, err)
	assert.Len(t, batch, 1)

	batch, err = SplitBatch(nil)
	require.NoError(t, err)
	assert.Empty(t, batch)

	_, err = SplitBatch([]byte(`[{"a":`))
	assert.True(t, errors.Is(err, errors.ErrMalformedMessage))
}
