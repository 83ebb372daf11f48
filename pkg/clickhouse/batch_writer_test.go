package clickhouse

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

type recorder struct {
	mu      sync.Mutex
	batches [][]int
	err     error
}

func (r *recorder) flush(_ context.Context, batch []int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.batches = append(r.batches, batch)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func newWriter(r *recorder, size int, age time.Duration) *BatchWriter[int] {
	return NewBatchWriter(BatchWriterConfig[int]{
		FlushFunc:    r.flush,
		TableName:    "test_table",
		MaxBatchSize: size,
		MaxAge:       age,
		Logger:       logger.NewNop(),
	})
}

func TestBatchWriter_FlushOnMaxSize(t *testing.T) {
	rec := &recorder{}
	bw := newWriter(rec, 3, 10*time.Second)
	ctx := context.Background()

	require.NoError(t, bw.Add(ctx, 1))
	require.NoError(t, bw.Add(ctx, 2))
	assert.Equal(t, 0, rec.count())
	require.NoError(t, bw.Add(ctx, 3))

	require.Equal(t, 1, rec.count())
	assert.Equal(t, []int{1, 2, 3}, rec.batches[0])
	assert.Equal(t, 0, bw.BufferSize())
	assert.Equal(t, uint64(3), bw.GetStats().Flushed)
}

func TestBatchWriter_FlushOnTimer(t *testing.T) {
	rec := &recorder{}
	bw := newWriter(rec, 100, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bw.Start(ctx)

	require.NoError(t, bw.Add(ctx, 1))
	require.NoError(t, bw.Add(ctx, 2))

	assert.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, bw.Stop(context.Background()))
}

func TestBatchWriter_StopFlushesRemainder(t *testing.T) {
	rec := &recorder{}
	bw := newWriter(rec, 100, time.Hour)
	bw.Start(context.Background())

	require.NoError(t, bw.Add(context.Background(), 7))
	require.NoError(t, bw.Stop(context.Background()))

	require.Equal(t, 1, rec.count())
	assert.Equal(t, []int{7}, rec.batches[0])
	assert.False(t, bw.GetStats().Running)

	// second stop is a no-op
	assert.NoError(t, bw.Stop(context.Background()))
}

func TestBatchWriter_FailedFlushDropsBatch(t *testing.T) {
	rec := &recorder{err: errors.ErrUnavailable}
	bw := newWriter(rec, 2, time.Hour)
	ctx := context.Background()

	require.NoError(t, bw.Add(ctx, 1))
	err := bw.Add(ctx, 2)
	assert.True(t, errors.Is(err, errors.ErrUnavailable))

	stats := bw.GetStats()
	assert.Equal(t, 0, stats.BufferSize)
	assert.Equal(t, uint64(2), stats.Failed)
	assert.Equal(t, uint64(0), stats.Flushed)
}

func TestBatchWriter_FlushEmptyIsNoop(t *testing.T) {
	rec := &recorder{}
	bw := newWriter(rec, 2, time.Hour)
	assert.NoError(t, bw.Flush(context.Background()))
	assert.Equal(t, 0, rec.count())
}
