package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionsurface/internal/domain/quote"
	"optionsurface/internal/feed"
	chbatch "optionsurface/pkg/clickhouse"
	"optionsurface/pkg/errors"
	"optionsurface/pkg/logger"
)

type fakeMirror struct {
	calls   int
	symbols int
	err     error
}

func (m *fakeMirror) MirrorQuotes(_ context.Context, snap quote.Snapshot) (int, error) {
	m.calls++
	if m.err != nil {
		return 0, m.err
	}
	m.symbols = snap.Len()
	return snap.Len(), nil
}

func TestQuoteMirror(t *testing.T) {
	table := quote.NewTable()
	mirror := &fakeMirror{}
	w := NewQuoteMirror(table, mirror, 5*time.Second, true, logger.NewNop())

	require.NoError(t, w.Run(context.Background()))
	assert.Equal(t, 0, mirror.calls, "an empty table is not mirrored")

	px := 21520.0
	table.Upsert(quote.Quote{Symbol: "NIFTY24FEBFUT", LastPrice: &px})
	table.Upsert(quote.Quote{Symbol: "NIFTY 50", LastPrice: &px})
	require.NoError(t, w.Run(context.Background()))
	assert.Equal(t, 1, mirror.calls)
	assert.Equal(t, 2, mirror.symbols)

	mirror.err = errors.Wrap(errors.ErrUnavailable, "redis down")
	err := w.Run(context.Background())
	assert.True(t, errors.Is(err, errors.ErrUnavailable))
}

func TestQuoteMirrorDisabledWithoutInterval(t *testing.T) {
	w := NewQuoteMirror(quote.NewTable(), &fakeMirror{}, 0, true, logger.NewNop())
	assert.False(t, w.Enabled())
	assert.Equal(t, "quote_mirror", w.Name())
}

type fakePipeline struct {
	name  string
	stats feed.Stats
}

func (p *fakePipeline) Name() string      { return p.name }
func (p *fakePipeline) Stats() feed.Stats { return p.stats }

type fakeArchive struct{}

func (fakeArchive) Stats() (chbatch.BatchWriterStats, uint64) {
	return chbatch.BatchWriterStats{BufferSize: 12, Flushed: 1500, LastFlushAge: time.Second}, 3
}

func TestPipelineMonitorDetectsStall(t *testing.T) {
	live := &fakePipeline{name: "ws-0", stats: feed.Stats{Applied: 10}}
	stuck := &fakePipeline{name: "ws-1", stats: feed.Stats{Applied: 4}}
	open := true
	w := NewPipelineMonitor(
		[]PipelineStats{live, stuck},
		fakeArchive{},
		func(time.Time) bool { return open },
		30*time.Second, true, logger.NewNop(),
	)

	assert.Empty(t, w.Stalled(), "the first round only records a baseline")

	live.stats.Applied = 25
	assert.Equal(t, []string{"ws-1"}, w.Stalled())

	open = false
	assert.Empty(t, w.Stalled(), "no ticks are expected outside the session")

	require.NoError(t, w.Run(context.Background()))
}
