package clickhouse

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"optionsurface/internal/feed"
	"optionsurface/internal/metrics"
	chbatch "optionsurface/pkg/clickhouse"
	"optionsurface/pkg/errors"
	"optionsurface/pkg/logger"
)

// Compile-time check
var _ feed.TickRecorder = (*TickArchive)(nil)

// TickRow is one archived feed tuple
type TickRow struct {
	Observed     time.Time `ch:"observed"`
	Slot         string    `ch:"slot"`
	InstrumentID int64     `ch:"instrument_id"`
	Symbol       string    `ch:"symbol"`
	LastPrice    float64   `ch:"last_price"`
	LastQty      int64     `ch:"last_qty"`
	CumVolume    int64     `ch:"cum_volume"`
	OI           *int64    `ch:"oi"`
	PrevClose    *float64  `ch:"prev_close"`
	Change       *float64  `ch:"change"`
}

// NewTickRow converts a normalized tick
func NewTickRow(symbol string, t feed.Tick) TickRow {
	return TickRow{
		Observed:     t.ObservedAt.UTC(),
		Slot:         t.Slot,
		InstrumentID: t.InstrumentID,
		Symbol:       symbol,
		LastPrice:    t.LastPrice,
		LastQty:      t.LastQty,
		CumVolume:    t.CumVolume,
		OI:           t.OpenInterest,
		PrevClose:    t.Meta.PrevClose,
		Change:       t.Meta.Change,
	}
}

// TickRepository inserts archived ticks
type TickRepository struct {
	conn driver.Conn
}

// NewTickRepository creates a new tick repository
func NewTickRepository(conn driver.Conn) *TickRepository {
	return &TickRepository{conn: conn}
}

// InsertTicks writes one batch of ticks
func (r *TickRepository) InsertTicks(ctx context.Context, rows []TickRow) error {
	if len(rows) == 0 {
		return nil
	}

	batch, err := r.conn.PrepareBatch(ctx, `
		INSERT INTO feed_ticks (
			observed, slot, instrument_id, symbol, last_price,
			last_qty, cum_volume, oi, prev_close, change
		)
	`)
	if err != nil {
		return errors.Wrap(err, "failed to prepare batch")
	}

	for i := range rows {
		if err := batch.AppendStruct(&rows[i]); err != nil {
			return errors.Wrapf(err, "failed to append tick %s", rows[i].Symbol)
		}
	}

	if err := batch.Send(); err != nil {
		return errors.Wrap(err, "failed to send tick batch")
	}
	metrics.TicksArchived.Add(float64(len(rows)))
	return nil
}

// TickArchive takes ticks from the ingestion processors and hands them to a
// batch writer on its own goroutine. RecordTick never blocks: when the
// hand-off buffer is full the tick is counted as dropped.
type TickArchive struct {
	writer  *chbatch.BatchWriter[TickRow]
	in      chan TickRow
	dropped atomic.Uint64
	logger  *logger.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// TickArchiveConfig configures the archive
type TickArchiveConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int
}

// NewTickArchive creates an archive writing through insert
func NewTickArchive(cfg TickArchiveConfig, insert chbatch.FlushFunc[TickRow], log *logger.Logger) *TickArchive {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 8192
	}
	log = log.With("component", "tick_archive")

	return &TickArchive{
		writer: chbatch.NewBatchWriter(chbatch.BatchWriterConfig[TickRow]{
			FlushFunc:    insert,
			TableName:    "feed_ticks",
			MaxBatchSize: cfg.BatchSize,
			MaxAge:       cfg.FlushInterval,
			Logger:       log,
		}),
		in:     make(chan TickRow, cfg.BufferSize),
		logger: log,
		done:   make(chan struct{}),
	}
}

// RecordTick implements feed.TickRecorder
func (a *TickArchive) RecordTick(symbol string, tick feed.Tick) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}

	select {
	case a.in <- NewTickRow(symbol, tick):
	default:
		if a.dropped.Add(1)%1000 == 1 {
			a.logger.Warnw("Tick archive buffer full, dropping ticks", "dropped_total", a.dropped.Load())
		}
	}
}

// Start launches the batch writer and the hand-off loop
func (a *TickArchive) Start(ctx context.Context) {
	a.writer.Start(ctx)

	go func() {
		defer close(a.done)
		for {
			select {
			case <-ctx.Done():
				a.drain()
				return
			case row, ok := <-a.in:
				if !ok {
					return
				}
				_ = a.writer.Add(ctx, row)
			}
		}
	}()
}

// drain moves whatever is still buffered into the writer without blocking
func (a *TickArchive) drain() {
	for {
		select {
		case row := <-a.in:
			_ = a.writer.Add(context.Background(), row)
		default:
			return
		}
	}
}

// Stop drains buffered ticks and flushes the writer
func (a *TickArchive) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.in)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
	case <-ctx.Done():
		return errors.Wrap(errors.ErrTimeout, "tick archive stop")
	}
	return a.writer.Stop(ctx)
}

// Stats reports the writer state and the hand-off drop count
func (a *TickArchive) Stats() (chbatch.BatchWriterStats, uint64) {
	return a.writer.GetStats(), a.dropped.Load()
}
