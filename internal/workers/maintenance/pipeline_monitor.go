package maintenance

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"

	"optionsurface/internal/feed"
	"optionsurface/internal/workers"
	chbatch "optionsurface/pkg/clickhouse"
	"optionsurface/pkg/logger"
)

// PipelineStats is implemented by ingestion pipelines
type PipelineStats interface {
	Name() string
	Stats() feed.Stats
}

// ArchiveStats is implemented by the tick archive
type ArchiveStats interface {
	Stats() (chbatch.BatchWriterStats, uint64)
}

// PipelineMonitor logs ingestion counters and warns when a pipeline stops
// applying ticks while the session is open
type PipelineMonitor struct {
	*workers.BaseWorker
	pipelines []PipelineStats
	archive   ArchiveStats
	isOpen    func(time.Time) bool
	now       func() time.Time

	last map[string]uint64
}

// NewPipelineMonitor creates the pipeline monitor worker. archive may be nil.
// isOpen reports whether ticks are expected at a given instant.
func NewPipelineMonitor(
	pipelines []PipelineStats,
	archive ArchiveStats,
	isOpen func(time.Time) bool,
	interval time.Duration,
	enabled bool,
	log *logger.Logger,
) *PipelineMonitor {
	if log == nil {
		log = logger.Get()
	}
	if isOpen == nil {
		isOpen = func(time.Time) bool { return true }
	}
	return &PipelineMonitor{
		BaseWorker: workers.NewBaseWorker("pipeline_monitor", interval, enabled, log),
		pipelines:  pipelines,
		archive:    archive,
		isOpen:     isOpen,
		now:        time.Now,
		last:       make(map[string]uint64),
	}
}

// Run logs one round of statistics
func (w *PipelineMonitor) Run(ctx context.Context) error {
	w.Stalled()

	if w.archive != nil {
		st, dropped := w.archive.Stats()
		w.Log().Infow("Tick archive stats",
			"buffered", st.BufferSize,
			"flushed", humanize.Comma(int64(st.Flushed)),
			"failed_batches", st.Failed,
			"dropped", humanize.Comma(int64(dropped)),
			"last_flush", humanize.Time(w.now().Add(-st.LastFlushAge)),
		)
	}
	return nil
}

// Stalled logs every pipeline and returns the names of those that applied no
// tick since the previous call while the session was open
func (w *PipelineMonitor) Stalled() []string {
	open := w.isOpen(w.now())

	var stalled []string
	for _, p := range w.pipelines {
		st := p.Stats()
		prev, seen := w.last[p.Name()]
		w.last[p.Name()] = st.Applied

		w.Log().Infow("Ingestion pipeline stats",
			"pipeline", p.Name(),
			"applied", humanize.Comma(int64(st.Applied)),
			"batches", humanize.Comma(int64(st.Batches)),
			"oi_updates", humanize.Comma(int64(st.OIUpdates)),
			"malformed", st.Malformed,
			"unknown", st.Unknown,
			"queue_depth", st.QueueDepth,
		)

		if open && seen && st.Applied == prev {
			w.Log().Warnw("Ingestion pipeline applied no ticks since last check",
				"pipeline", p.Name(),
				"interval", w.Interval(),
			)
			stalled = append(stalled, p.Name())
		}
	}
	return stalled
}
