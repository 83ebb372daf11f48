package pricing

import (
	"context"
	"time"

	"github.com/google/uuid"

	"optionsurface/internal/analytics"
	"optionsurface/internal/domain/contract"
	"optionsurface/internal/domain/quote"
	"optionsurface/internal/domain/surface"
	"optionsurface/internal/events"
	"optionsurface/internal/metrics"
	"optionsurface/pkg/errors"
	"optionsurface/pkg/logger"
)

// QuoteSource hands out point-in-time copies of the quote table
type QuoteSource interface {
	Snapshot() quote.Snapshot
}

// SnapshotJob persists the quote table at each firing and, unless it is the
// snapshot-only variant, prices the universe against that copy.
// Every row of a run is stamped with the scheduled fire time.
type SnapshotJob struct {
	name      string
	quotes    QuoteSource
	contracts *contract.Store
	engine    *analytics.Engine
	sink      surface.Sink
	timeout   time.Duration
	log       *logger.Logger
}

// NewAnalyticsJob creates the per-minute analytics job
func NewAnalyticsJob(
	quotes QuoteSource,
	contracts *contract.Store,
	engine *analytics.Engine,
	sink surface.Sink,
	timeout time.Duration,
	log *logger.Logger,
) *SnapshotJob {
	return newSnapshotJob("analytics_snapshot", quotes, contracts, engine, sink, timeout, log)
}

// NewPreOpenJob creates the snapshot-only job run before the session opens
func NewPreOpenJob(quotes QuoteSource, sink surface.Sink, timeout time.Duration, log *logger.Logger) *SnapshotJob {
	return newSnapshotJob("pre_open_snapshot", quotes, nil, nil, sink, timeout, log)
}

func newSnapshotJob(
	name string,
	quotes QuoteSource,
	contracts *contract.Store,
	engine *analytics.Engine,
	sink surface.Sink,
	timeout time.Duration,
	log *logger.Logger,
) *SnapshotJob {
	if log == nil {
		log = logger.Get()
	}
	return &SnapshotJob{
		name:      name,
		quotes:    quotes,
		contracts: contracts,
		engine:    engine,
		sink:      sink,
		timeout:   timeout,
		log:       log.With("job", name),
	}
}

// Name implements workers.Job
func (j *SnapshotJob) Name() string {
	return j.name
}

// SnapshotOnly reports whether the job skips pricing
func (j *SnapshotJob) SnapshotOnly() bool {
	return j.engine == nil
}

// Run implements workers.Job. Sink failures are logged and collected; a
// failed write of one table does not stop the writes of the others.
func (j *SnapshotJob) Run(ctx context.Context, fireTime time.Time) error {
	runID := uuid.New()
	ctx = events.WithRunID(ctx, runID)
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}
	log := j.log.With("run_id", runID.String(), "fire_time", fireTime)

	snap := j.quotes.Snapshot()
	var errs errors.MultiError

	record := surface.SnapshotRecord{Timestamp: fireTime, Quotes: snap.Quotes()}
	if err := j.sink.InsertSnapshot(ctx, record); err != nil {
		log.Errorw("Failed to persist quote snapshot", "symbols", snap.Len(), "error", err)
		errs.Add(errors.Wrap(err, "insert snapshot"))
	}

	if j.SnapshotOnly() {
		log.Debugw("Snapshot persisted", "symbols", snap.Len())
		return errs.ToError()
	}

	universe := j.contracts.Current()
	if universe == nil {
		errs.Add(errors.Wrap(errors.ErrNotFound, "contract universe not loaded"))
		return errs.ToError()
	}

	res := j.engine.Run(fireTime, snap, universe)
	for _, key := range res.Dropped {
		metrics.DroppedChains.WithLabelValues(key.Underlying).Inc()
	}
	metrics.SolverFailures.Add(float64(res.SolverFailures))

	if len(res.OptionCalc) > 0 {
		if err := j.sink.InsertOptionCalc(ctx, res.OptionCalc); err != nil {
			log.Errorw("Failed to persist option calc rows", "rows", len(res.OptionCalc), "error", err)
			errs.Add(errors.Wrap(err, "insert option calc"))
		} else {
			metrics.AnalyticsRows.WithLabelValues("option_calc").Add(float64(len(res.OptionCalc)))
		}
	}

	if len(res.Straddles) > 0 {
		if err := j.sink.InsertStraddle(ctx, res.Straddles); err != nil {
			log.Errorw("Failed to persist straddle rows", "rows", len(res.Straddles), "error", err)
			errs.Add(errors.Wrap(err, "insert straddle"))
		} else {
			metrics.AnalyticsRows.WithLabelValues("straddle").Add(float64(len(res.Straddles)))
		}
	}

	log.Infow("Analytics run complete",
		"symbols", snap.Len(),
		"option_rows", len(res.OptionCalc),
		"straddle_rows", len(res.Straddles),
		"dropped_chains", len(res.Dropped),
		"solver_failures", res.SolverFailures,
	)

	return errs.ToError()
}
