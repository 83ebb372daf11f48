package sink

import (
	"context"
	"time"

	"optionsurface/internal/domain/surface"
	"optionsurface/internal/metrics"
	"optionsurface/pkg/errors"
	"optionsurface/pkg/logger"
)

// Sink operation names used in logs and metrics
const (
	OpInsertSnapshot   = "insert_snapshot"
	OpInsertOptionCalc = "insert_option_calc"
	OpInsertStraddle   = "insert_straddle"
)

// RetryConfig controls boundary retries
type RetryConfig struct {
	Delay   time.Duration
	Retries int
}

// Retrying retries transient failures of the wrapped sink a bounded number
// of times with a fixed delay. A row set that still fails is dropped: the
// error is logged and returned marked with ErrDropped.
type Retrying struct {
	name   string
	next   surface.Sink
	cfg    RetryConfig
	logger *logger.Logger

	// sleep waits d or until ctx is done
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetrying wraps next
func NewRetrying(name string, next surface.Sink, cfg RetryConfig, log *logger.Logger) *Retrying {
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if log == nil {
		log = logger.Get()
	}
	return &Retrying{
		name:   name,
		next:   next,
		cfg:    cfg,
		logger: log.With("component", "sink", "sink", name),
		sleep:  sleepCtx,
	}
}

// Name returns the sink name
func (r *Retrying) Name() string {
	return r.name
}

// InsertSnapshot implements surface.Sink
func (r *Retrying) InsertSnapshot(ctx context.Context, snap surface.SnapshotRecord) error {
	return r.do(ctx, OpInsertSnapshot, len(snap.Quotes), func(ctx context.Context) error {
		return r.next.InsertSnapshot(ctx, snap)
	})
}

// InsertOptionCalc implements surface.Sink
func (r *Retrying) InsertOptionCalc(ctx context.Context, rows []surface.OptionCalcRow) error {
	return r.do(ctx, OpInsertOptionCalc, len(rows), func(ctx context.Context) error {
		return r.next.InsertOptionCalc(ctx, rows)
	})
}

// InsertStraddle implements surface.Sink
func (r *Retrying) InsertStraddle(ctx context.Context, rows []surface.StraddleRow) error {
	return r.do(ctx, OpInsertStraddle, len(rows), func(ctx context.Context) error {
		return r.next.InsertStraddle(ctx, rows)
	})
}

func (r *Retrying) do(ctx context.Context, op string, rows int, fn func(context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		start := time.Now()
		err = fn(ctx)
		if err == nil {
			metrics.RecordSinkWrite(r.name, op, time.Since(start), "success")
			return nil
		}

		if !errors.IsTransient(err) || attempt >= r.cfg.Retries {
			metrics.RecordSinkWrite(r.name, op, time.Since(start), "error")
			break
		}

		metrics.RecordSinkWrite(r.name, op, time.Since(start), "retry")
		r.logger.Warnw("Transient sink failure, retrying",
			"operation", op,
			"attempt", attempt+1,
			"delay", r.cfg.Delay,
			"error", err,
		)
		if sleepErr := r.sleep(ctx, r.cfg.Delay); sleepErr != nil {
			err = errors.Wrap(err, "retry aborted")
			break
		}
	}

	metrics.SinkWrites.WithLabelValues(r.name, op, "dropped").Inc()
	r.logger.Errorw("Dropping rows after sink failure",
		"operation", op,
		"rows", rows,
		"error", err,
	)
	return errors.Mark(errors.Wrapf(err, "%s %s", r.name, op), errors.ErrDropped)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
