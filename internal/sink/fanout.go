package sink

import (
	"context"
	"sync"

	"optionsurface/internal/domain/surface"
	"optionsurface/pkg/errors"
)

// Fanout writes every call to all sinks concurrently. A failing sink does not
// stop the others; failures are collected into one MultiError.
type Fanout struct {
	sinks []surface.Sink
}

// NewFanout composes sinks
func NewFanout(sinks ...surface.Sink) *Fanout {
	return &Fanout{sinks: sinks}
}

// Len returns the number of composed sinks
func (f *Fanout) Len() int {
	return len(f.sinks)
}

// InsertSnapshot implements surface.Sink
func (f *Fanout) InsertSnapshot(ctx context.Context, snap surface.SnapshotRecord) error {
	return f.each(ctx, func(ctx context.Context, s surface.Sink) error {
		return s.InsertSnapshot(ctx, snap)
	})
}

// InsertOptionCalc implements surface.Sink
func (f *Fanout) InsertOptionCalc(ctx context.Context, rows []surface.OptionCalcRow) error {
	return f.each(ctx, func(ctx context.Context, s surface.Sink) error {
		return s.InsertOptionCalc(ctx, rows)
	})
}

// InsertStraddle implements surface.Sink
func (f *Fanout) InsertStraddle(ctx context.Context, rows []surface.StraddleRow) error {
	return f.each(ctx, func(ctx context.Context, s surface.Sink) error {
		return s.InsertStraddle(ctx, rows)
	})
}

func (f *Fanout) each(ctx context.Context, fn func(context.Context, surface.Sink) error) error {
	if len(f.sinks) == 1 {
		return fn(ctx, f.sinks[0])
	}

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		errs errors.MultiError
	)
	for _, s := range f.sinks {
		wg.Add(1)
		go func(s surface.Sink) {
			defer wg.Done()
			if err := fn(ctx, s); err != nil {
				mu.Lock()
				errs.Add(err)
				mu.Unlock()
			}
		}(s)
	}
	wg.Wait()

	return errs.ToError()
}
