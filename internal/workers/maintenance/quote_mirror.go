package maintenance

import (
	"context"
	"time"

	"optionsurface/internal/domain/quote"
	"optionsurface/internal/metrics"
	"optionsurface/internal/workers"
	"optionsurface/pkg/errors"
	"optionsurface/pkg/logger"
)

// QuoteSource hands out point-in-time copies of the quote table
type QuoteSource interface {
	Snapshot() quote.Snapshot
}

// Mirror stores a copy of the quote table outside the process
type Mirror interface {
	MirrorQuotes(ctx context.Context, snap quote.Snapshot) (int, error)
}

// QuoteMirror periodically copies the quote table into an external store so
// other processes can read the latest known prices
type QuoteMirror struct {
	*workers.BaseWorker
	quotes QuoteSource
	mirror Mirror
}

// NewQuoteMirror creates the quote mirror worker
func NewQuoteMirror(quotes QuoteSource, mirror Mirror, interval time.Duration, enabled bool, log *logger.Logger) *QuoteMirror {
	if log == nil {
		log = logger.Get()
	}
	return &QuoteMirror{
		BaseWorker: workers.NewBaseWorker("quote_mirror", interval, enabled, log),
		quotes:     quotes,
		mirror:     mirror,
	}
}

// Run executes one mirror pass
func (w *QuoteMirror) Run(ctx context.Context) error {
	snap := w.quotes.Snapshot()
	metrics.QuoteTableSize.Set(float64(snap.Len()))
	if snap.Len() == 0 {
		return nil
	}

	n, err := w.mirror.MirrorQuotes(ctx, snap)
	if err != nil {
		return errors.Wrap(err, "mirror quotes")
	}

	w.Log().Debugw("Quote table mirrored", "symbols", n)
	return nil
}
