package surface

import (
	"context"
	"strconv"
	"time"
)

// Sink persists analytics output. Inserting a row whose natural key already
// exists must be a silent no-op so that callers can retry blindly.
type Sink interface {
	InsertSnapshot(ctx context.Context, snap SnapshotRecord) error
	InsertOptionCalc(ctx context.Context, rows []OptionCalcRow) error
	InsertStraddle(ctx context.Context, rows []StraddleRow) error
}

// Reader serves previously persisted straddle output
type Reader interface {
	// StraddleMinima returns the minima rows of a chain since the given instant
	StraddleMinima(ctx context.Context, underlying string, expiry time.Time, since time.Time) ([]MinimaPoint, error)

	// StraddleHistory returns every straddle row of a chain since the given instant
	StraddleHistory(ctx context.Context, underlying string, expiry time.Time, since time.Time) ([]MinimaPoint, error)
}

func formatStrike(strike float64) string {
	return strconv.FormatFloat(strike, 'f', -1, 64)
}
