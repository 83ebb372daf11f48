package clickhouse

import (
	"context"
	"sort"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"optionsurface/internal/domain/surface"
	"optionsurface/pkg/errors"
)

// Compile-time check
var _ surface.Sink = (*SurfaceRepository)(nil)

// SurfaceRepository writes analytics output into ReplacingMergeTree tables
// ordered by the natural key, so a resubmitted row collapses on merge.
type SurfaceRepository struct {
	conn driver.Conn
}

// NewSurfaceRepository creates a new surface repository
func NewSurfaceRepository(conn driver.Conn) *SurfaceRepository {
	return &SurfaceRepository{conn: conn}
}

// InsertSnapshot stores one row per symbol of the snapshot
func (r *SurfaceRepository) InsertSnapshot(ctx context.Context, snap surface.SnapshotRecord) error {
	if len(snap.Quotes) == 0 {
		return nil
	}

	batch, err := r.conn.PrepareBatch(ctx, `INSERT INTO snap (timestamp, symbol, ltp, oi, observed)`)
	if err != nil {
		return errors.Wrap(err, "failed to prepare batch")
	}

	symbols := make([]string, 0, len(snap.Quotes))
	for sym := range snap.Quotes {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	for _, sym := range symbols {
		q := snap.Quotes[sym]
		if err := batch.Append(snap.Timestamp.UTC(), sym, q.LastPrice, q.OpenInterest, q.ObservedAt.UTC()); err != nil {
			return errors.Wrapf(err, "failed to append quote %s", sym)
		}
	}

	return errors.Wrap(batch.Send(), "failed to send snapshot batch")
}

// InsertOptionCalc stores priced option rows
func (r *SurfaceRepository) InsertOptionCalc(ctx context.Context, rows []surface.OptionCalcRow) error {
	if len(rows) == 0 {
		return nil
	}

	batch, err := r.conn.PrepareBatch(ctx, `
		INSERT INTO option_calc (
			timestamp, symbol, underlying, expiry, strike, option_type,
			spot, ltp, oi, dte, iv, delta, theta, gamma, vega, rho
		)
	`)
	if err != nil {
		return errors.Wrap(err, "failed to prepare batch")
	}

	for _, row := range rows {
		err := batch.Append(
			row.Timestamp.UTC(), row.Symbol, row.Underlying, row.Expiry, row.Strike, string(row.OptionType),
			row.Spot, row.LTP, row.OI, row.DTE, row.IV, row.Delta, row.Theta, row.Gamma, row.Vega, row.Rho,
		)
		if err != nil {
			return errors.Wrapf(err, "failed to append option row %s", row.Symbol)
		}
	}

	return errors.Wrap(batch.Send(), "failed to send option_calc batch")
}

// InsertStraddle stores straddle rows
func (r *SurfaceRepository) InsertStraddle(ctx context.Context, rows []surface.StraddleRow) error {
	if len(rows) == 0 {
		return nil
	}

	batch, err := r.conn.PrepareBatch(ctx, `
		INSERT INTO option_straddle (
			timestamp, underlying, expiry, strike, call_symbol, put_symbol,
			spot, call_price, put_price, call_oi, put_oi, call_iv, put_iv,
			combined_premium, combined_iv, otm_iv, atm_strike, minima
		)
	`)
	if err != nil {
		return errors.Wrap(err, "failed to prepare batch")
	}

	for _, row := range rows {
		err := batch.Append(
			row.Timestamp.UTC(), row.Underlying, row.Expiry, row.Strike, row.CallSymbol, row.PutSymbol,
			row.Spot, row.CallPrice, row.PutPrice, row.CallOI, row.PutOI, row.CallIV, row.PutIV,
			row.CombinedPremium, row.CombinedIV, row.OTMIV, row.ATMStrike, row.IsMinima,
		)
		if err != nil {
			return errors.Wrapf(err, "failed to append straddle row %s %v", row.Underlying, row.Strike)
		}
	}

	return errors.Wrap(batch.Send(), "failed to send option_straddle batch")
}
