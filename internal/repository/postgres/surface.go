package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	"optionsurface/internal/domain/surface"
	"optionsurface/pkg/errors"
)

// Compile-time checks
var (
	_ surface.Sink   = (*SurfaceRepository)(nil)
	_ surface.Reader = (*SurfaceRepository)(nil)
)

// SurfaceRepository persists snapshots, option rows and straddle rows.
// Every insert is keyed by the natural key and ignores duplicates.
type SurfaceRepository struct {
	db *sqlx.DB
}

// NewSurfaceRepository creates a new surface repository
func NewSurfaceRepository(db *sqlx.DB) *SurfaceRepository {
	return &SurfaceRepository{db: db}
}

// InsertSnapshot stores the raw quote table as one JSONB document
func (r *SurfaceRepository) InsertSnapshot(ctx context.Context, snap surface.SnapshotRecord) error {
	payload, err := json.Marshal(snap.Quotes)
	if err != nil {
		return errors.Wrap(err, "failed to encode snapshot")
	}

	query := `INSERT INTO snap (timestamp, quotes) VALUES ($1, $2) ON CONFLICT (timestamp) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, snap.Timestamp.UTC(), payload); err != nil {
		return classify(errors.Wrap(err, "failed to insert snapshot"))
	}
	return nil
}

// InsertOptionCalc stores the priced rows of one run in a single transaction
func (r *SurfaceRepository) InsertOptionCalc(ctx context.Context, rows []surface.OptionCalcRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `
		INSERT INTO option_calc (
			timestamp, symbol, underlying, expiry, strike, option_type,
			spot, ltp, oi, dte, iv, delta, theta, gamma, vega, rho
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16
		)
		ON CONFLICT (timestamp, symbol) DO NOTHING`

	return r.inTx(ctx, query, len(rows), func(stmt *sqlx.Stmt, i int) error {
		row := rows[i]
		_, err := stmt.ExecContext(ctx,
			row.Timestamp.UTC(), row.Symbol, row.Underlying, row.Expiry, row.Strike, string(row.OptionType),
			row.Spot, row.LTP, row.OI, row.DTE, row.IV, row.Delta, row.Theta, row.Gamma, row.Vega, row.Rho,
		)
		return errors.Wrapf(err, "option_calc %s", row.Symbol)
	})
}

// InsertStraddle stores the straddle rows of one run in a single transaction
func (r *SurfaceRepository) InsertStraddle(ctx context.Context, rows []surface.StraddleRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `
		INSERT INTO option_straddle (
			timestamp, underlying, expiry, strike, call_symbol, put_symbol,
			spot, call_price, put_price, call_oi, put_oi, call_iv, put_iv,
			combined_premium, combined_iv, otm_iv, atm_strike, minima
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18
		)
		ON CONFLICT (timestamp, underlying, expiry, strike) DO NOTHING`

	return r.inTx(ctx, query, len(rows), func(stmt *sqlx.Stmt, i int) error {
		row := rows[i]
		_, err := stmt.ExecContext(ctx,
			row.Timestamp.UTC(), row.Underlying, row.Expiry, row.Strike, row.CallSymbol, row.PutSymbol,
			row.Spot, row.CallPrice, row.PutPrice, row.CallOI, row.PutOI, row.CallIV, row.PutIV,
			row.CombinedPremium, row.CombinedIV, row.OTMIV, row.ATMStrike, row.IsMinima,
		)
		return errors.Wrapf(err, "option_straddle %s %v", row.Underlying, row.Strike)
	})
}

func (r *SurfaceRepository) inTx(ctx context.Context, query string, n int, exec func(*sqlx.Stmt, int) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify(errors.Wrap(err, "failed to begin transaction"))
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return classify(errors.Wrap(err, "failed to prepare insert"))
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if err := exec(stmt, i); err != nil {
			return classify(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return classify(errors.Wrap(err, "failed to commit insert"))
	}
	return nil
}

// StraddleMinima returns the minimum-premium straddle of every minute since the given instant
func (r *SurfaceRepository) StraddleMinima(ctx context.Context, underlying string, expiry time.Time, since time.Time) ([]surface.MinimaPoint, error) {
	var points []surface.MinimaPoint

	query := `
		SELECT timestamp AS ts, spot, strike, combined_premium, combined_iv, otm_iv, minima
		FROM option_straddle
		WHERE underlying = $1 AND expiry = $2 AND timestamp >= $3 AND minima
		ORDER BY timestamp, strike`

	if err := r.db.SelectContext(ctx, &points, query, underlying, expiry, since.UTC()); err != nil {
		return nil, classify(errors.Wrap(err, "failed to query straddle minima"))
	}
	return points, nil
}

// StraddleHistory returns every straddle row of a chain since the given instant
func (r *SurfaceRepository) StraddleHistory(ctx context.Context, underlying string, expiry time.Time, since time.Time) ([]surface.MinimaPoint, error) {
	var points []surface.MinimaPoint

	query := `
		SELECT timestamp AS ts, spot, strike, combined_premium, combined_iv, otm_iv, minima
		FROM option_straddle
		WHERE underlying = $1 AND expiry = $2 AND timestamp >= $3
		ORDER BY timestamp, strike`

	if err := r.db.SelectContext(ctx, &points, query, underlying, expiry, since.UTC()); err != nil {
		return nil, classify(errors.Wrap(err, "failed to query straddle history"))
	}
	return points, nil
}
