package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"optionsurface/internal/domain/contract"
	"optionsurface/pkg/errors"
)

// Compile-time check
var _ contract.Repository = (*ContractRepository)(nil)

// ContractRepository loads the instrument universe from the instruments table
type ContractRepository struct {
	db *sqlx.DB
}

// NewContractRepository creates a new contract repository
func NewContractRepository(db *sqlx.DB) *ContractRepository {
	return &ContractRepository{db: db}
}

// LoadUniverse implements contract.Repository
func (r *ContractRepository) LoadUniverse(ctx context.Context, day time.Time, underlyings []string) (*contract.Universe, error) {
	var rows []contract.Instrument

	query := `
		SELECT instrument_token, tradingsymbol, name,
		       COALESCE(expiry, DATE '1970-01-01') AS expiry, strike, instrument_type
		FROM instruments
		WHERE (cardinality($1::text[]) = 0 OR name = ANY($1))
		  AND (instrument_type = 'INDEX' OR expiry >= $2::date)`

	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(underlyings), day.Format("2006-01-02")); err != nil {
		return nil, classify(errors.Wrap(err, "failed to load instruments"))
	}
	if len(rows) == 0 {
		return nil, errors.Wrapf(errors.ErrNotFound, "no instruments for %v on %s", underlyings, day.Format("2006-01-02"))
	}

	return contract.BuildUniverse(day, rows, underlyings)
}

// UpsertInstruments replaces instrument master rows by token
func (r *ContractRepository) UpsertInstruments(ctx context.Context, rows []contract.Instrument) error {
	if len(rows) == 0 {
		return nil
	}

	query := `
		INSERT INTO instruments (instrument_token, tradingsymbol, name, expiry, strike, instrument_type, updated_at)
		VALUES (:instrument_token, :tradingsymbol, :name, :expiry, :strike, :instrument_type, NOW())
		ON CONFLICT (instrument_token) DO UPDATE SET
			tradingsymbol = EXCLUDED.tradingsymbol,
			name = EXCLUDED.name,
			expiry = EXCLUDED.expiry,
			strike = EXCLUDED.strike,
			instrument_type = EXCLUDED.instrument_type,
			updated_at = NOW()`

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify(errors.Wrap(err, "failed to begin transaction"))
	}
	defer tx.Rollback()

	for _, row := range rows {
		if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
			return classify(errors.Wrapf(err, "failed to upsert instrument %d", row.InstrumentID))
		}
	}

	return classify(errors.Wrap(tx.Commit(), "failed to commit instruments"))
}
