package jsonfile

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"optionsurface/internal/domain/contract"
	"optionsurface/pkg/errors"
)

// Compile-time check
var _ contract.Repository = (*ContractRepository)(nil)

// instrumentRow is an instrument master row as exported to JSON. Expiry may
// be a plain date or an RFC 3339 timestamp and is empty for indices.
type instrumentRow struct {
	InstrumentID   int64   `json:"instrument_token"`
	Symbol         string  `json:"tradingsymbol"`
	Underlying     string  `json:"name"`
	Expiry         string  `json:"expiry"`
	Strike         float64 `json:"strike"`
	InstrumentType string  `json:"instrument_type"`
}

// ContractRepository loads the universe from a JSON array of instrument rows.
// The file is read on every load so that the daily refresh picks up edits.
type ContractRepository struct {
	path string
}

// NewContractRepository creates a repository reading path
func NewContractRepository(path string) *ContractRepository {
	return &ContractRepository{path: path}
}

// LoadUniverse implements contract.Repository
func (r *ContractRepository) LoadUniverse(_ context.Context, day time.Time, underlyings []string) (*contract.Universe, error) {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(errors.ErrNotFound, "contracts file %s", r.path)
		}
		return nil, errors.Wrapf(err, "read contracts file %s", r.path)
	}

	var rows []instrumentRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "decode contracts file %s: %v", r.path, err)
	}

	instruments := make([]contract.Instrument, 0, len(rows))
	for _, row := range rows {
		expiry, err := parseExpiry(row.Expiry)
		if err != nil {
			return nil, errors.Wrapf(err, "instrument %d", row.InstrumentID)
		}
		instruments = append(instruments, contract.Instrument{
			InstrumentID:   row.InstrumentID,
			Symbol:         row.Symbol,
			Underlying:     row.Underlying,
			Expiry:         expiry,
			Strike:         row.Strike,
			InstrumentType: row.InstrumentType,
		})
	}
	if len(instruments) == 0 {
		return nil, errors.Wrapf(errors.ErrNotFound, "contracts file %s is empty", r.path)
	}

	return contract.BuildUniverse(day, instruments, underlyings)
}

func parseExpiry(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, errors.NewValidationError("expiry", "expected YYYY-MM-DD or RFC 3339", s)
	}
	return t, nil
}
