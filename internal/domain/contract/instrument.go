package contract

import (
	"sort"
	"strings"
	"time"

	"optionsurface/pkg/errors"
)

// Instrument kinds besides the option rights
const (
	KindFuture = "FUT"
	KindIndex  = "INDEX"
)

// Instrument is one row of the exchange instrument master
type Instrument struct {
	InstrumentID   int64     `json:"instrument_token" db:"instrument_token"`
	Symbol         string    `json:"tradingsymbol" db:"tradingsymbol"`
	Underlying     string    `json:"name" db:"name"`
	Expiry         time.Time `json:"expiry" db:"expiry"`
	Strike         float64   `json:"strike" db:"strike"`
	InstrumentType string    `json:"instrument_type" db:"instrument_type"`
}

// BuildUniverse selects the instruments relevant on day: options of the
// given underlyings that have not expired, the nearest unexpired future of
// each underlying, and the index rows. Index instruments are registered
// under the underlying name so that the index level resolves by underlying.
// An empty underlyings list keeps every underlying.
func BuildUniverse(day time.Time, rows []Instrument, underlyings []string) (*Universe, error) {
	wanted := make(map[string]struct{}, len(underlyings))
	for _, u := range underlyings {
		wanted[strings.ToUpper(strings.TrimSpace(u))] = struct{}{}
	}
	keep := func(name string) bool {
		if len(wanted) == 0 {
			return true
		}
		_, ok := wanted[strings.ToUpper(name)]
		return ok
	}

	today := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	unexpired := func(e time.Time) bool {
		return !time.Date(e.Year(), e.Month(), e.Day(), 0, 0, 0, 0, time.UTC).Before(today)
	}

	var (
		contracts []OptionContract
		futures   = make(map[string]Instrument)
		extra     = make(map[int64]string)
	)
	for _, row := range rows {
		if !keep(row.Underlying) {
			continue
		}
		switch strings.ToUpper(row.InstrumentType) {
		case KindIndex:
			extra[row.InstrumentID] = row.Underlying
		case KindFuture:
			if !unexpired(row.Expiry) {
				continue
			}
			if cur, ok := futures[row.Underlying]; !ok || row.Expiry.Before(cur.Expiry) {
				futures[row.Underlying] = row
			}
		default:
			ot, err := ParseOptionType(row.InstrumentType)
			if err != nil {
				return nil, errors.Wrapf(err, "instrument %d (%s)", row.InstrumentID, row.Symbol)
			}
			if !unexpired(row.Expiry) {
				continue
			}
			if row.Strike <= 0 {
				return nil, errors.NewValidationError("strike", "must be positive", row.Symbol)
			}
			contracts = append(contracts, OptionContract{
				InstrumentID: row.InstrumentID,
				Symbol:       row.Symbol,
				Underlying:   row.Underlying,
				Expiry:       row.Expiry,
				Strike:       row.Strike,
				OptionType:   ot,
			})
		}
	}

	futureMap := make(FutureMap, len(futures))
	for name, fut := range futures {
		futureMap[name] = fut.Symbol
		extra[fut.InstrumentID] = fut.Symbol
	}

	sort.Slice(contracts, func(i, j int) bool {
		a, b := contracts[i], contracts[j]
		if a.Underlying != b.Underlying {
			return a.Underlying < b.Underlying
		}
		if !a.Expiry.Equal(b.Expiry) {
			return a.Expiry.Before(b.Expiry)
		}
		if a.Strike != b.Strike {
			return a.Strike < b.Strike
		}
		return a.OptionType < b.OptionType
	})

	return NewUniverse(today, contracts, futureMap, extra), nil
}
