package surface

import (
	"time"

	"optionsurface/internal/domain/contract"
	"optionsurface/internal/domain/quote"
)

// SnapshotRecord is the raw quote table as taken at one analytics trigger.
// Written once, never mutated.
type SnapshotRecord struct {
	Timestamp time.Time
	Quotes    map[string]quote.Quote
}

// OptionCalcRow is the priced state of one contract at one timestamp.
// IV and Greeks are nil when the solver did not converge.
type OptionCalcRow struct {
	Timestamp  time.Time           `json:"timestamp" ch:"timestamp" db:"timestamp"`
	Symbol     string              `json:"symbol" ch:"symbol" db:"symbol"`
	Underlying string              `json:"underlying" ch:"underlying" db:"underlying"`
	Expiry     time.Time           `json:"expiry" ch:"expiry" db:"expiry"`
	Strike     float64             `json:"strike" ch:"strike" db:"strike"`
	OptionType contract.OptionType `json:"option_type" ch:"option_type" db:"option_type"`
	Spot       float64             `json:"spot" ch:"spot" db:"spot"`
	LTP        *float64            `json:"ltp" ch:"ltp" db:"ltp"`
	OI         *int64              `json:"oi" ch:"oi" db:"oi"`
	DTE        float64             `json:"dte" ch:"dte" db:"dte"`
	IV         *float64            `json:"iv" ch:"iv" db:"iv"`
	Delta      *float64            `json:"delta" ch:"delta" db:"delta"`
	Theta      *float64            `json:"theta" ch:"theta" db:"theta"`
	Gamma      *float64            `json:"gamma" ch:"gamma" db:"gamma"`
	Vega       *float64            `json:"vega" ch:"vega" db:"vega"`
	Rho        *float64            `json:"rho" ch:"rho" db:"rho"`
}

// Key is the natural key of the row
func (r OptionCalcRow) Key() string {
	return r.Timestamp.UTC().Format(time.RFC3339) + "|" + r.Symbol
}

// Series returns the chain the row belongs to
func (r OptionCalcRow) Series() contract.SeriesKey {
	return contract.SeriesKey{Underlying: r.Underlying, Expiry: contract.ExpiryKey(r.Expiry)}
}

// StraddleRow pairs the call and put of one strike at one timestamp.
// A missing leg leaves its symbol empty and its fields nil.
type StraddleRow struct {
	Timestamp       time.Time `json:"timestamp" ch:"timestamp" db:"timestamp"`
	Underlying      string    `json:"underlying" ch:"underlying" db:"underlying"`
	Expiry          time.Time `json:"expiry" ch:"expiry" db:"expiry"`
	Strike          float64   `json:"strike" ch:"strike" db:"strike"`
	CallSymbol      string    `json:"call" ch:"call_symbol" db:"call_symbol"`
	PutSymbol       string    `json:"put" ch:"put_symbol" db:"put_symbol"`
	Spot            *float64  `json:"spot" ch:"spot" db:"spot"`
	CallPrice       *float64  `json:"call_price" ch:"call_price" db:"call_price"`
	PutPrice        *float64  `json:"put_price" ch:"put_price" db:"put_price"`
	CallOI          *int64    `json:"call_oi" ch:"call_oi" db:"call_oi"`
	PutOI           *int64    `json:"put_oi" ch:"put_oi" db:"put_oi"`
	CallIV          *float64  `json:"call_iv" ch:"call_iv" db:"call_iv"`
	PutIV           *float64  `json:"put_iv" ch:"put_iv" db:"put_iv"`
	CombinedPremium *float64  `json:"combined_premium" ch:"combined_premium" db:"combined_premium"`
	CombinedIV      *float64  `json:"combined_iv" ch:"combined_iv" db:"combined_iv"`
	OTMIV           *float64  `json:"otm_iv" ch:"otm_iv" db:"otm_iv"`
	ATMStrike       *float64  `json:"atm_strike" ch:"atm_strike" db:"atm_strike"`
	IsMinima        *bool     `json:"minima" ch:"minima" db:"minima"`
}

// Key is the natural key of the row
func (r StraddleRow) Key() string {
	return r.Timestamp.UTC().Format(time.RFC3339) + "|" + r.Underlying + "|" + contract.ExpiryKey(r.Expiry) + "|" + formatStrike(r.Strike)
}

// Series returns the chain the row belongs to
func (r StraddleRow) Series() contract.SeriesKey {
	return contract.SeriesKey{Underlying: r.Underlying, Expiry: contract.ExpiryKey(r.Expiry)}
}

// MinimaPoint is one minute of the minimum-premium straddle for a chain
type MinimaPoint struct {
	Timestamp       time.Time `db:"ts"`
	Spot            *float64  `db:"spot"`
	Strike          float64   `db:"strike"`
	CombinedPremium *float64  `db:"combined_premium"`
	CombinedIV      *float64  `db:"combined_iv"`
	OTMIV           *float64  `db:"otm_iv"`
	IsMinima        *bool     `db:"minima"`
}
