package contract

import (
	"sort"
	"strings"
	"time"

	"optionsurface/pkg/errors"
)

// OptionType is the right of an option contract
type OptionType string

const (
	Call OptionType = "CE"
	Put  OptionType = "PE"
)

var (
	callSpellings = map[string]struct{}{"call": {}, "ce": {}, "ca": {}}
	putSpellings  = map[string]struct{}{"put": {}, "pe": {}, "pa": {}}
)

// ParseOptionType accepts call/CE/CA and put/PE/PA in any case,
// falling back to the first letter (C or P) for other spellings.
func ParseOptionType(s string) (OptionType, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	if _, ok := callSpellings[norm]; ok {
		return Call, nil
	}
	if _, ok := putSpellings[norm]; ok {
		return Put, nil
	}
	if norm != "" {
		switch norm[0] {
		case 'c':
			return Call, nil
		case 'p':
			return Put, nil
		}
	}
	return "", errors.Wrapf(errors.ErrInvalidInput, "unknown option type %q", s)
}

// IsCall reports whether t is a call
func (t OptionType) IsCall() bool {
	return t == Call
}

// OptionContract is one listed option, immutable for the trading day
type OptionContract struct {
	InstrumentID int64      `json:"instrument_id" db:"instrument_token"`
	Symbol       string     `json:"symbol" db:"tradingsymbol"`
	Underlying   string     `json:"underlying" db:"name"`
	Expiry       time.Time  `json:"expiry" db:"expiry"`
	Strike       float64    `json:"strike" db:"strike"`
	OptionType   OptionType `json:"option_type" db:"instrument_type"`
}

// SeriesKey identifies one (underlying, expiry) option chain
type SeriesKey struct {
	Underlying string
	Expiry     string // YYYY-MM-DD
}

// ExpiryKey formats an expiry date as used in SeriesKey
func ExpiryKey(expiry time.Time) string {
	return expiry.Format("2006-01-02")
}

// Series returns the chain key of the contract
func (c OptionContract) Series() SeriesKey {
	return SeriesKey{Underlying: c.Underlying, Expiry: ExpiryKey(c.Expiry)}
}

// FutureMap maps an underlying to the symbol of its nearest future
type FutureMap map[string]string

// Universe is everything the analytics need to know about tradable instruments for one day
type Universe struct {
	TradingDay  time.Time
	Contracts   []OptionContract
	Futures     FutureMap
	instruments map[int64]string
}

// NewUniverse builds a Universe. extra maps instrument ids of non-option
// instruments (indices, futures) to their symbols.
func NewUniverse(day time.Time, contracts []OptionContract, futures FutureMap, extra map[int64]string) *Universe {
	instruments := make(map[int64]string, len(contracts)+len(extra))
	for id, sym := range extra {
		instruments[id] = sym
	}
	for _, c := range contracts {
		if c.InstrumentID != 0 {
			instruments[c.InstrumentID] = c.Symbol
		}
	}
	if futures == nil {
		futures = FutureMap{}
	}

	return &Universe{
		TradingDay:  day,
		Contracts:   contracts,
		Futures:     futures,
		instruments: instruments,
	}
}

// SymbolFor resolves a feed instrument id to its symbol
func (u *Universe) SymbolFor(id int64) (string, bool) {
	sym, ok := u.instruments[id]
	return sym, ok
}

// InstrumentIDs returns all instrument ids to subscribe to, ascending
func (u *Universe) InstrumentIDs() []int64 {
	ids := make([]int64, 0, len(u.instruments))
	for id := range u.instruments {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// FutureFor returns the designated future of underlying, or the underlying itself
func (u *Universe) FutureFor(underlying string) string {
	if fut, ok := u.Futures[underlying]; ok && fut != "" {
		return fut
	}
	return underlying
}

// HasFuture reports whether a future is configured for underlying
func (u *Universe) HasFuture(underlying string) bool {
	fut, ok := u.Futures[underlying]
	return ok && fut != ""
}

// Underlyings returns the distinct underlyings of the contracts, ascending
func (u *Universe) Underlyings() []string {
	seen := make(map[string]struct{})
	for _, c := range u.Contracts {
		seen[c.Underlying] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
