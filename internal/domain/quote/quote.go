package quote

import "time"

// Quote is the latest known price and open interest of one instrument.
// A nil field means the value is unknown, which is different from zero.
type Quote struct {
	Symbol       string    `json:"symbol"`
	LastPrice    *float64  `json:"last_price"`
	OpenInterest *int64    `json:"open_interest"`
	ObservedAt   time.Time `json:"observed_at"`
}

// Price returns the last price and whether it is known
func (q Quote) Price() (float64, bool) {
	if q.LastPrice == nil {
		return 0, false
	}
	return *q.LastPrice, true
}

// OI returns the open interest and whether it is known
func (q Quote) OI() (int64, bool) {
	if q.OpenInterest == nil {
		return 0, false
	}
	return *q.OpenInterest, true
}

// Snapshot is an immutable copy of the quote table taken at one instant
type Snapshot struct {
	TakenAt time.Time
	quotes  map[string]Quote
}

// NewSnapshot wraps quotes without copying. The caller must not retain the map.
func NewSnapshot(takenAt time.Time, quotes map[string]Quote) Snapshot {
	if quotes == nil {
		quotes = map[string]Quote{}
	}
	return Snapshot{TakenAt: takenAt, quotes: quotes}
}

// Get returns the quote for symbol
func (s Snapshot) Get(symbol string) (Quote, bool) {
	q, ok := s.quotes[symbol]
	return q, ok
}

// LastPrice returns the last price of symbol, if both the quote and its price are known
func (s Snapshot) LastPrice(symbol string) (float64, bool) {
	q, ok := s.quotes[symbol]
	if !ok {
		return 0, false
	}
	return q.Price()
}

// Len returns the number of symbols in the snapshot
func (s Snapshot) Len() int {
	return len(s.quotes)
}

// Quotes returns a copy of the snapshot contents
func (s Snapshot) Quotes() map[string]Quote {
	out := make(map[string]Quote, len(s.quotes))
	for k, v := range s.quotes {
		out[k] = v
	}
	return out
}
