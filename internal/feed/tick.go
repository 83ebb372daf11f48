package feed

import (
	"strings"
	"time"

	"optionsurface/internal/domain/quote"
	"optionsurface/pkg/errors"
)

// Mode selects the broker wire shape a pipeline decodes
type Mode string

const (
	ModeFull      Mode = "full"
	ModeTouchline Mode = "touchline"
)

// ParseMode parses a configured feed mode
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeFull:
		return ModeFull, nil
	case ModeTouchline:
		return ModeTouchline, nil
	}
	return "", errors.Wrapf(errors.ErrInvalidInput, "unknown feed mode %q", s)
}

// Meta carries fields only some feeds provide
type Meta struct {
	PrevClose   *float64 `json:"prev_close"`
	Change      *float64 `json:"chg"`
	TimestampMs *int64   `json:"ts"`
}

// Tick is the canonical normalized feed tuple.
// Fields a feed never sends (volume for an index) are zero; OpenInterest is
// nil while still unknown.
type Tick struct {
	Slot         string // HHMM in exchange-local time
	InstrumentID int64
	LastPrice    float64
	LastQty      int64
	CumVolume    int64
	OpenInterest *int64
	Meta         Meta
	ObservedAt   time.Time
}

// Quote converts the tick into the quote stored for symbol
func (t Tick) Quote(symbol string) quote.Quote {
	price := t.LastPrice
	return quote.Quote{
		Symbol:       symbol,
		LastPrice:    &price,
		OpenInterest: t.OpenInterest,
		ObservedAt:   t.ObservedAt,
	}
}
