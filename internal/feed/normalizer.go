package feed

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"optionsurface/pkg/errors"
)

// Touchline broadcast message codes
const (
	MessageCodeTouchline    = 1502
	MessageCodeOpenInterest = 1510
)

const slotLayout = "1504"

// Normalizer maps one raw broker payload into a canonical Tick.
// ok is false for messages that update normalizer state without producing a tick.
type Normalizer interface {
	Normalize(raw []byte) (tick Tick, ok bool, err error)
}

// NewNormalizer returns the normalizer for mode. loc is the exchange time zone.
func NewNormalizer(mode Mode, loc *time.Location) (Normalizer, error) {
	switch mode {
	case ModeFull:
		return &FullNormalizer{loc: loc}, nil
	case ModeTouchline:
		return NewTouchlineNormalizer(loc), nil
	}
	return nil, errors.Wrapf(errors.ErrInvalidInput, "unknown feed mode %q", mode)
}

type fullTick struct {
	InstrumentToken    *int64          `json:"instrument_token"`
	LastPrice          *float64        `json:"last_price"`
	LastTradedQuantity *int64          `json:"last_traded_quantity"`
	VolumeTraded       *int64          `json:"volume_traded"`
	OI                 *int64          `json:"oi"`
	ExchangeTimestamp  json.RawMessage `json:"exchange_timestamp"`
	Change             *float64        `json:"change"`
	OHLC               *struct {
		Close *float64 `json:"close"`
	} `json:"ohlc"`
}

// FullNormalizer decodes full ticks that carry price, quantity, volume and
// open interest directly. Index quotes omit quantity, volume and OI, which
// default to zero.
type FullNormalizer struct {
	loc *time.Location
}

// Normalize implements Normalizer
func (n *FullNormalizer) Normalize(raw []byte) (Tick, bool, error) {
	var msg fullTick
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Tick{}, false, errors.Wrapf(errors.ErrMalformedMessage, "full tick: %v", err)
	}
	if msg.InstrumentToken == nil || msg.LastPrice == nil {
		return Tick{}, false, errors.Wrap(errors.ErrMalformedMessage, "full tick: instrument_token and last_price are required")
	}

	ts, err := parseExchangeTime(msg.ExchangeTimestamp, n.loc)
	if err != nil {
		return Tick{}, false, err
	}

	oi := valueOr(msg.OI, 0)
	tsMs := ts.UnixMilli()
	tick := Tick{
		Slot:         ts.In(n.loc).Format(slotLayout),
		InstrumentID: *msg.InstrumentToken,
		LastPrice:    *msg.LastPrice,
		LastQty:      valueOr(msg.LastTradedQuantity, 0),
		CumVolume:    valueOr(msg.VolumeTraded, 0),
		OpenInterest: &oi,
		Meta: Meta{
			Change:      msg.Change,
			TimestampMs: &tsMs,
		},
		ObservedAt: ts,
	}
	if msg.OHLC != nil {
		tick.Meta.PrevClose = msg.OHLC.Close
	}
	return tick, true, nil
}

type touchlineMessage struct {
	MessageCode          int    `json:"MessageCode"`
	ExchangeInstrumentID *int64 `json:"ExchangeInstrumentID"`
	ExchangeTimeStamp    *int64 `json:"ExchangeTimeStamp"`
	OpenInterest         *int64 `json:"OpenInterest"`
	Touchline            *struct {
		LastTradedPrice     *float64 `json:"LastTradedPrice"`
		LastTradedQuantity  *int64   `json:"LastTradedQunatity"`
		TotalTradedQuantity *int64   `json:"TotalTradedQuantity"`
	} `json:"Touchline"`
}

// exchangeEpoch is the origin of touchline timestamps: seconds since
// 1980-01-01 on the exchange wall clock.
func exchangeEpoch(loc *time.Location) time.Time {
	return time.Date(1980, 1, 1, 0, 0, 0, 0, loc)
}

// TouchlineNormalizer decodes touchline broadcasts. Open interest arrives on
// separate messages and is merged into later ticks of the same instrument.
// Not safe for concurrent use; each processor owns one.
type TouchlineNormalizer struct {
	loc *time.Location
	oi  map[int64]int64
}

// NewTouchlineNormalizer creates a normalizer with an empty OI side table
func NewTouchlineNormalizer(loc *time.Location) *TouchlineNormalizer {
	return &TouchlineNormalizer{loc: loc, oi: make(map[int64]int64)}
}

// Normalize implements Normalizer
func (n *TouchlineNormalizer) Normalize(raw []byte) (Tick, bool, error) {
	var msg touchlineMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Tick{}, false, errors.Wrapf(errors.ErrMalformedMessage, "touchline: %v", err)
	}
	if msg.ExchangeInstrumentID == nil {
		return Tick{}, false, errors.Wrap(errors.ErrMalformedMessage, "touchline: ExchangeInstrumentID is required")
	}
	id := *msg.ExchangeInstrumentID

	if msg.MessageCode == MessageCodeOpenInterest || (msg.MessageCode == 0 && msg.Touchline == nil && msg.OpenInterest != nil) {
		if msg.OpenInterest == nil {
			return Tick{}, false, errors.Wrap(errors.ErrMalformedMessage, "open interest: OpenInterest is required")
		}
		n.oi[id] = *msg.OpenInterest
		return Tick{}, false, nil
	}

	if msg.Touchline == nil || msg.Touchline.LastTradedPrice == nil {
		return Tick{}, false, errors.Wrap(errors.ErrMalformedMessage, "touchline: LastTradedPrice is required")
	}
	if msg.ExchangeTimeStamp == nil {
		return Tick{}, false, errors.Wrap(errors.ErrMalformedMessage, "touchline: ExchangeTimeStamp is required")
	}

	ts := exchangeEpoch(n.loc).Add(time.Duration(*msg.ExchangeTimeStamp) * time.Second)
	tick := Tick{
		Slot:         ts.Format(slotLayout),
		InstrumentID: id,
		LastPrice:    *msg.Touchline.LastTradedPrice,
		LastQty:      valueOr(msg.Touchline.LastTradedQuantity, 0),
		CumVolume:    valueOr(msg.Touchline.TotalTradedQuantity, 0),
		ObservedAt:   ts,
	}
	if oi, ok := n.oi[id]; ok {
		tick.OpenInterest = &oi
	}
	return tick, true, nil
}

// OpenInterest returns the side-table value for id
func (n *TouchlineNormalizer) OpenInterest(id int64) (int64, bool) {
	oi, ok := n.oi[id]
	return oi, ok
}

// parseExchangeTime accepts epoch seconds, RFC 3339, or a naive
// "YYYY-MM-DD HH:MM:SS" taken as exchange-local time.
func parseExchangeTime(raw json.RawMessage, loc *time.Location) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, errors.Wrap(errors.ErrMalformedMessage, "exchange_timestamp is required")
	}

	if raw[0] != '"' {
		secs, err := strconv.ParseFloat(string(raw), 64)
		if err != nil {
			return time.Time{}, errors.Wrapf(errors.ErrMalformedMessage, "exchange_timestamp %s", raw)
		}
		return time.UnixMilli(int64(secs * 1000)).In(loc), nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, errors.Wrapf(errors.ErrMalformedMessage, "exchange_timestamp %s", raw)
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.In(loc), nil
	}
	if t, err := time.ParseInLocation("2006-01-02 15:04:05", s, loc); err == nil {
		return t, nil
	}
	return time.Time{}, errors.Wrapf(errors.ErrMalformedMessage, "exchange_timestamp %q", s)
}

func valueOr[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}
