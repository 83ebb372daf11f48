package feed

import (
	"strconv"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionsurface/pkg/errors"
)

func kolkata(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	return loc
}

func TestFullNormalizer(t *testing.T) {
	loc := kolkata(t)
	n, err := NewNormalizer(ModeFull, loc)
	require.NoError(t, err)

	t.Run("option tick", func(t *testing.T) {
		raw := []byte(`{"instrument_token":11,"last_price":118.5,"last_traded_quantity":50,
			"volume_traded":120000,"oi":98000,"exchange_timestamp":"2024-02-05 10:01:07",
			"ohlc":{"close":101.2},"change":17.09}`)

		tick, ok, err := n.Normalize(raw)
		require.NoError(t, err)
		require.True(t, ok)

		assert.Equal(t, "1001", tick.Slot)
		assert.Equal(t, int64(11), tick.InstrumentID)
		assert.Equal(t, 118.5, tick.LastPrice)
		assert.Equal(t, int64(50), tick.LastQty)
		assert.Equal(t, int64(120000), tick.CumVolume)
		require.NotNil(t, tick.OpenInterest)
		assert.Equal(t, int64(98000), *tick.OpenInterest)
		assert.Equal(t, 101.2, *tick.Meta.PrevClose)
		assert.Equal(t, 17.09, *tick.Meta.Change)
		assert.Equal(t, time.Date(2024, 2, 5, 10, 1, 7, 0, loc).UnixMilli(), *tick.Meta.TimestampMs)
	})

	t.Run("index tick defaults absent fields to zero", func(t *testing.T) {
		raw := []byte(`{"instrument_token":256265,"last_price":21512.4,"exchange_timestamp":"2024-02-05T04:31:00Z"}`)

		tick, ok, err := n.Normalize(raw)
		require.NoError(t, err)
		require.True(t, ok)

		assert.Equal(t, "1001", tick.Slot)
		assert.Zero(t, tick.LastQty)
		assert.Zero(t, tick.CumVolume)
		require.NotNil(t, tick.OpenInterest)
		assert.Zero(t, *tick.OpenInterest)
		assert.Nil(t, tick.Meta.PrevClose)
	})

	t.Run("epoch seconds timestamp", func(t *testing.T) {
		raw := []byte(`{"instrument_token":1,"last_price":1,"exchange_timestamp":1707107460}`)
		tick, _, err := n.Normalize(raw)
		require.NoError(t, err)
		assert.Equal(t, time.Unix(1707107460, 0).In(loc).Format("1504"), tick.Slot)
	})

	malformed := map[string]string{
		"not json":        `{"instrument_token":`,
		"missing price":   `{"instrument_token":11,"exchange_timestamp":"2024-02-05 10:01:07"}`,
		"missing token":   `{"last_price":1,"exchange_timestamp":"2024-02-05 10:01:07"}`,
		"missing time":    `{"instrument_token":11,"last_price":1}`,
		"unparsable time": `{"instrument_token":11,"last_price":1,"exchange_timestamp":"yesterday"}`,
	}
	for name, raw := range malformed {
		t.Run(name, func(t *testing.T) {
			_, ok, err := n.Normalize([]byte(raw))
			assert.False(t, ok)
			assert.True(t, errors.Is(err, errors.ErrMalformedMessage))
		})
	}
}

func touchline(id int64, ts int64, price float64) []byte {
	return []byte(`{"MessageCode":1502,"ExchangeSegment":2,"ExchangeInstrumentID":` + itoa(id) +
		`,"ExchangeTimeStamp":` + itoa(ts) +
		`,"Touchline":{"LastTradedPrice":` + ftoa(price) +
		`,"LastTradedQunatity":50,"TotalTradedQuantity":353500,"Close":476.9}}`)
}

func openInterest(id, oi int64) []byte {
	return []byte(`{"MessageCode":1510,"ExchangeInstrumentID":` + itoa(id) + `,"OpenInterest":` + itoa(oi) + `}`)
}

func TestTouchlineNormalizerMergesLateOpenInterest(t *testing.T) {
	loc := kolkata(t)
	n := NewTouchlineNormalizer(loc)

	// 1396448201 seconds after 1980-01-01 local
	tick, ok, err := n.Normalize(touchline(68094, 1396448201, 518.75))
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, int64(68094), tick.InstrumentID)
	assert.Equal(t, 518.75, tick.LastPrice)
	assert.Equal(t, int64(50), tick.LastQty)
	assert.Equal(t, int64(353500), tick.CumVolume)
	assert.Nil(t, tick.OpenInterest, "OI is unknown before the first OI message")
	assert.Nil(t, tick.Meta.PrevClose)
	assert.Equal(t, time.Date(1980, 1, 1, 0, 0, 0, 0, loc).Add(1396448201*time.Second), tick.ObservedAt)
	assert.Equal(t, tick.ObservedAt.Format("1504"), tick.Slot)

	_, ok, err = n.Normalize(openInterest(68094, 3400))
	require.NoError(t, err)
	assert.False(t, ok, "OI messages produce no tick")

	tick, ok, err = n.Normalize(touchline(68094, 1396448262, 519.1))
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, tick.OpenInterest)
	assert.Equal(t, int64(3400), *tick.OpenInterest)

	other, _, err := n.Normalize(touchline(70001, 1396448262, 12))
	require.NoError(t, err)
	assert.Nil(t, other.OpenInterest, "OI is keyed by instrument")

	oi, ok := n.OpenInterest(68094)
	assert.True(t, ok)
	assert.Equal(t, int64(3400), oi)
}

func TestTouchlineNormalizerMalformed(t *testing.T) {
	n := NewTouchlineNormalizer(kolkata(t))

	for name, raw := range map[string]string{
		"no instrument": `{"MessageCode":1502,"ExchangeTimeStamp":1,"Touchline":{"LastTradedPrice":1}}`,
		"no touchline":  `{"MessageCode":1502,"ExchangeInstrumentID":1,"ExchangeTimeStamp":1}`,
		"no timestamp":  `{"MessageCode":1502,"ExchangeInstrumentID":1,"Touchline":{"LastTradedPrice":1}}`,
		"oi without oi": `{"MessageCode":1510,"ExchangeInstrumentID":1}`,
		"truncated":     `{"MessageCode":15`,
	} {
		t.Run(name, func(t *testing.T) {
			_, ok, err := n.Normalize([]byte(raw))
			assert.False(t, ok)
			assert.True(t, errors.Is(err, errors.ErrMalformedMessage))
		})
	}
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("Touchline")
	require.NoError(t, err)
	assert.Equal(t, ModeTouchline, m)

	_, err = ParseMode("depth")
	assert.Error(t, err)

	_, err = NewNormalizer(Mode("depth"), time.UTC)
	assert.Error(t, err)
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }

func ftoa(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
