package contract

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionsurface/pkg/errors"
)

func TestBuildUniverse(t *testing.T) {
	day := time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC)
	feb8 := time.Date(2024, 2, 8, 0, 0, 0, 0, time.UTC)
	feb1 := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	feb29 := time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)
	mar28 := time.Date(2024, 3, 28, 0, 0, 0, 0, time.UTC)

	rows := []Instrument{
		{InstrumentID: 256265, Symbol: "NIFTY 50", Underlying: "NIFTY", InstrumentType: "INDEX"},
		{InstrumentID: 1, Symbol: "NIFTY24MARFUT", Underlying: "NIFTY", Expiry: mar28, InstrumentType: "FUT"},
		{InstrumentID: 2, Symbol: "NIFTY24FEBFUT", Underlying: "NIFTY", Expiry: feb29, InstrumentType: "FUT"},
		{InstrumentID: 3, Symbol: "NIFTY24JANFUT", Underlying: "NIFTY", Expiry: feb1, InstrumentType: "FUT"},
		{InstrumentID: 11, Symbol: "NIFTY24FEB21600PE", Underlying: "NIFTY", Expiry: feb8, Strike: 21600, InstrumentType: "PE"},
		{InstrumentID: 12, Symbol: "NIFTY24FEB21500CE", Underlying: "NIFTY", Expiry: feb8, Strike: 21500, InstrumentType: "CE"},
		{InstrumentID: 13, Symbol: "NIFTY24FEB0121500CE", Underlying: "NIFTY", Expiry: feb1, Strike: 21500, InstrumentType: "CE"},
		{InstrumentID: 21, Symbol: "FINNIFTY24FEB21500CE", Underlying: "FINNIFTY", Expiry: feb8, Strike: 21500, InstrumentType: "CE"},
	}

	u, err := BuildUniverse(day, rows, []string{"nifty"})
	require.NoError(t, err)

	require.Len(t, u.Contracts, 2)
	assert.Equal(t, "NIFTY24FEB21500CE", u.Contracts[0].Symbol)
	assert.Equal(t, "NIFTY24FEB21600PE", u.Contracts[1].Symbol)
	assert.Equal(t, Put, u.Contracts[1].OptionType)

	assert.Equal(t, "NIFTY24FEBFUT", u.FutureFor("NIFTY"))
	sym, ok := u.SymbolFor(256265)
	require.True(t, ok)
	assert.Equal(t, "NIFTY", sym)

	_, ok = u.SymbolFor(13)
	assert.False(t, ok, "expired contracts are not subscribed")
	_, ok = u.SymbolFor(21)
	assert.False(t, ok)
	assert.Equal(t, []int64{2, 11, 12, 256265}, u.InstrumentIDs())
}

func TestBuildUniverseRejectsBadRows(t *testing.T) {
	day := time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC)

	_, err := BuildUniverse(day, []Instrument{{Symbol: "X", Underlying: "NIFTY", Expiry: day, InstrumentType: "XX"}}, nil)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	_, err = BuildUniverse(day, []Instrument{{Symbol: "X", Underlying: "NIFTY", Expiry: day, InstrumentType: "CE"}}, nil)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}
