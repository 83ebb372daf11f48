package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionsurface/internal/domain/contract"
	"optionsurface/internal/domain/quote"
	"optionsurface/internal/domain/surface"
)

func ptr[T any](v T) *T { return &v }

func TestSurfaceRepository_InsertIsIdempotent(t *testing.T) {
	testDB := newTestDB(t)
	db := testDB.DB()
	repo := NewSurfaceRepository(db)
	ctx := context.Background()

	ts := time.Date(2020, 1, 1, 4, 0, 0, 0, time.UTC).Add(time.Duration(time.Now().UnixNano()%1e6) * time.Minute)
	expiry := time.Date(2024, 2, 8, 0, 0, 0, 0, time.UTC)
	underlying := "TEST" + ts.Format("150405")

	t.Cleanup(func() {
		_, _ = db.Exec(`DELETE FROM option_calc WHERE underlying = $1`, underlying)
		_, _ = db.Exec(`DELETE FROM option_straddle WHERE underlying = $1`, underlying)
		_, _ = db.Exec(`DELETE FROM snap WHERE timestamp = $1`, ts)
	})

	snap := surface.SnapshotRecord{Timestamp: ts, Quotes: map[string]quote.Quote{
		underlying: {Symbol: underlying, LastPrice: ptr(21510.5), ObservedAt: ts},
	}}
	require.NoError(t, repo.InsertSnapshot(ctx, snap))
	require.NoError(t, repo.InsertSnapshot(ctx, snap))

	calc := []surface.OptionCalcRow{
		{Timestamp: ts, Symbol: underlying + "21500CE", Underlying: underlying, Expiry: expiry, Strike: 21500,
			OptionType: contract.Call, Spot: 21510.5, LTP: ptr(120.0), OI: ptr(int64(1500)), DTE: 3.2, IV: ptr(13.4)},
		{Timestamp: ts, Symbol: underlying + "21500PE", Underlying: underlying, Expiry: expiry, Strike: 21500,
			OptionType: contract.Put, Spot: 21510.5, DTE: 3.2},
	}
	require.NoError(t, repo.InsertOptionCalc(ctx, calc))
	require.NoError(t, repo.InsertOptionCalc(ctx, calc))

	var count int
	require.NoError(t, db.Get(&count, `SELECT COUNT(*) FROM option_calc WHERE underlying = $1`, underlying))
	assert.Equal(t, 2, count)

	straddles := []surface.StraddleRow{
		{Timestamp: ts, Underlying: underlying, Expiry: expiry, Strike: 21500, CallSymbol: calc[0].Symbol, PutSymbol: calc[1].Symbol,
			Spot: ptr(21510.5), CombinedPremium: ptr(230.0), IsMinima: ptr(true)},
		{Timestamp: ts, Underlying: underlying, Expiry: expiry, Strike: 21550, CallSymbol: underlying + "21550CE",
			Spot: ptr(21510.5), IsMinima: ptr(false)},
	}
	require.NoError(t, repo.InsertStraddle(ctx, straddles))
	require.NoError(t, repo.InsertStraddle(ctx, straddles))

	history, err := repo.StraddleHistory(ctx, underlying, expiry, ts.Add(-time.Minute))
	require.NoError(t, err)
	assert.Len(t, history, 2)

	minima, err := repo.StraddleMinima(ctx, underlying, expiry, ts.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, minima, 1)
	assert.Equal(t, 21500.0, minima[0].Strike)
	assert.InDelta(t, 230.0, *minima[0].CombinedPremium, 1e-9)
}

func TestContractRepository_LoadUniverse(t *testing.T) {
	testDB := newTestDB(t)
	db := testDB.DB()
	repo := NewContractRepository(db)
	ctx := context.Background()

	day := time.Now().UTC().Truncate(24 * time.Hour)
	expiry := day.AddDate(0, 0, 3)
	name := "TST" + day.Format("0102") + time.Now().Format("150405")

	rows := []contract.Instrument{
		{InstrumentID: 9_000_001, Symbol: name + "FUT", Underlying: name, Expiry: day.AddDate(0, 0, 20), InstrumentType: "FUT"},
		{InstrumentID: 9_000_002, Symbol: name + "100CE", Underlying: name, Expiry: expiry, Strike: 100, InstrumentType: "CE"},
		{InstrumentID: 9_000_003, Symbol: name + "100PE", Underlying: name, Expiry: expiry, Strike: 100, InstrumentType: "PE"},
	}
	t.Cleanup(func() {
		_, _ = db.Exec(`DELETE FROM instruments WHERE name = $1`, name)
	})
	require.NoError(t, repo.UpsertInstruments(ctx, rows))

	u, err := repo.LoadUniverse(ctx, day, []string{name})
	require.NoError(t, err)
	assert.Len(t, u.Contracts, 2)
	assert.Equal(t, name+"FUT", u.FutureFor(name))
	sym, ok := u.SymbolFor(9_000_003)
	require.True(t, ok)
	assert.Equal(t, name+"100PE", sym)
}
