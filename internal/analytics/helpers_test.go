package analytics

import (
	"strconv"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/require"

	"optionsurface/internal/domain/calendar"
	"optionsurface/internal/domain/contract"
	"optionsurface/internal/domain/quote"
)

func testCalendar(t *testing.T) *calendar.Calendar {
	t.Helper()
	cal, err := calendar.New(calendar.Config{
		Timezone:      "Asia/Kolkata",
		Open:          "09:15",
		Close:         "15:30",
		PreOpenWindow: 5 * time.Minute,
		Holidays:      calendar.DefaultHolidays,
	})
	require.NoError(t, err)
	return cal
}

func ist(t *testing.T, year int, month time.Month, day, hour, min int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	return time.Date(year, month, day, hour, min, 0, 0, loc)
}

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func px(sym string, price float64) quote.Quote {
	return quote.Quote{Symbol: sym, LastPrice: &price}
}

func snapshotOf(quotes ...quote.Quote) quote.Snapshot {
	m := make(map[string]quote.Quote, len(quotes))
	for _, q := range quotes {
		m[q.Symbol] = q
	}
	return quote.NewSnapshot(time.Now(), m)
}

func chainContracts(underlying string, expiry time.Time, strikes ...float64) []contract.OptionContract {
	var out []contract.OptionContract
	for _, k := range strikes {
		out = append(out,
			contract.OptionContract{Symbol: symbolOf(underlying, k, contract.Call), Underlying: underlying, Expiry: expiry, Strike: k, OptionType: contract.Call},
			contract.OptionContract{Symbol: symbolOf(underlying, k, contract.Put), Underlying: underlying, Expiry: expiry, Strike: k, OptionType: contract.Put},
		)
	}
	return out
}

func symbolOf(underlying string, strike float64, typ contract.OptionType) string {
	return underlying + formatStrike(strike) + string(typ)
}

func formatStrike(k float64) string {
	return strconv.FormatFloat(k, 'f', -1, 64)
}
