package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionsurface/internal/domain/contract"
	"optionsurface/internal/domain/surface"
	"optionsurface/internal/testsupport"
)

func TestSurfaceRepository_ReplacesDuplicates(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	helper := testsupport.NewTestClickHouse(t)
	conn := helper.Client().Conn()
	ctx := context.Background()
	require.NoError(t, EnsureSchema(ctx, conn))

	underlying := "TEST" + time.Now().Format("150405")
	helper.RegisterTableCleanup(t, "option_calc", "underlying = '"+underlying+"'")

	repo := NewSurfaceRepository(conn)
	ts := time.Date(2024, 2, 5, 4, 1, 0, 0, time.UTC)
	iv := 13.2
	rows := []surface.OptionCalcRow{
		{Timestamp: ts, Symbol: underlying + "21500CE", Underlying: underlying, Expiry: ts, Strike: 21500,
			OptionType: contract.Call, Spot: 21510, DTE: 3.2, IV: &iv},
	}
	require.NoError(t, repo.InsertOptionCalc(ctx, rows))
	require.NoError(t, repo.InsertOptionCalc(ctx, rows))

	var count uint64
	err := conn.QueryRow(ctx, "SELECT count() FROM option_calc FINAL WHERE underlying = ?", underlying).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}
