package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"optionsurface/internal/testsupport"
)

// newTestDB connects to the integration database and applies the schema.
// Skipped in short mode or when the environment is not configured.
func newTestDB(t *testing.T) *testsupport.PostgresTestHelper {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testDB := testsupport.NewTestPostgres(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, EnsureSchema(ctx, testDB.DB()))

	return testDB
}
