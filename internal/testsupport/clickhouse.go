package testsupport

import (
	"context"
	"fmt"
	"testing"
	"time"

	"optionsurface/internal/adapters/clickhouse"
)

// ClickHouseTestHelper manages cleanup for ClickHouse integration tests.
type ClickHouseTestHelper struct {
	client *clickhouse.Client
}

// NewTestClickHouse creates a ClickHouse client for tests from the environment.
func NewTestClickHouse(t *testing.T) *ClickHouseTestHelper {
	t.Helper()

	client, err := clickhouse.NewClient(context.Background(), LoadClickHouseConfig(t))
	if err != nil {
		t.Fatalf("failed to connect to clickhouse: %v", err)
	}

	t.Cleanup(func() { _ = client.Close() })
	return &ClickHouseTestHelper{client: client}
}

// Client returns the underlying client
func (h *ClickHouseTestHelper) Client() *clickhouse.Client {
	return h.client
}

// RegisterTableCleanup deletes matching rows after the test completes
func (h *ClickHouseTestHelper) RegisterTableCleanup(t *testing.T, table, condition string) {
	t.Helper()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = h.client.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s", table, condition))
	})
}
