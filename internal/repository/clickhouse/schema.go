package clickhouse

import (
	"context"
	_ "embed"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"optionsurface/pkg/errors"
)

//go:embed ddl/schema.sql
var schemaDDL string

// EnsureSchema creates the analytics and tick archive tables when missing.
// The native protocol takes one statement per call.
func EnsureSchema(ctx context.Context, conn driver.Conn) error {
	for _, stmt := range strings.Split(schemaDDL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if err := conn.Exec(ctx, stmt); err != nil {
			return errors.Wrap(err, "failed to apply clickhouse schema")
		}
	}
	return nil
}
