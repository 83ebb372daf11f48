package postgres

import (
	"context"
	_ "embed"

	"github.com/jmoiron/sqlx"

	"optionsurface/pkg/errors"
)

//go:embed ddl/schema.sql
var schemaDDL string

// EnsureSchema creates the instrument and analytics tables when missing
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		return classify(errors.Wrap(err, "failed to apply postgres schema"))
	}
	return nil
}
