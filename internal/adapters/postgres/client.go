package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"optionsurface/internal/adapters/config"
	"optionsurface/pkg/errors"
)

// Client wraps sqlx.DB for PostgreSQL operations
type Client struct {
	db *sqlx.DB
}

// NewClient creates a new PostgreSQL client with connection pooling
func NewClient(ctx context.Context, cfg config.PostgresConfig) (*Client, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN())
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to connect to postgres"), errors.ErrUnavailable)
	}

	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(max(cfg.MaxConns/2, 1))
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Mark(errors.Wrap(err, "failed to ping postgres"), errors.ErrUnavailable)
	}

	return &Client{db: db}, nil
}

// DB returns the underlying sqlx.DB instance
func (c *Client) DB() *sqlx.DB {
	return c.db
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

// Health checks database connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.db.PingContext(ctx)
}
