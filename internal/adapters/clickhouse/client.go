package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"optionsurface/internal/adapters/config"
	"optionsurface/pkg/errors"
)

// Client wraps ClickHouse connection
type Client struct {
	conn driver.Conn
}

// NewClient creates a new ClickHouse client
func NewClient(ctx context.Context, cfg config.ClickHouseConfig) (*Client, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to connect to clickhouse"), errors.ErrUnavailable)
	}

	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, errors.Mark(errors.Wrap(err, "failed to ping clickhouse"), errors.ErrUnavailable)
	}

	return &Client{conn: conn}, nil
}

// Conn returns the underlying ClickHouse connection
func (c *Client) Conn() driver.Conn {
	return c.conn
}

// Close closes the ClickHouse connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// Health checks ClickHouse connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

// Exec executes a query without returning rows
func (c *Client) Exec(ctx context.Context, query string, args ...interface{}) error {
	return c.conn.Exec(ctx, query, args...)
}
