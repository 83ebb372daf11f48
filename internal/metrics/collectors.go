package metrics

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"

	"optionsurface/pkg/logger"
)

// CustomCollector collects storage-level gauges on scrape.
// Either store may be nil when that sink is disabled.
type CustomCollector struct {
	log        *logger.Logger
	postgres   *sqlx.DB
	clickhouse driver.Conn

	// Descriptors
	storedRows      *prometheus.Desc
	lastStoredRun   *prometheus.Desc
	archivedTicks1h *prometheus.Desc
}

// NewCustomCollector creates a new custom metrics collector
func NewCustomCollector(log *logger.Logger, postgres *sqlx.DB, clickhouse driver.Conn) *CustomCollector {
	return &CustomCollector{
		log:        log,
		postgres:   postgres,
		clickhouse: clickhouse,

		storedRows: prometheus.NewDesc(
			"optionsurface_stored_rows_today",
			"Rows persisted today by table",
			[]string{"table"}, nil,
		),
		lastStoredRun: prometheus.NewDesc(
			"optionsurface_last_stored_run_timestamp",
			"Unix timestamp of the newest persisted straddle run",
			nil, nil,
		),
		archivedTicks1h: prometheus.NewDesc(
			"optionsurface_archived_ticks_1h",
			"Ticks archived in the last hour",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *CustomCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.storedRows
	ch <- c.lastStoredRun
	ch <- c.archivedTicks1h
}

// Collect implements prometheus.Collector
func (c *CustomCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.postgres != nil {
		c.collectStoredRows(ctx, ch)
		c.collectLastRun(ctx, ch)
	}
	if c.clickhouse != nil {
		c.collectArchivedTicks(ctx, ch)
	}
}

func (c *CustomCollector) collectStoredRows(ctx context.Context, ch chan<- prometheus.Metric) {
	for _, table := range []string{"option_calc", "option_straddle"} {
		var count int64
		err := c.postgres.GetContext(ctx, &count,
			"SELECT COUNT(*) FROM "+table+" WHERE timestamp >= date_trunc('day', NOW())")
		if err != nil {
			c.log.Warnw("Failed to collect stored row count", "table", table, "error", err)
			continue
		}

		ch <- prometheus.MustNewConstMetric(
			c.storedRows,
			prometheus.GaugeValue,
			float64(count),
			table,
		)
	}
}

func (c *CustomCollector) collectLastRun(ctx context.Context, ch chan<- prometheus.Metric) {
	var last *time.Time
	if err := c.postgres.GetContext(ctx, &last, "SELECT MAX(timestamp) FROM option_straddle"); err != nil {
		c.log.Warnw("Failed to collect last stored run", "error", err)
		return
	}
	if last == nil {
		return
	}

	ch <- prometheus.MustNewConstMetric(
		c.lastStoredRun,
		prometheus.GaugeValue,
		float64(last.Unix()),
	)
}

func (c *CustomCollector) collectArchivedTicks(ctx context.Context, ch chan<- prometheus.Metric) {
	var count uint64
	row := c.clickhouse.QueryRow(ctx, "SELECT count() FROM feed_ticks WHERE observed > now() - INTERVAL 1 HOUR")
	if err := row.Scan(&count); err != nil {
		c.log.Warnw("Failed to collect archived tick count", "error", err)
		return
	}

	ch <- prometheus.MustNewConstMetric(
		c.archivedTicks1h,
		prometheus.GaugeValue,
		float64(count),
	)
}

// RegisterCustomCollector registers the custom collector
func RegisterCustomCollector(collector *CustomCollector) {
	prometheus.MustRegister(collector)
}
