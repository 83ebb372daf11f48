package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Worker metrics
	WorkerExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optionsurface_worker_executions_total",
			Help: "Total number of worker executions",
		},
		[]string{"worker", "status"}, // status: success|error
	)

	WorkerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "optionsurface_worker_duration_seconds",
			Help:    "Worker execution duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"worker"},
	)

	WorkerLastRun = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "optionsurface_worker_last_run_timestamp",
			Help: "Unix timestamp of last worker execution",
		},
		[]string{"worker"},
	)

	// Scheduler metrics
	JobFirings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optionsurface_job_firings_total",
			Help: "Scheduled job firings by outcome",
		},
		[]string{"job", "outcome"}, // outcome: run|skipped_overlap|dropped_misfire|outside_session
	)

	// Feed metrics
	FeedMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optionsurface_feed_messages_total",
			Help: "Feed messages processed by outcome",
		},
		[]string{"pipeline", "outcome"}, // outcome: applied|oi|malformed|unknown_instrument|panic
	)

	FeedQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "optionsurface_feed_queue_depth",
			Help: "Batches waiting between receiver and processor",
		},
		[]string{"pipeline"},
	)

	FeedReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optionsurface_feed_reconnects_total",
			Help: "Feed transport reconnect attempts",
		},
		[]string{"feed", "status"}, // status: success|failed
	)

	QuoteTableSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "optionsurface_quote_table_symbols",
			Help: "Symbols with a live entry in the quote table",
		},
	)

	// Analytics metrics
	AnalyticsRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optionsurface_analytics_rows_total",
			Help: "Rows produced by analytics runs",
		},
		[]string{"kind"}, // kind: option_calc|straddle
	)

	SolverFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "optionsurface_iv_solver_failures_total",
			Help: "Contracts whose implied volatility did not converge",
		},
	)

	DroppedChains = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optionsurface_dropped_chains_total",
			Help: "Option chains dropped from a run for lack of spot",
		},
		[]string{"underlying"},
	)

	// Sink metrics
	SinkWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optionsurface_sink_writes_total",
			Help: "Sink write attempts by outcome",
		},
		[]string{"sink", "operation", "status"}, // status: success|retry|dropped|error
	)

	SinkDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "optionsurface_sink_duration_seconds",
			Help:    "Sink write duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"sink", "operation"},
	)

	// System metrics
	KafkaMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optionsurface_kafka_messages_total",
			Help: "Total Kafka messages",
		},
		[]string{"topic", "type"}, // type: produced|consumed
	)

	TicksArchived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "optionsurface_ticks_archived_total",
			Help: "Normalized ticks flushed to the tick archive",
		},
	)
)

var registerOnce sync.Once

// Init registers all metrics with Prometheus
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(WorkerExecutions)
		prometheus.MustRegister(WorkerDuration)
		prometheus.MustRegister(WorkerLastRun)

		prometheus.MustRegister(JobFirings)

		prometheus.MustRegister(FeedMessages)
		prometheus.MustRegister(FeedQueueDepth)
		prometheus.MustRegister(FeedReconnects)
		prometheus.MustRegister(QuoteTableSize)

		prometheus.MustRegister(AnalyticsRows)
		prometheus.MustRegister(SolverFailures)
		prometheus.MustRegister(DroppedChains)

		prometheus.MustRegister(SinkWrites)
		prometheus.MustRegister(SinkDuration)

		prometheus.MustRegister(KafkaMessages)
		prometheus.MustRegister(TicksArchived)
	})
}

// Handler returns Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordWorkerExecution records a worker execution
func RecordWorkerExecution(worker string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	WorkerExecutions.WithLabelValues(worker, status).Inc()
	WorkerDuration.WithLabelValues(worker).Observe(duration.Seconds())
	WorkerLastRun.WithLabelValues(worker).SetToCurrentTime()
}

// RecordSinkWrite records one sink write attempt
func RecordSinkWrite(sink, operation string, duration time.Duration, status string) {
	SinkWrites.WithLabelValues(sink, operation, status).Inc()
	SinkDuration.WithLabelValues(sink, operation).Observe(duration.Seconds())
}

// RecordFiring records the outcome of one scheduled firing
func RecordFiring(job, outcome string) {
	JobFirings.WithLabelValues(job, outcome).Inc()
}
