package workers

import (
	"context"
	"sync"
	"time"

	"optionsurface/pkg/logger"
)

// Worker is a background task run on a fixed interval by Scheduler.
// Session-bound work uses Job and SessionScheduler instead.
type Worker interface {
	Name() string
	Run(ctx context.Context) error
	Interval() time.Duration
	Enabled() bool
}

// HealthRecorder is implemented by workers that keep run statistics.
// Scheduler reports every iteration to it.
type HealthRecorder interface {
	RecordRun(duration time.Duration)
	RecordError(err error, duration time.Duration)
}

// WorkerHealth is a point-in-time view of a worker's runs
type WorkerHealth struct {
	LastRun             time.Time
	LastError           error
	RunCount            int64
	ErrorCount          int64
	ConsecutiveFailures int
	AvgDuration         time.Duration
}

// BaseWorker carries name, interval and run statistics. Concrete workers
// embed it and implement Run.
type BaseWorker struct {
	name     string
	interval time.Duration
	enabled  bool
	log      *logger.Logger

	mu     sync.RWMutex
	health WorkerHealth
	total  time.Duration
}

// NewBaseWorker creates a base worker. A non-positive interval disables it.
func NewBaseWorker(name string, interval time.Duration, enabled bool, log *logger.Logger) *BaseWorker {
	if log == nil {
		log = logger.Get()
	}
	return &BaseWorker{
		name:     name,
		interval: interval,
		enabled:  enabled && interval > 0,
		log:      log.With("worker", name),
	}
}

func (w *BaseWorker) Name() string            { return w.name }
func (w *BaseWorker) Interval() time.Duration { return w.interval }
func (w *BaseWorker) Enabled() bool           { return w.enabled }
func (w *BaseWorker) Log() *logger.Logger     { return w.log }

// Health returns the run statistics
func (w *BaseWorker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()

	h := w.health
	if h.RunCount > 0 {
		h.AvgDuration = w.total / time.Duration(h.RunCount)
	}
	return h
}

// RecordRun implements HealthRecorder
func (w *BaseWorker) RecordRun(duration time.Duration) {
	w.record(nil, duration)
}

// RecordError implements HealthRecorder
func (w *BaseWorker) RecordError(err error, duration time.Duration) {
	w.record(err, duration)
}

func (w *BaseWorker) record(err error, duration time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.health.LastRun = time.Now()
	w.health.LastError = err
	w.health.RunCount++
	w.total += duration

	if err != nil {
		w.health.ErrorCount++
		w.health.ConsecutiveFailures++
		return
	}
	w.health.ConsecutiveFailures = 0
}
