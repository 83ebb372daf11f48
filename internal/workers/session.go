package workers

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"optionsurface/internal/domain/calendar"
	"optionsurface/internal/metrics"
	"optionsurface/pkg/errors"
	"optionsurface/pkg/logger"
)

// EveryMinute fires at second zero of every minute; windows decide whether the job runs
const EveryMinute = "0 * * * * *"

// Window restricts the instants at which a session job may run
type Window int

const (
	// WindowSession admits firings from session open to session close, both inclusive
	WindowSession Window = iota
	// WindowPreOpen admits firings in the warm-up window before the open
	WindowPreOpen
	// WindowTradingDay admits any firing on a trading day
	WindowTradingDay
)

func (w Window) String() string {
	switch w {
	case WindowSession:
		return "session"
	case WindowPreOpen:
		return "pre_open"
	default:
		return "trading_day"
	}
}

// Outcome of one firing
type Outcome string

const (
	OutcomeRun     Outcome = "run"
	OutcomeFailed  Outcome = "failed"
	OutcomeOutside Outcome = "outside_window"
	OutcomeMisfire Outcome = "misfire"
	OutcomeOverlap Outcome = "overlap"
)

// Job is run by SessionScheduler. fireTime is the scheduled instant, not the
// instant the job actually started.
type Job interface {
	Name() string
	Run(ctx context.Context, fireTime time.Time) error
}

// JobFunc adapts a function to Job
type JobFunc struct {
	JobName string
	Fn      func(ctx context.Context, fireTime time.Time) error
}

// Name implements Job
func (f JobFunc) Name() string { return f.JobName }

// Run implements Job
func (f JobFunc) Run(ctx context.Context, fireTime time.Time) error { return f.Fn(ctx, fireTime) }

type sessionEntry struct {
	id      cron.EntryID
	spec    string
	window  Window
	job     Job
	running atomic.Bool
}

// SessionScheduler fires jobs on wall-clock aligned cron schedules in the
// exchange time zone. A firing runs only inside its window on a trading day.
// A firing observed later than the misfire grace is dropped, and a firing
// that arrives while the previous run of the same job is in flight is skipped.
type SessionScheduler struct {
	cron        *cron.Cron
	cal         *calendar.Calendar
	grace       time.Duration
	stopTimeout time.Duration
	now         func() time.Time
	log         *logger.Logger

	mu      sync.Mutex
	entries []*sessionEntry
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// NewSessionScheduler creates a scheduler bound to cal
func NewSessionScheduler(cal *calendar.Calendar, grace, stopTimeout time.Duration, log *logger.Logger) *SessionScheduler {
	log = log.With("component", "session_scheduler")
	if stopTimeout <= 0 {
		stopTimeout = time.Minute
	}

	return &SessionScheduler{
		cron: cron.New(
			cron.WithLocation(cal.Location()),
			cron.WithSeconds(),
			cron.WithLogger(cronLogger{log: log}),
		),
		cal:         cal,
		grace:       grace,
		stopTimeout: stopTimeout,
		now:         time.Now,
		log:         log,
		ctx:         context.Background(),
	}
}

// Schedule registers job under a six-field cron spec (seconds first)
func (s *SessionScheduler) Schedule(spec string, window Window, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.Wrapf(errors.ErrInternal, "cannot schedule %s after start", job.Name())
	}

	entry := &sessionEntry{spec: spec, window: window, job: job}
	id, err := s.cron.AddFunc(spec, func() { s.dispatch(entry) })
	if err != nil {
		return errors.Wrapf(errors.ErrInvalidInput, "schedule %s: %v", job.Name(), err)
	}
	entry.id = id
	s.entries = append(s.entries, entry)

	s.log.Infow("Session job scheduled", "job", job.Name(), "spec", spec, "window", window.String())
	return nil
}

// Start begins dispatching firings
func (s *SessionScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.Wrapf(errors.ErrInternal, "session scheduler already started")
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()

	s.log.Infow("Session scheduler started",
		"jobs", len(s.entries),
		"timezone", s.cal.Location().String(),
		"misfire_grace", s.grace,
	)
	return nil
}

// Stop prevents new firings, cancels the running ones and waits for them
func (s *SessionScheduler) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	done := s.cron.Stop()
	cancel()

	select {
	case <-done.Done():
		s.log.Info("Session scheduler stopped")
		return nil
	case <-time.After(s.stopTimeout):
		return errors.Wrapf(errors.ErrTimeout, "session jobs still running after %s", s.stopTimeout)
	}
}

func (s *SessionScheduler) dispatch(entry *sessionEntry) {
	// cron records the scheduled instant of the firing being dispatched as Prev
	scheduled := s.cron.Entry(entry.id).Prev
	if scheduled.IsZero() {
		scheduled = s.now().Truncate(time.Second)
	}

	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	s.fire(ctx, entry, scheduled)
}

func (s *SessionScheduler) inWindow(w Window, t time.Time) bool {
	switch w {
	case WindowSession:
		return s.cal.Phase(t) == calendar.PhaseOpen
	case WindowPreOpen:
		return s.cal.Phase(t) == calendar.PhasePreOpen
	default:
		return s.cal.IsTradingDay(t)
	}
}

// fire applies the window, misfire and overlap policies, then runs the job
func (s *SessionScheduler) fire(ctx context.Context, entry *sessionEntry, scheduled time.Time) Outcome {
	name := entry.job.Name()

	if !s.inWindow(entry.window, scheduled) {
		return OutcomeOutside
	}

	if late := s.now().Sub(scheduled); late > s.grace {
		s.log.Warnw("Firing dropped, past misfire grace", "job", name, "scheduled", scheduled, "late", late)
		metrics.RecordFiring(name, string(OutcomeMisfire))
		return OutcomeMisfire
	}

	if !entry.running.CompareAndSwap(false, true) {
		s.log.Warnw("Firing skipped, previous run still in flight", "job", name, "scheduled", scheduled)
		metrics.RecordFiring(name, string(OutcomeOverlap))
		return OutcomeOverlap
	}
	defer entry.running.Store(false)

	start := time.Now()
	err := s.run(ctx, entry.job, scheduled)
	duration := time.Since(start)

	if err != nil {
		s.log.Errorw("Session job failed", "job", name, "scheduled", scheduled, "duration", duration, "error", err)
		metrics.RecordFiring(name, string(OutcomeFailed))
		return OutcomeFailed
	}

	s.log.Debugw("Session job completed", "job", name, "scheduled", scheduled, "duration", duration)
	metrics.RecordFiring(name, string(OutcomeRun))
	return OutcomeRun
}

func (s *SessionScheduler) run(ctx context.Context, job Job, scheduled time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("job %s panicked: %v", job.Name(), r)
		}
	}()
	return job.Run(ctx, scheduled)
}

// cronLogger routes cron's own diagnostics into the structured logger
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
