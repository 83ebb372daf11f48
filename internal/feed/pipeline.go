package feed

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"optionsurface/internal/domain/quote"
	"optionsurface/internal/metrics"
	"optionsurface/pkg/errors"
	"optionsurface/pkg/logger"
)

// Transport delivers raw payload batches from one upstream connection.
// Receive blocks until a batch is available and returns ErrTransportClosed
// once the transport is closed. Close must unblock a pending Receive.
type Transport interface {
	Receive(ctx context.Context) ([][]byte, error)
	Close() error
}

// SymbolLookup resolves feed instrument ids to symbols
type SymbolLookup interface {
	SymbolFor(id int64) (string, bool)
}

// TickRecorder receives every applied tick. It must not block.
type TickRecorder interface {
	RecordTick(symbol string, tick Tick)
}

// Config configures one ingestion pipeline
type Config struct {
	Name         string
	QueueSize    int
	PollInterval time.Duration
	StopTimeout  time.Duration
}

// Stats are cumulative pipeline counters
type Stats struct {
	Batches    uint64
	Applied    uint64
	OIUpdates  uint64
	Malformed  uint64
	Unknown    uint64
	Panics     uint64
	QueueDepth int
}

// Pipeline moves raw payloads from a transport into the quote table.
// A receiver goroutine pushes batches unmodified onto a FIFO queue; a
// processor goroutine normalizes each message and upserts it as one step.
type Pipeline struct {
	cfg        Config
	transport  Transport
	normalizer Normalizer
	table      *quote.Table
	symbols    SymbolLookup
	recorder   TickRecorder
	logger     *logger.Logger

	queue    chan [][]byte
	stopping atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  atomic.Bool

	warnLimiter *rate.Limiter

	batches   atomic.Uint64
	applied   atomic.Uint64
	oiUpdates atomic.Uint64
	malformed atomic.Uint64
	unknown   atomic.Uint64
	panics    atomic.Uint64
}

// NewPipeline creates a pipeline. recorder may be nil.
func NewPipeline(
	cfg Config,
	transport Transport,
	normalizer Normalizer,
	table *quote.Table,
	symbols SymbolLookup,
	recorder TickRecorder,
	log *logger.Logger,
) *Pipeline {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 4096
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 70 * time.Millisecond
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "feed"
	}
	if log == nil {
		log = logger.Get()
	}

	return &Pipeline{
		cfg:         cfg,
		transport:   transport,
		normalizer:  normalizer,
		table:       table,
		symbols:     symbols,
		recorder:    recorder,
		logger:      log.With("component", "ingestion_pipeline", "pipeline", cfg.Name),
		queue:       make(chan [][]byte, cfg.QueueSize),
		stopCh:      make(chan struct{}),
		warnLimiter: rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

// Name returns the pipeline name
func (p *Pipeline) Name() string {
	return p.cfg.Name
}

// Start launches the receiver and processor goroutines
func (p *Pipeline) Start(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return errors.Newf("pipeline %s already started", p.cfg.Name)
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(2)
	go p.receive(runCtx)
	go p.process()

	p.logger.Infow("Ingestion pipeline started",
		"queue_size", p.cfg.QueueSize,
		"poll_interval", p.cfg.PollInterval,
	)
	return nil
}

// Stop signals both goroutines, closes the transport to unblock a pending
// receive, and waits up to StopTimeout for them to exit. Once Stop returns
// nil no further table writes happen.
func (p *Pipeline) Stop() error {
	if !p.started.Load() {
		return nil
	}

	p.stopOnce.Do(func() {
		p.stopping.Store(true)
		close(p.stopCh)
		if p.cancel != nil {
			p.cancel()
		}
		if err := p.transport.Close(); err != nil {
			p.logger.Warnw("Transport close failed", "error", err)
		}
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Infow("Ingestion pipeline stopped", "applied", p.applied.Load())
		return nil
	case <-time.After(p.cfg.StopTimeout):
		return errors.Wrapf(errors.ErrTimeout, "pipeline %s did not stop within %s", p.cfg.Name, p.cfg.StopTimeout)
	}
}

// Stats returns a copy of the pipeline counters
func (p *Pipeline) Stats() Stats {
	return Stats{
		Batches:    p.batches.Load(),
		Applied:    p.applied.Load(),
		OIUpdates:  p.oiUpdates.Load(),
		Malformed:  p.malformed.Load(),
		Unknown:    p.unknown.Load(),
		Panics:     p.panics.Load(),
		QueueDepth: len(p.queue),
	}
}

func (p *Pipeline) receive(ctx context.Context) {
	defer p.wg.Done()

	for !p.stopping.Load() {
		batch, err := p.transport.Receive(ctx)
		if err != nil {
			if p.stopping.Load() || ctx.Err() != nil {
				return
			}
			if errors.Is(err, errors.ErrTransportClosed) {
				p.logger.Warnw("Transport closed, receiver exiting", "error", err)
				return
			}
			if p.warnLimiter.Allow() {
				p.logger.Warnw("Transport receive failed", "error", err)
			}
			p.sleep(p.cfg.PollInterval)
			continue
		}
		if len(batch) == 0 {
			continue
		}

		select {
		case p.queue <- batch:
			p.batches.Add(1)
			metrics.FeedQueueDepth.WithLabelValues(p.cfg.Name).Set(float64(len(p.queue)))
		case <-p.stopCh:
			return
		}
	}
}

func (p *Pipeline) process() {
	defer p.wg.Done()

	for !p.stopping.Load() {
		select {
		case batch := <-p.queue:
			metrics.FeedQueueDepth.WithLabelValues(p.cfg.Name).Set(float64(len(p.queue)))
			for _, raw := range batch {
				if p.stopping.Load() {
					return
				}
				p.apply(raw)
			}
		default:
			p.sleep(p.cfg.PollInterval)
		}
	}
}

// apply normalizes one message and writes it to the table.
// A failure here is logged and never stops the loop.
func (p *Pipeline) apply(raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			metrics.FeedMessages.WithLabelValues(p.cfg.Name, "panic").Inc()
			p.logger.Errorw("Panic while applying feed message",
				"panic", r,
				"error", errors.Newf("feed message panic: %v", r),
			)
		}
	}()

	tick, ok, err := p.normalizer.Normalize(raw)
	if err != nil {
		p.malformed.Add(1)
		metrics.FeedMessages.WithLabelValues(p.cfg.Name, "malformed").Inc()
		if p.warnLimiter.Allow() {
			p.logger.Warnw("Dropping malformed feed message", "error", err, "payload_bytes", len(raw))
		}
		return
	}
	if !ok {
		p.oiUpdates.Add(1)
		metrics.FeedMessages.WithLabelValues(p.cfg.Name, "oi").Inc()
		return
	}

	symbol, known := p.symbols.SymbolFor(tick.InstrumentID)
	if !known {
		p.unknown.Add(1)
		metrics.FeedMessages.WithLabelValues(p.cfg.Name, "unknown_instrument").Inc()
		p.logger.Debugw("Tick for untracked instrument", "instrument_id", tick.InstrumentID)
		return
	}

	p.table.Upsert(tick.Quote(symbol))
	p.applied.Add(1)
	metrics.FeedMessages.WithLabelValues(p.cfg.Name, "applied").Inc()

	if p.recorder != nil {
		p.recorder.RecordTick(symbol, tick)
	}
}

func (p *Pipeline) sleep(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-p.stopCh:
	}
}
