package clickhouse

import (
	"context"
	"sync"
	"time"

	"optionsurface/pkg/logger"
)

// FlushFunc writes one batch, typically as a single INSERT
type FlushFunc[T any] func(ctx context.Context, batch []T) error

// BatchWriter accumulates items in memory and flushes them in batches,
// either when the buffer is full or when the flush interval elapses.
// A batch whose flush fails is dropped and counted.
type BatchWriter[T any] struct {
	flushFunc FlushFunc[T]
	buffer    []T
	mu        sync.Mutex
	log       *logger.Logger

	maxBatchSize int
	maxAge       time.Duration
	tableName    string

	lastFlush time.Time
	flushed   uint64
	failed    uint64
	stopCh    chan struct{}
	wg        sync.WaitGroup
	running   bool
}

// BatchWriterConfig contains configuration for BatchWriter
type BatchWriterConfig[T any] struct {
	FlushFunc    FlushFunc[T]
	TableName    string
	MaxBatchSize int           // Default: 500
	MaxAge       time.Duration // Default: 5s
	Logger       *logger.Logger
}

// NewBatchWriter creates a new batch writer
func NewBatchWriter[T any](cfg BatchWriterConfig[T]) *BatchWriter[T] {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 500
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Get()
	}

	return &BatchWriter[T]{
		flushFunc:    cfg.FlushFunc,
		buffer:       make([]T, 0, cfg.MaxBatchSize),
		maxBatchSize: cfg.MaxBatchSize,
		maxAge:       cfg.MaxAge,
		tableName:    cfg.TableName,
		lastFlush:    time.Now(),
		stopCh:       make(chan struct{}),
		log:          cfg.Logger.With("component", "batch_writer", "table", cfg.TableName),
	}
}

// Start begins the background flush loop
func (bw *BatchWriter[T]) Start(ctx context.Context) {
	bw.mu.Lock()
	if bw.running {
		bw.mu.Unlock()
		return
	}
	bw.running = true
	bw.mu.Unlock()

	bw.wg.Add(1)
	go bw.flushLoop(ctx)

	bw.log.Infow("Batch writer started", "max_batch_size", bw.maxBatchSize, "max_age", bw.maxAge)
}

// Add buffers an item and flushes synchronously once the buffer is full
func (bw *BatchWriter[T]) Add(ctx context.Context, item T) error {
	bw.mu.Lock()
	bw.buffer = append(bw.buffer, item)
	full := len(bw.buffer) >= bw.maxBatchSize
	bw.mu.Unlock()

	if full {
		return bw.Flush(ctx)
	}
	return nil
}

// Flush writes all buffered items
func (bw *BatchWriter[T]) Flush(ctx context.Context) error {
	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return nil
	}
	batch := bw.buffer
	bw.buffer = make([]T, 0, bw.maxBatchSize)
	bw.lastFlush = time.Now()
	bw.mu.Unlock()

	// Flush outside of lock so Add never waits on the database
	start := time.Now()
	err := bw.flushFunc(ctx, batch)
	duration := time.Since(start)

	bw.mu.Lock()
	if err != nil {
		bw.failed += uint64(len(batch))
	} else {
		bw.flushed += uint64(len(batch))
	}
	bw.mu.Unlock()

	if err != nil {
		bw.log.Errorw("Batch flush failed, batch dropped",
			"items", len(batch),
			"duration", duration,
			"error", err,
		)
		return err
	}

	bw.log.Debugw("Batch flushed", "items", len(batch), "duration", duration)
	return nil
}

func (bw *BatchWriter[T]) flushLoop(ctx context.Context) {
	defer bw.wg.Done()

	ticker := time.NewTicker(bw.maxAge)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			bw.finalFlush()
			return
		case <-bw.stopCh:
			bw.finalFlush()
			return
		case <-ticker.C:
			if bw.BufferSize() > 0 {
				_ = bw.Flush(ctx)
			}
		}
	}
}

func (bw *BatchWriter[T]) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := bw.Flush(ctx); err != nil {
		bw.log.Warnw("Final flush failed", "error", err)
	}
}

// Stop flushes remaining items and waits for the flush loop to exit
func (bw *BatchWriter[T]) Stop(ctx context.Context) error {
	bw.mu.Lock()
	if !bw.running {
		bw.mu.Unlock()
		return nil
	}
	bw.running = false
	bw.mu.Unlock()

	close(bw.stopCh)

	done := make(chan struct{})
	go func() {
		bw.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		bw.log.Info("Batch writer stopped")
		return nil
	case <-ctx.Done():
		bw.log.Warn("Batch writer stop timed out")
		return ctx.Err()
	}
}

// BufferSize returns the number of items waiting for a flush
func (bw *BatchWriter[T]) BufferSize() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}

// BatchWriterStats describes the writer for monitoring
type BatchWriterStats struct {
	BufferSize   int
	LastFlushAge time.Duration
	Flushed      uint64
	Failed       uint64
	Running      bool
}

// GetStats returns current statistics
func (bw *BatchWriter[T]) GetStats() BatchWriterStats {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	return BatchWriterStats{
		BufferSize:   len(bw.buffer),
		LastFlushAge: time.Since(bw.lastFlush),
		Flushed:      bw.flushed,
		Failed:       bw.failed,
		Running:      bw.running,
	}
}
