// Package ingest implements the live ingestion pipeline: the websocket
// subscriber and the batching writer that persists decoded events.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/meridian/anchorwatch/internal/event"
)

// Storage is the persistence boundary. WriteBatch must be idempotent on
// the events' natural identifiers; any error means some subset may already
// be durable and a retry must be safe.
type Storage interface {
	WriteBatch(ctx context.Context, events []event.Event) (int, error)
}

// Publisher receives successfully persisted batches for downstream fanout.
// Publish failures are logged, never retried through the writer.
type Publisher interface {
	Publish(ctx context.Context, events []event.Event) error
}

// WriterConfig holds batch writer settings.
type WriterConfig struct {
	// BatchSize triggers a flush when the buffer reaches it.
	BatchSize int

	// MaxWait triggers a flush when this much time has passed since the
	// last successful flush and the buffer is non-empty.
	MaxWait time.Duration

	// BufferSize bounds the ring buffer; overflow drops the oldest
	// buffered event.
	BufferSize int

	// FlushTick is the flush loop wake interval.
	FlushTick time.Duration

	// MaxRetries bounds retry attempts for a transiently failed batch.
	MaxRetries int

	// RetryBaseDelay is doubled per attempt, capped at RetryMaxDelay.
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// WriteTimeout bounds a single storage write.
	WriteTimeout time.Duration

	// DrainAttempts caps the explicit Flush loop.
	DrainAttempts int
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:      100,
		MaxWait:        5 * time.Second,
		BufferSize:     10000,
		FlushTick:      250 * time.Millisecond,
		MaxRetries:     5,
		RetryBaseDelay: 500 * time.Millisecond,
		RetryMaxDelay:  30 * time.Second,
		WriteTimeout:   15 * time.Second,
		DrainAttempts:  10,
	}
}

// WriterStats is a point-in-time snapshot of writer counters. Derived
// values are recomputed on demand and never authoritative.
type WriterStats struct {
	Queued       uint64
	Written      uint64
	Failed       uint64
	Dropped      uint64
	Batches      uint64
	BufferLen    int
	LastWrite    time.Time
	SuccessRate  float64
	AvgBatchSize float64
	Running      bool
}

// pendingBatch is a transiently failed batch waiting at the head of the
// line for its next attempt.
type pendingBatch struct {
	events      []event.Event
	attempts    int
	nextAttempt time.Time
}

// BatchWriter decouples event arrival from storage throughput via a
// bounded buffer with size and time flush triggers.
type BatchWriter struct {
	cfg       WriterConfig
	logger    *slog.Logger
	storage   Storage
	publisher Publisher

	mu        sync.Mutex
	running   bool
	intake    []event.Event
	buffer    []event.Event
	retry     *pendingBatch
	lastFlush time.Time

	queued  uint64
	written uint64
	failed  uint64
	dropped uint64
	batches uint64

	lastWrite time.Time

	intakeCh chan struct{}
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewBatchWriter creates a writer. The publisher is optional.
func NewBatchWriter(cfg WriterConfig, storage Storage, publisher Publisher, logger *slog.Logger) *BatchWriter {
	defaults := DefaultWriterConfig()
	if cfg.BatchSize == 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = defaults.MaxWait
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = defaults.BufferSize
	}
	if cfg.FlushTick == 0 {
		cfg.FlushTick = defaults.FlushTick
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = defaults.RetryBaseDelay
	}
	if cfg.RetryMaxDelay == 0 {
		cfg.RetryMaxDelay = defaults.RetryMaxDelay
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.DrainAttempts == 0 {
		cfg.DrainAttempts = defaults.DrainAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &BatchWriter{
		cfg:       cfg,
		logger:    logger.With("component", "batch-writer"),
		storage:   storage,
		publisher: publisher,
		intakeCh:  make(chan struct{}, 1),
	}
}

// Start launches the intake and flush loops.
func (w *BatchWriter) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("batch writer already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true
	w.lastFlush = time.Now()
	w.done = make(chan struct{})
	w.mu.Unlock()

	go w.run(ctx)

	w.logger.Info("batch writer started",
		"batch_size", w.cfg.BatchSize,
		"max_wait", w.cfg.MaxWait,
		"buffer_size", w.cfg.BufferSize,
	)
	return nil
}

// Stop halts the loops and performs one explicit flush so already-accepted
// events are not lost on a clean shutdown.
func (w *BatchWriter) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	cancel := w.cancel
	done := w.done
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	if err := w.Flush(ctx); err != nil {
		w.logger.Error("final flush failed", "error", err)
		return fmt.Errorf("final flush: %w", err)
	}

	w.logger.Info("batch writer stopped")
	return nil
}

// Submit appends events to the intake queue. A zero-length submission is a
// no-op. It only fails when the writer is not running; backpressure is
// handled by dropping the oldest buffered events, never by blocking or
// erroring here.
func (w *BatchWriter) Submit(events []event.Event) error {
	if len(events) == 0 {
		return nil
	}

	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("batch writer not running")
	}
	w.intake = append(w.intake, events...)
	w.queued += uint64(len(events))
	w.mu.Unlock()

	select {
	case w.intakeCh <- struct{}{}:
	default:
	}
	return nil
}

func (w *BatchWriter) run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.cfg.FlushTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.intakeCh:
			w.drainIntake()
		case <-ticker.C:
			w.drainIntake()
			w.maybeFlush(ctx)
		}
	}
}

// drainIntake moves queued events into the bounded buffer, dropping the
// oldest buffered events on overflow.
func (w *BatchWriter) drainIntake() {
	w.mu.Lock()

	if len(w.intake) == 0 {
		w.mu.Unlock()
		return
	}

	w.buffer = append(w.buffer, w.intake...)
	w.intake = nil

	var droppedNow int
	if over := len(w.buffer) - w.cfg.BufferSize; over > 0 {
		w.buffer = w.buffer[over:]
		w.dropped += uint64(over)
		droppedNow = over
	}
	w.mu.Unlock()

	if droppedNow > 0 {
		w.logger.Warn("buffer full, dropped oldest events",
			"dropped", droppedNow,
			"buffer_size", w.cfg.BufferSize,
		)
	}
}

// maybeFlush applies the retry, size, and time triggers. A pending retry
// batch has priority over newly buffered events.
func (w *BatchWriter) maybeFlush(ctx context.Context) {
	now := time.Now()

	w.mu.Lock()
	if w.retry != nil {
		if now.Before(w.retry.nextAttempt) {
			w.mu.Unlock()
			return
		}
		batch := w.retry
		w.mu.Unlock()
		w.attemptRetry(ctx, batch)
		return
	}

	size := len(w.buffer)
	if size == 0 {
		w.mu.Unlock()
		return
	}
	if size < w.cfg.BatchSize && now.Sub(w.lastFlush) < w.cfg.MaxWait {
		w.mu.Unlock()
		return
	}

	n := size
	if n > w.cfg.BatchSize {
		n = w.cfg.BatchSize
	}
	batch := make([]event.Event, n)
	copy(batch, w.buffer[:n])
	w.buffer = w.buffer[n:]
	w.mu.Unlock()

	if err := w.write(ctx, batch); err != nil {
		w.handleWriteFailure(batch, 0, err)
	}
}

// write performs one storage write, outside any lock, and publishes the
// batch downstream on success.
func (w *BatchWriter) write(ctx context.Context, batch []event.Event) error {
	writeCtx, cancel := context.WithTimeout(ctx, w.cfg.WriteTimeout)
	defer cancel()

	n, err := w.storage.WriteBatch(writeCtx, batch)
	if err != nil {
		return err
	}

	now := time.Now()
	w.mu.Lock()
	w.written += uint64(len(batch))
	w.batches++
	w.lastWrite = now
	w.lastFlush = now
	w.mu.Unlock()

	w.logger.Debug("batch written", "events", len(batch), "stored", n)

	if w.publisher != nil {
		if err := w.publisher.Publish(ctx, batch); err != nil {
			w.logger.Warn("batch publish failed", "events", len(batch), "error", err)
		}
	}
	return nil
}

func (w *BatchWriter) attemptRetry(ctx context.Context, batch *pendingBatch) {
	if err := w.write(ctx, batch.events); err != nil {
		w.handleWriteFailure(batch.events, batch.attempts, err)
		return
	}

	w.mu.Lock()
	w.retry = nil
	w.mu.Unlock()
}

// handleWriteFailure classifies the error and either schedules a
// head-of-line retry with exponential backoff or drops the batch.
func (w *BatchWriter) handleWriteFailure(batch []event.Event, attempts int, err error) {
	kind := Classify(err)

	if !kind.Retryable() {
		w.mu.Lock()
		w.failed += uint64(len(batch))
		w.retry = nil
		w.mu.Unlock()

		w.logger.Error("batch dropped, permanent error",
			"events", len(batch),
			"kind", kind.String(),
			"error", err,
		)
		return
	}

	attempts++
	if attempts > w.cfg.MaxRetries {
		w.mu.Lock()
		w.failed += uint64(len(batch))
		w.retry = nil
		w.mu.Unlock()

		w.logger.Error("batch dropped, retries exhausted",
			"events", len(batch),
			"attempts", attempts,
			"error", err,
		)
		return
	}

	delay := w.backoff(attempts)
	w.mu.Lock()
	w.retry = &pendingBatch{
		events:      batch,
		attempts:    attempts,
		nextAttempt: time.Now().Add(delay),
	}
	w.mu.Unlock()

	w.logger.Warn("batch write failed, will retry",
		"events", len(batch),
		"attempt", attempts,
		"delay", delay,
		"kind", kind.String(),
		"error", err,
	)
}

func (w *BatchWriter) backoff(attempt int) time.Duration {
	d := w.cfg.RetryBaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= w.cfg.RetryMaxDelay {
			return w.cfg.RetryMaxDelay
		}
	}
	if d > w.cfg.RetryMaxDelay {
		d = w.cfg.RetryMaxDelay
	}
	return d
}

// Flush drains the intake queue and buffer, retrying until empty or the
// attempt ceiling is reached. Returns the last error when the drain did
// not complete.
func (w *BatchWriter) Flush(ctx context.Context) error {
	var lastErr error

	for attempt := 0; attempt < w.cfg.DrainAttempts; attempt++ {
		w.drainIntake()

		w.mu.Lock()
		var batch []event.Event
		var attempts int
		if w.retry != nil {
			batch = w.retry.events
			attempts = w.retry.attempts
			w.retry = nil
		} else if len(w.buffer) > 0 {
			n := len(w.buffer)
			if n > w.cfg.BatchSize {
				n = w.cfg.BatchSize
			}
			batch = make([]event.Event, n)
			copy(batch, w.buffer[:n])
			w.buffer = w.buffer[n:]
		}
		w.mu.Unlock()

		if batch == nil {
			return nil
		}

		if err := w.write(ctx, batch); err != nil {
			lastErr = err
			if !Classify(err).Retryable() {
				w.mu.Lock()
				w.failed += uint64(len(batch))
				w.mu.Unlock()
				continue
			}
			// Put the batch back at the front for the next attempt.
			w.mu.Lock()
			w.retry = &pendingBatch{events: batch, attempts: attempts}
			w.mu.Unlock()
		}
	}

	w.mu.Lock()
	remaining := len(w.buffer) + len(w.intake)
	if w.retry != nil {
		remaining += len(w.retry.events)
	}
	w.mu.Unlock()

	if remaining > 0 {
		return fmt.Errorf("drain incomplete, %d events remain: %w", remaining, lastErr)
	}
	return lastErr
}

// Stats returns a snapshot of the writer counters.
func (w *BatchWriter) Stats() WriterStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := WriterStats{
		Queued:    w.queued,
		Written:   w.written,
		Failed:    w.failed,
		Dropped:   w.dropped,
		Batches:   w.batches,
		BufferLen: len(w.buffer),
		LastWrite: w.lastWrite,
		Running:   w.running,
	}
	if total := w.written + w.failed; total > 0 {
		s.SuccessRate = float64(w.written) / float64(total)
	}
	if w.batches > 0 {
		s.AvgBatchSize = float64(w.written) / float64(w.batches)
	}
	return s
}

// Health reports unhealthy when the writer is stopped or the buffer sits
// at capacity, which signals sustained backpressure.
func (w *BatchWriter) Health(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return fmt.Errorf("batch writer not running")
	}
	if len(w.buffer) >= w.cfg.BufferSize {
		return fmt.Errorf("buffer at capacity (%d events)", len(w.buffer))
	}
	return nil
}
