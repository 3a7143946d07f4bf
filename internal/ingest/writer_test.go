package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/meridian/anchorwatch/internal/event"
)

// fakeStorage records batches and can be scripted to fail.
type fakeStorage struct {
	mu       sync.Mutex
	batches  [][]event.Event
	failures []error // consumed per call; nil entry means success
}

func (s *fakeStorage) WriteBatch(ctx context.Context, events []event.Event) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		if err != nil {
			return 0, err
		}
	}

	batch := make([]event.Event, len(events))
	copy(batch, events)
	s.batches = append(s.batches, batch)
	return len(events), nil
}

func (s *fakeStorage) allBatches() [][]event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]event.Event, len(s.batches))
	copy(out, s.batches)
	return out
}

func (s *fakeStorage) totalEvents() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func makeEvents(n int, prefix string) []event.Event {
	events := make([]event.Event, n)
	for i := 0; i < n; i++ {
		events[i] = &event.SwapEvent{
			Meta: event.Meta{
				TxSignature: fmt.Sprintf("%s-%d", prefix, i),
				TxSlot:      uint64(i),
				LogIndex:    0,
			},
			AmountIn:  uint64(i),
			AmountOut: uint64(i),
		}
	}
	return events
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestBatchWriter_SubmitRequiresRunning(t *testing.T) {
	w := NewBatchWriter(DefaultWriterConfig(), &fakeStorage{}, nil, nil)

	if err := w.Submit(makeEvents(1, "a")); err == nil {
		t.Error("expected error when not running")
	}
	// Zero-length submissions never error, running or not.
	if err := w.Submit(nil); err != nil {
		t.Errorf("zero-length submit should be a no-op, got %v", err)
	}
}

func TestBatchWriter_SizeTrigger(t *testing.T) {
	storage := &fakeStorage{}
	w := NewBatchWriter(WriterConfig{
		BatchSize: 5,
		MaxWait:   time.Hour, // time trigger out of the picture
		FlushTick: 10 * time.Millisecond,
	}, storage, nil, nil)

	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop(ctx)

	if err := w.Submit(makeEvents(12, "sig")); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return storage.totalEvents() >= 10 })

	for _, b := range storage.allBatches() {
		if len(b) > 5 {
			t.Errorf("batch exceeds configured size: %d", len(b))
		}
	}
}

func TestBatchWriter_TimeTriggerFlushesSmallBatches(t *testing.T) {
	storage := &fakeStorage{}
	w := NewBatchWriter(WriterConfig{
		BatchSize: 5,
		MaxWait:   30 * time.Millisecond,
		FlushTick: 10 * time.Millisecond,
	}, storage, nil, nil)

	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop(ctx)

	// Events arrive one at a time with gaps longer than MaxWait, so each
	// must be flushed individually by the time trigger.
	for i := 0; i < 3; i++ {
		if err := w.Submit(makeEvents(1, fmt.Sprintf("slow-%d", i))); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		waitFor(t, 2*time.Second, func() bool { return storage.totalEvents() == i+1 })
	}

	batches := storage.allBatches()
	if len(batches) != 3 {
		t.Fatalf("expected 3 separate flushes, got %d", len(batches))
	}
	for _, b := range batches {
		if len(b) != 1 {
			t.Errorf("expected single-event batch, got %d", len(b))
		}
	}
}

func TestBatchWriter_BoundedBufferDropsOldest(t *testing.T) {
	storage := &fakeStorage{}
	w := NewBatchWriter(WriterConfig{
		BatchSize:  100,
		MaxWait:    time.Hour,
		BufferSize: 10,
		FlushTick:  10 * time.Millisecond,
	}, storage, nil, nil)

	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// A burst past capacity never blocks the submitter.
	if err := w.Submit(makeEvents(25, "burst")); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return w.Stats().BufferLen == 10 })

	stats := w.Stats()
	if stats.Dropped != 15 {
		t.Errorf("expected 15 dropped, got %d", stats.Dropped)
	}

	// The newest events are the ones retained.
	if err := w.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	batches := storage.allBatches()
	if len(batches) == 0 {
		t.Fatal("expected final flush to write the retained events")
	}
	first := batches[0][0]
	if first.Signature() != "burst-15" {
		t.Errorf("expected oldest retained event burst-15, got %s", first.Signature())
	}
}

func TestBatchWriter_TransientFailureRetriedThenWritten(t *testing.T) {
	transient := WrapError(ErrorKindStorage, errors.New("db unavailable"))
	storage := &fakeStorage{failures: []error{transient, transient, nil}}

	w := NewBatchWriter(WriterConfig{
		BatchSize:      3,
		MaxWait:        time.Hour,
		FlushTick:      5 * time.Millisecond,
		MaxRetries:     5,
		RetryBaseDelay: 5 * time.Millisecond,
		RetryMaxDelay:  20 * time.Millisecond,
	}, storage, nil, nil)

	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop(ctx)

	if err := w.Submit(makeEvents(3, "retry")); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return storage.totalEvents() == 3 })

	stats := w.Stats()
	if stats.Written != 3 {
		t.Errorf("expected 3 written, got %d", stats.Written)
	}
	if stats.Failed != 0 {
		t.Errorf("expected 0 failed, got %d", stats.Failed)
	}
}

func TestBatchWriter_PermanentFailureNotRetried(t *testing.T) {
	permanent := WrapError(ErrorKindMalformed, errors.New("bad payload"))
	storage := &fakeStorage{failures: []error{permanent}}

	w := NewBatchWriter(WriterConfig{
		BatchSize: 2,
		MaxWait:   time.Hour,
		FlushTick: 5 * time.Millisecond,
	}, storage, nil, nil)

	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop(ctx)

	if err := w.Submit(makeEvents(2, "perm")); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return w.Stats().Failed == 2 })

	if n := storage.totalEvents(); n != 0 {
		t.Errorf("expected no events written, got %d", n)
	}
}

func TestBatchWriter_RetriesExhaustedDropsBatch(t *testing.T) {
	transient := WrapError(ErrorKindNetwork, errors.New("down"))
	storage := &fakeStorage{failures: []error{transient, transient, transient, transient}}

	w := NewBatchWriter(WriterConfig{
		BatchSize:      2,
		MaxWait:        time.Hour,
		FlushTick:      5 * time.Millisecond,
		MaxRetries:     2,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  5 * time.Millisecond,
	}, storage, nil, nil)

	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop(ctx)

	if err := w.Submit(makeEvents(2, "doomed")); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return w.Stats().Failed == 2 })
}

func TestBatchWriter_StopFlushesBuffer(t *testing.T) {
	storage := &fakeStorage{}
	w := NewBatchWriter(WriterConfig{
		BatchSize: 100,
		MaxWait:   time.Hour, // neither trigger fires on its own
		FlushTick: 10 * time.Millisecond,
	}, storage, nil, nil)

	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := w.Submit(makeEvents(7, "final")); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if err := w.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if n := storage.totalEvents(); n != 7 {
		t.Errorf("expected 7 events flushed on stop, got %d", n)
	}
}

func TestBatchWriter_Health(t *testing.T) {
	storage := &fakeStorage{}
	w := NewBatchWriter(DefaultWriterConfig(), storage, nil, nil)
	ctx := context.Background()

	if err := w.Health(ctx); err == nil {
		t.Error("expected unhealthy before start")
	}

	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop(ctx)

	if err := w.Health(ctx); err != nil {
		t.Errorf("expected healthy while running, got %v", err)
	}
}

func TestBatchWriter_StatsDerivedValues(t *testing.T) {
	storage := &fakeStorage{}
	w := NewBatchWriter(WriterConfig{
		BatchSize: 4,
		MaxWait:   10 * time.Millisecond,
		FlushTick: 5 * time.Millisecond,
	}, storage, nil, nil)

	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop(ctx)

	if err := w.Submit(makeEvents(8, "stat")); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return w.Stats().Written == 8 })

	stats := w.Stats()
	if stats.SuccessRate != 1.0 {
		t.Errorf("expected success rate 1.0, got %f", stats.SuccessRate)
	}
	if stats.AvgBatchSize <= 0 {
		t.Errorf("expected positive avg batch size, got %f", stats.AvgBatchSize)
	}
	if stats.Queued != 8 {
		t.Errorf("expected 8 queued, got %d", stats.Queued)
	}
}
