package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meridian/anchorwatch/internal/checkpoint"
	"github.com/meridian/anchorwatch/internal/dedup"
	"github.com/meridian/anchorwatch/internal/event"
)

const trackedProgram = "TrackedProg11111111111111111111111111111111"

type fakeDecoder struct {
	mu     sync.Mutex
	calls  int
	events []event.Event
}

func (d *fakeDecoder) Decode(logs []string, signature string, slot uint64) ([]event.Event, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	out := make([]event.Event, 0, len(d.events))
	for range d.events {
		out = append(out, &event.SwapEvent{
			Meta: event.Meta{TxSignature: signature, TxSlot: slot},
		})
	}
	return out, nil
}

func (d *fakeDecoder) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type fakeSubmitter struct {
	mu          sync.Mutex
	submissions [][]event.Event
}

func (w *fakeSubmitter) Submit(events []event.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	batch := make([]event.Event, len(events))
	copy(batch, events)
	w.submissions = append(w.submissions, batch)
	return nil
}

func (w *fakeSubmitter) Health(ctx context.Context) error { return nil }

func (w *fakeSubmitter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.submissions)
}

func (w *fakeSubmitter) first() []event.Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.submissions[0]
}

func newTestSubscriber(decoder Decoder, writer Submitter) (*Subscriber, *checkpoint.MemoryStore) {
	cps := checkpoint.NewMemoryStore()
	cache := dedup.NewMemoryCache(dedup.DefaultMemoryConfig())
	cfg := SubscriberConfig{
		Programs: []string{trackedProgram},
	}
	return NewSubscriber(cfg, decoder, writer, cps, cache, nil), cps
}

func trackedLogs() []string {
	return []string{"Program " + trackedProgram + " invoke [1]", "Program data: aGVsbG8="}
}

func TestSubscriber_FiltersFailedTransactions(t *testing.T) {
	decoder := &fakeDecoder{events: make([]event.Event, 1)}
	writer := &fakeSubmitter{}
	sub, _ := newTestSubscriber(decoder, writer)

	sub.Process(context.Background(), Notification{
		Signature: "sig1",
		Failed:    true,
		Logs:      trackedLogs(),
	})

	if decoder.callCount() != 0 {
		t.Error("failed transaction should not reach the decoder")
	}
	if sub.Stats().Filtered != 1 {
		t.Errorf("expected 1 filtered, got %d", sub.Stats().Filtered)
	}
}

func TestSubscriber_FiltersEmptyLogs(t *testing.T) {
	decoder := &fakeDecoder{events: make([]event.Event, 1)}
	writer := &fakeSubmitter{}
	sub, _ := newTestSubscriber(decoder, writer)

	sub.Process(context.Background(), Notification{Signature: "sig1"})

	if decoder.callCount() != 0 {
		t.Error("empty-log notification should not reach the decoder")
	}
}

func TestSubscriber_FiltersUntrackedPrograms(t *testing.T) {
	decoder := &fakeDecoder{events: make([]event.Event, 1)}
	writer := &fakeSubmitter{}
	sub, _ := newTestSubscriber(decoder, writer)

	sub.Process(context.Background(), Notification{
		Signature: "sig1",
		Logs:      []string{"Program SomeOtherProg invoke [1]"},
	})

	if decoder.callCount() != 0 {
		t.Error("untracked program should be dropped silently")
	}
	if writer.count() != 0 {
		t.Error("nothing should be submitted")
	}
}

func TestSubscriber_DedupSuppressesRepeats(t *testing.T) {
	decoder := &fakeDecoder{events: make([]event.Event, 1)}
	writer := &fakeSubmitter{}
	sub, _ := newTestSubscriber(decoder, writer)
	ctx := context.Background()

	// Three notifications for the same signature within the TTL.
	for i := 0; i < 3; i++ {
		sub.Process(ctx, Notification{
			Signature: "repeated",
			Slot:      10,
			Logs:      trackedLogs(),
		})
	}

	if decoder.callCount() != 1 {
		t.Errorf("expected exactly 1 decode attempt, got %d", decoder.callCount())
	}
	if got := sub.Stats().Duplicates; got != 2 {
		t.Errorf("expected 2 duplicates, got %d", got)
	}
}

func TestSubscriber_SubmitsAtomicallyAndCheckpoints(t *testing.T) {
	decoder := &fakeDecoder{events: make([]event.Event, 2)}
	writer := &fakeSubmitter{}
	sub, cps := newTestSubscriber(decoder, writer)
	ctx := context.Background()

	sub.Process(ctx, Notification{
		Signature: "sigA",
		Slot:      99,
		Logs:      trackedLogs(),
	})

	if writer.count() != 1 {
		t.Fatalf("expected one atomic submission, got %d", writer.count())
	}
	if len(writer.first()) != 2 {
		t.Errorf("expected 2 events in the submission, got %d", len(writer.first()))
	}

	cp, err := cps.Get(ctx, trackedProgram, string(event.KindSwap))
	if err != nil {
		t.Fatalf("Get checkpoint failed: %v", err)
	}
	if cp == nil {
		t.Fatal("expected checkpoint after processing")
	}
	if cp.LastSignature != "sigA" {
		t.Errorf("expected last signature sigA, got %s", cp.LastSignature)
	}
	if cp.LastSlot == nil || *cp.LastSlot != 99 {
		t.Errorf("expected last slot 99, got %v", cp.LastSlot)
	}
}

func TestSubscriber_UnrecognizedNotificationIsNotAnError(t *testing.T) {
	decoder := &fakeDecoder{} // returns zero events
	writer := &fakeSubmitter{}
	sub, _ := newTestSubscriber(decoder, writer)

	sub.Process(context.Background(), Notification{
		Signature: "sigB",
		Logs:      trackedLogs(),
	})

	if writer.count() != 0 {
		t.Error("zero decoded events should not be submitted")
	}
	if sub.Stats().DecodeFailures != 0 {
		t.Error("unrecognized is not a decode failure")
	}
}

func TestSubscriber_StreamEndToEnd(t *testing.T) {
	decoder := &fakeDecoder{events: make([]event.Event, 1)}
	writer := &fakeSubmitter{}
	sub, _ := newTestSubscriber(decoder, writer)

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Consume the logsSubscribe request and confirm it.
		var req map[string]interface{}
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		if req["method"] != "logsSubscribe" {
			t.Errorf("expected logsSubscribe, got %v", req["method"])
		}
		_ = conn.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req["id"], "result": 1})

		notification := map[string]interface{}{
			"jsonrpc": "2.0",
			"method":  "logsNotification",
			"params": map[string]interface{}{
				"subscription": 1,
				"result": map[string]interface{}{
					"context": map[string]interface{}{"slot": 1234},
					"value": map[string]interface{}{
						"signature": "livesig",
						"err":       nil,
						"logs":      trackedLogs(),
					},
				},
			},
		}
		data, _ := json.Marshal(notification)
		_ = conn.WriteMessage(websocket.TextMessage, data)

		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	sub.cfg.Endpoint = server.URL

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = sub.Start(ctx)
		close(done)
	}()

	waitFor(t, 3*time.Second, func() bool { return writer.count() == 1 })

	if got := writer.first()[0].Signature(); got != "livesig" {
		t.Errorf("expected signature livesig, got %s", got)
	}
	if slot := writer.first()[0].Slot(); slot != 1234 {
		t.Errorf("expected slot 1234, got %d", slot)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("subscriber did not stop after cancellation")
	}
}
