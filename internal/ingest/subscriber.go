package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meridian/anchorwatch/internal/checkpoint"
	"github.com/meridian/anchorwatch/internal/dedup"
	"github.com/meridian/anchorwatch/internal/event"
)

// Notification is the node's push message shape: one transaction's
// signature, failure status, and program log output. Backfill replay
// adapts fetched transactions into this same shape.
type Notification struct {
	Signature string
	Slot      uint64
	Failed    bool
	Logs      []string
}

// Decoder turns a notification's logs into typed events. A decoder may
// return an empty slice meaning "not recognized".
type Decoder interface {
	Decode(logs []string, signature string, slot uint64) ([]event.Event, error)
}

// Submitter accepts decoded events for persistence.
type Submitter interface {
	Submit(events []event.Event) error
	Health(ctx context.Context) error
}

// SubscriberConfig holds live subscription settings.
type SubscriberConfig struct {
	// Endpoint is the node websocket URL; http(s) schemes are converted.
	Endpoint string

	// Programs are the tracked program ids (base58).
	Programs []string

	// Commitment level for the subscription.
	Commitment string

	// Workers bounds concurrent notification processing.
	Workers int

	// LivenessWindow marks the subscriber unhealthy when no notification
	// has been processed for this long. A fresh start is healthy until
	// the first notification arrives.
	LivenessWindow time.Duration

	// MaintenanceInterval is the dedup cache sweep cadence.
	MaintenanceInterval time.Duration
}

// DefaultSubscriberConfig returns sensible defaults.
func DefaultSubscriberConfig() SubscriberConfig {
	return SubscriberConfig{
		Commitment:          "confirmed",
		Workers:             64,
		LivenessWindow:      5 * time.Minute,
		MaintenanceInterval: 30 * time.Second,
	}
}

// SubscriptionStats is a point-in-time snapshot of subscriber counters.
type SubscriptionStats struct {
	Received       uint64
	Filtered       uint64
	Duplicates     uint64
	Processed      uint64
	DecodeFailures uint64
	LastProcessed  time.Time
	Connected      bool
}

// Subscriber keeps one logical log subscription per tracked program alive
// against the node's websocket endpoint, reconnecting transparently, and
// hands each notification to the filter, dedup, decode, submit pipeline
// exactly once per signature per process lifetime.
type Subscriber struct {
	cfg         SubscriberConfig
	logger      *slog.Logger
	decoder     Decoder
	writer      Submitter
	checkpoints checkpoint.Store
	cache       dedup.Cache

	sem chan struct{}

	mu            sync.RWMutex
	running       bool
	connected     bool
	conn          *websocket.Conn
	startedAt     time.Time
	lastProcessed time.Time

	received       uint64
	filtered       uint64
	duplicates     uint64
	processed      uint64
	decodeFailures uint64
}

// NewSubscriber creates a subscriber. Dependencies are constructed by the
// caller and shared; the dedup cache is the only point of mutual
// exclusion between concurrently processed notifications.
func NewSubscriber(cfg SubscriberConfig, decoder Decoder, writer Submitter, checkpoints checkpoint.Store, cache dedup.Cache, logger *slog.Logger) *Subscriber {
	defaults := DefaultSubscriberConfig()
	if cfg.Commitment == "" {
		cfg.Commitment = defaults.Commitment
	}
	if cfg.Workers == 0 {
		cfg.Workers = defaults.Workers
	}
	if cfg.LivenessWindow == 0 {
		cfg.LivenessWindow = defaults.LivenessWindow
	}
	if cfg.MaintenanceInterval == 0 {
		cfg.MaintenanceInterval = defaults.MaintenanceInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Subscriber{
		cfg:         cfg,
		logger:      logger.With("component", "subscriber"),
		decoder:     decoder,
		writer:      writer,
		checkpoints: checkpoints,
		cache:       cache,
		sem:         make(chan struct{}, cfg.Workers),
	}
}

// Start establishes the subscription and blocks until ctx is cancelled,
// reconnecting with backoff on connection loss.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("subscriber already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.connected = false
		s.mu.Unlock()
	}()

	s.logger.Info("starting subscriber",
		"endpoint", s.cfg.Endpoint,
		"programs", s.cfg.Programs,
		"commitment", s.cfg.Commitment,
	)

	go s.maintenanceLoop(ctx)

	backoff := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("subscriber stopped")
			return nil
		default:
		}

		if err := s.connectAndStream(ctx); err != nil {
			if ctx.Err() != nil {
				s.logger.Info("subscriber stopped")
				return nil
			}

			s.logger.Error("websocket error, reconnecting",
				"error", err,
				"backoff", backoff,
			)

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}

			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		} else {
			backoff = time.Second
		}
	}
}

func (s *Subscriber) connectAndStream(ctx context.Context) error {
	endpoint := s.cfg.Endpoint
	if strings.HasPrefix(endpoint, "https") {
		endpoint = "wss" + endpoint[5:]
	} else if strings.HasPrefix(endpoint, "http") {
		endpoint = "ws" + endpoint[4:]
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()

	// Unblock the read loop when the context is cancelled.
	connCtx, connCancel := context.WithCancel(ctx)
	defer connCancel()
	go func() {
		<-connCtx.Done()
		conn.Close()
	}()

	defer func() {
		s.mu.Lock()
		s.connected = false
		if s.conn != nil {
			s.conn.Close()
			s.conn = nil
		}
		s.mu.Unlock()
	}()

	for i, program := range s.cfg.Programs {
		if err := s.subscribeLogs(conn, i+1, program); err != nil {
			return fmt.Errorf("subscribe logs for %s: %w", program, err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read error: %w", err)
		}

		s.handleMessage(ctx, message)
	}
}

func (s *Subscriber) subscribeLogs(conn *websocket.Conn, id int, program string) error {
	req := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  "logsSubscribe",
		"params": []interface{}{
			map[string]interface{}{"mentions": []string{program}},
			map[string]interface{}{"commitment": s.cfg.Commitment},
		},
	}
	return conn.WriteJSON(req)
}

// handleMessage parses one inbound frame. A server-side error frame means
// the subscription lagged or was dropped; that is a recoverable signal
// handled by resubscribing, not an error surfaced to the caller.
func (s *Subscriber) handleMessage(ctx context.Context, msg []byte) {
	var base struct {
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := json.Unmarshal(msg, &base); err != nil {
		return // ignore malformed frames
	}

	if base.Error != nil {
		s.logger.Warn("subscription error frame, will resubscribe",
			"code", base.Error.Code,
			"message", base.Error.Message,
		)
		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn != nil {
			conn.Close() // forces the read loop out and into reconnect
		}
		return
	}

	if base.Method != "logsNotification" {
		return
	}

	var p struct {
		Result struct {
			Context struct {
				Slot uint64 `json:"slot"`
			} `json:"context"`
			Value struct {
				Signature string   `json:"signature"`
				Err       any      `json:"err"`
				Logs      []string `json:"logs"`
			} `json:"value"`
		} `json:"result"`
	}
	if err := json.Unmarshal(base.Params, &p); err != nil {
		return
	}

	n := Notification{
		Signature: p.Result.Value.Signature,
		Slot:      p.Result.Context.Slot,
		Failed:    p.Result.Value.Err != nil,
		Logs:      p.Result.Value.Logs,
	}

	s.mu.Lock()
	s.received++
	s.mu.Unlock()

	s.dispatch(ctx, n)
}

// dispatch runs the notification through the pipeline on a bounded worker
// so processing one notification never blocks receipt of the next.
func (s *Subscriber) dispatch(ctx context.Context, n Notification) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}

	go func() {
		defer func() { <-s.sem }()
		s.Process(ctx, n)
	}()
}

// Process filters, deduplicates, decodes, and submits one notification.
// It is independent of other notifications; only the dedup cache check is
// a point of mutual exclusion.
func (s *Subscriber) Process(ctx context.Context, n Notification) {
	if n.Failed || len(n.Logs) == 0 {
		s.mu.Lock()
		s.filtered++
		s.mu.Unlock()
		return
	}

	programID, matched := event.ProgramFromLogs(n.Logs, s.cfg.Programs)
	if !matched {
		// A notification may legitimately match no tracked program.
		s.mu.Lock()
		s.filtered++
		s.mu.Unlock()
		return
	}

	// Insert before processing so rapid repeats cannot both proceed.
	seen, err := s.cache.Seen(ctx, n.Signature)
	if err != nil {
		s.logger.Warn("dedup cache check failed, processing anyway",
			"signature", n.Signature,
			"error", err,
		)
	} else if seen {
		s.mu.Lock()
		s.duplicates++
		s.mu.Unlock()
		return
	}

	events, err := s.decoder.Decode(n.Logs, n.Signature, n.Slot)
	if err != nil {
		s.mu.Lock()
		s.decodeFailures++
		s.mu.Unlock()
		s.logger.Warn("decode failed", "signature", n.Signature, "error", err)
		return
	}
	if len(events) == 0 {
		return
	}

	// One atomic submission per notification.
	if err := s.writer.Submit(events); err != nil {
		s.logger.Error("submit failed", "signature", n.Signature, "error", err)
		return
	}

	s.updateCheckpoints(ctx, programID, n, events)

	now := time.Now()
	s.mu.Lock()
	s.processed++
	s.lastProcessed = now
	s.mu.Unlock()
}

// updateCheckpoints upserts one checkpoint per event kind present in the
// submission, keyed by the program extracted from the log text.
func (s *Subscriber) updateCheckpoints(ctx context.Context, programID string, n Notification, events []event.Event) {
	if programID == "" {
		programID = checkpoint.DefaultProgramID
	}

	slot := n.Slot
	now := time.Now()

	kinds := make(map[event.Kind]struct{})
	for _, ev := range events {
		kinds[ev.Kind()] = struct{}{}
	}

	for kind := range kinds {
		cp := &checkpoint.Checkpoint{
			ProgramID:     programID,
			EventName:     string(kind),
			LastSignature: n.Signature,
			LastSlot:      &slot,
			UpdatedAt:     now,
		}
		if err := s.checkpoints.Upsert(ctx, cp); err != nil {
			s.logger.Warn("checkpoint upsert failed",
				"program_id", programID,
				"event_name", kind,
				"error", err,
			)
		}
	}
}

// maintenanceLoop periodically sweeps expired dedup entries.
func (s *Subscriber) maintenanceLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.cache.Sweep(ctx); err != nil {
				s.logger.Warn("dedup cache sweep failed", "error", err)
			}
		}
	}
}

// Stats returns a snapshot of subscriber counters.
func (s *Subscriber) Stats() SubscriptionStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return SubscriptionStats{
		Received:       s.received,
		Filtered:       s.filtered,
		Duplicates:     s.duplicates,
		Processed:      s.processed,
		DecodeFailures: s.decodeFailures,
		LastProcessed:  s.lastProcessed,
		Connected:      s.connected,
	}
}

// Health reports unhealthy when the connection is down, a dependency is
// unhealthy, or no notification has been processed within the liveness
// window. A fresh start is healthy before the first notification.
func (s *Subscriber) Health(ctx context.Context) error {
	s.mu.RLock()
	connected := s.connected
	lastProcessed := s.lastProcessed
	s.mu.RUnlock()

	if !connected {
		return fmt.Errorf("websocket not connected")
	}
	if err := s.writer.Health(ctx); err != nil {
		return fmt.Errorf("batch writer unhealthy: %w", err)
	}
	if err := s.checkpoints.Health(ctx); err != nil {
		return fmt.Errorf("checkpoint store unhealthy: %w", err)
	}
	if !lastProcessed.IsZero() && time.Since(lastProcessed) > s.cfg.LivenessWindow {
		return fmt.Errorf("no notification processed in %s", s.cfg.LivenessWindow)
	}
	return nil
}
