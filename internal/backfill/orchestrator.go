package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meridian/anchorwatch/internal/checkpoint"
	"github.com/meridian/anchorwatch/internal/event"
	"github.com/meridian/anchorwatch/internal/ingest"
	"github.com/meridian/anchorwatch/internal/platform/solana"
)

// Config holds recovery orchestrator settings.
type Config struct {
	// Programs are the tracked program ids.
	Programs []string

	// EventNames are the tracked event kinds; defaults to every
	// registered kind.
	EventNames []string

	// Interval between cycles for each (program, event kind) pair.
	Interval time.Duration

	// PageLimit caps one signature-history query.
	PageLimit int

	// ExistsBatchSize bounds concurrent existence-lookup load.
	ExistsBatchSize int

	// ProgressEvery persists incremental replay progress after this
	// many successes, so a crash mid-cycle keeps ground already covered.
	ProgressEvery int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:        5 * time.Minute,
		PageLimit:       1000,
		ExistsBatchSize: 50,
		ProgressEvery:   25,
	}
}

// Stats is a snapshot of orchestrator counters.
type Stats struct {
	CyclesRun        uint64
	CyclesFailed     uint64
	EventsFound      uint64
	EventsBackfilled uint64
}

// Submitter accepts replayed events for persistence through the shared
// batch writer.
type Submitter interface {
	Submit(events []event.Event) error
}

// Orchestrator closes gaps left by missed notifications, dropped
// connections, or process downtime. It runs one independent timer loop
// per tracked (program, event kind) pair; every loop reads the
// checkpoint, diffs the node's history against storage, and replays
// anything missing through the same decode and submit path the live
// subscriber uses.
type Orchestrator struct {
	cfg         Config
	logger      *slog.Logger
	node        NodeClient
	storage     Storage
	checkpoints checkpoint.Store
	scans       ScanStore
	decoder     ingest.Decoder
	writer      Submitter
	announcer   Announcer
	archiver    Archiver

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	cyclesRun        uint64
	cyclesFailed     uint64
	eventsFound      uint64
	eventsBackfilled uint64
}

// NewOrchestrator creates an orchestrator. The announcer and archiver are
// optional.
func NewOrchestrator(cfg Config, node NodeClient, storage Storage, checkpoints checkpoint.Store, scans ScanStore, decoder ingest.Decoder, writer Submitter, announcer Announcer, archiver Archiver, logger *slog.Logger) *Orchestrator {
	defaults := DefaultConfig()
	if cfg.Interval == 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.PageLimit == 0 {
		cfg.PageLimit = defaults.PageLimit
	}
	if cfg.ExistsBatchSize == 0 {
		cfg.ExistsBatchSize = defaults.ExistsBatchSize
	}
	if cfg.ProgressEvery == 0 {
		cfg.ProgressEvery = defaults.ProgressEvery
	}
	if len(cfg.EventNames) == 0 {
		for _, k := range event.Kinds() {
			cfg.EventNames = append(cfg.EventNames, string(k))
		}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		cfg:         cfg,
		logger:      logger.With("component", "backfill-orchestrator"),
		node:        node,
		storage:     storage,
		checkpoints: checkpoints,
		scans:       scans,
		decoder:     decoder,
		writer:      writer,
		announcer:   announcer,
		archiver:    archiver,
	}
}

// Start launches one recovery loop per (program, event kind) pair.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.running = true
	o.mu.Unlock()

	for _, program := range o.cfg.Programs {
		for _, name := range o.cfg.EventNames {
			o.wg.Add(1)
			go o.loop(ctx, program, name)
		}
	}

	o.logger.Info("backfill orchestrator started",
		"programs", o.cfg.Programs,
		"event_names", o.cfg.EventNames,
		"interval", o.cfg.Interval,
	)
	return nil
}

// Stop cancels the loops and waits for in-flight cycles to observe the
// cancellation.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil
	}
	o.running = false
	cancel := o.cancel
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	o.wg.Wait()

	o.logger.Info("backfill orchestrator stopped")
	return nil
}

func (o *Orchestrator) loop(ctx context.Context, programID, eventName string) {
	defer o.wg.Done()

	logger := o.logger.With("program_id", programID, "event_name", eventName)

	ticker := time.NewTicker(o.cfg.Interval)
	defer ticker.Stop()

	// First cycle runs immediately so a restart recovers without
	// waiting a full interval.
	o.runCycle(ctx, programID, eventName, logger)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.runCycle(ctx, programID, eventName, logger)
		}
	}
}

// runCycle executes one reconciliation pass. Every failure mode is either
// recorded on the scan and skipped, or defers the work to the next cycle;
// nothing here is fatal.
func (o *Orchestrator) runCycle(ctx context.Context, programID, eventName string, logger *slog.Logger) {
	if ctx.Err() != nil {
		return
	}

	until, untilSlot, err := o.resolveOlderEdge(ctx, programID, eventName)
	if err != nil {
		logger.Error("could not resolve scan range, deferring cycle", "error", err)
		o.countFailure()
		return
	}

	rec := &ScanRecord{
		ScanID:         uuid.New().String(),
		ProgramID:      programID,
		EventName:      eventName,
		UntilSignature: until,
		UntilSlot:      untilSlot,
		Status:         ScanStatusRunning,
		StartedAt:      time.Now(),
	}

	if err := o.scans.Create(ctx, rec); err != nil {
		logger.Warn("scan record create failed", "scan_id", rec.ScanID, "error", err)
	}
	o.announce(ctx, rec, logger)

	sigs, err := o.node.Signatures(ctx, programID, rec.BeforeSignature, rec.UntilSignature, o.cfg.PageLimit)
	if err != nil {
		o.finalize(ctx, rec, ScanStatusFailed, fmt.Sprintf("fetch signature history: %v", err), logger)
		o.countFailure()
		return
	}

	// The first returned signature is the resolved chain tip; it anchors
	// this scan and, on completion, the checkpoint, even though "latest"
	// was a moving target at query time.
	if rec.BeforeSignature == "" && len(sigs) > 0 {
		rec.BeforeSignature = sigs[0].Signature
		slot := sigs[0].Slot
		rec.BeforeSlot = &slot
		if err := o.scans.Update(ctx, rec); err != nil {
			logger.Warn("scan record update failed", "scan_id", rec.ScanID, "error", err)
		}
	}

	if rec.UntilSignature != "" && rec.BeforeSignature == rec.UntilSignature {
		// Nothing new since the checkpoint.
		o.finalize(ctx, rec, ScanStatusCompleted, "", logger)
		o.advanceCheckpoint(ctx, rec, logger)
		o.countCycle(rec)
		return
	}

	missing := o.diffAgainstStorage(ctx, rec, sigs, logger)
	rec.EventsFound = len(missing)
	if err := o.scans.Update(ctx, rec); err != nil {
		logger.Warn("scan record update failed", "scan_id", rec.ScanID, "error", err)
	}

	o.replayMissing(ctx, rec, missing, logger)

	o.finalize(ctx, rec, ScanStatusCompleted, "", logger)
	o.advanceCheckpoint(ctx, rec, logger)
	o.countCycle(rec)

	logger.Info("backfill cycle completed",
		"scan_id", rec.ScanID,
		"events_found", rec.EventsFound,
		"events_backfilled", rec.EventsBackfilledCount,
	)
}

// resolveOlderEdge picks the scan's older boundary: the checkpoint when
// one exists, otherwise a one-time bootstrap from the oldest persisted
// event of this kind.
func (o *Orchestrator) resolveOlderEdge(ctx context.Context, programID, eventName string) (string, *uint64, error) {
	cp, err := o.checkpoints.Get(ctx, programID, eventName)
	if err != nil {
		return "", nil, fmt.Errorf("read checkpoint: %w", err)
	}
	if cp != nil && cp.LastSignature != "" {
		return cp.LastSignature, cp.LastSlot, nil
	}

	oldest, err := o.storage.OldestSignature(ctx, eventName)
	if err != nil {
		return "", nil, fmt.Errorf("bootstrap oldest signature: %w", err)
	}
	return oldest, nil, nil
}

// diffAgainstStorage checks each signature against storage in bounded
// sub-batches; anything absent is missing.
func (o *Orchestrator) diffAgainstStorage(ctx context.Context, rec *ScanRecord, sigs []solana.SignatureInfo, logger *slog.Logger) []string {
	var missing []string

	for start := 0; start < len(sigs); start += o.cfg.ExistsBatchSize {
		end := start + o.cfg.ExistsBatchSize
		if end > len(sigs) {
			end = len(sigs)
		}

		for _, s := range sigs[start:end] {
			if ctx.Err() != nil {
				return missing
			}
			if s.Failed || s.Signature == rec.UntilSignature {
				continue
			}
			exists, err := o.storage.Exists(ctx, s.Signature)
			if err != nil {
				// Treat unknown storage state as missing. Writes are
				// idempotent, so a replay of an already-stored event is
				// a no-op, while skipping would strand the signature
				// once the checkpoint advances past it.
				logger.Warn("existence check failed, replaying optimistically", "signature", s.Signature, "error", err)
				missing = append(missing, s.Signature)
				continue
			}
			if !exists {
				missing = append(missing, s.Signature)
			}
		}
	}
	return missing
}

// replayMissing fetches each missing transaction, adapts it into the
// notification shape the live path consumes, and runs it through decode
// and submit. Per-signature failures are logged and skipped; progress is
// persisted incrementally.
func (o *Orchestrator) replayMissing(ctx context.Context, rec *ScanRecord, missing []string, logger *slog.Logger) {
	sinceUpdate := 0

	for _, sig := range missing {
		if ctx.Err() != nil {
			return
		}

		tx, err := o.node.Transaction(ctx, sig)
		if err != nil {
			logger.Warn("transaction fetch failed, skipping", "signature", sig, "error", err)
			continue
		}

		n := ingest.Notification{
			Signature: tx.Signature,
			Slot:      tx.Slot,
			Failed:    tx.Failed,
			Logs:      tx.Logs,
		}
		if n.Failed || len(n.Logs) == 0 {
			continue
		}

		events, err := o.decoder.Decode(n.Logs, n.Signature, n.Slot)
		if err != nil {
			logger.Warn("replay decode failed, skipping", "signature", sig, "error", err)
			continue
		}
		if len(events) == 0 {
			continue
		}

		if err := o.writer.Submit(events); err != nil {
			logger.Warn("replay submit failed, skipping", "signature", sig, "error", err)
			continue
		}

		rec.EventsBackfilledSignatures = append(rec.EventsBackfilledSignatures, sig)
		rec.EventsBackfilledCount++
		sinceUpdate++

		if sinceUpdate >= o.cfg.ProgressEvery {
			if err := o.scans.Update(ctx, rec); err != nil {
				logger.Warn("scan progress update failed", "scan_id", rec.ScanID, "error", err)
			}
			sinceUpdate = 0
		}
	}
}

// finalize moves the scan to its terminal state exactly once and runs the
// announcement and archival side channels.
func (o *Orchestrator) finalize(ctx context.Context, rec *ScanRecord, status ScanStatus, errMsg string, logger *slog.Logger) {
	now := time.Now()
	rec.Status = status
	rec.CompletedAt = &now
	rec.ErrorMessage = errMsg

	if err := o.scans.Update(ctx, rec); err != nil {
		logger.Warn("scan finalize update failed", "scan_id", rec.ScanID, "error", err)
	}
	o.announce(ctx, rec, logger)

	if o.archiver != nil {
		if err := o.archiver.Archive(ctx, rec); err != nil {
			logger.Warn("scan archive failed", "scan_id", rec.ScanID, "error", err)
		}
	}
}

// advanceCheckpoint moves the checkpoint to the resolved newer edge. It
// only runs after the scan reached a terminal Completed state; a scan
// that failed before resolving the tip leaves the checkpoint untouched so
// the next cycle re-covers the same ground.
func (o *Orchestrator) advanceCheckpoint(ctx context.Context, rec *ScanRecord, logger *slog.Logger) {
	if rec.BeforeSignature == "" {
		return
	}

	cp := &checkpoint.Checkpoint{
		ProgramID:     rec.ProgramID,
		EventName:     rec.EventName,
		LastSignature: rec.BeforeSignature,
		LastSlot:      rec.BeforeSlot,
		UpdatedAt:     time.Now(),
	}
	if err := o.checkpoints.Upsert(ctx, cp); err != nil {
		logger.Error("checkpoint advance failed", "scan_id", rec.ScanID, "error", err)
	}
}

func (o *Orchestrator) announce(ctx context.Context, rec *ScanRecord, logger *slog.Logger) {
	if o.announcer == nil {
		return
	}
	if err := o.announcer.Announce(ctx, rec); err != nil {
		logger.Warn("scan announce failed", "scan_id", rec.ScanID, "error", err)
	}
}

func (o *Orchestrator) countCycle(rec *ScanRecord) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cyclesRun++
	o.eventsFound += uint64(rec.EventsFound)
	o.eventsBackfilled += uint64(rec.EventsBackfilledCount)
}

func (o *Orchestrator) countFailure() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cyclesRun++
	o.cyclesFailed++
}

// GetStats returns a snapshot of orchestrator counters.
func (o *Orchestrator) GetStats() Stats {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return Stats{
		CyclesRun:        o.cyclesRun,
		CyclesFailed:     o.cyclesFailed,
		EventsFound:      o.eventsFound,
		EventsBackfilled: o.eventsBackfilled,
	}
}

// Health reports whether the loops are running.
func (o *Orchestrator) Health(ctx context.Context) error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if !o.running {
		return fmt.Errorf("orchestrator not running")
	}
	return nil
}
