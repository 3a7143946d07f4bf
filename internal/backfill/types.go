// Package backfill reconciles the live stream against the node's
// authoritative signature history and replays anything the pipeline
// missed.
package backfill

import (
	"context"
	"sync"
	"time"

	"github.com/meridian/anchorwatch/internal/platform/solana"
)

// ScanStatus is the lifecycle state of one backfill cycle.
type ScanStatus string

const (
	ScanStatusRunning   ScanStatus = "Running"
	ScanStatusCompleted ScanStatus = "Completed"
	ScanStatusFailed    ScanStatus = "Failed"
)

// ScanRecord documents one backfill cycle. The boundaries are fixed at
// creation except the newer edge, which may be refined once when the
// actual chain tip is resolved. Status reaches a terminal state exactly
// once.
type ScanRecord struct {
	ScanID    string `json:"scan_id"`
	ProgramID string `json:"program_id"`
	EventName string `json:"event_name"`

	// UntilSignature is the older edge, BeforeSignature the newer edge.
	UntilSignature  string  `json:"until_signature"`
	UntilSlot       *uint64 `json:"until_slot,omitempty"`
	BeforeSignature string  `json:"before_signature"`
	BeforeSlot      *uint64 `json:"before_slot,omitempty"`

	Status ScanStatus `json:"status"`

	EventsFound                int      `json:"events_found"`
	EventsBackfilledCount      int      `json:"events_backfilled_count"`
	EventsBackfilledSignatures []string `json:"events_backfilled_signatures"`

	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// ScanStore persists scan records.
type ScanStore interface {
	Create(ctx context.Context, rec *ScanRecord) error
	Update(ctx context.Context, rec *ScanRecord) error
}

// NodeClient is the node query surface the orchestrator consumes.
type NodeClient interface {
	Signatures(ctx context.Context, programID, before, until string, limit int) ([]solana.SignatureInfo, error)
	Transaction(ctx context.Context, signature string) (*solana.TransactionInfo, error)
}

// Storage is the external persistence surface used for diffing and for
// the one-time bootstrap of the older edge.
type Storage interface {
	Exists(ctx context.Context, signature string) (bool, error)
	OldestSignature(ctx context.Context, eventName string) (string, error)
}

// Announcer receives scan lifecycle events for downstream consumers. A
// nil announcer is allowed; announcement failures never fail a cycle.
type Announcer interface {
	Announce(ctx context.Context, rec *ScanRecord) error
}

// Archiver stores finalized scan reports. A nil archiver is allowed;
// archival failures never fail a cycle.
type Archiver interface {
	Archive(ctx context.Context, rec *ScanRecord) error
}

// MemoryScanStore is an in-process ScanStore for tests and databaseless
// runs.
type MemoryScanStore struct {
	mu      sync.RWMutex
	records map[string]ScanRecord
}

// NewMemoryScanStore creates an empty store.
func NewMemoryScanStore() *MemoryScanStore {
	return &MemoryScanStore{records: make(map[string]ScanRecord)}
}

func (s *MemoryScanStore) Create(ctx context.Context, rec *ScanRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ScanID] = cloneScan(rec)
	return nil
}

func (s *MemoryScanStore) Update(ctx context.Context, rec *ScanRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ScanID] = cloneScan(rec)
	return nil
}

// Get returns a copy of the stored record, or nil when absent.
func (s *MemoryScanStore) Get(scanID string) *ScanRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[scanID]
	if !ok {
		return nil
	}
	out := cloneScan(&rec)
	return &out
}

// All returns copies of every stored record.
func (s *MemoryScanStore) All() []ScanRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ScanRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, cloneScan(&rec))
	}
	return out
}

func cloneScan(rec *ScanRecord) ScanRecord {
	out := *rec
	out.EventsBackfilledSignatures = append([]string(nil), rec.EventsBackfilledSignatures...)
	return out
}
