package storage

import (
	"time"
)

// EventRow is a decoded event persisted in the events table. The payload
// column holds the full typed event as JSON; the remaining columns are
// the identity and query dimensions.
type EventRow struct {
	EventID    string    `db:"event_id"`
	Signature  string    `db:"signature"`
	Slot       int64     `db:"slot"`
	LogIndex   int32     `db:"log_index"`
	EventType  string    `db:"event_type"`
	Payload    []byte    `db:"payload"` // JSONB
	IngestedAt time.Time `db:"ingested_at"`
	CreatedAt  time.Time `db:"created_at"`
}

// CheckpointRow mirrors the checkpoints table.
type CheckpointRow struct {
	ProgramID     string    `db:"program_id"`
	EventName     string    `db:"event_name"`
	LastSignature string    `db:"last_signature"`
	LastSlot      *int64    `db:"last_slot"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// ScanRow mirrors the scan_records table.
type ScanRow struct {
	ScanID                     string     `db:"scan_id"`
	ProgramID                  string     `db:"program_id"`
	EventName                  string     `db:"event_name"`
	BeforeSignature            string     `db:"before_signature"`
	BeforeSlot                 *int64     `db:"before_slot"`
	UntilSignature             string     `db:"until_signature"`
	UntilSlot                  *int64     `db:"until_slot"`
	Status                     string     `db:"status"`
	EventsFound                int32      `db:"events_found"`
	EventsBackfilledCount      int32      `db:"events_backfilled_count"`
	EventsBackfilledSignatures []byte     `db:"events_backfilled_signatures"` // JSONB
	ErrorMessage               string     `db:"error_message"`
	StartedAt                  time.Time  `db:"started_at"`
	CompletedAt                *time.Time `db:"completed_at"`
}
