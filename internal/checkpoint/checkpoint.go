// Package checkpoint tracks the last confirmed processed position per
// (program id, event kind) pair.
package checkpoint

import (
	"context"
	"time"
)

// DefaultProgramID is the fallback checkpoint identity used when a
// notification cannot be attributed to a tracked program. It keeps
// single-program deployments that predate per-program checkpoints working.
const DefaultProgramID = "default"

// Checkpoint is the durable resume point for one (program, event kind).
type Checkpoint struct {
	ProgramID     string    `json:"program_id"`
	EventName     string    `json:"event_name"`
	LastSignature string    `json:"last_signature"`
	LastSlot      *uint64   `json:"last_slot,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Store persists checkpoints. Implementations must be safe for concurrent
// use from the live and backfill paths; upserts are last-writer-wins and
// callers never read-modify-write without re-reading first.
type Store interface {
	// Get returns the checkpoint for the key, or nil when absent.
	Get(ctx context.Context, programID, eventName string) (*Checkpoint, error)

	// Upsert writes the checkpoint, idempotently. Only non-empty
	// identity fields are validated.
	Upsert(ctx context.Context, cp *Checkpoint) error

	// Health reports whether the store is usable.
	Health(ctx context.Context) error
}
