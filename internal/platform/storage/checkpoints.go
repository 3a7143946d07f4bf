package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/meridian/anchorwatch/internal/checkpoint"
)

// CheckpointRepository implements checkpoint.Store on Postgres. One row
// exists per (program_id, event_name) pair; concurrent writers resolve
// last-writer-wins.
type CheckpointRepository struct {
	db *DB
}

// NewCheckpointRepository creates a new CheckpointRepository.
func NewCheckpointRepository(db *DB) *CheckpointRepository {
	return &CheckpointRepository{db: db}
}

// Get returns the checkpoint for the pair, or nil when none exists.
func (r *CheckpointRepository) Get(ctx context.Context, programID, eventName string) (*checkpoint.Checkpoint, error) {
	const sql = `
		SELECT program_id, event_name, last_signature, last_slot, created_at, updated_at
		FROM checkpoints
		WHERE program_id = $1 AND event_name = $2
	`

	var row CheckpointRow
	err := r.db.pool.QueryRow(ctx, sql, programID, eventName).Scan(
		&row.ProgramID,
		&row.EventName,
		&row.LastSignature,
		&row.LastSlot,
		&row.CreatedAt,
		&row.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint %s/%s: %w", programID, eventName, err)
	}

	cp := &checkpoint.Checkpoint{
		ProgramID:     row.ProgramID,
		EventName:     row.EventName,
		LastSignature: row.LastSignature,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}
	if row.LastSlot != nil {
		slot := uint64(*row.LastSlot)
		cp.LastSlot = &slot
	}
	return cp, nil
}

// Upsert creates or replaces the checkpoint for the pair.
func (r *CheckpointRepository) Upsert(ctx context.Context, cp *checkpoint.Checkpoint) error {
	if cp == nil || cp.ProgramID == "" || cp.EventName == "" {
		return fmt.Errorf("checkpoint requires program_id and event_name")
	}

	const sql = `
		INSERT INTO checkpoints (program_id, event_name, last_signature, last_slot, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (program_id, event_name) DO UPDATE SET
			last_signature = EXCLUDED.last_signature,
			last_slot = EXCLUDED.last_slot,
			updated_at = EXCLUDED.updated_at
	`

	var lastSlot *int64
	if cp.LastSlot != nil {
		slot := int64(*cp.LastSlot)
		lastSlot = &slot
	}

	updatedAt := cp.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	if _, err := r.db.pool.Exec(ctx, sql, cp.ProgramID, cp.EventName, cp.LastSignature, lastSlot, updatedAt); err != nil {
		return fmt.Errorf("upsert checkpoint %s/%s: %w", cp.ProgramID, cp.EventName, err)
	}
	return nil
}

// Health checks that the backing store is reachable.
func (r *CheckpointRepository) Health(ctx context.Context) error {
	return r.db.Health(ctx)
}
