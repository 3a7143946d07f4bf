package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/meridian/anchorwatch/internal/backfill"
)

// ScanRepository implements backfill.ScanStore on Postgres.
type ScanRepository struct {
	db *DB
}

// NewScanRepository creates a new ScanRepository.
func NewScanRepository(db *DB) *ScanRepository {
	return &ScanRepository{db: db}
}

// Create inserts a new scan record.
func (r *ScanRepository) Create(ctx context.Context, rec *backfill.ScanRecord) error {
	const sql = `
		INSERT INTO scan_records (
			scan_id, program_id, event_name,
			before_signature, before_slot, until_signature, until_slot,
			status, events_found, events_backfilled_count,
			events_backfilled_signatures, error_message, started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	row, err := scanToRow(rec)
	if err != nil {
		return err
	}

	_, err = r.db.pool.Exec(ctx, sql,
		row.ScanID, row.ProgramID, row.EventName,
		row.BeforeSignature, row.BeforeSlot, row.UntilSignature, row.UntilSlot,
		row.Status, row.EventsFound, row.EventsBackfilledCount,
		row.EventsBackfilledSignatures, row.ErrorMessage, row.StartedAt, row.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert scan %s: %w", rec.ScanID, err)
	}
	return nil
}

// Update replaces the mutable portion of a scan record.
func (r *ScanRepository) Update(ctx context.Context, rec *backfill.ScanRecord) error {
	const sql = `
		UPDATE scan_records SET
			before_signature = $2,
			before_slot = $3,
			status = $4,
			events_found = $5,
			events_backfilled_count = $6,
			events_backfilled_signatures = $7,
			error_message = $8,
			completed_at = $9
		WHERE scan_id = $1
	`

	row, err := scanToRow(rec)
	if err != nil {
		return err
	}

	tag, err := r.db.pool.Exec(ctx, sql,
		row.ScanID, row.BeforeSignature, row.BeforeSlot,
		row.Status, row.EventsFound, row.EventsBackfilledCount,
		row.EventsBackfilledSignatures, row.ErrorMessage, row.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update scan %s: %w", rec.ScanID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update scan %s: not found", rec.ScanID)
	}
	return nil
}

// Latest returns the most recent scan for a pair, or nil when none exist.
func (r *ScanRepository) Latest(ctx context.Context, programID, eventName string) (*backfill.ScanRecord, error) {
	const sql = `
		SELECT scan_id, program_id, event_name,
			before_signature, before_slot, until_signature, until_slot,
			status, events_found, events_backfilled_count,
			events_backfilled_signatures, error_message, started_at, completed_at
		FROM scan_records
		WHERE program_id = $1 AND event_name = $2
		ORDER BY started_at DESC
		LIMIT 1
	`

	var row ScanRow
	err := r.db.pool.QueryRow(ctx, sql, programID, eventName).Scan(
		&row.ScanID, &row.ProgramID, &row.EventName,
		&row.BeforeSignature, &row.BeforeSlot, &row.UntilSignature, &row.UntilSlot,
		&row.Status, &row.EventsFound, &row.EventsBackfilledCount,
		&row.EventsBackfilledSignatures, &row.ErrorMessage, &row.StartedAt, &row.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest scan %s/%s: %w", programID, eventName, err)
	}
	return rowToScan(&row)
}

func scanToRow(rec *backfill.ScanRecord) (*ScanRow, error) {
	sigs := rec.EventsBackfilledSignatures
	if sigs == nil {
		sigs = []string{}
	}
	sigsJSON, err := json.Marshal(sigs)
	if err != nil {
		return nil, fmt.Errorf("marshal backfilled signatures: %w", err)
	}

	row := &ScanRow{
		ScanID:                     rec.ScanID,
		ProgramID:                  rec.ProgramID,
		EventName:                  rec.EventName,
		BeforeSignature:            rec.BeforeSignature,
		UntilSignature:             rec.UntilSignature,
		Status:                     string(rec.Status),
		EventsFound:                int32(rec.EventsFound),
		EventsBackfilledCount:      int32(rec.EventsBackfilledCount),
		EventsBackfilledSignatures: sigsJSON,
		ErrorMessage:               rec.ErrorMessage,
		StartedAt:                  rec.StartedAt,
		CompletedAt:                rec.CompletedAt,
	}
	if rec.BeforeSlot != nil {
		slot := int64(*rec.BeforeSlot)
		row.BeforeSlot = &slot
	}
	if rec.UntilSlot != nil {
		slot := int64(*rec.UntilSlot)
		row.UntilSlot = &slot
	}
	return row, nil
}

func rowToScan(row *ScanRow) (*backfill.ScanRecord, error) {
	var sigs []string
	if len(row.EventsBackfilledSignatures) > 0 {
		if err := json.Unmarshal(row.EventsBackfilledSignatures, &sigs); err != nil {
			return nil, fmt.Errorf("unmarshal backfilled signatures: %w", err)
		}
	}

	rec := &backfill.ScanRecord{
		ScanID:                     row.ScanID,
		ProgramID:                  row.ProgramID,
		EventName:                  row.EventName,
		BeforeSignature:            row.BeforeSignature,
		UntilSignature:             row.UntilSignature,
		Status:                     backfill.ScanStatus(row.Status),
		EventsFound:                int(row.EventsFound),
		EventsBackfilledCount:      int(row.EventsBackfilledCount),
		EventsBackfilledSignatures: sigs,
		ErrorMessage:               row.ErrorMessage,
		StartedAt:                  row.StartedAt,
		CompletedAt:                row.CompletedAt,
	}
	if row.BeforeSlot != nil {
		slot := uint64(*row.BeforeSlot)
		rec.BeforeSlot = &slot
	}
	if row.UntilSlot != nil {
		slot := uint64(*row.UntilSlot)
		rec.UntilSlot = &slot
	}
	return rec, nil
}
