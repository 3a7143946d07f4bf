package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/meridian/anchorwatch/internal/event"
	"github.com/meridian/anchorwatch/internal/ingest"
)

// EventRepository persists decoded events. Writes are idempotent on the
// event's natural identifier, so redelivered notifications and backfill
// replays collapse into no-ops.
type EventRepository struct {
	db *DB
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db}
}

// WriteBatch inserts a batch of events in a single transaction and
// returns the number of rows actually written. Events whose identifier
// already exists are skipped without error.
func (r *EventRepository) WriteBatch(ctx context.Context, events []event.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	const sql = `
		INSERT INTO events (
			event_id, signature, slot, log_index, event_type, payload, ingested_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id) DO NOTHING
	`

	written := 0
	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		now := time.Now()

		for _, ev := range events {
			payload, err := json.Marshal(ev)
			if err != nil {
				return ingest.WrapError(ingest.ErrorKindSerialization,
					fmt.Errorf("marshal event %s: %w", ev.ID(), err))
			}
			batch.Queue(sql,
				ev.ID(),
				ev.Signature(),
				int64(ev.Slot()),
				int32(ev.Index()),
				string(ev.Kind()),
				payload,
				now,
			)
		}

		results := tx.SendBatch(ctx, batch)
		defer results.Close()

		for range events {
			tag, err := results.Exec()
			if err != nil {
				return fmt.Errorf("insert event: %w", err)
			}
			written += int(tag.RowsAffected())
		}
		return nil
	})
	if err != nil {
		var classified *ingest.ClassifiedError
		if errors.As(err, &classified) {
			return 0, err
		}
		return 0, ingest.WrapError(ingest.ErrorKindStorage, err)
	}

	return written, nil
}

// Exists reports whether any event from the given transaction signature
// has been persisted.
func (r *EventRepository) Exists(ctx context.Context, signature string) (bool, error) {
	const sql = `SELECT EXISTS (SELECT 1 FROM events WHERE signature = $1)`

	var exists bool
	if err := r.db.pool.QueryRow(ctx, sql, signature).Scan(&exists); err != nil {
		return false, ingest.WrapError(ingest.ErrorKindStorage,
			fmt.Errorf("check signature %s: %w", signature, err))
	}
	return exists, nil
}

// OldestSignature returns the signature of the oldest persisted event of
// the given type, or empty when none exist.
func (r *EventRepository) OldestSignature(ctx context.Context, eventName string) (string, error) {
	const sql = `
		SELECT signature FROM events
		WHERE event_type = $1
		ORDER BY slot ASC, log_index ASC
		LIMIT 1
	`

	var signature string
	err := r.db.pool.QueryRow(ctx, sql, eventName).Scan(&signature)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", ingest.WrapError(ingest.ErrorKindStorage,
			fmt.Errorf("oldest signature for %s: %w", eventName, err))
	}
	return signature, nil
}

// BySignature returns every persisted event from one transaction, in log
// order.
func (r *EventRepository) BySignature(ctx context.Context, signature string) ([]EventRow, error) {
	const sql = `
		SELECT event_id, signature, slot, log_index, event_type, payload, ingested_at, created_at
		FROM events
		WHERE signature = $1
		ORDER BY log_index ASC
	`

	rows, err := r.db.pool.Query(ctx, sql, signature)
	if err != nil {
		return nil, ingest.WrapError(ingest.ErrorKindStorage,
			fmt.Errorf("query signature %s: %w", signature, err))
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var row EventRow
		if err := rows.Scan(&row.EventID, &row.Signature, &row.Slot, &row.LogIndex,
			&row.EventType, &row.Payload, &row.IngestedAt, &row.CreatedAt); err != nil {
			return nil, ingest.WrapError(ingest.ErrorKindStorage, err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// CountByType returns per-type event counts, used by operational surfaces.
func (r *EventRepository) CountByType(ctx context.Context) (map[string]int64, error) {
	const sql = `SELECT event_type, COUNT(*) FROM events GROUP BY event_type`

	rows, err := r.db.pool.Query(ctx, sql)
	if err != nil {
		return nil, ingest.WrapError(ingest.ErrorKindStorage, fmt.Errorf("count events: %w", err))
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var eventType string
		var count int64
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, ingest.WrapError(ingest.ErrorKindStorage, err)
		}
		counts[eventType] = count
	}
	return counts, rows.Err()
}
