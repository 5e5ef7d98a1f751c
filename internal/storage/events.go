package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/empirica-ai/empirica/internal/model"
)

// InsertEvents writes a batch of stored events in a single transaction.
// Called by the bus's buffered SQLite observer on flush.
func (d *DB) InsertEvents(ctx context.Context, events []model.StoredEvent) error {
	if len(events) == 0 {
		return nil
	}
	err := d.inTx(ctx, func(tx *sqlx.Tx) error {
		stmt, err := tx.PreparexContext(ctx, `
			INSERT INTO epistemic_events (id, session_id, event_type, agent_id, data_json, timestamp, node_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, e := range events {
			if _, err := stmt.ExecContext(ctx,
				e.ID, e.SessionID, e.EventType, e.AgentID, e.DataJSON,
				e.Timestamp, e.NodeID, e.CreatedAt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return persistErr("insert events", err)
	}
	return nil
}

// EventFilter narrows a QueryEvents call. Zero values match everything.
type EventFilter struct {
	SessionID string
	EventType model.EventType
	Since     time.Time
	Limit     int
}

// QueryEvents returns stored events matching the filter, newest first.
func (d *DB) QueryEvents(ctx context.Context, f EventFilter) ([]model.StoredEvent, error) {
	q := `SELECT * FROM epistemic_events WHERE 1=1`
	args := []any{}
	if f.SessionID != "" {
		q += ` AND session_id = ?`
		args = append(args, f.SessionID)
	}
	if f.EventType != "" {
		q += ` AND event_type = ?`
		args = append(args, f.EventType)
	}
	if !f.Since.IsZero() {
		q += ` AND timestamp >= ?`
		args = append(args, f.Since)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 200
	}
	q += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	var out []model.StoredEvent
	if err := d.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, fmt.Errorf("storage: query events: %w", err)
	}
	return out, nil
}

// GetEventsByIDs returns the stored events for the given ids, keyed by id.
// Missing ids are simply absent from the result.
func (d *DB) GetEventsByIDs(ctx context.Context, ids []string) (map[string]model.StoredEvent, error) {
	if len(ids) == 0 {
		return map[string]model.StoredEvent{}, nil
	}
	q, args, err := sqlx.In(`SELECT * FROM epistemic_events WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("storage: get events by ids: %w", err)
	}
	var rows []model.StoredEvent
	if err := d.SelectContext(ctx, &rows, d.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("storage: get events by ids: %w", err)
	}
	out := make(map[string]model.StoredEvent, len(rows))
	for _, e := range rows {
		out[e.ID] = e
	}
	return out, nil
}

// CountEvents returns the total number of persisted events.
func (d *DB) CountEvents(ctx context.Context) (int64, error) {
	var n int64
	if err := d.GetContext(ctx, &n, `SELECT COUNT(1) FROM epistemic_events`); err != nil {
		return 0, fmt.Errorf("storage: count events: %w", err)
	}
	return n, nil
}

// CountEventsByType returns per-type counts for a session.
func (d *DB) CountEventsByType(ctx context.Context, sessionID string) (map[model.EventType]int, error) {
	rows, err := d.QueryxContext(ctx, `
		SELECT event_type, COUNT(1) FROM epistemic_events WHERE session_id = ? GROUP BY event_type`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("storage: count events by type: %w", err)
	}
	defer rows.Close()

	out := map[model.EventType]int{}
	for rows.Next() {
		var et model.EventType
		var n int
		if err := rows.Scan(&et, &n); err != nil {
			return nil, fmt.Errorf("storage: count events by type: %w", err)
		}
		out[et] = n
	}
	return out, rows.Err()
}

// EnqueueOutbox records event ids pending vector indexing. The outbox worker
// drains them after the Qdrant upsert succeeds.
func (d *DB) EnqueueOutbox(ctx context.Context, eventIDs []string, at time.Time) error {
	if len(eventIDs) == 0 {
		return nil
	}
	err := d.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, id := range eventIDs {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO vector_outbox (event_id, enqueued_at) VALUES (?, ?)`, id, at); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return persistErr("enqueue outbox", err)
	}
	return nil
}

// OutboxEntry is one pending vector-index row joined with its event.
type OutboxEntry struct {
	OutboxID int64             `db:"outbox_id"`
	Event    model.StoredEvent `db:"-"`
}

// FetchOutbox returns up to limit pending entries, oldest first, with the
// underlying events loaded.
func (d *DB) FetchOutbox(ctx context.Context, limit int) ([]OutboxEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.QueryxContext(ctx, `
		SELECT o.id AS outbox_id, e.id, e.session_id, e.event_type, e.agent_id, e.data_json, e.timestamp, e.node_id, e.created_at
		FROM vector_outbox o
		JOIN epistemic_events e ON e.id = o.event_id
		ORDER BY o.id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: fetch outbox: %w", err)
	}
	defer rows.Close()

	var out []OutboxEntry
	for rows.Next() {
		var entry OutboxEntry
		var e model.StoredEvent
		if err := rows.Scan(&entry.OutboxID, &e.ID, &e.SessionID, &e.EventType,
			&e.AgentID, &e.DataJSON, &e.Timestamp, &e.NodeID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: fetch outbox: %w", err)
		}
		entry.Event = e
		out = append(out, entry)
	}
	return out, rows.Err()
}

// DeleteOutbox removes processed outbox rows.
func (d *DB) DeleteOutbox(ctx context.Context, outboxIDs []int64) error {
	if len(outboxIDs) == 0 {
		return nil
	}
	q, args, err := sqlx.In(`DELETE FROM vector_outbox WHERE id IN (?)`, outboxIDs)
	if err != nil {
		return fmt.Errorf("storage: delete outbox: %w", err)
	}
	if _, err := d.ExecContext(ctx, d.Rebind(q), args...); err != nil {
		return persistErr("delete outbox", err)
	}
	return nil
}
