package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/empirica-ai/empirica/internal/model"
)

// InsertReflex writes one phase-round record. The session must exist and the
// round must be ≥ the max round already recorded for (session, phase); both
// checks run inside the write transaction so the monotonic-round invariant
// holds under concurrent writers.
func (d *DB) InsertReflex(ctx context.Context, r *model.Reflex) error {
	err := d.inTx(ctx, func(tx *sqlx.Tx) error {
		var n int
		if err := tx.GetContext(ctx, &n,
			`SELECT COUNT(1) FROM sessions WHERE session_id = ?`, r.SessionID); err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("session %s: %w", r.SessionID, model.ErrNoSession)
		}

		var maxRound sql.NullInt64
		if err := tx.GetContext(ctx, &maxRound,
			`SELECT MAX(round) FROM reflexes WHERE session_id = ? AND phase = ?`,
			r.SessionID, r.Phase); err != nil {
			return err
		}
		if maxRound.Valid && r.Round < int(maxRound.Int64) {
			return fmt.Errorf("round %d below recorded max %d for %s/%s: %w",
				r.Round, maxRound.Int64, r.SessionID, r.Phase, model.ErrPhaseViolation)
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO reflexes (session_id, phase, round, vectors_json, decision, reasoning, reflex_data_json, timestamp, transaction_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.SessionID, r.Phase, r.Round, r.VectorsJSON, r.Decision, r.Reasoning,
			r.ReflexData, r.Timestamp, r.TransactionID,
		)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		r.ID = id
		return nil
	})
	if err != nil {
		if errors.Is(err, model.ErrNoSession) || errors.Is(err, model.ErrPhaseViolation) {
			return fmt.Errorf("storage: insert reflex: %w", err)
		}
		return persistErr("insert reflex", err)
	}
	return nil
}

// LatestReflex returns the most recent reflex for (session, phase), or nil.
func (d *DB) LatestReflex(ctx context.Context, sessionID string, phase model.Phase) (*model.Reflex, error) {
	var r model.Reflex
	err := d.GetContext(ctx, &r, `
		SELECT * FROM reflexes WHERE session_id = ? AND phase = ?
		ORDER BY round DESC, timestamp DESC LIMIT 1`, sessionID, phase)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: latest reflex: %w", err)
	}
	return &r, nil
}

// ListReflexes returns all reflexes for a session in cascade order.
func (d *DB) ListReflexes(ctx context.Context, sessionID string) ([]model.Reflex, error) {
	var out []model.Reflex
	err := d.SelectContext(ctx, &out, `
		SELECT * FROM reflexes WHERE session_id = ?
		ORDER BY CASE phase
			WHEN 'PREFLIGHT' THEN 0 WHEN 'CHECK' THEN 1
			WHEN 'ACT' THEN 2 WHEN 'POSTFLIGHT' THEN 3 ELSE 4 END,
			round ASC, timestamp ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("storage: list reflexes: %w", err)
	}
	return out, nil
}

// CountCheckRounds returns the number of CHECK reflexes recorded for a session
// and how many of them decided proceed or proceed_with_caveat.
func (d *DB) CountCheckRounds(ctx context.Context, sessionID string) (total, proceeded int, err error) {
	row := d.QueryRowxContext(ctx, `
		SELECT COUNT(1),
		       COALESCE(SUM(CASE WHEN decision IN ('proceed', 'proceed_with_caveat') THEN 1 ELSE 0 END), 0)
		FROM reflexes WHERE session_id = ? AND phase = 'CHECK'`, sessionID)
	if err := row.Scan(&total, &proceeded); err != nil {
		return 0, 0, fmt.Errorf("storage: count check rounds: %w", err)
	}
	return total, proceeded, nil
}
