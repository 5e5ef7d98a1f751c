package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/empirica-ai/empirica/internal/model"
)

// CreateSession inserts a new session row.
func (d *DB) CreateSession(ctx context.Context, s model.Session) error {
	_, err := d.ExecContext(ctx, `
		INSERT INTO sessions (session_id, ai_id, project_id, start_time, parent_session_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.SessionID, s.AIID, s.ProjectID, s.StartTime, s.ParentSessionID, s.CreatedAt,
	)
	if err != nil {
		return persistErr("create session", err)
	}
	return nil
}

// GetSession returns the session or model.ErrNoSession.
func (d *DB) GetSession(ctx context.Context, sessionID string) (model.Session, error) {
	var s model.Session
	err := d.GetContext(ctx, &s, `SELECT * FROM sessions WHERE session_id = ?`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Session{}, fmt.Errorf("storage: session %s: %w", sessionID, model.ErrNoSession)
	}
	if err != nil {
		return model.Session{}, fmt.Errorf("storage: get session: %w", err)
	}
	return s, nil
}

// SessionExists reports whether the session row is present.
func (d *DB) SessionExists(ctx context.Context, sessionID string) (bool, error) {
	var n int
	if err := d.GetContext(ctx, &n, `SELECT COUNT(1) FROM sessions WHERE session_id = ?`, sessionID); err != nil {
		return false, fmt.Errorf("storage: session exists: %w", err)
	}
	return n > 0, nil
}

// EndSession stamps the session's end time. Sessions are never deleted.
func (d *DB) EndSession(ctx context.Context, sessionID string, at time.Time) error {
	res, err := d.ExecContext(ctx, `UPDATE sessions SET end_time = ? WHERE session_id = ?`, at, sessionID)
	if err != nil {
		return persistErr("end session", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("storage: end session %s: %w", sessionID, model.ErrNoSession)
	}
	return nil
}

// ListSessions returns recent sessions for an agent, newest first.
func (d *DB) ListSessions(ctx context.Context, aiID string, limit int) ([]model.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []model.Session
	var err error
	if aiID != "" {
		err = d.SelectContext(ctx, &out,
			`SELECT * FROM sessions WHERE ai_id = ? ORDER BY created_at DESC LIMIT ?`, aiID, limit)
	} else {
		err = d.SelectContext(ctx, &out,
			`SELECT * FROM sessions ORDER BY created_at DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: list sessions: %w", err)
	}
	return out, nil
}

// ChildSessions returns sub-agent sessions spawned under a parent.
func (d *DB) ChildSessions(ctx context.Context, parentSessionID string) ([]model.Session, error) {
	var out []model.Session
	err := d.SelectContext(ctx, &out,
		`SELECT * FROM sessions WHERE parent_session_id = ? ORDER BY created_at ASC`, parentSessionID)
	if err != nil {
		return nil, fmt.Errorf("storage: child sessions: %w", err)
	}
	return out, nil
}
