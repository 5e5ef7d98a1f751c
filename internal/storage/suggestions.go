package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/empirica-ai/empirica/internal/model"
)

// InsertSuggestion persists one pending suggestion.
func (d *DB) InsertSuggestion(ctx context.Context, s model.Suggestion) error {
	_, err := d.ExecContext(ctx, `
		INSERT INTO suggestions (id, session_id, project_id, suggestion, domain, confidence, rationale, status, review_outcome, created_timestamp, reviewed_timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.SessionID, s.ProjectID, s.Suggestion, s.Domain, s.Confidence,
		s.Rationale, s.Status, s.ReviewOutcome, s.CreatedTimestamp, s.ReviewedAt,
	)
	if err != nil {
		return persistErr("insert suggestion", err)
	}
	return nil
}

// ReviewSuggestion records a review decision. Only pending suggestions can be
// reviewed; re-reviewing is rejected so outcomes stay auditable.
func (d *DB) ReviewSuggestion(ctx context.Context, id string, status model.SuggestionStatus, outcome string, at time.Time) error {
	switch status {
	case model.SuggestionAccepted, model.SuggestionRejected, model.SuggestionDeferred:
	default:
		return fmt.Errorf("storage: review status %q: %w", status, model.ErrBadInput)
	}
	res, err := d.ExecContext(ctx, `
		UPDATE suggestions SET status = ?, review_outcome = ?, reviewed_timestamp = ?
		WHERE id = ? AND status = 'pending'`,
		status, outcome, at, id,
	)
	if err != nil {
		return persistErr("review suggestion", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("storage: review suggestion %s: not pending: %w", id, model.ErrBadInput)
	}
	return nil
}

// ListSuggestions returns suggestions, optionally filtered by status,
// newest first.
func (d *DB) ListSuggestions(ctx context.Context, status model.SuggestionStatus, limit int) ([]model.Suggestion, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []model.Suggestion
	var err error
	if status != "" {
		err = d.SelectContext(ctx, &out, `
			SELECT * FROM suggestions WHERE status = ? ORDER BY created_timestamp DESC LIMIT ?`,
			status, limit)
	} else {
		err = d.SelectContext(ctx, &out, `
			SELECT * FROM suggestions ORDER BY created_timestamp DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: list suggestions: %w", err)
	}
	return out, nil
}
