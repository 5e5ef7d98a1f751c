package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/empirica-ai/empirica/internal/model"
)

// RollupLog is one gate decision persisted for audit.
type RollupLog struct {
	ID              int64     `db:"id"`
	SessionID       string    `db:"session_id"`
	BudgetID        *string   `db:"budget_id"`
	AgentName       string    `db:"agent_name"`
	FindingHash     string    `db:"finding_hash"`
	FindingText     string    `db:"finding_text"`
	Score           float64   `db:"score"`
	Accepted        bool      `db:"accepted"`
	Reason          *string   `db:"reason"`
	Novelty         float64   `db:"novelty"`
	DomainRelevance float64   `db:"domain_relevance"`
	Timestamp       time.Time `db:"timestamp"`
}

// InsertRollupLogs writes the gate decisions for one rollup pass.
func (d *DB) InsertRollupLogs(ctx context.Context, sessionID string, budgetID *string, findings []model.ScoredFinding, at time.Time) error {
	if len(findings) == 0 {
		return nil
	}
	err := d.inTx(ctx, func(tx *sqlx.Tx) error {
		stmt, err := tx.PreparexContext(ctx, `
			INSERT INTO rollup_logs (session_id, budget_id, agent_name, finding_hash, finding_text, score, accepted, reason, novelty, domain_relevance, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, f := range findings {
			var reason *string
			if f.RejectReason != "" {
				r := f.RejectReason
				reason = &r
			}
			if _, err := stmt.ExecContext(ctx,
				sessionID, budgetID, f.AgentName, f.FindingHash, f.FindingText,
				f.Score, f.Accepted, reason, f.Novelty, f.DomainRelevance, at); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return persistErr("insert rollup logs", err)
	}
	return nil
}

// ListRollupLogs returns a session's gate decisions, newest first.
func (d *DB) ListRollupLogs(ctx context.Context, sessionID string, limit int) ([]RollupLog, error) {
	if limit <= 0 {
		limit = 200
	}
	var out []RollupLog
	err := d.SelectContext(ctx, &out, `
		SELECT * FROM rollup_logs WHERE session_id = ?
		ORDER BY timestamp DESC, id DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list rollup logs: %w", err)
	}
	return out, nil
}

// AcceptedHashes returns the finding hashes already accepted for a session.
// The rollup gate uses this set for cross-pass deduplication.
func (d *DB) AcceptedHashes(ctx context.Context, sessionID string) (map[string]bool, error) {
	var hashes []string
	err := d.SelectContext(ctx, &hashes, `
		SELECT finding_hash FROM rollup_logs WHERE session_id = ? AND accepted = 1`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("storage: accepted hashes: %w", err)
	}
	out := make(map[string]bool, len(hashes))
	for _, h := range hashes {
		out[h] = true
	}
	return out, nil
}
