package storage

import (
	"context"
	"fmt"

	"github.com/empirica-ai/empirica/internal/model"
)

// InsertFinding persists one finding.
func (d *DB) InsertFinding(ctx context.Context, f model.Finding) error {
	_, err := d.ExecContext(ctx, `
		INSERT INTO project_findings (id, session_id, goal_id, finding, impact, subject, created_timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.SessionID, f.GoalID, f.Finding, f.Impact, f.Subject, f.CreatedTimestamp,
	)
	if err != nil {
		return persistErr("insert finding", err)
	}
	return nil
}

// ListFindings returns a session's findings, newest first.
func (d *DB) ListFindings(ctx context.Context, sessionID string, limit int) ([]model.Finding, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []model.Finding
	err := d.SelectContext(ctx, &out, `
		SELECT * FROM project_findings WHERE session_id = ?
		ORDER BY created_timestamp DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list findings: %w", err)
	}
	return out, nil
}

// FindingsBySubject returns findings whose subject contains the given term,
// across all sessions. Used by the attention allocator to weigh prior work.
func (d *DB) FindingsBySubject(ctx context.Context, term string, limit int) ([]model.Finding, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []model.Finding
	err := d.SelectContext(ctx, &out, `
		SELECT * FROM project_findings WHERE subject LIKE ? OR finding LIKE ?
		ORDER BY created_timestamp DESC LIMIT ?`,
		"%"+term+"%", "%"+term+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("storage: findings by subject: %w", err)
	}
	return out, nil
}

// InsertUnknown persists one open question.
func (d *DB) InsertUnknown(ctx context.Context, u model.Unknown) error {
	_, err := d.ExecContext(ctx, `
		INSERT INTO project_unknowns (id, session_id, goal_id, unknown, is_resolved, resolved_by, created_timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.SessionID, u.GoalID, u.Unknown, u.IsResolved, u.ResolvedBy, u.CreatedTimestamp,
	)
	if err != nil {
		return persistErr("insert unknown", err)
	}
	return nil
}

// ResolveUnknown marks the unknown resolved by the given finding or note.
func (d *DB) ResolveUnknown(ctx context.Context, unknownID, resolvedBy string) error {
	res, err := d.ExecContext(ctx, `
		UPDATE project_unknowns SET is_resolved = 1, resolved_by = ? WHERE id = ?`,
		resolvedBy, unknownID,
	)
	if err != nil {
		return persistErr("resolve unknown", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("storage: resolve unknown %s: %w", unknownID, model.ErrBadInput)
	}
	return nil
}

// ListUnknowns returns a session's unknowns; unresolvedOnly filters out the
// resolved ones.
func (d *DB) ListUnknowns(ctx context.Context, sessionID string, unresolvedOnly bool) ([]model.Unknown, error) {
	q := `SELECT * FROM project_unknowns WHERE session_id = ? ORDER BY created_timestamp ASC`
	if unresolvedOnly {
		q = `SELECT * FROM project_unknowns WHERE session_id = ? AND is_resolved = 0 ORDER BY created_timestamp ASC`
	}
	var out []model.Unknown
	if err := d.SelectContext(ctx, &out, q, sessionID); err != nil {
		return nil, fmt.Errorf("storage: list unknowns: %w", err)
	}
	return out, nil
}

// InsertDeadEnd persists one failed approach.
func (d *DB) InsertDeadEnd(ctx context.Context, de model.DeadEnd) error {
	_, err := d.ExecContext(ctx, `
		INSERT INTO project_dead_ends (id, session_id, goal_id, approach, why_failed, created_timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		de.ID, de.SessionID, de.GoalID, de.Approach, de.WhyFailed, de.CreatedTimestamp,
	)
	if err != nil {
		return persistErr("insert dead end", err)
	}
	return nil
}

// ListDeadEnds returns a session's dead ends in creation order.
func (d *DB) ListDeadEnds(ctx context.Context, sessionID string) ([]model.DeadEnd, error) {
	var out []model.DeadEnd
	err := d.SelectContext(ctx, &out, `
		SELECT * FROM project_dead_ends WHERE session_id = ? ORDER BY created_timestamp ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("storage: list dead ends: %w", err)
	}
	return out, nil
}

// CountDeadEndsMatching counts dead ends (across sessions) whose approach
// mentions the term. Feeds the attention allocator's dead-end penalty.
func (d *DB) CountDeadEndsMatching(ctx context.Context, term string) (int, error) {
	var n int
	err := d.GetContext(ctx, &n, `
		SELECT COUNT(1) FROM project_dead_ends WHERE approach LIKE ? OR why_failed LIKE ?`,
		"%"+term+"%", "%"+term+"%")
	if err != nil {
		return 0, fmt.Errorf("storage: count dead ends: %w", err)
	}
	return n, nil
}

// InsertMistake persists one mistake record.
func (d *DB) InsertMistake(ctx context.Context, m model.Mistake) error {
	_, err := d.ExecContext(ctx, `
		INSERT INTO mistakes_made (id, session_id, mistake, why_wrong, prevention, cost_estimate, root_cause_vector, created_timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, m.Mistake, m.WhyWrong, m.Prevention, m.CostEstimate,
		m.RootCauseVector, m.CreatedTimestamp,
	)
	if err != nil {
		return persistErr("insert mistake", err)
	}
	return nil
}

// ListMistakes returns a session's mistakes in creation order.
func (d *DB) ListMistakes(ctx context.Context, sessionID string) ([]model.Mistake, error) {
	var out []model.Mistake
	err := d.SelectContext(ctx, &out, `
		SELECT * FROM mistakes_made WHERE session_id = ? ORDER BY created_timestamp ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("storage: list mistakes: %w", err)
	}
	return out, nil
}
