package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/empirica-ai/empirica/internal/model"
)

// CreateGoal persists a goal with its scope and lineage serialized to JSON.
func (d *DB) CreateGoal(ctx context.Context, g *model.Goal) error {
	scope, err := json.Marshal(g.Scope)
	if err != nil {
		return fmt.Errorf("storage: marshal goal scope: %w", err)
	}
	g.ScopeJSON = string(scope)

	if len(g.Lineage) > 0 {
		lineage, err := json.Marshal(g.Lineage)
		if err != nil {
			return fmt.Errorf("storage: marshal goal lineage: %w", err)
		}
		s := string(lineage)
		g.LineageJSON = &s
	}

	_, err = d.ExecContext(ctx, `
		INSERT INTO goals (id, session_id, objective, scope_json, status, lineage_json, created_timestamp, completed_timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.SessionID, g.Objective, g.ScopeJSON, g.Status, g.LineageJSON,
		g.CreatedTimestamp, g.CompletedTimestamp,
	)
	if err != nil {
		return persistErr("create goal", err)
	}
	return nil
}

// GetGoal loads a goal and decodes its scope and lineage.
func (d *DB) GetGoal(ctx context.Context, goalID string) (model.Goal, error) {
	var g model.Goal
	err := d.GetContext(ctx, &g, `SELECT * FROM goals WHERE id = ?`, goalID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Goal{}, fmt.Errorf("storage: goal %s: %w", goalID, model.ErrBadInput)
	}
	if err != nil {
		return model.Goal{}, fmt.Errorf("storage: get goal: %w", err)
	}
	if err := decodeGoal(&g); err != nil {
		return model.Goal{}, err
	}
	return g, nil
}

// UpdateGoal rewrites the goal's mutable fields and appends its lineage.
// Callers are expected to have recorded the edit in g.Lineage already.
func (d *DB) UpdateGoal(ctx context.Context, g *model.Goal) error {
	scope, err := json.Marshal(g.Scope)
	if err != nil {
		return fmt.Errorf("storage: marshal goal scope: %w", err)
	}
	g.ScopeJSON = string(scope)

	lineage, err := json.Marshal(g.Lineage)
	if err != nil {
		return fmt.Errorf("storage: marshal goal lineage: %w", err)
	}
	s := string(lineage)
	g.LineageJSON = &s

	res, err := d.ExecContext(ctx, `
		UPDATE goals SET objective = ?, scope_json = ?, status = ?, lineage_json = ?, completed_timestamp = ?
		WHERE id = ?`,
		g.Objective, g.ScopeJSON, g.Status, g.LineageJSON, g.CompletedTimestamp, g.ID,
	)
	if err != nil {
		return persistErr("update goal", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("storage: update goal %s: %w", g.ID, model.ErrBadInput)
	}
	return nil
}

// CompleteGoal marks the goal completed at the given time.
func (d *DB) CompleteGoal(ctx context.Context, goalID string, at time.Time) error {
	res, err := d.ExecContext(ctx, `
		UPDATE goals SET status = ?, completed_timestamp = ? WHERE id = ?`,
		model.GoalCompleted, at, goalID,
	)
	if err != nil {
		return persistErr("complete goal", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("storage: complete goal %s: %w", goalID, model.ErrBadInput)
	}
	return nil
}

// ListGoals returns the session's goals, oldest first. An empty status
// matches all.
func (d *DB) ListGoals(ctx context.Context, sessionID string, status model.GoalStatus) ([]model.Goal, error) {
	var out []model.Goal
	var err error
	if status != "" {
		err = d.SelectContext(ctx, &out, `
			SELECT * FROM goals WHERE session_id = ? AND status = ? ORDER BY created_timestamp ASC`,
			sessionID, status)
	} else {
		err = d.SelectContext(ctx, &out, `
			SELECT * FROM goals WHERE session_id = ? ORDER BY created_timestamp ASC`, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: list goals: %w", err)
	}
	for i := range out {
		if err := decodeGoal(&out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func decodeGoal(g *model.Goal) error {
	if g.ScopeJSON != "" {
		if err := json.Unmarshal([]byte(g.ScopeJSON), &g.Scope); err != nil {
			return fmt.Errorf("storage: decode goal scope: %w", err)
		}
	}
	if g.LineageJSON != nil && *g.LineageJSON != "" {
		if err := json.Unmarshal([]byte(*g.LineageJSON), &g.Lineage); err != nil {
			return fmt.Errorf("storage: decode goal lineage: %w", err)
		}
	}
	return nil
}

// CreateSubtask persists a subtask under a goal.
func (d *DB) CreateSubtask(ctx context.Context, s model.Subtask) error {
	_, err := d.ExecContext(ctx, `
		INSERT INTO subtasks (id, goal_id, description, estimated_tokens, actual_tokens, completed_timestamp, epistemic_importance)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.GoalID, s.Description, s.EstimatedTokens, s.ActualTokens,
		s.CompletedTimestamp, s.EpistemicImportance,
	)
	if err != nil {
		return persistErr("create subtask", err)
	}
	return nil
}

// CompleteSubtask records completion time and actual token spend.
func (d *DB) CompleteSubtask(ctx context.Context, subtaskID string, at time.Time, actualTokens *int) error {
	res, err := d.ExecContext(ctx, `
		UPDATE subtasks SET completed_timestamp = ?, actual_tokens = ? WHERE id = ?`,
		at, actualTokens, subtaskID,
	)
	if err != nil {
		return persistErr("complete subtask", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("storage: complete subtask %s: %w", subtaskID, model.ErrBadInput)
	}
	return nil
}

// ListSubtasks returns a goal's subtasks in creation order.
func (d *DB) ListSubtasks(ctx context.Context, goalID string) ([]model.Subtask, error) {
	var out []model.Subtask
	err := d.SelectContext(ctx, &out, `SELECT * FROM subtasks WHERE goal_id = ? ORDER BY id ASC`, goalID)
	if err != nil {
		return nil, fmt.Errorf("storage: list subtasks: %w", err)
	}
	return out, nil
}
