package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/empirica-ai/empirica/internal/model"
)

type attentionBudgetRow struct {
	ID             string `db:"id"`
	SessionID      string `db:"session_id"`
	TotalBudget    int    `db:"total_budget"`
	Allocated      int    `db:"allocated"`
	Remaining      int    `db:"remaining"`
	Strategy       string `db:"strategy"`
	AllocationsJSON string `db:"domain_allocations_json"`
	CreatedAt      sql.NullTime `db:"created_at"`
	UpdatedAt      sql.NullTime `db:"updated_at"`
}

// SaveAttentionBudget inserts or replaces the budget row.
func (d *DB) SaveAttentionBudget(ctx context.Context, b model.AttentionBudget) error {
	allocs, err := json.Marshal(b.Allocations)
	if err != nil {
		return fmt.Errorf("storage: marshal allocations: %w", err)
	}
	_, err = d.ExecContext(ctx, `
		INSERT INTO attention_budgets (id, session_id, total_budget, allocated, remaining, strategy, domain_allocations_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			allocated = excluded.allocated,
			remaining = excluded.remaining,
			strategy = excluded.strategy,
			domain_allocations_json = excluded.domain_allocations_json,
			updated_at = excluded.updated_at`,
		b.ID, b.SessionID, b.TotalBudget, b.Allocated, b.Remaining, b.Strategy,
		string(allocs), b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return persistErr("save attention budget", err)
	}
	return nil
}

// GetAttentionBudget loads a budget by id.
func (d *DB) GetAttentionBudget(ctx context.Context, id string) (model.AttentionBudget, error) {
	var row attentionBudgetRow
	err := d.GetContext(ctx, &row, `SELECT * FROM attention_budgets WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.AttentionBudget{}, fmt.Errorf("storage: attention budget %s: %w", id, model.ErrBadInput)
	}
	if err != nil {
		return model.AttentionBudget{}, fmt.Errorf("storage: get attention budget: %w", err)
	}
	return row.toModel()
}

// LatestAttentionBudget returns the most recently updated budget for a
// session, or ErrBadInput if none exists.
func (d *DB) LatestAttentionBudget(ctx context.Context, sessionID string) (model.AttentionBudget, error) {
	var row attentionBudgetRow
	err := d.GetContext(ctx, &row, `
		SELECT * FROM attention_budgets WHERE session_id = ?
		ORDER BY updated_at DESC LIMIT 1`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.AttentionBudget{}, fmt.Errorf("storage: no budget for session %s: %w", sessionID, model.ErrBadInput)
	}
	if err != nil {
		return model.AttentionBudget{}, fmt.Errorf("storage: latest attention budget: %w", err)
	}
	return row.toModel()
}

func (r attentionBudgetRow) toModel() (model.AttentionBudget, error) {
	b := model.AttentionBudget{
		ID:          r.ID,
		SessionID:   r.SessionID,
		TotalBudget: r.TotalBudget,
		Allocated:   r.Allocated,
		Remaining:   r.Remaining,
		Strategy:    r.Strategy,
	}
	if r.CreatedAt.Valid {
		b.CreatedAt = r.CreatedAt.Time
	}
	if r.UpdatedAt.Valid {
		b.UpdatedAt = r.UpdatedAt.Time
	}
	if r.AllocationsJSON != "" {
		if err := json.Unmarshal([]byte(r.AllocationsJSON), &b.Allocations); err != nil {
			return model.AttentionBudget{}, fmt.Errorf("storage: decode allocations: %w", err)
		}
	}
	return b, nil
}

// ContextBudgetState is the persisted snapshot of a session's context
// inventory and counters.
type ContextBudgetState struct {
	SessionID      string `db:"session_id"`
	InventoryJSON  string `db:"inventory_json"`
	ThresholdsJSON string `db:"thresholds_json"`
	PageFaults     int    `db:"page_faults"`
	Evictions      int    `db:"evictions"`
	CreatedAt      sql.NullTime `db:"created_at"`
	UpdatedAt      sql.NullTime `db:"updated_at"`
}

// SaveContextBudgetState upserts the CBM snapshot for a session.
func (d *DB) SaveContextBudgetState(ctx context.Context, s ContextBudgetState) error {
	_, err := d.ExecContext(ctx, `
		INSERT INTO context_budget_state (session_id, inventory_json, thresholds_json, page_faults, evictions, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			inventory_json = excluded.inventory_json,
			thresholds_json = excluded.thresholds_json,
			page_faults = excluded.page_faults,
			evictions = excluded.evictions,
			updated_at = excluded.updated_at`,
		s.SessionID, s.InventoryJSON, s.ThresholdsJSON, s.PageFaults, s.Evictions,
		s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return persistErr("save context budget state", err)
	}
	return nil
}

// LoadContextBudgetState returns the CBM snapshot for a session, or nil when
// none was saved.
func (d *DB) LoadContextBudgetState(ctx context.Context, sessionID string) (*ContextBudgetState, error) {
	var s ContextBudgetState
	err := d.GetContext(ctx, &s, `SELECT * FROM context_budget_state WHERE session_id = ?`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: load context budget state: %w", err)
	}
	return &s, nil
}
