package model

import "time"

// GoalStatus is the lifecycle state of a goal.
type GoalStatus string

const (
	GoalOpen      GoalStatus = "open"
	GoalActive    GoalStatus = "active"
	GoalCompleted GoalStatus = "completed"
	GoalAbandoned GoalStatus = "abandoned"
)

// GoalScope bounds a goal along three axes so scope creep is visible.
type GoalScope struct {
	Breadth      string `json:"breadth"`
	Duration     string `json:"duration"`
	Coordination string `json:"coordination"`
}

// LineageEntry records one edit to a goal after creation.
type LineageEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Field     string    `json:"field"`
	OldValue  string    `json:"old_value"`
	NewValue  string    `json:"new_value"`
	Reason    string    `json:"reason,omitempty"`
}

// Goal is a scoped objective with an auditable lineage. Scope and Lineage are
// persisted as JSON columns; the shadow *JSON fields carry the raw text
// through sqlx.
type Goal struct {
	ID                 string         `db:"id" json:"id"`
	SessionID          string         `db:"session_id" json:"session_id"`
	Objective          string         `db:"objective" json:"objective"`
	Scope              GoalScope      `db:"-" json:"scope"`
	Status             GoalStatus     `db:"status" json:"status"`
	Lineage            []LineageEntry `db:"-" json:"lineage,omitempty"`
	CreatedTimestamp   time.Time      `db:"created_timestamp" json:"created_timestamp"`
	CompletedTimestamp *time.Time     `db:"completed_timestamp" json:"completed_timestamp,omitempty"`

	ScopeJSON   string  `db:"scope_json" json:"-"`
	LineageJSON *string `db:"lineage_json" json:"-"`
}

// Subtask is one unit of work under a goal.
type Subtask struct {
	ID                  string     `db:"id" json:"id"`
	GoalID              string     `db:"goal_id" json:"goal_id"`
	Description         string     `db:"description" json:"description"`
	EstimatedTokens     *int       `db:"estimated_tokens" json:"estimated_tokens,omitempty"`
	ActualTokens        *int       `db:"actual_tokens" json:"actual_tokens,omitempty"`
	CompletedTimestamp  *time.Time `db:"completed_timestamp" json:"completed_timestamp,omitempty"`
	EpistemicImportance string     `db:"epistemic_importance" json:"epistemic_importance"`
}

// Completed reports whether the subtask has been finished.
func (s Subtask) Completed() bool { return s.CompletedTimestamp != nil }
